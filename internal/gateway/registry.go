package gateway

import (
	"fmt"
	"time"

	"github.com/eidaws/federator-go/internal/routing"
)

// Grouping turns a resolved RoutingTable into the Jobs a request of one
// service dispatches (spec §3 "Job"). Every format except StationXML
// groups by raw Route (one URL's ordered stream epochs travel together
// so a single worker can fetch and merge them sequentially); StationXML
// groups by network so its tree merge sees every route of a network in
// one worker invocation.
type Grouping func(table *routing.RoutingTable) []Job

// groupPerRoute is the Grouping shared by every format whose merge unit
// is a single endpoint URL: text, split-align JSON, and binary
// passthrough.
func groupPerRoute(table *routing.RoutingTable) []Job {
	routes := table.Routes()
	jobs := make([]Job, len(routes))
	for i, r := range routes {
		jobs[i] = Job{Routes: []routing.Route{r}}
	}
	return jobs
}

// groupPerNetwork is the Grouping used by the StationXML service (spec
// §4.4.3).
func groupPerNetwork(table *routing.RoutingTable) []Job {
	grouped := routing.GroupByNetwork(table)
	order := routing.NetworkOrder(grouped)
	jobs := make([]Job, len(order))
	for i, net := range order {
		jobs[i] = Job{Routes: grouped[net]}
	}
	return jobs
}

// ServiceDescriptor binds one FDSNWS/EIDA service_id (spec §6) to the
// format-specific behavior the RequestProcessor needs: how to build
// jobs, which worker merges them, whether the drain must preserve job
// order, and the document framing written once per request.
type ServiceDescriptor struct {
	ServiceID   string
	Format      string
	ContentType string
	Grouping    Grouping
	NewWorker   WorkerFactory
	// DrainOrdered is true when byte order across jobs matters to the
	// wire format. Text, JSON, and StationXML emit self-delimiting
	// records per job and use an UnorderedDrain; miniSEED is a raw
	// time-series byte stream with no per-record framing on the wire, so
	// concurrent routes must land in route order and it uses an
	// OrderedDrain instead (spec.md:160).
	DrainOrdered bool
	// Header and Footer, when non-nil, bracket the merged job output
	// (used by StationXML; most formats have none and leave these nil).
	Header func(now time.Time) []byte
	Footer func() []byte
	// HeaderPrefix, for line-oriented text formats, identifies the
	// leading header line by content (spec §9's redesign flag); empty
	// for every other format.
	HeaderPrefix string
	// ContentDisposition, when non-nil, builds the attachment filename
	// stamped on a prepared response (SPEC_FULL §C.3); nil means the
	// format has no attachment filename.
	ContentDisposition func(now time.Time) string
}

// registry is the static service_id → ServiceDescriptor map (spec §9
// "a static map from service_id → worker_factory").
var registry = map[string]ServiceDescriptor{
	"station-xml": {
		ServiceID:   "station-xml",
		Format:      "xml",
		ContentType: "application/xml",
		Grouping:    groupPerNetwork,
		NewWorker:   NewStationXMLWorkerFactory(),
		Header:      StationXMLHeader,
		Footer:      StationXMLFooter,
	},
	"station-text": {
		ServiceID:    "station-text",
		Format:       "text",
		ContentType:  "text/plain",
		Grouping:     groupPerRoute,
		NewWorker:    NewTextWorkerFactory(&headerGate{}),
		HeaderPrefix: "#",
	},
	"availability-text": {
		ServiceID:    "availability-text",
		Format:       "text",
		ContentType:  "text/plain",
		Grouping:     groupPerRoute,
		NewWorker:    NewTextWorkerFactory(&headerGate{}),
		HeaderPrefix: "#",
	},
	"wfcatalog-json": {
		ServiceID:   "wfcatalog-json",
		Format:      "json",
		ContentType: "application/json",
		Grouping:    groupPerRoute,
		NewWorker:   NewJSONWorkerFactory(),
		Header:      func(time.Time) []byte { return []byte("[") },
		Footer:      func() []byte { return []byte("]") },
		ContentDisposition: func(now time.Time) string {
			return fmt.Sprintf(`attachment; filename="wfcatalog-json-%s.json"`, now.UTC().Format(time.RFC3339))
		},
	},
	"dataselect-miniseed": {
		ServiceID:    "dataselect-miniseed",
		Format:       "miniseed",
		ContentType:  "application/vnd.fdsn.mseed",
		Grouping:     groupPerRoute,
		NewWorker:    NewBinaryWorkerFactory(),
		DrainOrdered: true,
	},
}

// Lookup returns the descriptor registered for serviceID.
func Lookup(serviceID string) (ServiceDescriptor, bool) {
	d, ok := registry[serviceID]
	return d, ok
}

// Descriptor builds a fresh ServiceDescriptor for serviceID whose
// NewWorker closes over a per-request headerGate, since the shared
// package-level registry entries for text formats would otherwise leak
// header-dedup state across requests. Callers building a request's
// processing pipeline must call this instead of Lookup for any
// service whose descriptor carries per-request worker state.
func Descriptor(serviceID string) (ServiceDescriptor, bool) {
	d, ok := registry[serviceID]
	if !ok {
		return ServiceDescriptor{}, false
	}
	switch serviceID {
	case "station-text", "availability-text":
		d.NewWorker = NewTextWorkerFactory(&headerGate{})
	}
	return d, true
}
