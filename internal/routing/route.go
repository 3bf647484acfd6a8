// Package routing implements the RouteResolver and EpochSplitter (spec
// §4.1, §4.2): translating a validated selection into a RoutingTable,
// then demultiplexing/grouping/splitting it for dispatch.
package routing

import (
	"sort"

	"github.com/eidaws/federator-go/internal/sncl"
)

// Route is a (url, stream_epochs) pair; within a single Route all epochs
// share url and are ordered per spec §3.
type Route struct {
	URL          string
	StreamEpochs []sncl.StreamEpoch
}

// RoutingTable is the ephemeral, per-request mapping from URL to the
// ordered stream epochs that endpoint serves (spec §3). It is built once
// by the resolver and is read-only thereafter.
type RoutingTable struct {
	routes map[string][]sncl.StreamEpoch
	// order records first-seen URL insertion; Routes() does not read it
	// and sorts by URL instead.
	order []string
}

// NewRoutingTable returns an empty table.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{routes: make(map[string][]sncl.StreamEpoch)}
}

// Add appends an epoch to url's entry, creating it if necessary.
func (t *RoutingTable) Add(url string, epoch sncl.StreamEpoch) {
	if _, ok := t.routes[url]; !ok {
		t.order = append(t.order, url)
	}
	t.routes[url] = append(t.routes[url], epoch)
}

// Empty reports whether the table has no routes (spec §4.1 "empty result
// → caller treats as 'no data'").
func (t *RoutingTable) Empty() bool {
	return len(t.routes) == 0
}

// Len returns the number of distinct URLs in the table.
func (t *RoutingTable) Len() int {
	return len(t.routes)
}

// Routes returns the table's contents as a slice of Route, sorted
// primarily by URL and secondarily by epoch tuple (spec §4.1 step 6).
func (t *RoutingTable) Routes() []Route {
	urls := make([]string, 0, len(t.routes))
	for u := range t.routes {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	out := make([]Route, 0, len(urls))
	for _, u := range urls {
		epochs := append([]sncl.StreamEpoch(nil), t.routes[u]...)
		sort.Slice(epochs, func(i, j int) bool { return epochs[i].Less(epochs[j]) })
		out = append(out, Route{URL: u, StreamEpochs: epochs})
	}
	return out
}

// Demux splits a RoutingTable into one Route per individual stream epoch,
// matching original_source's demux_routes (SPEC_FULL §C.1). GroupByNetwork
// builds on it; the text, JSON and binary services dispatch whole Routes
// (one job per URL) and do not use Demux.
func Demux(t *RoutingTable) []Route {
	routes := t.Routes()
	out := make([]Route, 0, len(routes))
	for _, r := range routes {
		for _, e := range r.StreamEpochs {
			out = append(out, Route{URL: r.URL, StreamEpochs: []sncl.StreamEpoch{e}})
		}
	}
	return out
}

// GroupByNetwork demultiplexes the table and regroups the resulting
// routes by the network identifier of their (sole) stream epoch, matching
// original_source's group_routes_by(key="network") (SPEC_FULL §C.1). The
// StationXML worker consumes jobs at this granularity so that network-level
// merging happens in one worker (spec §3 "Job").
func GroupByNetwork(t *RoutingTable) map[string][]Route {
	demuxed := Demux(t)
	grouped := make(map[string][]Route)

	// order records first-seen networks but is not returned; callers that
	// need a deterministic order use NetworkOrder.
	var order []string
	for _, r := range demuxed {
		net := r.StreamEpochs[0].Stream.Network
		if _, ok := grouped[net]; !ok {
			order = append(order, net)
		}
		grouped[net] = append(grouped[net], r)
	}
	return grouped
}

// NetworkOrder returns the networks present in grouped, sorted
// lexicographically, for deterministic dispatch order.
func NetworkOrder(grouped map[string][]Route) []string {
	nets := make([]string, 0, len(grouped))
	for n := range grouped {
		nets = append(nets, n)
	}
	sort.Strings(nets)
	return nets
}
