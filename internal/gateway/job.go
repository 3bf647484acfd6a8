// Package gateway implements the RequestProcessor and the
// format-specific merging Workers (spec §4.3, §4.4): the core that
// dispatches routes to a bounded worker pool, merges upstream payloads,
// and streams the aggregated result.
package gateway

import "github.com/eidaws/federator-go/internal/routing"

// Job is the unit placed on the dispatch queue (spec §3 "Job"). For
// most formats a job wraps a single Route; the StationXML worker
// receives one Job per network, carrying every route for that network
// so network-level merging can happen within one worker invocation.
type Job struct {
	Routes      []routing.Route
	QueryParams map[string]string
	// Key is this job's position in dispatch order, the sort key an
	// OrderedDrain reassembles by (spec §4.5 "usually the route index").
	// UnorderedDrain ignores it.
	Key int
}
