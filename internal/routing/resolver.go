package routing

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eidaws/federator-go/internal/ferrors"
	"github.com/eidaws/federator-go/internal/metrics"
	"github.com/eidaws/federator-go/internal/sncl"
	"github.com/eidaws/federator-go/internal/vnet"
)

// Level is the aggregation granularity requested by the client (spec
// §4.1 step 5).
type Level string

const (
	LevelNetwork  Level = "network"
	LevelStation  Level = "station"
	LevelChannel  Level = "channel"
	LevelResponse Level = "response"
)

// Selection is the validated client selection fed into Resolve (spec
// §4.1 "Input").
type Selection struct {
	Service      string
	Level        Level
	StreamEpochs []sncl.StreamEpoch
	Access       string
	Method       string
	BoundingBox  *BoundingBox
}

// BoundingBox restricts the routing query to stations within a
// geographic rectangle.
type BoundingBox struct {
	MinLatitude, MaxLatitude   float64
	MinLongitude, MaxLongitude float64
}

// Resolver queries an external routing service and builds a RoutingTable
// (spec §4.1).
type Resolver struct {
	// URL is the routing service endpoint (spec §6).
	URL string
	// HTTPClient performs the routing-service call. Callers typically
	// supply a client dedicated to routing traffic, distinct from the
	// endpoint connection pool (spec §5 "Shared resources").
	HTTPClient *http.Client
	// VNet resolves virtual-network membership (spec §4.1 step 1). May
	// be nil if the deployment has no virtual networks configured.
	VNet *vnet.Table
	// Log receives diagnostic output.
	Log *logrus.Entry
	// Metrics, if non-nil, receives RoutesResolved counts per call.
	Metrics *metrics.Metrics
}

// Resolve implements the full RouteResolver algorithm (spec §4.1).
func (r *Resolver) Resolve(ctx context.Context, sel Selection) (*RoutingTable, error) {
	expanded := make([]sncl.StreamEpoch, 0, len(sel.StreamEpochs))
	for _, e := range sel.StreamEpochs {
		expanded = append(expanded, r.VNet.Expand(e)...)
	}

	raw, err := r.query(ctx, sel, expanded)
	if err != nil {
		return nil, err
	}

	table := NewRoutingTable()
	for url, epochs := range raw {
		for _, e := range epochs {
			clipped, ok := clipToRequested(e, expanded)
			if !ok {
				continue
			}
			table.Add(url, clipped)
		}
	}

	mergeOverlaps(table)

	if sel.Level == LevelNetwork || sel.Level == LevelStation {
		collapse(table, sel.Level)
	}

	if r.Metrics != nil {
		r.Metrics.RoutesResolved.WithLabelValues(sel.Service, string(sel.Level)).Add(float64(len(table.Routes())))
	}

	return table, nil
}

// clipToRequested clips a returned epoch to whichever requested epoch it
// overlaps, per spec §4.1 step 3. Both open-ended bounds mean
// "unbounded on that side"; here the requested set always carries
// concrete bounds (validated upstream), so this only narrows the
// endpoint-returned epoch.
func clipToRequested(returned sncl.StreamEpoch, requested []sncl.StreamEpoch) (sncl.StreamEpoch, bool) {
	for _, req := range requested {
		if !streamMatches(req.Stream, returned.Stream) {
			continue
		}
		if clipped, ok := returned.Clip(req.Start, req.End); ok {
			return clipped, true
		}
	}
	return sncl.StreamEpoch{}, false
}

// streamMatches reports whether every field of concrete matches the
// requested field, which may be empty (sent to the routing service as
// "*") or a wildcard pattern using "*" and "?".
func streamMatches(req, concrete sncl.Stream) bool {
	for _, f := range [][2]string{{req.Network, concrete.Network}, {req.Station, concrete.Station}, {req.Location, concrete.Location}, {req.Channel, concrete.Channel}} {
		if f[0] == "" {
			continue
		}
		if ok, err := path.Match(f[0], f[1]); err != nil || !ok {
			return false
		}
	}
	return true
}

// mergeOverlaps merges stream epochs sharing a URL that overlap or abut
// (spec §4.1 step 4), using the associative, commutative handler in
// package sncl.
func mergeOverlaps(table *RoutingTable) {
	for url, epochs := range table.routes {
		merged := mergeEpochSlice(epochs)
		table.routes[url] = merged
	}
}

func mergeEpochSlice(epochs []sncl.StreamEpoch) []sncl.StreamEpoch {
	if len(epochs) < 2 {
		return epochs
	}

	// Repeatedly scan for a mergeable pair until a fixed point is
	// reached; epoch counts per URL are small in practice (bounded by
	// the number of stream selections), so the quadratic scan is not a
	// concern here.
	merged := append([]sncl.StreamEpoch(nil), epochs...)
	for {
		didMerge := false
		for i := 0; i < len(merged); i++ {
			for j := i + 1; j < len(merged); j++ {
				if merged[i].Mergeable(merged[j]) {
					merged[i] = sncl.Merge(merged[i], merged[j])
					merged = append(merged[:j], merged[j+1:]...)
					didMerge = true
					break
				}
			}
			if didMerge {
				break
			}
		}
		if !didMerge {
			break
		}
	}
	return merged
}

// collapse implements spec §4.1 step 5: for level in {network, station},
// all per-channel epochs under a single URL collapse into one epoch per
// (net, sta) whose interval is the union, for both level=network and
// level=station (spec §4.1 step 5 collapses to (net, sta) granularity in
// either case; the level only controls whether collapsing happens at
// all, not the granularity it collapses to).
func collapse(table *RoutingTable, level Level) {
	for url, epochs := range table.routes {
		byKey := make(map[string]sncl.StreamEpoch)
		var order []string
		for _, e := range epochs {
			key := e.CollapseKey()
			existing, ok := byKey[key]
			if !ok {
				collapsedStream := e.Stream
				collapsedStream.Location = "*"
				collapsedStream.Channel = "*"
				order = append(order, key)
				byKey[key] = sncl.StreamEpoch{Stream: collapsedStream, Start: e.Start, End: e.End}
				continue
			}
			start := existing.Start
			if e.Start.Before(start) {
				start = e.Start
			}
			end := existing.End
			if e.End.After(end) {
				end = e.End
			}
			byKey[key] = sncl.StreamEpoch{Stream: existing.Stream, Start: start, End: end}
		}

		out := make([]sncl.StreamEpoch, 0, len(order))
		for _, k := range order {
			out = append(out, byKey[k])
		}
		table.routes[url] = out
	}
}

// query performs the HTTP call to the routing service and parses its
// wire format (spec §6): a sequence of
//
//	URL\n(net sta loc cha start end\n)+\n
//
// blocks separated by blank lines, times in ISO-8601 UTC. Status 204
// means no routes; status >= 500 surfaces as RoutingUnavailable.
func (r *Resolver) query(ctx context.Context, sel Selection, epochs []sncl.StreamEpoch) (map[string][]sncl.StreamEpoch, error) {
	req, err := r.buildRequest(ctx, sel, epochs)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindInternal, "building routing request", err)
	}

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindRoutingUnavailable, "Error while routing", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return map[string][]sncl.StreamEpoch{}, nil
	}
	if resp.StatusCode >= 500 {
		return nil, ferrors.New(ferrors.KindRoutingUnavailable, "Error while routing")
	}
	if resp.StatusCode >= 400 {
		return nil, ferrors.New(ferrors.KindValidation, fmt.Sprintf("routing service rejected request: %d", resp.StatusCode))
	}

	return parseRoutingWire(resp.Body)
}

func (r *Resolver) buildRequest(ctx context.Context, sel Selection, epochs []sncl.StreamEpoch) (*http.Request, error) {
	var sb strings.Builder
	for _, e := range epochs {
		fmt.Fprintf(&sb, "%s %s %s %s %s %s\n",
			orWildcard(e.Stream.Network), orWildcard(e.Stream.Station),
			orWildcard(e.Stream.Location), orWildcard(e.Stream.Channel),
			e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339))
	}

	q := url.Values{}
	q.Set("service", sel.Service)
	q.Set("level", string(sel.Level))
	if sel.Access != "" {
		q.Set("access", sel.Access)
	}
	if sel.Method != "" {
		q.Set("method", sel.Method)
	}
	if sel.BoundingBox != nil {
		q.Set("minlatitude", strconv.FormatFloat(sel.BoundingBox.MinLatitude, 'f', -1, 64))
		q.Set("maxlatitude", strconv.FormatFloat(sel.BoundingBox.MaxLatitude, 'f', -1, 64))
		q.Set("minlongitude", strconv.FormatFloat(sel.BoundingBox.MinLongitude, 'f', -1, 64))
		q.Set("maxlongitude", strconv.FormatFloat(sel.BoundingBox.MaxLongitude, 'f', -1, 64))
	}

	reqURL := r.URL
	if strings.Contains(reqURL, "?") {
		reqURL += "&" + q.Encode()
	} else {
		reqURL += "?" + q.Encode()
	}

	return http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(sb.String()))
}

func orWildcard(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

func parseRoutingWire(r io.Reader) (map[string][]sncl.StreamEpoch, error) {
	out := make(map[string][]sncl.StreamEpoch)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var currentURL string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			currentURL = ""
			continue
		}
		if currentURL == "" {
			currentURL = line
			continue
		}
		epoch, err := parseEpochLine(line)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.KindRoutingUnavailable, "malformed routing response line: "+line, err)
		}
		out[currentURL] = append(out[currentURL], epoch)
	}
	if err := scanner.Err(); err != nil {
		return nil, ferrors.Wrap(ferrors.KindRoutingUnavailable, "reading routing response", err)
	}
	return out, nil
}

func parseEpochLine(line string) (sncl.StreamEpoch, error) {
	fields := strings.Fields(line)
	if len(fields) != 6 {
		return sncl.StreamEpoch{}, fmt.Errorf("expected 6 fields, got %d", len(fields))
	}
	start, err := time.Parse(time.RFC3339, fields[4])
	if err != nil {
		return sncl.StreamEpoch{}, fmt.Errorf("parsing start time: %w", err)
	}
	end, err := time.Parse(time.RFC3339, fields[5])
	if err != nil {
		return sncl.StreamEpoch{}, fmt.Errorf("parsing end time: %w", err)
	}
	return sncl.StreamEpoch{
		Stream: sncl.Stream{Network: fields[0], Station: fields[1], Location: fields[2], Channel: fields[3]},
		Start:  start,
		End:    end,
	}, nil
}
