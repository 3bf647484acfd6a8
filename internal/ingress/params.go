// Package ingress implements the client-facing HTTP surface (spec §4.3
// "client -> [Ingress]"): request parsing, CORS, client_max_size
// enforcement, and translating the result of gateway.RequestProcessor
// into an HTTP response. The router wiring follows Linkerd's
// controller/api/public apiServer shape; the parameter semantics follow
// the upstream utils/view.py and utils/app.py request handling.
package ingress

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eidaws/federator-go/internal/ferrors"
	"github.com/eidaws/federator-go/internal/routing"
	"github.com/eidaws/federator-go/internal/sncl"
)

// selectionParams are the query/form keys consumed while building a
// Selection; everything else is forwarded verbatim to data endpoints
// as the job's QueryParams (spec §6 "format-specific ... parameters").
var selectionParams = map[string]bool{
	"network": true, "net": true,
	"station": true, "sta": true,
	"location": true, "loc": true,
	"channel": true, "cha": true,
	"starttime": true, "start": true,
	"endtime": true, "end": true,
	"level":        true,
	"nodata":       true,
	"minlatitude":  true,
	"maxlatitude":  true,
	"minlongitude": true,
	"maxlongitude": true,
}

// timeLayouts mirrors the FDSNWS convention of accepting a full or
// date-only ISO-8601 timestamp.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

func splitList(s string) []string {
	if s == "" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func firstNonEmpty(values url.Values, keys ...string) string {
	for _, k := range keys {
		if v := values.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// parseSelection builds a routing.Selection and the pass-through query
// parameters from a flat set of parameter values (spec §4.1 "Input"),
// shared by both the GET (query string) and POST (form-encoded lines)
// paths.
func parseSelection(values url.Values, service string, level routing.Level, noDataDefault int) (routing.Selection, map[string]string, int, error) {
	networks := splitList(firstNonEmpty(values, "network", "net"))
	stations := splitList(firstNonEmpty(values, "station", "sta"))
	locations := splitList(firstNonEmpty(values, "location", "loc"))
	channels := splitList(firstNonEmpty(values, "channel", "cha"))

	startStr := firstNonEmpty(values, "starttime", "start")
	endStr := firstNonEmpty(values, "endtime", "end")
	if startStr == "" || endStr == "" {
		return routing.Selection{}, nil, 0, ferrors.New(ferrors.KindValidation, "starttime and endtime are required")
	}
	start, err := parseTime(startStr)
	if err != nil {
		return routing.Selection{}, nil, 0, ferrors.Wrap(ferrors.KindValidation, "parsing starttime", err)
	}
	end, err := parseTime(endStr)
	if err != nil {
		return routing.Selection{}, nil, 0, ferrors.Wrap(ferrors.KindValidation, "parsing endtime", err)
	}
	if !start.Before(end) {
		return routing.Selection{}, nil, 0, ferrors.New(ferrors.KindValidation, "starttime must be before endtime")
	}

	if l := values.Get("level"); l != "" {
		level = routing.Level(l)
	}

	var epochs []sncl.StreamEpoch
	for _, n := range networks {
		for _, s := range stations {
			for _, l := range locations {
				for _, c := range channels {
					epochs = append(epochs, sncl.StreamEpoch{
						Stream: sncl.Stream{Network: n, Station: s, Location: l, Channel: c},
						Start:  start,
						End:    end,
					})
				}
			}
		}
	}

	var bbox *routing.BoundingBox
	if values.Get("minlatitude") != "" || values.Get("maxlatitude") != "" ||
		values.Get("minlongitude") != "" || values.Get("maxlongitude") != "" {
		b := routing.BoundingBox{
			MinLatitude:  -90,
			MaxLatitude:  90,
			MinLongitude: -180,
			MaxLongitude: 180,
		}
		if v := values.Get("minlatitude"); v != "" {
			if b.MinLatitude, err = strconv.ParseFloat(v, 64); err != nil {
				return routing.Selection{}, nil, 0, ferrors.Wrap(ferrors.KindValidation, "parsing minlatitude", err)
			}
		}
		if v := values.Get("maxlatitude"); v != "" {
			if b.MaxLatitude, err = strconv.ParseFloat(v, 64); err != nil {
				return routing.Selection{}, nil, 0, ferrors.Wrap(ferrors.KindValidation, "parsing maxlatitude", err)
			}
		}
		if v := values.Get("minlongitude"); v != "" {
			if b.MinLongitude, err = strconv.ParseFloat(v, 64); err != nil {
				return routing.Selection{}, nil, 0, ferrors.Wrap(ferrors.KindValidation, "parsing minlongitude", err)
			}
		}
		if v := values.Get("maxlongitude"); v != "" {
			if b.MaxLongitude, err = strconv.ParseFloat(v, 64); err != nil {
				return routing.Selection{}, nil, 0, ferrors.Wrap(ferrors.KindValidation, "parsing maxlongitude", err)
			}
		}
		bbox = &b
	}

	noDataCode := noDataDefault
	if v := values.Get("nodata"); v != "" {
		code, err := strconv.Atoi(v)
		if err != nil || (code != http.StatusNoContent && code != http.StatusNotFound) {
			return routing.Selection{}, nil, 0, ferrors.New(ferrors.KindValidation, "nodata must be 204 or 404")
		}
		noDataCode = code
	}

	queryParams := make(map[string]string)
	for k := range values {
		if selectionParams[k] {
			continue
		}
		queryParams[k] = values.Get(k)
	}

	return routing.Selection{
		Service:      service,
		Level:        level,
		StreamEpochs: epochs,
		BoundingBox:  bbox,
	}, queryParams, noDataCode, nil
}

// parseGET builds a Selection from the request's query string (spec
// §4.1, FDSNWS GET convention: one value per key, comma-separated
// lists for network/station/location/channel).
func parseGET(r *http.Request, service string, level routing.Level, noDataDefault int) (routing.Selection, map[string]string, int, error) {
	return parseSelection(r.URL.Query(), service, level, noDataDefault)
}

// parsePOST builds a Selection from an FDSNWS POST body: optional
// leading "key=value" parameter lines, followed by one "NET STA LOC
// CHA START END" line per requested stream epoch (SPEC_FULL §C;
// mirrors the wire format internal/routing.Resolver itself speaks to
// the routing service). Per-line network/station/location/channel
// values are not comma-expanded; each line is exactly one stream.
func parsePOST(body io.Reader, service string, level routing.Level, noDataDefault int) (routing.Selection, map[string]string, int, error) {
	values := url.Values{}
	var epochs []sncl.StreamEpoch

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if eq := strings.IndexByte(line, '='); eq >= 0 && !strings.Contains(line, " ") {
			values.Set(strings.ToLower(strings.TrimSpace(line[:eq])), strings.TrimSpace(line[eq+1:]))
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 6 {
			return routing.Selection{}, nil, 0, ferrors.New(ferrors.KindValidation, fmt.Sprintf("malformed stream line: %q", line))
		}
		start, err := parseTime(fields[4])
		if err != nil {
			return routing.Selection{}, nil, 0, ferrors.Wrap(ferrors.KindValidation, "parsing start time", err)
		}
		end, err := parseTime(fields[5])
		if err != nil {
			return routing.Selection{}, nil, 0, ferrors.Wrap(ferrors.KindValidation, "parsing end time", err)
		}
		if !start.Before(end) {
			return routing.Selection{}, nil, 0, ferrors.New(ferrors.KindValidation, "start must be before end: "+line)
		}
		epochs = append(epochs, sncl.StreamEpoch{
			Stream: sncl.Stream{Network: fields[0], Station: fields[1], Location: fields[2], Channel: fields[3]},
			Start:  start,
			End:    end,
		})
	}
	if err := scanner.Err(); err != nil {
		return routing.Selection{}, nil, 0, ferrors.Wrap(ferrors.KindValidation, "reading request body", err)
	}
	if len(epochs) == 0 {
		return routing.Selection{}, nil, 0, ferrors.New(ferrors.KindValidation, "no stream lines in request body")
	}

	// Stream lines carry their own times, so global starttime/endtime
	// lines are optional; when both are absent, the first line's bounds
	// satisfy parseSelection's time validation.
	if firstNonEmpty(values, "starttime", "start") == "" && firstNonEmpty(values, "endtime", "end") == "" {
		values.Set("starttime", epochs[0].Start.Format(time.RFC3339))
		values.Set("endtime", epochs[0].End.Format(time.RFC3339))
	}

	sel, queryParams, noDataCode, err := parseSelection(values, service, level, noDataDefault)
	if err != nil {
		return routing.Selection{}, nil, 0, err
	}
	sel.StreamEpochs = epochs
	return sel, queryParams, noDataCode, nil
}
