package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"reflect"

	"github.com/eidaws/federator-go/internal/ferrors"
	"github.com/eidaws/federator-go/internal/routing"
	"github.com/eidaws/federator-go/internal/sncl"
)

// JSONWorker implements the JSON array split-align format (spec
// §4.4.2): it fetches the stream epochs of its job's single route
// sequentially and reconciles object-level overlap at each boundary so
// the final array has no duplicate object.
type JSONWorker struct {
	deps WorkerDeps
}

// NewJSONWorkerFactory returns a WorkerFactory for the split-align JSON
// worker.
func NewJSONWorkerFactory() WorkerFactory {
	return func(deps WorkerDeps) Worker {
		return &JSONWorker{deps: deps}
	}
}

func (w *JSONWorker) RunJob(ctx context.Context, job Job) error {
	if len(job.Routes) != 1 {
		return nil
	}
	route := job.Routes[0]

	var buf []byte
	for _, epoch := range route.StreamEpochs {
		single := routing.Route{URL: route.URL, StreamEpochs: []sncl.StreamEpoch{epoch}}

		resp, ok, err := w.deps.Fetcher.Fetch(ctx, route.URL, single, w.deps.Format, job.QueryParams)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			// Unreadable response body: treated as no-content for this
			// response, processing continues (spec §4.4.2 "Failure").
			continue
		}

		cleaned, alignOK := alignChunk(buf, body, w.deps.ChunkSize)
		if !alignOK {
			return ferrors.New(ferrors.KindInternal, "json tail-recovery rescan window exceeded")
		}
		buf = append(buf, cleaned...)
	}

	if len(buf) == 0 {
		return nil
	}
	w.deps.Prepare()
	return w.deps.Emit(ctx, 0, buf)
}

// alignChunk implements spec §4.4.2's per-response algorithm: recover
// the last complete object already in buf, compare it against the first
// complete object of newBody, drop the duplicate if they match, and
// return the bytes to append (with a leading comma when buf is
// non-empty). A malformed newBody yields (nil, true): no-content for
// that response, not a worker failure. ok is false only when the
// backward rescan precondition is violated (spec §9 "Backwards buffer
// scanning for JSON tail recovery ... If violated, the worker must fail
// the request with InternalError, not silently truncate").
func alignChunk(buf, newBody []byte, chunkSize int) (cleaned []byte, ok bool) {
	if chunkSize <= 0 {
		chunkSize = 8192
	}

	trimmed := bytes.TrimSpace(newBody)
	if len(trimmed) < 2 || trimmed[0] != '[' || trimmed[len(trimmed)-1] != ']' {
		return nil, true
	}
	inner := trimmed[1 : len(trimmed)-1]

	var lastObj []byte
	if len(buf) > 0 {
		window := buf
		if len(window) > chunkSize {
			window = window[len(window)-chunkSize:]
		}
		var recovered bool
		lastObj, recovered = recoverTailObject(window)
		if !recovered {
			return nil, false
		}
	}

	firstObj, firstLen := firstObject(inner)

	if lastObj != nil && firstObj != nil && jsonEqual(lastObj, firstObj) {
		inner = bytes.TrimLeft(inner[firstLen:], ", \t\r\n")
	}

	if len(inner) == 0 {
		return nil, true
	}
	if len(buf) > 0 {
		out := make([]byte, 0, len(inner)+1)
		out = append(out, ',')
		out = append(out, inner...)
		return out, true
	}
	return inner, true
}

// recoverTailObject scans window backwards balancing brace depth to
// find the last complete {...} object, matching
// original_source's reversed-scan _buffer_response algorithm exactly.
// It returns ok=false if the scan exhausts window without the depth
// returning to zero, meaning the object's length met or exceeded the
// rescan window.
func recoverTailObject(window []byte) ([]byte, bool) {
	depth := 0
	started := false
	for i := len(window) - 1; i >= 0; i-- {
		switch window[i] {
		case '}':
			depth++
			started = true
		case '{':
			depth--
		}
		if started && depth == 0 {
			return window[i:], true
		}
	}
	return nil, false
}

// firstObject returns the first complete {...} object at the start of
// inner (after any leading whitespace) and the byte length consumed
// through its closing brace.
func firstObject(inner []byte) ([]byte, int) {
	start := 0
	for start < len(inner) && (inner[start] == ' ' || inner[start] == '\t' || inner[start] == '\n' || inner[start] == '\r') {
		start++
	}
	if start >= len(inner) || inner[start] != '{' {
		return nil, 0
	}

	depth := 0
	for i := start; i < len(inner); i++ {
		switch inner[i] {
		case '{':
			depth++
		case '}':
			depth--
		}
		if depth == 0 {
			return inner[start : i+1], i + 1
		}
	}
	return nil, 0
}

// jsonEqual compares two JSON object byte slices by decoded value, not
// by raw bytes, so whitespace or key-order differences across two
// upstream serializations of the same object still count as equal.
func jsonEqual(a, b []byte) bool {
	var va, vb interface{}
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}
