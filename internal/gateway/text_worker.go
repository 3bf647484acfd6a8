package gateway

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/eidaws/federator-go/internal/routing"
	"github.com/eidaws/federator-go/internal/sncl"
)

// headerGate deduplicates the single leading header line shared across
// every line-oriented text response, regardless of which worker's fetch
// produced it first (spec §4.4.1 "discards the header on all responses
// after the first"). It is constructed once per request and shared by
// every TextWorker instance that request spawns.
type headerGate struct {
	mu   sync.Mutex
	seen bool
}

func (g *headerGate) firstCaller() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen {
		return false
	}
	g.seen = true
	return true
}

// TextWorker implements the line-oriented text format (spec §4.4.1):
// availability-text and the WFCatalog-text-like formats. It fetches
// each stream epoch of its job's (single) route sequentially, strips
// the repeated header line from every response after the first one the
// whole request has seen, and emits the remainder as-is.
type TextWorker struct {
	deps   WorkerDeps
	header *headerGate
}

// NewTextWorkerFactory returns a WorkerFactory producing TextWorkers
// that all share gate, so header deduplication happens across the
// entire request rather than per-worker-instance.
func NewTextWorkerFactory(gate *headerGate) WorkerFactory {
	return func(deps WorkerDeps) Worker {
		return &TextWorker{deps: deps, header: gate}
	}
}

func (w *TextWorker) RunJob(ctx context.Context, job Job) error {
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
			continue
		}

		chunk := body
		if hasHeaderLine(body, w.deps.HeaderPrefix) && !w.header.firstCaller() {
			chunk = stripHeaderLine(body, w.deps.HeaderPrefix)
		}
		buf = append(buf, chunk...)
	}

	if len(buf) == 0 {
		return nil
	}
	w.deps.Prepare()
	return w.deps.Emit(ctx, 0, buf)
}

// hasHeaderLine reports whether b actually begins with a header line,
// detected by content prefix rather than assumed by position (spec §9's
// open question on the redesign flag: "should detect the header by
// content prefix instead"). A response an upstream chose not to prefix
// with a header carries no line to strip, regardless of fetch order.
func hasHeaderLine(b []byte, prefix string) bool {
	return prefix != "" && bytes.HasPrefix(b, []byte(prefix))
}

// stripHeaderLine removes the single leading header line (up to and
// including its newline) once hasHeaderLine has confirmed it is present.
func stripHeaderLine(b []byte, prefix string) []byte {
	idx := bytes.IndexByte(b, '\n')
	if idx < 0 {
		return nil
	}
	return b[idx+1:]
}
