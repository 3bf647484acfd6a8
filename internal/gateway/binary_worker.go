package gateway

import (
	"context"
	"io"

	"github.com/eidaws/federator-go/internal/routing"
	"github.com/eidaws/federator-go/internal/sncl"
)

// BinaryWorker implements the opaque framed binary passthrough format
// (spec §4.4.4: miniSEED and similar). It performs no decoding and no
// deduplication: each fetched response is streamed through byte for
// byte in the order its stream epoch appears in the route.
type BinaryWorker struct {
	deps WorkerDeps
}

// NewBinaryWorkerFactory returns a WorkerFactory for the binary
// passthrough worker.
func NewBinaryWorkerFactory() WorkerFactory {
	return func(deps WorkerDeps) Worker {
		return &BinaryWorker{deps: deps}
	}
}

// RunJob always calls Emit exactly once for job.Key, even when the job
// yields no bytes, so an OrderedDrain's key sequence stays contiguous:
// a skipped key would otherwise stall every chunk queued behind it
// forever (spec §4.5's OrderedDrain has no way to learn a key was
// deliberately empty other than being told so).
func (w *BinaryWorker) RunJob(ctx context.Context, job Job) error {
	if len(job.Routes) != 1 {
		return w.deps.Emit(ctx, job.Key, nil)
	}
	route := job.Routes[0]

	var buf []byte
	for _, epoch := range route.StreamEpochs {
		single := routing.Route{URL: route.URL, StreamEpochs: []sncl.StreamEpoch{epoch}}

		resp, ok, err := w.deps.Fetcher.Fetch(ctx, route.URL, single, w.deps.Format, job.QueryParams)
		if err != nil {
			_ = w.deps.Emit(ctx, job.Key, nil)
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
		buf = append(buf, body...)
	}

	if len(buf) == 0 {
		return w.deps.Emit(ctx, job.Key, nil)
	}
	w.deps.Prepare()
	return w.deps.Emit(ctx, job.Key, buf)
}
