package gateway

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/eidaws/federator-go/internal/cachestore"
	"github.com/eidaws/federator-go/internal/config"
	"github.com/eidaws/federator-go/internal/drain"
	"github.com/eidaws/federator-go/internal/ferrors"
	"github.com/eidaws/federator-go/internal/routing"
)

// RequestProcessor drives one client request end to end (spec §4.3):
// resolve, enforce limits, consult the cache, dispatch jobs to a bounded
// worker pool, and stream the merged result.
type RequestProcessor struct {
	AC         *config.AppContext
	Descriptor ServiceDescriptor
	NoDataCode int
	Method     string
}

// NewRequestProcessor builds a RequestProcessor for desc using ac's
// shared collaborators and configuration.
func NewRequestProcessor(ac *config.AppContext, desc ServiceDescriptor) *RequestProcessor {
	return &RequestProcessor{
		AC:         ac,
		Descriptor: desc,
		NoDataCode: ac.Config.NoDataCode,
		Method:     ac.Config.EndpointRequestMethod,
	}
}

// Process runs the full pipeline for one selection, writing the
// federated response to w. A returned *ferrors.Error must be translated
// to an HTTP error response by the caller; nil means the response has
// already been written in full.
func (p *RequestProcessor) Process(ctx context.Context, w http.ResponseWriter, sel routing.Selection, queryParams map[string]string) (err error) {
	p.AC.Metrics.ActiveRequests.Inc()
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		p.AC.Metrics.RequestDuration.WithLabelValues(p.Descriptor.ServiceID, status).Observe(time.Since(start).Seconds())
		p.AC.Metrics.ActiveRequests.Dec()
	}()

	resolver := p.AC.Resolver()
	resolver.Metrics = p.AC.Metrics
	table, err := resolver.Resolve(ctx, sel)
	if err != nil {
		return err
	}
	if table.Empty() {
		return ferrors.NoData(p.NoDataCode)
	}
	if err := p.AC.Splitter().CheckLimits(table); err != nil {
		return err
	}

	key := cachestore.NewKey(p.Descriptor.ServiceID, queryParams, sel.StreamEpochs)
	if entry, ok := p.AC.Cache.Get(key); ok {
		p.AC.Metrics.CacheResult.WithLabelValues(p.Descriptor.ServiceID, "hit").Inc()
		return writeCachedEntry(w, entry)
	}
	p.AC.Metrics.CacheResult.WithLabelValues(p.Descriptor.ServiceID, "miss").Inc()

	return p.dispatch(ctx, w, table, sel, queryParams, key)
}

func writeCachedEntry(w http.ResponseWriter, entry cachestore.Entry) error {
	w.Header().Set("Content-Type", entry.ContentType)
	for k, v := range entry.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(entry.Body)
	return err
}

// dispatch implements spec §4.3 steps 4-8: build jobs, spawn
// min(pool_size, queue_length, connection_limit) workers, merge their
// output through a single Drain, and decide the outcome once every job
// has been processed.
func (p *RequestProcessor) dispatch(ctx context.Context, w http.ResponseWriter, table *routing.RoutingTable, sel routing.Selection, queryParams map[string]string, key cachestore.Key) error {
	jobs := p.Descriptor.Grouping(table)
	for i := range jobs {
		jobs[i].Key = i
	}

	headers := map[string]string{"Content-Type": p.Descriptor.ContentType}
	if p.Descriptor.ContentDisposition != nil {
		headers["Content-Disposition"] = p.Descriptor.ContentDisposition(time.Now())
	}
	lazy := NewLazyResponse(w, http.StatusOK, headers)
	cacheBuf := cachestore.NewBuffer(p.AC.Cache, key, p.Descriptor.ContentType, p.AC.Config.CacheTTL)
	tee := io.MultiWriter(lazy, cacheBuf)

	var d drain.Drain
	if p.Descriptor.DrainOrdered {
		ordered := drain.NewOrderedDrain(tee, p.AC.Config.DrainMaxBuffered)
		ordered.OnBackpressure = func() {
			p.AC.Metrics.DrainBackpressure.WithLabelValues(p.Descriptor.ServiceID).Inc()
		}
		d = ordered
	} else {
		d = drain.NewUnorderedDrain(tee)
	}
	defer d.Close()

	var prepOnce sync.Once
	prepare := func() {
		prepOnce.Do(func() {
			lazy.Prepare()
			if p.Descriptor.Header != nil {
				_, _ = tee.Write(p.Descriptor.Header(time.Now()))
			}
		})
	}

	// A fatal (413 or internal) error cancels dispatch only if nothing has been sent
	// to the client yet; once the response is underway it only
	// truncates the stream (spec §7 "fatal escalates before
	// commitment, degrades to a logged truncation after").
	dispatchCtx, cancel := context.WithTimeout(ctx, p.AC.Config.StreamingTimeout)
	defer cancel()

	fetcher := &Fetcher{
		Pool:      p.AC.EndpointPool,
		Budget:    p.AC.Budget,
		Method:    p.Method,
		Log:       p.AC.Log,
		Metrics:   p.AC.Metrics,
		ServiceID: p.Descriptor.ServiceID,
	}

	jobCh := make(chan Job)
	n := p.AC.WorkerPoolSize(len(jobs))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var fatalErr error

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := p.Descriptor.NewWorker(WorkerDeps{
				Fetcher:      fetcher,
				Emit:         d.Write,
				Prepare:      prepare,
				Format:       p.Descriptor.Format,
				Level:        string(sel.Level),
				ChunkSize:    8192,
				HeaderPrefix: p.Descriptor.HeaderPrefix,
			})

			for job := range jobCh {
				job.QueryParams = queryParams
				err := worker.RunJob(dispatchCtx, job)
				if err == nil {
					continue
				}
				if fe, ok := ferrors.As(err); ok && (fe.Kind == ferrors.KindPayloadTooLarge || fe.Kind == ferrors.KindInternal) {
					mu.Lock()
					if fatalErr == nil {
						fatalErr = err
					}
					mu.Unlock()
					if !lazy.Prepared() {
						cancel()
					}
					continue
				}
				p.AC.Log.WithError(err).Warn("gateway worker job failed")
			}
		}()
	}

feed:
	for _, job := range jobs {
		select {
		case jobCh <- job:
		case <-dispatchCtx.Done():
			break feed
		}
	}
	close(jobCh)
	wg.Wait()

	if fatalErr != nil && !lazy.Prepared() {
		cacheBuf.Discard()
		return fatalErr
	}
	if !lazy.Prepared() {
		return ferrors.NoData(p.NoDataCode)
	}

	if p.Descriptor.Footer != nil {
		_, _ = tee.Write(p.Descriptor.Footer())
	}

	if fatalErr != nil {
		cacheBuf.Discard()
		p.AC.Log.WithError(fatalErr).Warn("response truncated: a fatal worker error occurred after data was already sent")
		return nil
	}
	if dispatchCtx.Err() != nil {
		cacheBuf.Discard()
		if ctx.Err() != nil {
			return ferrors.Wrap(ferrors.KindCancelled, "client disconnected", ctx.Err())
		}
		p.AC.Log.Warn("response truncated: streaming timeout elapsed")
		return nil
	}

	cacheBuf.Commit()
	return nil
}
