// Package endpointpool builds the shared HTTP client used for every
// upstream data-endpoint fetch (spec §5 "Shared resources ... The
// connection pools are shared read-only", §184 "Three timeouts apply:
// TCP connect, socket read, and total streaming").
package endpointpool

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// Timeouts bundles the three timeouts spec §5 names: TCP connect,
// socket read (per upstream call), and total streaming (enforced by the
// caller around the whole federated response, not here).
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
}

// Config configures a Pool.
type Config struct {
	Timeouts Timeouts
	// ConnectionLimit bounds concurrent in-flight upstream requests
	// process-wide (spec §4.3 step 5 "connection_limit"). Zero means
	// unbounded.
	ConnectionLimit int
	// MaxIdleConnsPerHost tunes the shared transport's keep-alive pool.
	MaxIdleConnsPerHost int
}

// Pool is the shared, read-only-after-construction collaborator every
// worker's fetches go through (spec §3 "Ownership"). It is built once
// and stored on the AppContext.
type Pool struct {
	client    *http.Client
	admission chan struct{}
	limit     int
}

// New builds a Pool whose transport is tuned for many small upstream
// hosts: HTTP/2 enabled, bounded dial/read timeouts, a per-host
// keep-alive cap. admission is a counting semaphore of size
// ConnectionLimit: Acquire takes a slot, the caller's release gives it
// back, so at most ConnectionLimit requests are ever concurrently
// in flight through this pool (spec §4.3 step 5's
// N = min(pool_size, queue_length, connection_limit) sizes the worker
// pool; this enforces the same ceiling at the transport level as a
// backstop).
func New(cfg Config) (*Pool, error) {
	dialer := &net.Dialer{Timeout: cfg.Timeouts.Connect}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		ResponseHeaderTimeout: cfg.Timeouts.Read,
		IdleConnTimeout:       90 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, err
	}

	p := &Pool{
		client: &http.Client{Transport: transport},
		limit:  cfg.ConnectionLimit,
	}
	if cfg.ConnectionLimit > 0 {
		p.admission = make(chan struct{}, cfg.ConnectionLimit)
	}
	return p, nil
}

// Acquire blocks, respecting ctx, until the pool admits one more
// concurrent request. Callers must call the returned release func when
// the request (including reading its body) completes, or the slot is
// never returned to the pool.
func (p *Pool) Acquire(ctx context.Context) (release func(), err error) {
	if p.admission == nil {
		return func() {}, nil
	}
	select {
	case p.admission <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-p.admission })
	}, nil
}

// Do performs req using the pool's shared client. Callers are
// responsible for acquiring admission first via Acquire when
// ConnectionLimit pacing is desired; Do itself does not gate
// concurrency, since some callers (the routing-service client) use a
// distinct client outside the pool (spec §54 Resolver doc).
func (p *Pool) Do(req *http.Request) (*http.Response, error) {
	return p.client.Do(req)
}

// Client exposes the underlying *http.Client for collaborators that
// need to pass it directly (e.g. constructing an httptest-backed
// Resolver in tests).
func (p *Pool) Client() *http.Client {
	return p.client
}

// Limit returns the configured ConnectionLimit, for pool-size
// resolution (spec §4.3 step 5).
func (p *Pool) Limit() int {
	return p.limit
}
