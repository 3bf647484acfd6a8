// Package retrybudget implements the per-endpoint sliding-window error
// accountant from spec §4.6: record outcomes, decide whether an
// endpoint's fetches should be short-circuited, expire stale entries by
// TTL.
package retrybudget

import (
	"net/http"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Outcome classifies an upstream response or transport error into the
// retry-budget's success/failure/fatal taxonomy (spec §4.6).
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	// OutcomeFatal means the whole client request escalates (413); it is
	// never recorded against the budget, it propagates directly.
	OutcomeFatal
)

// ClassifyStatus maps an upstream HTTP status code to an Outcome, per
// spec §4.6.
func ClassifyStatus(status int) Outcome {
	switch {
	case status == http.StatusRequestEntityTooLarge:
		return OutcomeFatal
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status == http.StatusTooManyRequests:
		return OutcomeFailure
	case status >= 400 && status < 500:
		// "4xx (except 413, 429) → success (the client's fault, not the
		// endpoint's)"
		return OutcomeSuccess
	case status >= 500:
		return OutcomeFailure
	default:
		return OutcomeSuccess
	}
}

// bucket is one fixed-size time slice of the sliding window.
type bucket struct {
	start  time.Time
	errors int
	total  int
}

// entry is the per-endpoint-URL record (spec §3 "RetryBudgetEntry"),
// the value stored in the TTL-backed Store.
type entry struct {
	Buckets []bucket
}

// Store is the opaque key-value backing for retry-budget entries (spec
// §6 "Cache and budget stores" / §3 "entries expire after a TTL"). The
// default implementation is in-process (github.com/patrickmn/go-cache);
// a Redis-backed implementation satisfying this interface is an external
// collaborator per spec §1 Non-goals.
type Store interface {
	Get(key string) (entry, bool)
	Set(key string, e entry, ttl time.Duration)
}

// memStore adapts patrickmn/go-cache to Store.
type memStore struct {
	c *gocache.Cache
}

// NewMemStore returns a process-local Store whose entries expire
// ttl after their last write, matching the go-cache idiom used
// throughout this module for its default, swappable stores.
func NewMemStore(ttl time.Duration) Store {
	return &memStore{c: gocache.New(ttl, ttl/2+time.Second)}
}

func (m *memStore) Get(key string) (entry, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return entry{}, false
	}
	e, ok := v.(entry)
	return e, ok
}

func (m *memStore) Set(key string, e entry, ttl time.Duration) {
	m.c.Set(key, e, ttl)
}

// Budget implements RetryBudgetEntry accounting with a fixed bucket count
// approximating the sliding window (spec §4.6, §3).
type Budget struct {
	mu    sync.Mutex
	store Store

	// Threshold is the error ratio (errors/total) above which an
	// endpoint is cut off.
	Threshold float64
	// Window is the total sliding-window span.
	Window time.Duration
	// TTL is how long an entry survives without being touched before it
	// expires and its counters reset (spec §3 "entries expire after a
	// TTL").
	TTL time.Duration
	// Buckets is the number of fixed-size buckets approximating Window.
	Buckets int

	// Now is overridable for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

// NewBudget returns a Budget configured per the given threshold/window/
// TTL, using bucketCount fixed-size buckets to approximate the window
// (spec §4.6 "the window is approximated by fixed-size buckets"). The
// entry store defaults to an in-process go-cache instance; pass a
// different Store via WithStore for a shared (e.g. Redis-backed) one.
func NewBudget(threshold float64, window, ttl time.Duration, bucketCount int) *Budget {
	if bucketCount < 1 {
		bucketCount = 1
	}
	return &Budget{
		store:     NewMemStore(ttl),
		Threshold: threshold,
		Window:    window,
		TTL:       ttl,
		Buckets:   bucketCount,
		Now:       time.Now,
	}
}

// WithStore swaps the backing Store, e.g. for a Redis-backed
// implementation shared across processes.
func (b *Budget) WithStore(s Store) *Budget {
	b.store = s
	return b
}

func (b *Budget) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Record accounts one upstream outcome against url's sliding window (spec
// §4.6 "On every upstream response ... the worker calls record"). Fatal
// outcomes (413) are never recorded; callers must propagate them
// directly without calling Record. Store failures are swallowed: retry-
// budget updates are best-effort (spec §5 "may be dropped silently on
// store failure").
func (b *Budget) Record(url string, outcome Outcome) {
	if outcome == OutcomeFatal {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, _ := b.store.Get(url)
	bkt := b.currentBucket(&e)
	bkt.total++
	if outcome == OutcomeFailure {
		bkt.errors++
	}
	b.store.Set(url, e, b.TTL)
}

// RecordStatus is a convenience wrapper classifying status via
// ClassifyStatus before recording. It returns the classified outcome so
// callers can decide whether to escalate a fatal (413) response.
func (b *Budget) RecordStatus(url string, status int) Outcome {
	outcome := ClassifyStatus(status)
	b.Record(url, outcome)
	return outcome
}

// ShouldCut reports whether url's error ratio over the window exceeds
// Threshold, in which case the caller must short-circuit the fetch to a
// synthetic no-content outcome (spec §4.6, SPEC_FULL §C.5).
func (b *Budget) ShouldCut(url string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.store.Get(url)
	if !ok {
		return false
	}

	var errs, total int
	cutoff := b.now().Add(-b.Window)
	for _, bkt := range e.Buckets {
		if bkt.start.Before(cutoff) {
			continue
		}
		errs += bkt.errors
		total += bkt.total
	}
	if total == 0 {
		return false
	}
	return float64(errs)/float64(total) > b.Threshold
}

func (b *Budget) bucketSpan() time.Duration {
	if b.Window <= 0 || b.Buckets <= 0 {
		return time.Minute
	}
	return b.Window / time.Duration(b.Buckets)
}

// currentBucket returns the bucket for "now" within e, evicting buckets
// that have aged out of the window and appending a fresh one when the
// current time has rolled into a new bucket span.
func (b *Budget) currentBucket(e *entry) *bucket {
	now := b.now()
	span := b.bucketSpan()

	if len(e.Buckets) > 0 {
		last := &e.Buckets[len(e.Buckets)-1]
		if !now.Before(last.start) && now.Before(last.start.Add(span)) {
			return last
		}
	}

	aligned := now.Truncate(span)
	e.Buckets = append(e.Buckets, bucket{start: aligned})

	cutoff := now.Add(-b.Window)
	kept := e.Buckets[:0]
	for _, bkt := range e.Buckets {
		if bkt.start.Before(cutoff) {
			continue
		}
		kept = append(kept, bkt)
	}
	e.Buckets = kept

	return &e.Buckets[len(e.Buckets)-1]
}
