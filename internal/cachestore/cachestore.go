// Package cachestore implements the content-addressed response cache
// (spec §3 "CacheKey / CacheEntry"): at-most-one stored entry per key,
// atomic writes, partial responses never visible.
package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/eidaws/federator-go/internal/sncl"
)

// Key is the canonical fingerprint of a cacheable request: service,
// normalized query params, normalized stream epochs (spec §3).
type Key string

// NewKey builds a Key from a service identifier, its normalized query
// parameters, and the resolved stream epochs the request covers. Params
// are sorted by name so that equivalent query strings in any order
// fingerprint identically; epochs are sorted via sncl.StreamEpoch.Less
// for the same reason.
func NewKey(service string, params map[string]string, epochs []sncl.StreamEpoch) Key {
	h := sha256.New()
	fmt.Fprintf(h, "service=%s\n", service)

	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(h, "%s=%s\n", k, params[k])
	}

	sorted := append([]sncl.StreamEpoch(nil), epochs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
	for _, e := range sorted {
		fmt.Fprintf(h, "%s|%s|%s\n", e.Stream.String(), e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339))
	}

	return Key(hex.EncodeToString(h.Sum(nil)))
}

// Entry is a cached response body plus the metadata needed to replay it
// (spec §3 "Entry holds the complete serialized response body").
type Entry struct {
	Body        []byte
	ContentType string
	Headers     map[string]string
}

// Store is the opaque cache contract (spec §3, §6 "Redis-backed cache
// ... stores"): Get for a hit, and Commit to atomically publish a
// complete Entry. There is no partial-write path on this interface by
// design: a Buffer accumulates locally and only calls Commit once, so
// a reader can never observe a half-written value.
type Store interface {
	Get(key Key) (Entry, bool)
	Commit(key Key, entry Entry, ttl time.Duration)
}

// memStore is the default in-process Store (spec §6 names a
// Redis-backed store as an external collaborator for production
// deployments; this is the drop-in single-process equivalent used in
// tests and small deployments).
type memStore struct {
	c *gocache.Cache
}

// NewMemStore returns a process-local Store whose entries expire ttl
// after being committed.
func NewMemStore(ttl time.Duration) Store {
	return &memStore{c: gocache.New(ttl, ttl/2+time.Second)}
}

func (m *memStore) Get(key Key) (Entry, bool) {
	v, ok := m.c.Get(string(key))
	if !ok {
		return Entry{}, false
	}
	e, ok := v.(Entry)
	return e, ok
}

func (m *memStore) Commit(key Key, entry Entry, ttl time.Duration) {
	m.c.Set(string(key), entry, ttl)
}

// Buffer intercepts the bytes a RequestProcessor writes to its Drain
// while a cache miss is in flight (spec §4.3 step 3 "install a
// cache-buffer that intercepts all bytes written to the Drain"). It
// implements io.Writer so it can sit alongside the Drain write path
// without the worker code needing to know a cache is involved. Nothing
// becomes visible to Store until Commit is called; Discard abandons the
// buffer entirely, which is what cancellation and mid-stream errors do
// (spec §4.3 "Cancellation", §5 "Propagation").
type Buffer struct {
	key         Key
	store       Store
	ttl         time.Duration
	contentType string
	headers     map[string]string
	body        []byte
	committed   bool
}

// NewBuffer returns a Buffer that will commit to store under key with
// the given ttl once Commit is called.
func NewBuffer(store Store, key Key, contentType string, ttl time.Duration) *Buffer {
	return &Buffer{key: key, store: store, ttl: ttl, contentType: contentType}
}

// Write accumulates bytes into the buffer. It never fails: the buffer
// is an in-memory accumulator, matching the "complete serialized
// response body" contract in spec §3 (streaming formats are still
// fully materialized before a cache entry is committed).
func (b *Buffer) Write(p []byte) (int, error) {
	b.body = append(b.body, p...)
	return len(p), nil
}

var _ io.Writer = (*Buffer)(nil)

// SetHeader records a response header to replay alongside the cached
// body on a future hit (e.g. Content-Disposition for the JSON worker,
// SPEC_FULL §C.3).
func (b *Buffer) SetHeader(k, v string) {
	if b.headers == nil {
		b.headers = make(map[string]string)
	}
	b.headers[k] = v
}

// Commit atomically publishes the accumulated body to the Store (spec
// §4.3 step 6 "commit the cache entry atomically"). It is a no-op if
// called more than once or after Discard.
func (b *Buffer) Commit() {
	if b.committed {
		return
	}
	b.committed = true
	b.store.Commit(b.key, Entry{
		Body:        b.body,
		ContentType: b.contentType,
		Headers:     b.headers,
	}, b.ttl)
}

// Discard abandons the buffer without publishing anything (spec §4.3
// "Cancellation ... partial cache buffers are discarded without
// commit").
func (b *Buffer) Discard() {
	b.committed = true
	b.body = nil
}

// Committed reports whether Commit has already run.
func (b *Buffer) Committed() bool {
	return b.committed
}
