package cachestore

import (
	"testing"
	"time"

	"github.com/eidaws/federator-go/internal/sncl"
)

func TestNewKeyStableUnderParamAndEpochReordering(t *testing.T) {
	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	e1 := sncl.StreamEpoch{Stream: sncl.Stream{Network: "CH", Station: "FOO", Channel: "LHZ"}, Start: start, End: end}
	e2 := sncl.StreamEpoch{Stream: sncl.Stream{Network: "GE", Station: "BAR", Channel: "LHZ"}, Start: start, End: end}

	k1 := NewKey("station", map[string]string{"level": "channel", "format": "xml"}, []sncl.StreamEpoch{e1, e2})
	k2 := NewKey("station", map[string]string{"format": "xml", "level": "channel"}, []sncl.StreamEpoch{e2, e1})

	if k1 != k2 {
		t.Fatalf("expected reordering-invariant key, got %s != %s", k1, k2)
	}
}

func TestNewKeyDiffersOnContent(t *testing.T) {
	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	e := sncl.StreamEpoch{Stream: sncl.Stream{Network: "CH", Station: "FOO", Channel: "LHZ"}, Start: start, End: end}

	k1 := NewKey("station", map[string]string{"level": "channel"}, []sncl.StreamEpoch{e})
	k2 := NewKey("station", map[string]string{"level": "network"}, []sncl.StreamEpoch{e})
	if k1 == k2 {
		t.Fatalf("expected distinct keys for distinct params")
	}
}

func TestBufferCommitMakesEntryVisible(t *testing.T) {
	store := NewMemStore(time.Minute)
	key := Key("k1")

	if _, ok := store.Get(key); ok {
		t.Fatalf("expected no entry before commit")
	}

	buf := NewBuffer(store, key, "application/xml", time.Minute)
	buf.Write([]byte("hello "))
	buf.Write([]byte("world"))
	buf.SetHeader("Content-Disposition", "attachment; filename=test.xml")

	if _, ok := store.Get(key); ok {
		t.Fatalf("expected no entry visible before Commit")
	}

	buf.Commit()

	got, ok := store.Get(key)
	if !ok {
		t.Fatalf("expected entry after commit")
	}
	if string(got.Body) != "hello world" {
		t.Fatalf("unexpected body: %q", got.Body)
	}
	if got.Headers["Content-Disposition"] == "" {
		t.Fatalf("expected header preserved")
	}
}

func TestBufferDiscardNeverCommits(t *testing.T) {
	store := NewMemStore(time.Minute)
	key := Key("k2")

	buf := NewBuffer(store, key, "text/plain", time.Minute)
	buf.Write([]byte("partial"))
	buf.Discard()
	buf.Commit()

	if _, ok := store.Get(key); ok {
		t.Fatalf("expected discarded buffer to never publish an entry")
	}
}

func TestBufferCommitIsIdempotent(t *testing.T) {
	store := NewMemStore(time.Minute)
	key := Key("k3")

	buf := NewBuffer(store, key, "text/plain", time.Minute)
	buf.Write([]byte("v1"))
	buf.Commit()
	buf.body = append(buf.body, []byte("-should-not-appear")...)
	buf.Commit()

	got, _ := store.Get(key)
	if string(got.Body) != "v1" {
		t.Fatalf("expected second Commit to be a no-op, got %q", got.Body)
	}
}
