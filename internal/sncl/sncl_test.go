package sncl

import (
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %s", s, err)
	}
	return tm
}

func TestStreamEpochValid(t *testing.T) {
	s := Stream{Network: "CH", Station: "FOO", Location: "", Channel: "LHZ"}
	start := mustTime(t, "2019-01-01T00:00:00Z")
	end := mustTime(t, "2019-01-05T00:00:00Z")

	e := StreamEpoch{Stream: s, Start: start, End: end}
	if !e.Valid() {
		t.Fatalf("expected valid epoch")
	}

	zero := StreamEpoch{Stream: s, Start: end, End: end}
	if zero.Valid() {
		t.Fatalf("expected zero-duration epoch to be invalid")
	}
}

func TestStreamEpochEqual(t *testing.T) {
	s := Stream{Network: "CH", Station: "FOO", Channel: "LHZ"}
	start := mustTime(t, "2019-01-01T00:00:00Z")
	end := mustTime(t, "2019-01-05T00:00:00Z")

	a := StreamEpoch{Stream: s, Start: start, End: end}
	b := StreamEpoch{Stream: s, Start: start, End: end}
	if !a.Equal(b) {
		t.Fatalf("expected equal epochs")
	}

	c := StreamEpoch{Stream: s, Start: start, End: end.Add(time.Second)}
	if a.Equal(c) {
		t.Fatalf("expected unequal epochs")
	}
}

func TestMergeOverlapAndAbut(t *testing.T) {
	s := Stream{Network: "CH", Station: "FOO", Channel: "LHZ"}
	a := StreamEpoch{Stream: s, Start: mustTime(t, "2019-01-01T00:00:00Z"), End: mustTime(t, "2019-01-03T00:00:00Z")}
	b := StreamEpoch{Stream: s, Start: mustTime(t, "2019-01-02T00:00:00Z"), End: mustTime(t, "2019-01-05T00:00:00Z")}

	if !a.Mergeable(b) {
		t.Fatalf("expected overlapping epochs to be mergeable")
	}
	merged := Merge(a, b)
	if !merged.Start.Equal(a.Start) || !merged.End.Equal(b.End) {
		t.Fatalf("unexpected merge result: %+v", merged)
	}

	// commutative
	merged2 := Merge(b, a)
	if !merged.Equal(merged2) {
		t.Fatalf("merge not commutative: %+v vs %+v", merged, merged2)
	}

	c := StreamEpoch{Stream: s, Start: mustTime(t, "2019-01-05T00:00:00Z"), End: mustTime(t, "2019-01-06T00:00:00Z")}
	if !b.Mergeable(c) {
		t.Fatalf("expected abutting epochs to be mergeable")
	}

	d := StreamEpoch{Stream: s, Start: mustTime(t, "2019-02-01T00:00:00Z"), End: mustTime(t, "2019-02-02T00:00:00Z")}
	if a.Mergeable(d) {
		t.Fatalf("expected disjoint epochs not to be mergeable")
	}
}

func TestClipDropsZeroDuration(t *testing.T) {
	s := Stream{Network: "CH", Station: "FOO", Channel: "LHZ"}
	e := StreamEpoch{Stream: s, Start: mustTime(t, "2019-01-01T00:00:00Z"), End: mustTime(t, "2019-01-02T00:00:00Z")}

	// Clip entirely outside the window.
	_, ok := e.Clip(mustTime(t, "2019-01-02T00:00:00Z"), mustTime(t, "2019-01-03T00:00:00Z"))
	if ok {
		t.Fatalf("expected zero-duration clip to be dropped")
	}

	clipped, ok := e.Clip(mustTime(t, "2019-01-01T12:00:00Z"), time.Time{})
	if !ok {
		t.Fatalf("expected valid clip")
	}
	if !clipped.Start.Equal(mustTime(t, "2019-01-01T12:00:00Z")) || !clipped.End.Equal(e.End) {
		t.Fatalf("unexpected clip result: %+v", clipped)
	}
}

func TestStreamEpochLessOrdering(t *testing.T) {
	a := StreamEpoch{Stream: Stream{Network: "CH", Station: "AAA", Channel: "HHZ"}, Start: mustTime(t, "2019-01-01T00:00:00Z"), End: mustTime(t, "2019-01-02T00:00:00Z")}
	b := StreamEpoch{Stream: Stream{Network: "CH", Station: "BBB", Channel: "HHZ"}, Start: mustTime(t, "2019-01-01T00:00:00Z"), End: mustTime(t, "2019-01-02T00:00:00Z")}
	if !a.Less(b) {
		t.Fatalf("expected AAA < BBB")
	}
	if b.Less(a) {
		t.Fatalf("expected BBB not less than AAA")
	}
}
