package routing

import (
	"testing"
	"time"

	"github.com/eidaws/federator-go/internal/ferrors"
	"github.com/eidaws/federator-go/internal/sncl"
)

func epoch(t *testing.T, start, end string) sncl.StreamEpoch {
	return sncl.StreamEpoch{
		Stream: sncl.Stream{Network: "CH", Station: "FOO", Channel: "LHZ"},
		Start:  mustTime(t, start),
		End:    mustTime(t, end),
	}
}

func TestCheckLimitsSingleEpochOverCap(t *testing.T) {
	table := NewRoutingTable()
	table.Add("http://a", epoch(t, "2019-01-01T00:00:00Z", "2019-01-02T00:00:01Z"))

	s := EpochSplitter{Limits: Limits{MaxStreamEpochDuration: 24 * time.Hour}}
	err := s.CheckLimits(table)
	fe, ok := ferrors.As(err)
	if !ok || fe.Kind != ferrors.KindPayloadTooLarge {
		t.Fatalf("expected PayloadTooLarge, got %v", err)
	}
}

func TestCheckLimitsTotalOverCap(t *testing.T) {
	table := NewRoutingTable()
	table.Add("http://a", epoch(t, "2019-01-01T00:00:00Z", "2019-01-02T00:00:00Z"))
	table.Add("http://b", epoch(t, "2019-01-01T00:00:00Z", "2019-01-02T00:00:00Z"))

	s := EpochSplitter{Limits: Limits{MaxTotalStreamEpochDuration: 36 * time.Hour}}
	err := s.CheckLimits(table)
	fe, ok := ferrors.As(err)
	if !ok || fe.Kind != ferrors.KindPayloadTooLarge {
		t.Fatalf("expected PayloadTooLarge, got %v", err)
	}
}

func TestCheckLimitsOpenEndedExceedsAnyFiniteCap(t *testing.T) {
	table := NewRoutingTable()
	table.Add("http://a", sncl.StreamEpoch{
		Stream: sncl.Stream{Network: "CH", Station: "FOO", Channel: "LHZ"},
		Start:  mustTime(t, "2019-01-01T00:00:00Z"),
		// Zero End means open-ended.
	})

	s := EpochSplitter{Limits: Limits{MaxStreamEpochDuration: 24 * time.Hour}}
	err := s.CheckLimits(table)
	fe, ok := ferrors.As(err)
	if !ok || fe.Kind != ferrors.KindPayloadTooLarge {
		t.Fatalf("expected PayloadTooLarge for open-ended interval, got %v", err)
	}
}

func TestCheckLimitsWithinCapsPasses(t *testing.T) {
	table := NewRoutingTable()
	table.Add("http://a", epoch(t, "2019-01-01T00:00:00Z", "2019-01-02T00:00:00Z"))

	s := EpochSplitter{Limits: Limits{MaxStreamEpochDuration: 2 * 24 * time.Hour, MaxTotalStreamEpochDuration: 2 * 24 * time.Hour}}
	if err := s.CheckLimits(table); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
}

func TestSplitIntoChunks(t *testing.T) {
	e := epoch(t, "2019-01-01T00:00:00Z", "2019-01-04T00:00:00Z")
	s := EpochSplitter{ChunkDuration: 24 * time.Hour}

	chunks := s.Split(e)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %+v", len(chunks), chunks)
	}
	if !chunks[0].Start.Equal(e.Start) {
		t.Fatalf("first chunk should start at epoch start")
	}
	if !chunks[len(chunks)-1].End.Equal(e.End) {
		t.Fatalf("last chunk should end at epoch end")
	}
	// total coverage preserved, contiguous
	for i := 1; i < len(chunks); i++ {
		if !chunks[i-1].End.Equal(chunks[i].Start) {
			t.Fatalf("chunks not contiguous: %+v", chunks)
		}
	}
}

func TestSplitNoopWhenUnderChunkDuration(t *testing.T) {
	e := epoch(t, "2019-01-01T00:00:00Z", "2019-01-01T01:00:00Z")
	s := EpochSplitter{ChunkDuration: 24 * time.Hour}
	chunks := s.Split(e)
	if len(chunks) != 1 || !chunks[0].Equal(e) {
		t.Fatalf("expected unchanged single chunk, got %+v", chunks)
	}
}
