package routing

import (
	"time"

	"github.com/eidaws/federator-go/internal/ferrors"
	"github.com/eidaws/federator-go/internal/sncl"
)

// Limits holds the two duration ceilings enforced after resolution and
// before dispatch (spec §4.2).
type Limits struct {
	// MaxStreamEpochDuration bounds any single resolved stream epoch. A
	// zero value means unbounded.
	MaxStreamEpochDuration time.Duration
	// MaxTotalStreamEpochDuration bounds the sum of durations across all
	// resolved stream epochs. A zero value means unbounded.
	MaxTotalStreamEpochDuration time.Duration
}

// EpochSplitter enforces Limits and, for streaming-friendly formats,
// subdivides epochs into contiguous chunks (spec §4.2).
type EpochSplitter struct {
	Limits Limits
	// ChunkDuration, when non-zero, is the maximum span of a single
	// sub-interval produced by Split.
	ChunkDuration time.Duration
}

// CheckLimits enforces both ceilings over every route in the table.
// Violation is fatal: it returns a PayloadTooLarge error before any
// upstream dispatch happens (spec §4.2 "Policy"). An open-ended interval
// (zero Start or End) always counts as exceeding any finite ceiling.
func (s EpochSplitter) CheckLimits(table *RoutingTable) error {
	var total time.Duration

	for _, route := range table.Routes() {
		for _, e := range route.StreamEpochs {
			if e.Start.IsZero() || e.End.IsZero() {
				if s.Limits.MaxStreamEpochDuration > 0 || s.Limits.MaxTotalStreamEpochDuration > 0 {
					return ferrors.New(ferrors.KindPayloadTooLarge, "open-ended interval exceeds configured duration ceiling")
				}
				continue
			}

			d := e.Duration()
			if s.Limits.MaxStreamEpochDuration > 0 && d > s.Limits.MaxStreamEpochDuration {
				return ferrors.New(ferrors.KindPayloadTooLarge, "stream epoch exceeds max_stream_epoch_duration")
			}
			total += d
		}
	}

	if s.Limits.MaxTotalStreamEpochDuration > 0 && total > s.Limits.MaxTotalStreamEpochDuration {
		return ferrors.New(ferrors.KindPayloadTooLarge, "total stream epoch duration exceeds max_total_stream_epoch_duration")
	}
	return nil
}

// Split subdivides e into contiguous sub-intervals no longer than
// ChunkDuration, preserving total coverage and order (spec §4.2
// "Splitting"). If ChunkDuration is zero or e's duration does not
// exceed it, Split returns e unchanged as the sole element.
func (s EpochSplitter) Split(e sncl.StreamEpoch) []sncl.StreamEpoch {
	if s.ChunkDuration <= 0 || e.Duration() <= s.ChunkDuration {
		return []sncl.StreamEpoch{e}
	}

	var out []sncl.StreamEpoch
	cursor := e.Start
	for cursor.Before(e.End) {
		chunkEnd := cursor.Add(s.ChunkDuration)
		if chunkEnd.After(e.End) {
			chunkEnd = e.End
		}
		out = append(out, sncl.StreamEpoch{Stream: e.Stream, Start: cursor, End: chunkEnd})
		cursor = chunkEnd
	}
	return out
}
