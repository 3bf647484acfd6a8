// Package sncl implements the stream/stream-epoch value types shared by
// every component that resolves, splits or merges seismological data
// selections: network, station, location, channel plus a time interval.
package sncl

import (
	"fmt"
	"strings"
	"time"
)

// Stream identifies a channel by its four FDSN identifiers. Any field may
// be a wildcard ("*", "?" or a pattern containing either); wildcards never
// appear in a StreamEpoch's time bounds.
type Stream struct {
	Network  string
	Station  string
	Location string
	Channel  string
}

func (s Stream) String() string {
	return strings.Join([]string{s.Network, s.Station, s.Location, s.Channel}, ".")
}

// HasWildcard reports whether any identifier field contains a wildcard
// character.
func (s Stream) HasWildcard() bool {
	for _, f := range []string{s.Network, s.Station, s.Location, s.Channel} {
		if strings.ContainsAny(f, "*?") {
			return true
		}
	}
	return false
}

// Less implements the lexicographic ordering over (network, station,
// location, channel) used when sorting routes (spec §4.1 step 6).
func (s Stream) Less(other Stream) bool {
	if s.Network != other.Network {
		return s.Network < other.Network
	}
	if s.Station != other.Station {
		return s.Station < other.Station
	}
	if s.Location != other.Location {
		return s.Location < other.Location
	}
	return s.Channel < other.Channel
}

// StreamEpoch is a Stream plus a half-open UTC time interval [Start, End).
// Start must be strictly before End; both carry at least second
// resolution.
type StreamEpoch struct {
	Stream Stream
	Start  time.Time
	End    time.Time
}

// Valid reports whether the epoch satisfies the data-model invariant
// start < end, per spec §3.
func (e StreamEpoch) Valid() bool {
	return e.Start.Before(e.End)
}

// Equal reports whether two epochs are identical in all six fields, per
// spec §3 ("Two StreamEpochs are equal iff all six fields are equal").
func (e StreamEpoch) Equal(other StreamEpoch) bool {
	return e.Stream == other.Stream && e.Start.Equal(other.Start) && e.End.Equal(other.End)
}

// Duration returns End-Start.
func (e StreamEpoch) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Less orders epochs by (network, station, location, channel, start), the
// tuple used for Route-internal ordering (spec §3).
func (e StreamEpoch) Less(other StreamEpoch) bool {
	if e.Stream != other.Stream {
		return e.Stream.Less(other.Stream)
	}
	return e.Start.Before(other.Start)
}

// Overlaps reports whether e and other share any instant, treating both
// intervals as half-open [Start, End).
func (e StreamEpoch) Overlaps(other StreamEpoch) bool {
	return e.Start.Before(other.End) && other.Start.Before(e.End)
}

// Abuts reports whether e and other are contiguous: one ends exactly where
// the other begins.
func (e StreamEpoch) Abuts(other StreamEpoch) bool {
	return e.End.Equal(other.Start) || other.End.Equal(e.Start)
}

// Mergeable reports whether e and other share a Stream and either overlap
// or abut, the precondition for the canonical merge handler in spec §4.1
// step 4.
func (e StreamEpoch) Mergeable(other StreamEpoch) bool {
	return e.Stream == other.Stream && (e.Overlaps(other) || e.Abuts(other))
}

// Merge combines two mergeable epochs into their union. Merge is
// associative and commutative over the union of [Start,End) intervals, as
// required by spec §4.1 step 4. Callers must check Mergeable first.
func Merge(a, b StreamEpoch) StreamEpoch {
	start := a.Start
	if b.Start.Before(start) {
		start = b.Start
	}
	end := a.End
	if b.End.After(end) {
		end = b.End
	}
	return StreamEpoch{Stream: a.Stream, Start: start, End: end}
}

// Clip restricts e to the half-open window [lo, hi). Either bound may be
// the zero time.Time to mean "unbounded on that side" (spec §4.1 step 3).
// The second return value is false if the clipped interval has zero or
// negative duration, in which case the caller must drop the epoch (spec
// §4.1 "edge cases").
func (e StreamEpoch) Clip(lo, hi time.Time) (StreamEpoch, bool) {
	out := e
	if !lo.IsZero() && lo.After(out.Start) {
		out.Start = lo
	}
	if !hi.IsZero() && hi.Before(out.End) {
		out.End = hi
	}
	if !out.Start.Before(out.End) {
		return StreamEpoch{}, false
	}
	return out, true
}

// CollapseKey returns the (network, station) key used to collapse
// per-channel epochs into one epoch per station or network, per spec
// §4.1 step 5.
func (e StreamEpoch) CollapseKey() string {
	return fmt.Sprintf("%s.%s", e.Stream.Network, e.Stream.Station)
}
