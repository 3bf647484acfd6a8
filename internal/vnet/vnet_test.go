package vnet

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eidaws/federator-go/internal/sncl"
)

func writeTable(t *testing.T, dir string, raw map[string][]Member) string {
	t.Helper()
	path := filepath.Join(dir, "vnet.json")
	b, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal: %s", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write: %s", err)
	}
	return path
}

func TestExpandUnknownNetworkPassesThrough(t *testing.T) {
	dir := t.TempDir()
	path := writeTable(t, dir, map[string][]Member{})

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %s", err)
	}

	epoch := sncl.StreamEpoch{
		Stream: sncl.Stream{Network: "CH", Station: "FOO", Channel: "LHZ"},
		Start:  time.Now(),
		End:    time.Now().Add(time.Hour),
	}

	got := w.Table().Expand(epoch)
	if len(got) != 1 || !got[0].Equal(epoch) {
		t.Fatalf("expected passthrough, got %+v", got)
	}
}

func TestExpandVirtualNetwork(t *testing.T) {
	dir := t.TempDir()
	path := writeTable(t, dir, map[string][]Member{
		"_ALPARRAY": {
			{Network: "CH", Station: "FOO", Location: "", Channel: "LHZ"},
			{Network: "Z3", Station: "A001A", Location: "", Channel: "HHZ"},
		},
	})

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %s", err)
	}

	start := time.Now()
	end := start.Add(time.Hour)
	epoch := sncl.StreamEpoch{
		Stream: sncl.Stream{Network: "_ALPARRAY", Station: "*", Channel: "*"},
		Start:  start,
		End:    end,
	}

	got := w.Table().Expand(epoch)
	if len(got) != 2 {
		t.Fatalf("expected 2 expanded epochs, got %d", len(got))
	}
	for _, e := range got {
		if !e.Start.Equal(start) || !e.End.Equal(end) {
			t.Fatalf("expected preserved interval, got %+v", e)
		}
	}
	if got[0].Stream.Network != "CH" || got[1].Stream.Network != "Z3" {
		t.Fatalf("unexpected expansion order: %+v", got)
	}
}
