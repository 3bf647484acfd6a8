// Package vnet resolves virtual-network membership: named aliases that
// expand to a set of concrete (network, station, location, channel)
// tuples (spec §4.1 step 1, GLOSSARY "Virtual network").
//
// The membership table is loaded from a JSON document and hot-reloaded
// via fsnotify: a watcher goroutine swaps an atomic pointer to a new
// table on every change, the same shape as Linkerd's
// pkg/credswatcher.FsCredsWatcher.
package vnet

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/eidaws/federator-go/internal/sncl"
)

// Member is one concrete stream composing a virtual network.
type Member struct {
	Network  string `json:"network"`
	Station  string `json:"station"`
	Location string `json:"location"`
	Channel  string `json:"channel"`
}

// Table maps a virtual-network name to its concrete members.
type Table struct {
	members map[string][]Member
}

func newTable(raw map[string][]Member) *Table {
	return &Table{members: raw}
}

// Lookup returns the concrete members of a virtual network, or false if
// name does not name one.
func (t *Table) Lookup(name string) ([]Member, bool) {
	if t == nil {
		return nil, false
	}
	m, ok := t.members[name]
	return m, ok
}

// Expand substitutes virtual-network membership into a stream epoch's
// network identifier, preserving the requested time interval (spec §4.1
// step 1). If the epoch's network does not name a virtual network, Expand
// returns the epoch unchanged as the sole element.
func (t *Table) Expand(epoch sncl.StreamEpoch) []sncl.StreamEpoch {
	members, ok := t.Lookup(epoch.Stream.Network)
	if !ok {
		return []sncl.StreamEpoch{epoch}
	}

	out := make([]sncl.StreamEpoch, 0, len(members))
	for _, m := range members {
		out = append(out, sncl.StreamEpoch{
			Stream: sncl.Stream{
				Network:  m.Network,
				Station:  m.Station,
				Location: m.Location,
				Channel:  m.Channel,
			},
			Start: epoch.Start,
			End:   epoch.End,
		})
	}
	return out
}

// Watcher holds a hot-reloadable Table behind an atomic pointer.
type Watcher struct {
	path    string
	current atomic.Pointer[Table]
	log     *logrus.Entry
}

// NewWatcher loads path once and returns a Watcher serving it. Call
// Start to begin watching for on-disk changes.
func NewWatcher(path string, log *logrus.Entry) (*Watcher, error) {
	w := &Watcher{path: path, log: log}
	t, err := loadTable(path)
	if err != nil {
		return nil, err
	}
	w.current.Store(t)
	return w, nil
}

// Table returns the currently active virtual-network table.
func (w *Watcher) Table() *Table {
	return w.current.Load()
}

// Start watches the backing file for changes, reloading and atomically
// swapping the table whenever it changes. Start blocks until ctx-like
// cancellation is signalled via stop; callers typically run it in a
// goroutine.
func (w *Watcher) Start(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.path); err != nil {
		return err
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			t, err := loadTable(w.path)
			if err != nil {
				w.log.WithError(err).Warn("failed to reload virtual-network table")
				continue
			}
			w.current.Store(t)
			w.log.Info("reloaded virtual-network table")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("virtual-network watcher error")
		case <-stop:
			return nil
		}
	}
}

func loadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vnet table %s: %w", path, err)
	}
	defer f.Close()

	var raw map[string][]Member
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode vnet table %s: %w", path, err)
	}
	return newTable(raw), nil
}
