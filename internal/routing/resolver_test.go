package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-test/deep"

	"github.com/eidaws/federator-go/internal/ferrors"
	"github.com/eidaws/federator-go/internal/sncl"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %s", s, err)
	}
	return tm
}

func selectionFor(t *testing.T, net, sta, loc, cha, start, end string) Selection {
	return Selection{
		Service: "dataselect",
		Level:   LevelChannel,
		StreamEpochs: []sncl.StreamEpoch{{
			Stream: sncl.Stream{Network: net, Station: sta, Location: loc, Channel: cha},
			Start:  mustTime(t, start),
			End:    mustTime(t, end),
		}},
	}
}

func TestResolveNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r := &Resolver{URL: srv.URL, HTTPClient: srv.Client()}
	table, err := r.Resolve(context.Background(), selectionFor(t, "CH", "FOO", "", "LHZ", "2019-01-01T00:00:00Z", "2019-01-05T00:00:00Z"))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !table.Empty() {
		t.Fatalf("expected empty routing table")
	}
}

func TestResolveServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := &Resolver{URL: srv.URL, HTTPClient: srv.Client()}
	_, err := r.Resolve(context.Background(), selectionFor(t, "CH", "FOO", "", "LHZ", "2019-01-01T00:00:00Z", "2019-01-05T00:00:00Z"))
	fe, ok := ferrors.As(err)
	if !ok {
		t.Fatalf("expected *ferrors.Error, got %v", err)
	}
	if fe.Kind != ferrors.KindRoutingUnavailable {
		t.Fatalf("expected KindRoutingUnavailable, got %s", fe.Kind)
	}
}

func TestResolveClipsAndMerges(t *testing.T) {
	const body = "http://eida.ethz.ch\n" +
		"CH FOO -- LHZ 2018-12-31T00:00:00Z 2019-01-02T00:00:00Z\n" +
		"CH FOO -- LHZ 2019-01-02T00:00:00Z 2019-01-06T00:00:00Z\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	r := &Resolver{URL: srv.URL, HTTPClient: srv.Client()}
	table, err := r.Resolve(context.Background(), selectionFor(t, "CH", "FOO", "--", "LHZ", "2019-01-01T00:00:00Z", "2019-01-05T00:00:00Z"))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	routes := table.Routes()
	if len(routes) != 1 {
		t.Fatalf("expected 1 route, got %d", len(routes))
	}
	if len(routes[0].StreamEpochs) != 1 {
		t.Fatalf("expected merged single epoch, got %d: %+v", len(routes[0].StreamEpochs), routes[0].StreamEpochs)
	}

	got := routes[0].StreamEpochs[0]
	want := sncl.StreamEpoch{
		Stream: sncl.Stream{Network: "CH", Station: "FOO", Location: "--", Channel: "LHZ"},
		Start:  mustTime(t, "2019-01-01T00:00:00Z"),
		End:    mustTime(t, "2019-01-05T00:00:00Z"),
	}
	if diff := deep.Equal(got, want); diff != nil {
		t.Fatalf("unexpected merged epoch: %v", diff)
	}
}

func TestResolveCollapsesAtStationLevel(t *testing.T) {
	const body = "http://eida.ethz.ch\n" +
		"CH FOO -- LHZ 2019-01-01T00:00:00Z 2019-01-02T00:00:00Z\n" +
		"CH FOO -- LHN 2019-01-02T00:00:00Z 2019-01-03T00:00:00Z\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	sel := selectionFor(t, "CH", "FOO", "--", "*", "2019-01-01T00:00:00Z", "2019-01-03T00:00:00Z")
	sel.Level = LevelStation

	r := &Resolver{URL: srv.URL, HTTPClient: srv.Client()}
	table, err := r.Resolve(context.Background(), sel)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	routes := table.Routes()
	if len(routes) != 1 || len(routes[0].StreamEpochs) != 1 {
		t.Fatalf("expected single collapsed epoch, got %+v", routes)
	}
	got := routes[0].StreamEpochs[0]
	if got.Stream.Channel != "*" {
		t.Fatalf("expected collapsed channel wildcard, got %q", got.Stream.Channel)
	}
	if !got.Start.Equal(mustTime(t, "2019-01-01T00:00:00Z")) || !got.End.Equal(mustTime(t, "2019-01-03T00:00:00Z")) {
		t.Fatalf("expected union interval, got %+v", got)
	}
}

func TestDemuxAndGroupByNetwork(t *testing.T) {
	table := NewRoutingTable()
	table.Add("http://a", sncl.StreamEpoch{
		Stream: sncl.Stream{Network: "CH", Station: "FOO", Channel: "LHZ"},
		Start:  mustTime(t, "2019-01-01T00:00:00Z"), End: mustTime(t, "2019-01-02T00:00:00Z"),
	})
	table.Add("http://a", sncl.StreamEpoch{
		Stream: sncl.Stream{Network: "GE", Station: "BAR", Channel: "LHZ"},
		Start:  mustTime(t, "2019-01-01T00:00:00Z"), End: mustTime(t, "2019-01-02T00:00:00Z"),
	})

	demuxed := Demux(table)
	if len(demuxed) != 2 {
		t.Fatalf("expected 2 demuxed routes, got %d", len(demuxed))
	}
	for _, r := range demuxed {
		if len(r.StreamEpochs) != 1 {
			t.Fatalf("expected singleton epochs after demux, got %d", len(r.StreamEpochs))
		}
	}

	grouped := GroupByNetwork(table)
	if len(grouped["CH"]) != 1 || len(grouped["GE"]) != 1 {
		t.Fatalf("unexpected grouping: %+v", grouped)
	}

	order := NetworkOrder(grouped)
	if len(order) != 2 || order[0] != "CH" || order[1] != "GE" {
		t.Fatalf("unexpected network order: %v", order)
	}
}
