package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/eidaws/federator-go/internal/config"
	"github.com/eidaws/federator-go/internal/routing"
	"github.com/eidaws/federator-go/internal/sncl"
)

func newTestAppContext(t *testing.T, routingURL string) *config.AppContext {
	t.Helper()
	cfg := config.Defaults
	cfg.URLRouting = routingURL
	cfg.RoutingTimeout = 2 * time.Second
	cfg.EndpointTimeoutConnect = 2 * time.Second
	cfg.EndpointTimeoutSockRead = 2 * time.Second
	cfg.EndpointConnectionLimit = 0
	cfg.CacheTTL = time.Minute

	ac, err := config.New(cfg, logrus.NewEntry(logrus.New()), prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	return ac
}

func routingWireServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
}

func TestProcessorEndToEndJSON(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	start := now
	end := now.Add(time.Hour)

	dataSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"t":1}]`))
	}))
	defer dataSrv.Close()

	routingBody := fmt.Sprintf("%s\nNET STA -- HHZ %s %s\n\n", dataSrv.URL,
		start.Format(time.RFC3339), end.Format(time.RFC3339))
	routingSrv := routingWireServer(t, routingBody)
	defer routingSrv.Close()

	ac := newTestAppContext(t, routingSrv.URL)
	desc, ok := Descriptor("wfcatalog-json")
	if !ok {
		t.Fatal("missing wfcatalog-json descriptor")
	}
	proc := NewRequestProcessor(ac, desc)

	sel := routing.Selection{
		Service: "wfcatalog-json",
		Level:   routing.LevelChannel,
		StreamEpochs: []sncl.StreamEpoch{
			{Stream: sncl.Stream{Network: "NET", Station: "STA", Location: "--", Channel: "HHZ"}, Start: start, End: end},
		},
	}

	w := httptest.NewRecorder()
	if err := proc.Process(context.Background(), w, sel, map[string]string{}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Body.String(); got != `[{"t":1}]` {
		t.Fatalf("got %q", got)
	}

	// Second request should be served from cache without hitting the
	// data endpoint again.
	dataSrv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("data endpoint must not be called again on cache hit")
	})
	w2 := httptest.NewRecorder()
	if err := proc.Process(context.Background(), w2, sel, map[string]string{}); err != nil {
		t.Fatalf("Process (cached): %v", err)
	}
	if got := w2.Body.String(); got != `[{"t":1}]` {
		t.Fatalf("cached response got %q", got)
	}
}

func TestProcessorNoDataWhenRoutingEmpty(t *testing.T) {
	routingSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer routingSrv.Close()

	ac := newTestAppContext(t, routingSrv.URL)
	desc, _ := Descriptor("wfcatalog-json")
	proc := NewRequestProcessor(ac, desc)

	now := time.Now().UTC()
	sel := routing.Selection{
		Service: "wfcatalog-json",
		Level:   routing.LevelChannel,
		StreamEpochs: []sncl.StreamEpoch{
			{Stream: sncl.Stream{Network: "NET", Station: "STA", Location: "--", Channel: "HHZ"}, Start: now, End: now.Add(time.Hour)},
		},
	}

	w := httptest.NewRecorder()
	err := proc.Process(context.Background(), w, sel, map[string]string{})
	if err == nil {
		t.Fatal("expected NoData error")
	}
}
