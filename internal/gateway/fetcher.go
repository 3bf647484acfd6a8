package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/eidaws/federator-go/internal/endpointpool"
	"github.com/eidaws/federator-go/internal/ferrors"
	"github.com/eidaws/federator-go/internal/metrics"
	"github.com/eidaws/federator-go/internal/retrybudget"
	"github.com/eidaws/federator-go/internal/routing"
)

// Fetcher performs one upstream data-endpoint call per stream epoch,
// applying the retry budget and status-code policy shared by every
// worker variant (spec §4.6, §6 "Data endpoints (consumed)").
type Fetcher struct {
	Pool    *endpointpool.Pool
	Budget  *retrybudget.Budget
	Method  string
	Log     *logrus.Entry
	Metrics *metrics.Metrics
	// ServiceID labels WorkerFetchesTotal/RetryBudgetCutoffs; empty is
	// valid and simply labels metrics with an empty service.
	ServiceID string
}

// observeFetch increments WorkerFetchesTotal for this outcome, a no-op
// if Metrics is nil (e.g. in tests built without an AppContext).
func (f *Fetcher) observeFetch(outcome string) {
	if f.Metrics == nil {
		return
	}
	f.Metrics.WorkerFetchesTotal.WithLabelValues(f.ServiceID, outcome).Inc()
}

// Fetch performs the HTTP call for one (url, stream_epoch) pair. It
// returns (nil, false, nil) for any outcome the processor must silently
// treat as no-data for this route: a pre-emptive retry-budget cutoff,
// 204/404, a transport error, or a 5xx/429 response. A 413 response
// returns a fatal *ferrors.Error that the caller must propagate,
// escalating the whole client request (spec §4.6 "413 → fatal").
func (f *Fetcher) Fetch(ctx context.Context, epointURL string, epoch routing.Route, format string, params map[string]string) (*http.Response, bool, error) {
	if f.Budget.ShouldCut(epointURL) {
		if f.Metrics != nil {
			f.Metrics.RetryBudgetCutoffs.WithLabelValues(f.ServiceID).Inc()
		}
		f.Log.WithField("url", epointURL).Debug("retry budget cut off endpoint")
		return nil, false, nil
	}

	req, err := f.buildRequest(ctx, epointURL, epoch, format, params)
	if err != nil {
		return nil, false, ferrors.Wrap(ferrors.KindInternal, "building endpoint request", err)
	}

	release, err := f.Pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}

	resp, err := f.Pool.Do(req)
	if err != nil {
		release()
		f.Budget.RecordStatus(epointURL, http.StatusServiceUnavailable)
		f.observeFetch("error")
		f.Log.WithError(err).WithField("url", epointURL).Warn("endpoint fetch failed")
		return nil, false, nil
	}

	outcome := f.Budget.RecordStatus(epointURL, resp.StatusCode)
	if outcome == retrybudget.OutcomeFatal {
		resp.Body.Close()
		release()
		f.observeFetch("fatal")
		return nil, false, ferrors.New(ferrors.KindPayloadTooLarge, "endpoint refused request as too large")
	}
	if resp.StatusCode == http.StatusOK {
		resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
		f.observeFetch("success")
		return resp, true, nil
	}

	resp.Body.Close()
	release()
	f.observeFetch("no-data")
	if !ferrors.NoContentStatuses[resp.StatusCode] {
		f.Log.WithField("url", epointURL).WithField("status", resp.StatusCode).Warn("endpoint returned an error status")
	}
	return nil, false, nil
}

// releasingBody gives the pool admission slot back when the caller
// closes the response body, so the slot stays held for the full
// duration of the request including body reads, not just until the
// headers arrive.
type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

func (f *Fetcher) buildRequest(ctx context.Context, epointURL string, route routing.Route, format string, params map[string]string) (*http.Request, error) {
	if len(route.StreamEpochs) != 1 {
		return nil, fmt.Errorf("expected exactly one stream epoch per fetch, got %d", len(route.StreamEpochs))
	}
	e := route.StreamEpochs[0]

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("network", e.Stream.Network)
	q.Set("station", e.Stream.Station)
	q.Set("location", e.Stream.Location)
	q.Set("channel", e.Stream.Channel)
	q.Set("start", e.Start.UTC().Format("2006-01-02T15:04:05"))
	q.Set("end", e.End.UTC().Format("2006-01-02T15:04:05"))
	q.Set("format", format)

	method := f.Method
	if method == "" {
		method = http.MethodGet
	}

	reqURL := epointURL
	var body *strings.Reader
	if method == http.MethodPost {
		body = strings.NewReader(q.Encode())
	} else {
		if strings.Contains(reqURL, "?") {
			reqURL += "&" + q.Encode()
		} else {
			reqURL += "?" + q.Encode()
		}
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req, nil
}
