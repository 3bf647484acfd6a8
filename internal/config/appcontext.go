package config

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/eidaws/federator-go/internal/cachestore"
	"github.com/eidaws/federator-go/internal/endpointpool"
	"github.com/eidaws/federator-go/internal/metrics"
	"github.com/eidaws/federator-go/internal/retrybudget"
	"github.com/eidaws/federator-go/internal/routing"
	"github.com/eidaws/federator-go/internal/vnet"
)

// AppContext bundles every shared, request-independent collaborator a
// RequestProcessor needs (spec §9 "Global configuration ... Represent
// as an explicit AppContext struct threaded through constructors; the
// processor receives it at creation. No process-wide singletons.").
// Exactly one AppContext is built per running service id; nothing here
// is a package-level variable.
type AppContext struct {
	Config Config

	EndpointPool *endpointpool.Pool
	RoutingHTTP  *http.Client

	Cache  cachestore.Store
	Budget *retrybudget.Budget

	VNet *vnet.Watcher

	Metrics *metrics.Metrics
	Log     *logrus.Entry
}

// New wires the collaborators named in cfg into an AppContext.
// cfg.VNetPath may be empty, in which case virtual-network expansion is a no-op.
func New(cfg Config, log *logrus.Entry, reg prometheus.Registerer) (*AppContext, error) {
	pool, err := endpointpool.New(endpointpool.Config{
		Timeouts: endpointpool.Timeouts{
			Connect: cfg.EndpointTimeoutConnect,
			Read:    cfg.EndpointTimeoutSockRead,
		},
		ConnectionLimit:     cfg.EndpointConnectionLimit,
		MaxIdleConnsPerHost: cfg.EndpointConnectionLimitPerHost,
	})
	if err != nil {
		return nil, err
	}

	ac := &AppContext{
		Config:       cfg,
		EndpointPool: pool,
		RoutingHTTP: &http.Client{
			Timeout: cfg.RoutingTimeout,
		},
		Cache:   cachestore.NewMemStore(cfg.CacheTTL),
		Budget:  retrybudget.NewBudget(cfg.RetryBudgetThreshold/100, cfg.RetryBudgetWindow, cfg.RetryBudgetTTL, 10),
		Metrics: metrics.New(reg),
		Log:     log,
	}

	if cfg.VNetPath != "" {
		w, err := vnet.NewWatcher(cfg.VNetPath, log)
		if err != nil {
			return nil, err
		}
		ac.VNet = w
	}

	return ac, nil
}

// Resolver returns a routing.Resolver configured from this AppContext.
func (ac *AppContext) Resolver() *routing.Resolver {
	var vt *vnet.Table
	if ac.VNet != nil {
		vt = ac.VNet.Table()
	}
	return &routing.Resolver{
		URL:        ac.Config.URLRouting,
		HTTPClient: ac.RoutingHTTP,
		VNet:       vt,
		Log:        ac.Log,
	}
}

// Splitter returns an EpochSplitter configured from this AppContext's
// duration ceilings.
func (ac *AppContext) Splitter() routing.EpochSplitter {
	return routing.EpochSplitter{
		Limits: routing.Limits{
			MaxStreamEpochDuration:      ac.Config.MaxStreamEpochDuration,
			MaxTotalStreamEpochDuration: ac.Config.MaxTotalStreamEpochDuration,
		},
	}
}

// WorkerPoolSize resolves N per spec §4.3 step 5: min(configured pool
// size, queue length, connection limit). A zero PoolSize or
// ConnectionLimit is treated as "no additional ceiling" at that term.
func (ac *AppContext) WorkerPoolSize(queueLength int) int {
	n := queueLength
	if ac.Config.PoolSize > 0 && ac.Config.PoolSize < n {
		n = ac.Config.PoolSize
	}
	if ac.Config.EndpointConnectionLimit > 0 && ac.Config.EndpointConnectionLimit < n {
		n = ac.Config.EndpointConnectionLimit
	}
	if n < 1 {
		n = 1
	}
	return n
}
