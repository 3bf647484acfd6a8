// Package config defines the federator's configuration surface and the
// AppContext that bundles every shared collaborator a RequestProcessor
// needs (spec §9 "Global configuration ... explicit AppContext struct
// threaded through constructors ... No process-wide singletons").
// Grounded on original_source's eidaws.federator.utils.app config_schema
// and default_config, translated from a JSON-schema-validated dict into
// a typed Go struct with the same field set and defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the per-service configuration (spec §1 Non-goals
// "configuration loading" is external; this type is the shape that
// loading produces, consumed by cmd/federator). One Config is built per
// service id (station-xml, station-text, wfcatalog-json,
// availability-text, dataselect-miniseed).
type Config struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`

	URLRouting             string        `json:"url_routing"`
	RoutingConnectionLimit int           `json:"routing_connection_limit"`
	RoutingTimeout         time.Duration `json:"-"`

	EndpointRequestMethod           string        `json:"endpoint_request_method"`
	EndpointConnectionLimit         int           `json:"endpoint_connection_limit"`
	EndpointConnectionLimitPerHost  int           `json:"endpoint_connection_limit_per_host"`
	EndpointTimeoutConnect          time.Duration `json:"-"`
	EndpointTimeoutSockRead         time.Duration `json:"-"`

	RedisURL          string `json:"redis_url"`
	RedisPoolMinSize  int    `json:"redis_pool_minsize"`
	RedisPoolMaxSize  int    `json:"redis_pool_maxsize"`

	RetryBudgetThreshold float64       `json:"client_retry_budget_threshold"`
	RetryBudgetTTL       time.Duration `json:"-"`
	RetryBudgetWindow    time.Duration `json:"-"`

	// PoolSize is the configured worker-pool ceiling (spec §4.3 step 5
	// "N = min(configured_pool_size, queue_length, connection_limit)").
	// Zero means "use ConnectionLimit as the ceiling".
	PoolSize int

	ClientMaxSize int64 `json:"client_max_size"`

	MaxStreamEpochDuration      time.Duration `json:"-"`
	MaxTotalStreamEpochDuration time.Duration `json:"-"`

	StreamingTimeout time.Duration `json:"-"`

	// NoDataCode is the default status returned for empty results (204
	// or 404); a request may override it with ?nodata=<204|404>
	// (SPEC_FULL §C.6).
	NoDataCode int `json:"-"`

	// VNetPath, if non-empty, is the path to the virtual-network
	// membership table hot-reloaded by internal/vnet.Watcher.
	VNetPath string `json:"-"`

	// CacheTTL bounds how long a committed cache entry survives.
	CacheTTL time.Duration `json:"-"`

	// DrainMaxBuffered bounds how many out-of-order chunks an
	// OrderedDrain holds before blocking producing workers (spec §4.5
	// "Memory bound: configurable; on overflow, the drain blocks
	// producing workers"). Zero means unbounded buffering.
	DrainMaxBuffered int `json:"drain_max_buffered"`
}

// Defaults mirror original_source's FED_DEFAULT_* constants.
var Defaults = Config{
	Hostname: "0.0.0.0",
	Port:     8080,

	URLRouting:             "http://localhost:8090/eidaws/routing/1/query",
	RoutingConnectionLimit: 100,
	RoutingTimeout:         30 * time.Second,

	EndpointRequestMethod:          "GET",
	EndpointConnectionLimit:        30,
	EndpointConnectionLimitPerHost: 10,
	EndpointTimeoutConnect:         2 * time.Second,
	EndpointTimeoutSockRead:        30 * time.Second,

	RedisURL:         "redis://localhost:6379",
	RedisPoolMinSize: 1,
	RedisPoolMaxSize: 10,

	RetryBudgetThreshold: 80,
	RetryBudgetTTL:       10 * time.Minute,
	RetryBudgetWindow:    10 * time.Minute,

	PoolSize: 0,

	ClientMaxSize: 1024 * 1024,

	MaxStreamEpochDuration:      0,
	MaxTotalStreamEpochDuration: 0,

	StreamingTimeout: 5 * time.Minute,

	NoDataCode: 204,

	CacheTTL: time.Hour,

	DrainMaxBuffered: 64,
}

// Load reads a JSON configuration file at path and overlays it onto
// Defaults. A missing path is not an error: Defaults alone is a valid
// configuration for local development.
func Load(path string) (Config, error) {
	cfg := Defaults
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("opening config %s: %w", path, err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config %s: %w", path, err)
	}
	return cfg, nil
}
