// Command federator runs one EIDA federator service: it resolves a
// client's stream-epoch selection against a routing service, fans the
// resulting routes out to a bounded worker pool, merges the
// format-specific upstream responses, and streams the result (spec
// §OVERVIEW). Each subcommand binds the shared pipeline to one FDSNWS
// service id; a deployment runs one process per subcommand
// (SPEC_FULL §6).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eidaws/federator-go/internal/config"
	"github.com/eidaws/federator-go/internal/gateway"
	"github.com/eidaws/federator-go/internal/ingress"
	"github.com/eidaws/federator-go/internal/routing"
	"github.com/eidaws/federator-go/pkg/admin"
	"github.com/eidaws/federator-go/pkg/flags"
)

// serviceCommand binds one FDSNWS service id to its query path and
// default aggregation level (overridable per request with ?level=).
type serviceCommand struct {
	serviceID    string
	use          string
	short        string
	path         string
	defaultLevel routing.Level
}

var serviceCommands = []serviceCommand{
	{serviceID: "station-xml", use: "station-xml", short: "Federated fdsnws-station (StationXML) service", path: "/fdsnws/station/1/query", defaultLevel: routing.LevelStation},
	{serviceID: "station-text", use: "station-text", short: "Federated fdsnws-station (text) service", path: "/fdsnws/station/1/query", defaultLevel: routing.LevelChannel},
	{serviceID: "wfcatalog-json", use: "wfcatalog-json", short: "Federated WFCatalog (JSON) service", path: "/eidaws/wfcatalog/1/query", defaultLevel: routing.LevelChannel},
	{serviceID: "availability-text", use: "availability-text", short: "Federated fdsnws-availability (text) service", path: "/fdsnws/availability/1/query", defaultLevel: routing.LevelChannel},
	{serviceID: "dataselect-miniseed", use: "dataselect-miniseed", short: "Federated fdsnws-dataselect (miniSEED) service", path: "/fdsnws/dataselect/1/query", defaultLevel: routing.LevelChannel},
}

func main() {
	root := &cobra.Command{
		Use:   "federator",
		Short: "EIDA data federation gateway",
	}

	for _, sc := range serviceCommands {
		root.AddCommand(newServiceCmd(sc))
	}

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServiceCmd(sc serviceCommand) *cobra.Command {
	var (
		cfgPath     string
		addr        string
		metricsAddr string
		enablePprof bool
	)

	cmd := &cobra.Command{
		Use:   sc.use,
		Short: sc.short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(sc, cfgPath, addr, metricsAddr, enablePprof)
		},
	}

	common := flags.Register(cmd.Flags())
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to a JSON configuration file")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to serve the query endpoint on")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":8081", "address to serve /metrics, /ready and /ping on")
	cmd.Flags().BoolVar(&enablePprof, "enable-pprof", false, "expose /debug/pprof/* on the admin server")

	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		common.ConfigureAndParse()
	}

	return cmd
}

func run(sc serviceCommand, cfgPath, addr, metricsAddr string, enablePprof bool) error {
	log := logrus.WithField("service", sc.serviceID)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// The admin server's /metrics serves the default registry.
	ac, err := config.New(cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("building app context: %w", err)
	}

	desc, ok := gateway.Descriptor(sc.serviceID)
	if !ok {
		return fmt.Errorf("no gateway descriptor registered for service id %q", sc.serviceID)
	}

	ingressServer := ingress.NewServer(ac, desc, sc.path, sc.defaultLevel)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           ingressServer,
		ReadHeaderTimeout: 15 * time.Second,
	}

	var ready atomic.Bool
	adminServer := admin.NewServer(metricsAddr, enablePprof, &ready)

	go func() {
		log.Infof("starting admin server on %s", metricsAddr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("admin server error: %s", err)
		}
	}()

	vnetStop := make(chan struct{})
	if ac.VNet != nil {
		go func() {
			if err := ac.VNet.Start(vnetStop); err != nil {
				log.WithError(err).Warn("virtual-network watcher stopped")
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Infof("starting %s query endpoint on %s%s", sc.serviceID, addr, sc.path)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("query server error: %s", err)
		}
	}()

	ready.Store(true)

	<-stop
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(ctx)
	_ = adminServer.Shutdown(ctx)
	close(vnetStop)
	return nil
}
