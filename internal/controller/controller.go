// Package controller is the startup/shutdown orchestrator named in the
// spec's concurrency model: it wires the queue, aggregator and capture
// engine together, starts them in dependency order, drives whichever
// reporter the configuration selects, and tears everything down on
// shutdown. It is the one place allowed to call os.Exit-equivalent
// decisions (via its int return value) -- every core component only ever
// logs and returns.
package controller

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/opsviz/mctop/pkg/capture"
	"github.com/opsviz/mctop/pkg/clock"
	"github.com/opsviz/mctop/pkg/config"
	"github.com/opsviz/mctop/pkg/devices"
	"github.com/opsviz/mctop/pkg/metrics"
	"github.com/opsviz/mctop/pkg/queue"
	"github.com/opsviz/mctop/pkg/reporter"
	"github.com/opsviz/mctop/pkg/stats"
)

// Run wires the core pipeline per cfg and drives it to completion,
// returning the process exit code: 0 on clean shutdown, non-zero on
// invalid configuration or packet-source open failure.
func Run(cfg config.Config, log *logrus.Logger) int {
	if cfg.ListInterfaces {
		return runListInterfaces(log)
	}

	if err := cfg.Validate(); err != nil {
		log.Errorf("invalid configuration: %v", err)
		return 2
	}

	if ok, err := devices.Exists(cfg.Interface); err != nil {
		log.WithError(err).Warn("could not enumerate devices to validate --interface")
	} else if !ok {
		log.Errorf("interface %q not found; run with --list-interfaces to see available devices", cfg.Interface)
		return 2
	}

	q := queue.New(cfg.QueueCapacity)
	agg := stats.New(q, clock.Real(), cfg.DiscardThreshold, log.WithField("component", "aggregator"))
	eng := capture.New(cfg.Interface, cfg.Port, cfg.CountRequests, q, log.WithField("component", "capture"))

	if err := eng.Start(); err != nil {
		log.Errorf("starting capture: %v", err)
		return 1
	}
	agg.Start()

	var stopMetrics func()
	if cfg.MetricsAddr != "" {
		stopMetrics = startMetricsServer(cfg, agg, q, log)
	}

	shutdown := func() {
		eng.Shutdown()
		agg.Shutdown()
		if stopMetrics != nil {
			stopMetrics()
		}
	}

	if cfg.CSVPath != "" {
		time.Sleep(cfg.RefreshInterval)
		err := reporter.DumpCSV(agg, cfg.SortMode, cfg.SortOrder, cfg.CSVPath)
		shutdown()
		if err != nil {
			log.Errorf("writing csv dump: %v", err)
			return 1
		}
		log.Infof("wrote leaderboard snapshot to %s", cfg.CSVPath)
		return 0
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		done <- reporter.RunTUI(agg, cfg.SortMode, cfg.SortOrder, cfg.RefreshInterval)
	}()

	select {
	case <-sig:
	case err := <-done:
		if err != nil {
			log.Errorf("reporter exited: %v", err)
		}
	case <-eng.Fatal():
		log.Error("capture stopped unexpectedly after repeated read failures, shutting down")
		shutdown()
		return 1
	}

	shutdown()
	return 0
}

func runListInterfaces(log *logrus.Logger) int {
	infos, err := devices.List()
	if err != nil {
		log.Errorf("listing interfaces: %v", err)
		return 1
	}
	for _, info := range infos {
		fmt.Printf("%-16s %-40s %v\n", info.Name, info.Description, info.Addresses)
	}
	return 0
}

// startMetricsServer exposes a Prometheus /metrics endpoint for the
// lifetime of the process, grounded on the teacher's exporter_example2
// (prometheus.MustRegister + promhttp.Handler on a plain http.Server).
func startMetricsServer(cfg config.Config, agg *stats.Aggregator, q *queue.Queue, log *logrus.Logger) func() {
	collector := metrics.New(agg, q, "")
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
