// Command mctop is a live "top keys" traffic observer for the memcache
// ASCII protocol: it sniffs packets on a network interface, reconstructs
// GET/GETS requests and VALUE responses, and renders a continuously
// refreshed leaderboard of the hottest keys by call count, size, request
// rate, or bandwidth.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/opsviz/mctop/internal/controller"
	"github.com/opsviz/mctop/pkg/config"
	"github.com/opsviz/mctop/pkg/stats"
)

func main() {
	cfg := config.Default()

	var sortModeStr, sortOrderStr string

	flag.StringVar(&cfg.Interface, "interface", cfg.Interface, "packet source device name (required)")
	flag.Uint16Var(&cfg.Port, "port", cfg.Port, "TCP port carrying memcache traffic")
	flag.Float64Var(&cfg.DiscardThreshold, "discard-threshold", cfg.DiscardThreshold, "requests/sec floor below which a key is reaped; 0 disables")
	flag.DurationVar(&cfg.RefreshInterval, "refresh-interval", cfg.RefreshInterval, "interval between leaderboard refreshes")
	flag.StringVar(&sortModeStr, "sort-mode", cfg.SortMode.String(), "initial leaderboard metric: calls|size|reqrate|bw")
	flag.StringVar(&sortOrderStr, "sort-order", "desc", "initial leaderboard direction: asc|desc")
	flag.IntVar(&cfg.QueueCapacity, "queue-capacity", cfg.QueueCapacity, "bounded event queue capacity")
	flag.BoolVar(&cfg.CountRequests, "count-requests", cfg.CountRequests, "also count GET/GETS requests independent of VALUE responses")
	flag.StringVar(&cfg.CSVPath, "csv", "", "write one leaderboard snapshot to this CSV path and exit instead of rendering interactively")
	flag.BoolVar(&cfg.ListInterfaces, "list-interfaces", false, "list capturable devices and exit")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "trace|debug|info|warn|error")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (empty disables)")
	flag.Parse()

	log := logrus.New()

	mode, ok := stats.ParseMode(sortModeStr)
	if !ok {
		log.Fatalf("invalid --sort-mode %q", sortModeStr)
	}
	cfg.SortMode = mode

	order, ok := stats.ParseOrder(sortOrderStr)
	if !ok {
		log.Fatalf("invalid --sort-order %q", sortOrderStr)
	}
	cfg.SortOrder = order

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	os.Exit(controller.Run(cfg, log))
}
