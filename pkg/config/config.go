// Package config defines the read-only configuration structure the core
// pipeline is constructed from. The CLI (cmd/mctop) is the only component
// that builds a Config; every core component receives it as an already
// validated, immutable value.
package config

import (
	"fmt"
	"time"

	"github.com/opsviz/mctop/pkg/stats"
)

// Default values applied when the CLI leaves a field unset.
const (
	DefaultPort             = 11211
	DefaultRefreshInterval  = time.Second
	DefaultQueueCapacity    = 4096
	DefaultLogLevel         = "info"
	defaultSortModeSpelling = "calls"
)

// Config is the validated, read-only structure every core component is
// constructed from.
type Config struct {
	// Interface is the packet source device name. Required.
	Interface string

	// Port is the TCP port carrying memcache traffic.
	Port uint16

	// DiscardThreshold is the request-rate floor (requests/sec) below which
	// the reaper evicts an entry. 0 disables reaping.
	DiscardThreshold float64

	// RefreshInterval is how often the reporter re-queries the leaderboard.
	RefreshInterval time.Duration

	// SortMode is the leaderboard's initial ranking metric.
	SortMode stats.Mode

	// SortOrder is the leaderboard's initial direction.
	SortOrder stats.Order

	// QueueCapacity bounds the capture-to-collector event queue.
	QueueCapacity int

	// CountRequests, when true, makes GET/GETS request lines also
	// contribute to Count (with Size 0). Default false: only VALUE
	// responses are counted, since only they carry a real size.
	CountRequests bool

	// CSVPath, when non-empty, switches the reporter into one-shot CSV
	// dump mode instead of driving the interactive TUI.
	CSVPath string

	// ListInterfaces, when true, tells the controller to enumerate capture
	// devices and exit instead of starting any core component.
	ListInterfaces bool

	// LogLevel is the logrus verbosity: trace|debug|info|warn|error.
	LogLevel string

	// MetricsAddr, when non-empty, exposes a Prometheus /metrics endpoint
	// on this address for the lifetime of the process.
	MetricsAddr string
}

// Validate checks the fields the core depends on directly. It does not
// check that Interface names a real device -- that requires the
// packet-source library's device enumeration and is left to the controller,
// which can produce a more actionable error message via pkg/devices.
func (c *Config) Validate() error {
	if c.Interface == "" && !c.ListInterfaces {
		return fmt.Errorf("config: interface is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("config: port must be non-zero")
	}
	if c.DiscardThreshold < 0 {
		return fmt.Errorf("config: discard_threshold must be >= 0, got %v", c.DiscardThreshold)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("config: queue_capacity must be > 0, got %d", c.QueueCapacity)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("config: refresh_interval must be > 0, got %v", c.RefreshInterval)
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	return nil
}

// Default returns a Config with every field at its documented default. The
// caller (cmd/mctop) overlays parsed flags on top of this before calling
// Validate.
func Default() Config {
	mode, _ := stats.ParseMode(defaultSortModeSpelling)
	order, _ := stats.ParseOrder("desc")
	return Config{
		Port:            DefaultPort,
		RefreshInterval: DefaultRefreshInterval,
		QueueCapacity:   DefaultQueueCapacity,
		SortMode:        mode,
		SortOrder:       order,
		LogLevel:        DefaultLogLevel,
	}
}
