package stats

import (
	"sort"
	"time"
)

// Mode selects the metric a leaderboard is ranked by.
type Mode int

const (
	ByCalls Mode = iota
	BySize
	ByRequestRate
	ByBandwidth
)

// ParseMode maps the CLI's lowercase spellings onto a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "calls":
		return ByCalls, true
	case "size":
		return BySize, true
	case "reqrate":
		return ByRequestRate, true
	case "bw":
		return ByBandwidth, true
	default:
		return 0, false
	}
}

func (m Mode) String() string {
	switch m {
	case ByCalls:
		return "calls"
	case BySize:
		return "size"
	case ByRequestRate:
		return "reqrate"
	case ByBandwidth:
		return "bw"
	default:
		return "unknown"
	}
}

// Order selects ascending or descending leaderboard direction.
type Order int

const (
	Desc Order = iota
	Asc
)

// ParseOrder maps the CLI's lowercase spellings onto an Order.
func ParseOrder(s string) (Order, bool) {
	switch s {
	case "desc", "":
		return Desc, true
	case "asc":
		return Asc, true
	default:
		return 0, false
	}
}

// metricOf returns the sort key for mode, evaluated as of now.
func metricOf(mode Mode, s Stat, now time.Time) float64 {
	switch mode {
	case ByCalls:
		return float64(s.Count)
	case BySize:
		return float64(s.Size)
	case ByRequestRate:
		return s.RequestRate(now)
	case ByBandwidth:
		return s.Bandwidth(now)
	default:
		return 0
	}
}

// sortLeaders ranks stats by mode, descending by default, reversed when
// order is Asc. Ties break on KeyHash ascending so results are
// deterministic regardless of map iteration order. The sort is stable so a
// caller supplying already partially-ordered input sees minimal churn.
func sortLeaders(statsSnapshot []Stat, mode Mode, order Order, now time.Time) {
	sort.SliceStable(statsSnapshot, func(i, j int) bool {
		mi := metricOf(mode, statsSnapshot[i], now)
		mj := metricOf(mode, statsSnapshot[j], now)
		if mi != mj {
			return mi > mj // descending by default
		}
		return statsSnapshot[i].KeyHash < statsSnapshot[j].KeyHash
	})

	if order == Asc {
		reverse(statsSnapshot)
	}
}

func reverse(s []Stat) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
