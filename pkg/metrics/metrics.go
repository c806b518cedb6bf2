// Package metrics exposes the stats aggregator and event queue as a
// Prometheus collector, modeled on the teacher's TCPInfoCollector
// (mutex-free here since both sources already guard their own state):
// Describe lists the fixed set of metric descriptors, Collect pulls a
// fresh snapshot on every scrape rather than caching between scrapes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"

	"github.com/opsviz/mctop/pkg/queue"
	"github.com/opsviz/mctop/pkg/stats"
)

// topN bounds how many individual keys get their own labeled series, so a
// long-tail key space doesn't blow up Prometheus cardinality. Aggregate
// gauges (keys tracked, queue depth/dropped) are unbounded regardless.
const topN = 20

// Collector adapts an Aggregator and Queue to prometheus.Collector. One
// Collector is created per process at startup and registered once with a
// Prometheus registry's MustRegister; SessionID is attached as a const label so
// metrics from successive runs against the same exporter are
// distinguishable in a shared Prometheus instance.
type Collector struct {
	agg       *stats.Aggregator
	q         *queue.Queue
	sessionID string

	keysTracked  *prometheus.Desc
	queueDepth   *prometheus.Desc
	queueDropped *prometheus.Desc
	keyCalls     *prometheus.Desc
	keySize      *prometheus.Desc
	keyReqRate   *prometheus.Desc
	keyBandwidth *prometheus.Desc
}

// New returns a Collector backed by agg and q. sessionID, if empty, is
// generated with xid.New() the way the teacher's exporter example mints a
// per-connection label value.
func New(agg *stats.Aggregator, q *queue.Queue, sessionID string) *Collector {
	if sessionID == "" {
		sessionID = xid.New().String()
	}
	constLabels := prometheus.Labels{"session": sessionID}

	return &Collector{
		agg:       agg,
		q:         q,
		sessionID: sessionID,

		keysTracked: prometheus.NewDesc("mctop_keys_tracked", "Number of distinct keys currently tracked.", nil, constLabels),
		queueDepth:  prometheus.NewDesc("mctop_queue_depth", "Current number of queued, not-yet-collected events.", nil, constLabels),
		queueDropped: prometheus.NewDesc("mctop_queue_dropped_total", "Events dropped because the queue was full.", nil, constLabels),
		keyCalls:     prometheus.NewDesc("mctop_key_calls", "Request count for one of the top tracked keys.", []string{"key"}, constLabels),
		keySize:      prometheus.NewDesc("mctop_key_size_bytes", "Most recently observed response size for one of the top tracked keys.", []string{"key"}, constLabels),
		keyReqRate:   prometheus.NewDesc("mctop_key_request_rate", "Requests/sec for one of the top tracked keys.", []string{"key"}, constLabels),
		keyBandwidth: prometheus.NewDesc("mctop_key_bandwidth_bytes_per_sec", "Bytes/sec for one of the top tracked keys.", []string{"key"}, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.keysTracked
	descs <- c.queueDepth
	descs <- c.queueDropped
	descs <- c.keyCalls
	descs <- c.keySize
	descs <- c.keyReqRate
	descs <- c.keyBandwidth
}

// Collect implements prometheus.Collector. Each call takes a fresh
// leaderboard snapshot; no state is cached between scrapes.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	metrics <- prometheus.MustNewConstMetric(c.keysTracked, prometheus.GaugeValue, float64(c.agg.StatCount()))
	metrics <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(c.q.Len()))
	metrics <- prometheus.MustNewConstMetric(c.queueDropped, prometheus.CounterValue, float64(c.q.Dropped()))

	leaders := c.agg.GetLeaders(stats.ByCalls, stats.Desc)
	if len(leaders) > topN {
		leaders = leaders[:topN]
	}
	now := time.Now()
	for _, s := range leaders {
		key := string(s.Key)
		metrics <- prometheus.MustNewConstMetric(c.keyCalls, prometheus.CounterValue, float64(s.Count), key)
		metrics <- prometheus.MustNewConstMetric(c.keySize, prometheus.GaugeValue, float64(s.Size), key)
		metrics <- prometheus.MustNewConstMetric(c.keyReqRate, prometheus.GaugeValue, s.RequestRate(now), key)
		metrics <- prometheus.MustNewConstMetric(c.keyBandwidth, prometheus.GaugeValue, s.Bandwidth(now), key)
	}
}
