// Package stats owns the keyed per-key statistics table: the Stat type,
// the map that indexes it by key hash, and the Aggregator that mutates it
// under a single exclusive lock while running the collector and reaper
// threads described in the design.
package stats

import (
	"time"

	"github.com/cespare/xxhash/v2"
)

// Stat is a single key's running aggregate. Besides the key and its hash,
// count, size, first_seen and last_seen are the only stored fields; request
// rate and bandwidth are
// always derived, never cached, so they can't drift out of sync with a
// clock injected in tests.
type Stat struct {
	Key       []byte
	KeyHash   uint64
	Count     uint64
	Size      uint32
	FirstSeen time.Time
	LastSeen  time.Time
}

// HashKey computes the stable 64-bit hash used to index the StatCollection.
// Two distinct keys that collide under this hash share one entry, whose Key
// is overwritten by the most recently observed of the two — a deliberate
// accuracy/simplicity tradeoff, not worked around here.
func HashKey(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// elapsedSeconds returns max(1, now-FirstSeen) in seconds, the denominator
// shared by RequestRate and Bandwidth.
func (s Stat) elapsedSeconds(now time.Time) float64 {
	e := now.Sub(s.FirstSeen).Seconds()
	if e < 1 {
		return 1
	}
	return e
}

// RequestRate returns count / elapsed seconds since first_seen.
func (s Stat) RequestRate(now time.Time) float64 {
	return float64(s.Count) / s.elapsedSeconds(now)
}

// Bandwidth returns (count * size) / elapsed seconds since first_seen.
func (s Stat) Bandwidth(now time.Time) float64 {
	return float64(s.Count) * float64(s.Size) / s.elapsedSeconds(now)
}
