package stats

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opsviz/mctop/pkg/backoff"
	"github.com/opsviz/mctop/pkg/clock"
	"github.com/opsviz/mctop/pkg/lifecycle"
	"github.com/opsviz/mctop/pkg/queue"
)

// ReapInterval is how often the reaper thread scans the collection for
// stale entries. Fixed rather than configurable: only the discard
// threshold that gates eviction is user-tunable.
const ReapInterval = 5 * time.Second

// Aggregator owns the keyed statistics table and the two goroutines that
// maintain it: a collector that drains events off a queue.Queue and a
// reaper that periodically evicts cold entries. Both threads are started
// and joined by the same lifecycle.Tracker, mirroring the rest of the
// pipeline's start/shutdown contract.
type Aggregator struct {
	log *logrus.Entry
	clk clock.Clock
	q   *queue.Queue

	discardThreshold float64 // evict entries with RequestRate below this, req/sec; 0 disables reaping

	mu    sync.Mutex
	table map[uint64]*Stat

	tracker *lifecycle.Tracker
	wg      sync.WaitGroup
	done    chan struct{} // closed by Shutdown to interrupt the reaper's idle sleep
}

// New returns an Aggregator draining q, using clk as its time source and
// discardThreshold as the reaper's eviction floor in requests/sec (0
// disables reaping).
func New(q *queue.Queue, clk clock.Clock, discardThreshold float64, log *logrus.Entry) *Aggregator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Aggregator{
		log:              log.WithField("component", "aggregator"),
		clk:              clk,
		q:                q,
		discardThreshold: discardThreshold,
		table:            make(map[uint64]*Stat),
		tracker:          lifecycle.NewTracker(),
		done:             make(chan struct{}),
	}
}

// Increment folds one observed event into the table, creating a new Stat
// on first sight of a key and otherwise updating it in place under the
// collection's single lock.
func (a *Aggregator) Increment(key []byte, size uint32) {
	hash := HashKey(key)
	now := a.clk.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.table[hash]
	if !ok {
		s = &Stat{
			Key:       append([]byte(nil), key...),
			KeyHash:   hash,
			FirstSeen: now,
		}
		a.table[hash] = s
	} else if string(s.Key) != string(key) {
		// Hash collision: the most recently observed key takes over the entry.
		s.Key = append([]byte(nil), key...)
	}
	s.Count++
	// size == 0 also means "request-side event, no response observed yet"
	// (see decoder.Decode's countRequests policy), so a zero here is left
	// alone rather than clobbering the last real VALUE size. This means a
	// legitimate zero-byte VALUE response is indistinguishable from a
	// request-only event and won't zero out Size.
	if size > 0 {
		s.Size = size
	}
	s.LastSeen = now
}

// StatCount returns the number of distinct keys currently tracked.
func (a *Aggregator) StatCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.table)
}

// GetLeaders returns a snapshot of every tracked Stat ranked by mode and
// order. The table is copied out under the lock and sorted outside it, so
// the aggregator's single mutex is never held for the duration of a sort.
func (a *Aggregator) GetLeaders(mode Mode, order Order) []Stat {
	now := a.clk.Now()

	a.mu.Lock()
	snapshot := make([]Stat, 0, len(a.table))
	for _, s := range a.table {
		snapshot = append(snapshot, *s)
	}
	a.mu.Unlock()

	sortLeaders(snapshot, mode, order, now)
	return snapshot
}

// Start spawns the collector and reaper goroutines. It is a no-op, logged
// as a warning, if the aggregator is not in the lifecycle.New state.
func (a *Aggregator) Start() {
	if !a.tracker.CheckAndSet(lifecycle.New, lifecycle.Running) {
		a.log.Warn("aggregator: Start called more than once, ignoring")
		return
	}

	a.wg.Add(2)
	go a.collectLoop()
	go a.reapLoop()

	a.log.Info("aggregator started")
}

// Shutdown requests the collector and reaper stop, then blocks until both
// goroutines have exited. Closing done interrupts the reaper's idle sleep
// immediately rather than leaving it to wake on its own next tick, which is
// what keeps Shutdown bounded well under the reaper's 5s interval. Calling
// Shutdown when the aggregator is not running is a no-op, logged as a
// warning.
func (a *Aggregator) Shutdown() {
	if !a.tracker.CheckAndSet(lifecycle.Running, lifecycle.Stopping) {
		a.log.Warnf("aggregator: Shutdown called in state %s, ignoring", a.tracker.Current())
		return
	}
	close(a.done)
	a.wg.Wait()
	a.tracker.CheckAndSet(lifecycle.Stopping, lifecycle.Terminated)
	a.log.Info("aggregator stopped")
}

// collectLoop drains the event queue into the stats table, backing off
// exponentially while the queue is empty so it doesn't spin a CPU core.
func (a *Aggregator) collectLoop() {
	defer a.wg.Done()

	b := backoff.New()
	for a.tracker.Current() != lifecycle.Stopping {
		ev, ok := a.q.Consume()
		if !ok {
			time.Sleep(b.Next())
			continue
		}
		b.Reset()
		a.Increment(ev.Key, ev.Size)
	}

	// Drain whatever is left so a fast producer's tail isn't silently lost
	// on shutdown.
	for {
		ev, ok := a.q.Consume()
		if !ok {
			return
		}
		a.Increment(ev.Key, ev.Size)
	}
}

// reapLoop periodically evicts entries whose RequestRate is below
// discardThreshold. A threshold of 0 disables reaping entirely: the
// collection then grows without bound, which is an accepted tradeoff for
// deployments that want a complete historical key set.
//
// Both branches select on done rather than sleeping unconditionally, so
// Shutdown's close(a.done) wakes this goroutine immediately instead of
// leaving it to block for up to ReapInterval before it notices Stopping.
func (a *Aggregator) reapLoop() {
	defer a.wg.Done()

	if a.discardThreshold == 0 {
		<-a.done
		return
	}

	ticker := time.NewTicker(ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			a.reapOnce()
		}
	}
}

func (a *Aggregator) reapOnce() {
	now := a.clk.Now()

	a.mu.Lock()
	before := len(a.table)
	for hash, s := range a.table {
		if s.RequestRate(now) < a.discardThreshold {
			delete(a.table, hash)
		}
	}
	after := len(a.table)
	a.mu.Unlock()

	if before != after {
		a.log.WithFields(logrus.Fields{
			"before":  before,
			"after":   after,
			"evicted": before - after,
		}).Info("reaped cold keys")
	}
}
