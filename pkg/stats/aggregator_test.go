package stats

import (
	"testing"
	"time"

	"github.com/opsviz/mctop/pkg/clock"
	"github.com/opsviz/mctop/pkg/queue"
)

// S1: after draining a single GET/VALUE pair, stat_count == 1 and the sole
// Stat carries the observed key, count and size.
func TestAggregatorIncrementSingleKey(t *testing.T) {
	clk := clock.NewFake(time.Now())
	agg := New(queue.New(8), clk, 0, nil)

	agg.Increment([]byte("foo"), 3)

	if got := agg.StatCount(); got != 1 {
		t.Fatalf("StatCount() = %d, want 1", got)
	}
	leaders := agg.GetLeaders(ByCalls, Desc)
	if len(leaders) != 1 {
		t.Fatalf("GetLeaders() returned %d stats, want 1", len(leaders))
	}
	s := leaders[0]
	if string(s.Key) != "foo" || s.Count != 1 || s.Size != 3 {
		t.Errorf("Stat = %+v, want key=foo count=1 size=3", s)
	}
}

// S3: repeated key, most-recent size wins and count accumulates.
func TestAggregatorIncrementRepeatedKeyMostRecentSizeWins(t *testing.T) {
	clk := clock.NewFake(time.Now())
	agg := New(queue.New(256), clk, 0, nil)

	for i := 0; i < 100; i++ {
		size := uint32(10)
		if i%2 == 1 {
			size = 20
		}
		agg.Increment([]byte("hot"), size)
	}

	leaders := agg.GetLeaders(ByCalls, Desc)
	if len(leaders) != 1 {
		t.Fatalf("StatCount() = %d, want 1", len(leaders))
	}
	s := leaders[0]
	if s.Count != 100 {
		t.Errorf("Count = %d, want 100", s.Count)
	}
	if s.Size != 20 {
		t.Errorf("Size = %d, want 20 (most recent wins)", s.Size)
	}
}

// Monotonic counters: count never decreases, last_seen never decreases.
func TestAggregatorCountAndLastSeenAreMonotonic(t *testing.T) {
	clk := clock.NewFake(time.Now())
	agg := New(queue.New(8), clk, 0, nil)

	var prevCount uint64
	var prevSeen time.Time
	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		agg.Increment([]byte("k"), uint32(i))
		s := agg.GetLeaders(ByCalls, Desc)[0]
		if s.Count < prevCount {
			t.Fatalf("Count decreased: %d -> %d", prevCount, s.Count)
		}
		if s.LastSeen.Before(prevSeen) {
			t.Fatalf("LastSeen decreased: %v -> %v", prevSeen, s.LastSeen)
		}
		prevCount = s.Count
		prevSeen = s.LastSeen
	}
}

// S4: reaper evicts entries below the discard threshold.
func TestAggregatorReapEvictsColdKeys(t *testing.T) {
	clk := clock.NewFake(time.Now())
	agg := New(queue.New(8), clk, 1000.0, nil)

	agg.Increment([]byte("cold"), 1)
	if got := agg.StatCount(); got != 1 {
		t.Fatalf("StatCount() before reap = %d, want 1", got)
	}

	clk.Advance(time.Second) // RequestRate(cold) = 1/1 = 1, well under 1000
	agg.reapOnce()

	if got := agg.StatCount(); got != 0 {
		t.Errorf("StatCount() after reap = %d, want 0", got)
	}
}

// Reap threshold invariant: every surviving entry satisfies
// request_rate >= discard_threshold after a reap cycle.
func TestAggregatorReapLeavesOnlyEntriesAboveThreshold(t *testing.T) {
	clk := clock.NewFake(time.Now())
	agg := New(queue.New(1024), clk, 5.0, nil)

	for i := 0; i < 500; i++ {
		agg.Increment([]byte("hot"), 1)
	}
	agg.Increment([]byte("cold"), 1)

	clk.Advance(10 * time.Second) // hot: 500/10=50 req/s, cold: 1/10=0.1 req/s
	agg.reapOnce()

	now := clk.Now()
	for _, s := range agg.GetLeaders(ByCalls, Desc) {
		if s.RequestRate(now) < 5.0 {
			t.Errorf("surviving stat %q has RequestRate %v below threshold 5.0", s.Key, s.RequestRate(now))
		}
	}
	if agg.StatCount() != 1 {
		t.Errorf("StatCount() after reap = %d, want 1 (only hot survives)", agg.StatCount())
	}
}

func TestAggregatorReapDisabledWhenThresholdZero(t *testing.T) {
	clk := clock.NewFake(time.Now())
	agg := New(queue.New(8), clk, 0, nil)

	agg.Increment([]byte("cold"), 1)
	clk.Advance(time.Hour)
	agg.reapOnce() // must be a no-op path in production, but calling it directly is still safe

	// reapOnce with threshold 0 would evict everything below rate 0, which
	// is nothing (rate is never negative) -- confirms the sentinel doesn't
	// accidentally evict via the generic comparison path.
	if got := agg.StatCount(); got != 1 {
		t.Errorf("StatCount() = %d, want 1 (threshold 0 keeps all keys)", got)
	}
}

// Snapshot isolation: mutating the collection after GetLeaders returns must
// not mutate the returned sequence.
func TestGetLeadersSnapshotIsolation(t *testing.T) {
	clk := clock.NewFake(time.Now())
	agg := New(queue.New(8), clk, 0, nil)

	agg.Increment([]byte("k"), 1)
	snap := agg.GetLeaders(ByCalls, Desc)
	before := snap[0].Count

	agg.Increment([]byte("k"), 1)
	agg.Increment([]byte("k"), 1)

	if snap[0].Count != before {
		t.Errorf("returned snapshot mutated after further Increment calls: %d != %d", snap[0].Count, before)
	}
}

// No deadlock at shutdown: start followed immediately by shutdown
// terminates promptly even with zero events ever produced.
func TestStartShutdownWithNoEventsTerminatesPromptly(t *testing.T) {
	clk := clock.NewFake(time.Now())
	agg := New(queue.New(8), clk, 0, nil)

	agg.Start()

	done := make(chan struct{})
	go func() {
		agg.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown() did not return within the bounded window")
	}
}

// Property 7 / SPEC_FULL §5,§8: Shutdown must be bounded even with reaping
// enabled, where the reaper would otherwise be parked on a 5s ticker.
func TestShutdownWithReaperEnabledTerminatesPromptly(t *testing.T) {
	clk := clock.NewFake(time.Now())
	agg := New(queue.New(8), clk, 5.0, nil)

	agg.Start()

	done := make(chan struct{})
	go func() {
		agg.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown() did not return within the bounded window with reaping enabled")
	}
}

func TestCollectorDrainsQueuedEvents(t *testing.T) {
	clk := clock.NewFake(time.Now())
	q := queue.New(16)
	agg := New(q, clk, 0, nil)

	q.Produce(queue.Event{Key: []byte("a"), Size: 1})
	q.Produce(queue.Event{Key: []byte("b"), Size: 2})

	agg.Start()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if agg.StatCount() == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	agg.Shutdown()

	if got := agg.StatCount(); got != 2 {
		t.Errorf("StatCount() after drain = %d, want 2", got)
	}
}
