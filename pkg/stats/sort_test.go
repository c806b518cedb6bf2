package stats

import (
	"testing"
	"time"
)

// S5: three keys with hand-chosen count/size/timestamps such that each of
// CALLS/SIZE/REQRATE/BANDWIDTH produces a distinct ordering.
func TestSortLeadersDistinctModes(t *testing.T) {
	now := time.Now()

	// Chosen so CALLS, SIZE, REQRATE and BANDWIDTH each rank these three
	// keys in a different order, proving the sort actually dispatches on
	// the requested metric rather than always sorting by one field.
	a := Stat{Key: []byte("a"), KeyHash: 1, Count: 100, Size: 40, FirstSeen: now.Add(-100 * time.Second)}
	b := Stat{Key: []byte("b"), KeyHash: 2, Count: 60, Size: 10, FirstSeen: now.Add(-6 * time.Second)}
	c := Stat{Key: []byte("c"), KeyHash: 3, Count: 30, Size: 90, FirstSeen: now.Add(-5 * time.Second)}

	cases := []struct {
		mode     Mode
		wantKeys []string
	}{
		{ByCalls, []string{"a", "b", "c"}},
		{BySize, []string{"c", "a", "b"}},
		{ByRequestRate, []string{"b", "c", "a"}},
		{ByBandwidth, []string{"c", "b", "a"}},
	}

	for _, tc := range cases {
		snap := []Stat{a, b, c}
		sortLeaders(snap, tc.mode, Desc, now)
		for i, want := range tc.wantKeys {
			if string(snap[i].Key) != want {
				t.Errorf("mode=%v: position %d = %q, want %q (full: %v)", tc.mode, i, snap[i].Key, want, keysOf(snap))
			}
		}
	}
}

func keysOf(s []Stat) []string {
	out := make([]string, len(s))
	for i, st := range s {
		out[i] = string(st.Key)
	}
	return out
}

func TestSortLeadersAscReversesDesc(t *testing.T) {
	now := time.Now()
	a := Stat{Key: []byte("a"), KeyHash: 1, Count: 1, FirstSeen: now}
	b := Stat{Key: []byte("b"), KeyHash: 2, Count: 2, FirstSeen: now}
	c := Stat{Key: []byte("c"), KeyHash: 3, Count: 3, FirstSeen: now}

	desc := []Stat{a, b, c}
	sortLeaders(desc, ByCalls, Desc, now)

	asc := []Stat{a, b, c}
	sortLeaders(asc, ByCalls, Asc, now)

	n := len(desc)
	for i := range desc {
		if string(desc[i].Key) != string(asc[n-1-i].Key) {
			t.Fatalf("asc is not the exact reverse of desc: desc=%v asc=%v", keysOf(desc), keysOf(asc))
		}
	}
}

func TestSortLeadersTieBreaksOnKeyHash(t *testing.T) {
	now := time.Now()
	// Equal Count under ByCalls: must break ties by KeyHash ascending.
	x := Stat{Key: []byte("x"), KeyHash: 20, Count: 5, FirstSeen: now}
	y := Stat{Key: []byte("y"), KeyHash: 10, Count: 5, FirstSeen: now}

	snap := []Stat{x, y}
	sortLeaders(snap, ByCalls, Desc, now)

	if string(snap[0].Key) != "y" || string(snap[1].Key) != "x" {
		t.Errorf("tie-break order = %v, want [y x] (lower KeyHash first)", keysOf(snap))
	}
}
