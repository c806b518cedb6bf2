package reporter

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opsviz/mctop/pkg/clock"
	"github.com/opsviz/mctop/pkg/queue"
	"github.com/opsviz/mctop/pkg/stats"
)

func TestDumpCSVWritesHeaderAndRows(t *testing.T) {
	clk := clock.NewFake(time.Now())
	q := queue.New(8)
	agg := stats.New(q, clk, 0, nil)
	agg.Increment([]byte("a"), 1)
	agg.Increment([]byte("b"), 2)

	dir := t.TempDir()
	path := filepath.Join(dir, "leaders.csv")

	if err := DumpCSV(agg, stats.BySize, stats.Desc, path); err != nil {
		t.Fatalf("DumpCSV() = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening csv output: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading csv output: %v", err)
	}
	if len(rows) != 3 { // header + 2 keys
		t.Fatalf("got %d rows, want 3 (header + 2 entries)", len(rows))
	}
	if rows[0][0] != "key" {
		t.Errorf("header row = %v, want first column %q", rows[0], "key")
	}
	// BySize DESC: b (size=2) before a (size=1).
	if rows[1][0] != "b" || rows[2][0] != "a" {
		t.Errorf("row order = [%s, %s], want [b, a]", rows[1][0], rows[2][0])
	}
}
