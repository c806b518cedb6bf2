// Package reporter implements the two renderer bindings that sit on top of
// the stats Aggregator's public query surface: a one-shot CSV dump and an
// interactive terminal UI. Neither renderer touches the aggregator's
// internals directly -- both only ever call GetLeaders, matching the
// "external collaborator" boundary the core is specified against.
package reporter

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/opsviz/mctop/pkg/stats"
)

var csvHeader = []string{"key", "count", "size", "request_rate", "bandwidth", "first_seen", "last_seen"}

// DumpCSV takes one leaderboard snapshot from agg and writes it to path in
// the key,count,size,request_rate,bandwidth,first_seen,last_seen format.
// It is the one-shot renderer invoked by --csv instead of the interactive
// TUI.
func DumpCSV(agg *stats.Aggregator, mode stats.Mode, order stats.Order, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reporter: creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("reporter: writing csv header: %w", err)
	}

	now := time.Now()
	for _, s := range agg.GetLeaders(mode, order) {
		row := []string{
			string(s.Key),
			fmt.Sprintf("%d", s.Count),
			fmt.Sprintf("%d", s.Size),
			fmt.Sprintf("%.4f", s.RequestRate(now)),
			fmt.Sprintf("%.4f", s.Bandwidth(now)),
			s.FirstSeen.Format(time.RFC3339),
			s.LastSeen.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("reporter: writing csv row for key %q: %w", s.Key, err)
		}
	}

	w.Flush()
	return w.Error()
}
