package reporter

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/opsviz/mctop/pkg/stats"
)

// Model is the interactive terminal renderer's bubbletea model: it redraws
// a ranked table of the Aggregator's current leaderboard every tick and
// lets the operator re-sort it live by keypress, modeled on the teacher
// pack's bubbletea Init/Update/View shape (nabbar-golib's cobra/ui model).
type Model struct {
	agg             *stats.Aggregator
	refreshInterval time.Duration
	mode            stats.Mode
	order           stats.Order
	leaders         []stats.Stat
}

// NewModel returns a Model that queries agg every refreshInterval, starting
// sorted by mode/order.
func NewModel(agg *stats.Aggregator, mode stats.Mode, order stats.Order, refreshInterval time.Duration) Model {
	return Model{
		agg:             agg,
		refreshInterval: refreshInterval,
		mode:            mode,
		order:           order,
	}
}

type tickMsg time.Time

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.tick()
}

// Update implements tea.Model. Keypresses c/s/r/b switch the ranking
// metric; o flips ascending/descending; q or ctrl+c quits.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.leaders = m.agg.GetLeaders(m.mode, m.order)
		return m, m.tick()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "c":
			m.mode = stats.ByCalls
		case "s":
			m.mode = stats.BySize
		case "r":
			m.mode = stats.ByRequestRate
		case "b":
			m.mode = stats.ByBandwidth
		case "o":
			if m.order == stats.Desc {
				m.order = stats.Asc
			} else {
				m.order = stats.Desc
			}
		default:
			return m, nil
		}
		m.leaders = m.agg.GetLeaders(m.mode, m.order)
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mctop -- sort=%s order=%s  (c/s/r/b: metric, o: flip order, q: quit)\n\n", m.mode, orderString(m.order))
	fmt.Fprintf(&b, "%-32s %10s %10s %12s %16s\n", "KEY", "CALLS", "SIZE", "REQ/S", "BYTES/S")

	now := time.Now()
	for _, s := range m.leaders {
		fmt.Fprintf(&b, "%-32s %10d %10d %12.2f %16.2f\n",
			string(s.Key), s.Count, s.Size, s.RequestRate(now), s.Bandwidth(now))
	}
	return b.String()
}

func orderString(o stats.Order) string {
	if o == stats.Asc {
		return "asc"
	}
	return "desc"
}

// RunTUI drives the interactive renderer to completion (until the operator
// quits). It blocks the calling goroutine.
func RunTUI(agg *stats.Aggregator, mode stats.Mode, order stats.Order, refreshInterval time.Duration) error {
	p := tea.NewProgram(NewModel(agg, mode, order, refreshInterval))
	_, err := p.Run()
	return err
}
