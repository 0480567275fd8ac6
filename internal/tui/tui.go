// Package tui renders tracker snapshots in the terminal. It only reads
// snapshots; closing the view cancels tracking.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Mutter0815/BulkMailer/internal/dispatch"
)

type Tracker interface {
	Snapshot() dispatch.Snapshot
	Cancel() bool
	Done() <-chan struct{}
}

type tickMsg time.Time

type doneMsg struct{}

type Model struct {
	tracker  Tracker
	bar      progress.Model
	snap     dispatch.Snapshot
	refresh  time.Duration
	title    string
	quitting bool
}

func New(t Tracker, title string, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = 200 * time.Millisecond
	}
	return Model{
		tracker: t,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		snap:    t.Snapshot(),
		refresh: refresh,
		title:   title,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), waitDone(m.tracker.Done()))
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitDone(done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-done
		return doneMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.tracker.Cancel()
			m.snap = m.tracker.Snapshot()
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-4, 10), 80)
	case tickMsg:
		m.snap = m.tracker.Snapshot()
		if m.snap.State.Terminal() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, m.tick()
	case doneMsg:
		m.snap = m.tracker.Snapshot()
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	if m.title != "" {
		fmt.Fprintf(&b, "%s\n", m.title)
	}
	if m.snap.CampaignID != "" {
		fmt.Fprintf(&b, "Campaign %s\n", m.snap.CampaignID)
	}
	b.WriteString(m.bar.ViewAs(m.snap.Progress / 100))
	b.WriteString("\n")
	b.WriteString(m.snap.Summary())
	b.WriteString("\n")
	if !m.quitting {
		b.WriteString("q/esc: stop tracking (delivery continues on the server)\n")
	}
	return b.String()
}

// Snapshot is the last state the view rendered.
func (m Model) Snapshot() dispatch.Snapshot { return m.snap }

// Run shows the view until the tracker finishes or the user quits, and
// returns the final snapshot.
func Run(ctx context.Context, t Tracker, title string, refresh time.Duration) (dispatch.Snapshot, error) {
	final, err := tea.NewProgram(New(t, title, refresh), tea.WithContext(ctx)).Run()
	if err != nil {
		t.Cancel()
		if ctx.Err() != nil {
			// killed by the caller's context; the snapshot says Cancelled
			return t.Snapshot(), nil
		}
		return t.Snapshot(), err
	}
	if m, ok := final.(Model); ok {
		return m.Snapshot(), nil
	}
	return t.Snapshot(), nil
}
