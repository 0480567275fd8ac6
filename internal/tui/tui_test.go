package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Mutter0815/BulkMailer/internal/dispatch"
)

type fakeTracker struct {
	snap      dispatch.Snapshot
	cancelled bool
	done      chan struct{}
}

func newFakeTracker(s dispatch.Snapshot) *fakeTracker {
	return &fakeTracker{snap: s, done: make(chan struct{})}
}

func (f *fakeTracker) Snapshot() dispatch.Snapshot { return f.snap }
func (f *fakeTracker) Done() <-chan struct{}       { return f.done }
func (f *fakeTracker) Cancel() bool {
	f.cancelled = true
	f.snap.State = dispatch.StateCancelled
	return true
}

func TestModel_RendersProgress(t *testing.T) {
	ft := newFakeTracker(dispatch.Snapshot{State: dispatch.StatePolling, CampaignID: "c1", Sent: 1, Total: 3, Progress: 33.3})
	m := New(ft, "Q4 outreach", 0)

	next, cmd := m.Update(tickMsg{})
	if cmd == nil {
		t.Fatal("expected another tick while polling")
	}
	view := next.View()
	for _, want := range []string{"Q4 outreach", "Campaign c1", "1 sent", "q/esc"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModel_QuitsOnTerminalState(t *testing.T) {
	ft := newFakeTracker(dispatch.Snapshot{State: dispatch.StatePolling, CampaignID: "c1", Total: 3})
	m := New(ft, "", 0)

	ft.snap = dispatch.Snapshot{State: dispatch.StateCompleted, CampaignID: "c1", Sent: 2, Failed: 1, Total: 3, Progress: 100}
	next, cmd := m.Update(tickMsg{})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.Quit")
	}
	if got := next.(Model).Snapshot(); !got.PartialFailure() {
		t.Fatalf("final snapshot %+v", got)
	}
	if strings.Contains(next.View(), "q/esc") {
		t.Error("help line should disappear once finished")
	}
}

func TestModel_KeyCancelsTracking(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyEsc},
		{Type: tea.KeyCtrlC},
	} {
		ft := newFakeTracker(dispatch.Snapshot{State: dispatch.StatePolling})
		next, cmd := New(ft, "", 0).Update(key)
		if !ft.cancelled {
			t.Fatalf("%s: tracker not cancelled", key)
		}
		if cmd == nil {
			t.Fatalf("%s: expected quit", key)
		}
		if next.(Model).Snapshot().State != dispatch.StateCancelled {
			t.Fatalf("%s: snapshot not refreshed", key)
		}
	}
}

func TestModel_OtherKeysIgnored(t *testing.T) {
	ft := newFakeTracker(dispatch.Snapshot{State: dispatch.StatePolling})
	_, cmd := New(ft, "", 0).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	if ft.cancelled || cmd != nil {
		t.Fatal("unexpected reaction to an unbound key")
	}
}

func TestWaitDone(t *testing.T) {
	done := make(chan struct{})
	close(done)
	if _, ok := waitDone(done)().(doneMsg); !ok {
		t.Fatal("expected doneMsg")
	}
}
