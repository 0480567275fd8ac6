package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mutter0815/BulkMailer/internal/campaign"
	"github.com/Mutter0815/BulkMailer/pkg/logx"
)

var (
	ErrTrackerActive    = errors.New("a campaign is already being tracked")
	ErrNotIdle          = errors.New("tracker must be reset before starting another campaign")
	ErrPollingAbandoned = errors.New("gave up polling campaign status")
	ErrCampaignFailed   = errors.New("delivery backend reported the campaign as failed")
)

type State int

const (
	StateIdle State = iota
	StateSubmitting
	StatePolling
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StatePolling:
		return "polling"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) Active() bool { return s == StateSubmitting || s == StatePolling }

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Snapshot is the read model exposed to display layers. Snapshots are
// replaced whole and never mutated after publication.
type Snapshot struct {
	State      State
	CampaignID string
	Status     string
	Progress   float64
	Sent       int
	Failed     int
	Total      int
	Err        error

	gen uint64
}

// PartialFailure reports a completed campaign where some recipients failed.
func (s Snapshot) PartialFailure() bool {
	return s.State == StateCompleted && s.Failed > 0
}

func (s Snapshot) Summary() string {
	switch s.State {
	case StateSubmitting:
		return "Submitting campaign..."
	case StatePolling:
		return fmt.Sprintf("Sending emails... %.0f%% (%d sent, %d failed of %d)", s.Progress, s.Sent, s.Failed, s.Total)
	case StateCompleted:
		if s.Failed > 0 {
			return fmt.Sprintf("Sending complete with warnings: %d/%d sent, %d failed", s.Sent, s.Total, s.Failed)
		}
		return fmt.Sprintf("Sending complete: %d/%d sent", s.Sent, s.Total)
	case StateFailed:
		return fmt.Sprintf("Campaign failed: %v", s.Err)
	case StateCancelled:
		return fmt.Sprintf("Tracking cancelled; delivery continues on the server (%d/%d sent so far)", s.Sent, s.Total)
	default:
		return ""
	}
}

// StatusFetcher is the status half of the delivery backend.
type StatusFetcher interface {
	CampaignStatus(ctx context.Context, campaignID string) (campaign.CampaignStatus, error)
}

type TrackerConfig struct {
	// Interval between the end of one poll and the start of the next.
	Interval time.Duration
	// MaxPollFailures consecutive failed polls end tracking in StateFailed.
	// Zero or less polls forever.
	MaxPollFailures int
	// MaxBackoff caps the delay after repeated poll failures.
	MaxBackoff time.Duration
}

func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Interval:        2 * time.Second,
		MaxPollFailures: 10,
		MaxBackoff:      30 * time.Second,
	}
}

// Tracker drives one campaign at a time through
// Idle → Submitting → Polling → {Completed, Failed, Cancelled}.
// Polls are strictly sequential; results that arrive after the tracker has
// left the state that issued them are discarded.
type Tracker struct {
	submitter *Submitter
	fetcher   StatusFetcher
	cfg       TrackerConfig

	snap atomic.Pointer[Snapshot]

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTracker(sub *Submitter, fetcher StatusFetcher, cfg TrackerConfig) *Tracker {
	def := DefaultTrackerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxBackoff < cfg.Interval {
		cfg.MaxBackoff = cfg.Interval
	}
	t := &Tracker{submitter: sub, fetcher: fetcher, cfg: cfg}
	t.snap.Store(&Snapshot{State: StateIdle})
	t.done = make(chan struct{})
	close(t.done)
	return t
}

func (t *Tracker) Snapshot() Snapshot { return *t.snap.Load() }

// Start validates req synchronously and then submits and polls in the
// background. Validation failures leave the tracker Idle.
func (t *Tracker) Start(ctx context.Context, req Request) error {
	if err := t.submitter.Validate(req); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.snap.Load()
	if cur.State.Active() {
		return ErrTrackerActive
	}
	if cur.State != StateIdle {
		return ErrNotIdle
	}

	t.gen++
	gen := t.gen
	if !t.snap.CompareAndSwap(cur, &Snapshot{State: StateSubmitting, gen: gen}) {
		return ErrTrackerActive
	}
	logx.L().Infow("tracker_state", "from", StateIdle.String(), "to", StateSubmitting.String(), "recipients", len(req.Recipients))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	go t.run(runCtx, cancel, gen, req, done)
	return nil
}

// Cancel stops tracking. The backend is not asked to abort delivery. It
// reports whether there was anything to cancel.
func (t *Tracker) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.transition(0, false, func(s *Snapshot) { s.State = StateCancelled }) {
		return false
	}
	if t.cancel != nil {
		t.cancel()
	}
	return true
}

// Reset returns a finished tracker to Idle.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.snap.Load()
	if cur.State.Active() {
		return ErrTrackerActive
	}
	if cur.State == StateIdle {
		return nil
	}
	t.snap.Store(&Snapshot{State: StateIdle, gen: cur.gen})
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	logx.L().Infow("tracker_state", "campaign_id", cur.CampaignID, "from", cur.State.String(), "to", StateIdle.String())
	return nil
}

// Done is closed when the background task of the current run has exited.
func (t *Tracker) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Wait blocks until the background task exits or ctx ends.
func (t *Tracker) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-t.Done():
		return t.Snapshot(), nil
	case <-ctx.Done():
		return t.Snapshot(), ctx.Err()
	}
}

func (t *Tracker) run(ctx context.Context, cancel context.CancelFunc, gen uint64, req Request, done chan struct{}) {
	defer close(done)
	defer cancel()

	h, err := t.submitter.Submit(ctx, req)
	if ctx.Err() != nil {
		t.interrupted(gen)
		if err == nil {
			t.keepCampaignID(gen, h.CampaignID)
		}
		return
	}
	if err != nil {
		t.transition(gen, true, func(s *Snapshot) {
			s.State = StateFailed
			s.Err = err
		})
		return
	}

	ok := t.transition(gen, true, func(s *Snapshot) {
		s.State = StatePolling
		s.CampaignID = h.CampaignID
		s.Status = h.Status
	})
	if !ok {
		t.keepCampaignID(gen, h.CampaignID)
		return
	}
	t.poll(ctx, gen, h.CampaignID)
}

// keepCampaignID records the backend id on a run cancelled after the backend
// had already accepted the campaign, so the caller can still look it up.
func (t *Tracker) keepCampaignID(gen uint64, id string) {
	if id == "" {
		return
	}
	for {
		cur := t.snap.Load()
		if cur.gen != gen || cur.State != StateCancelled || cur.CampaignID != "" {
			return
		}
		next := *cur
		next.CampaignID = id
		if t.snap.CompareAndSwap(cur, &next) {
			logx.L().Infow("campaign_accepted_after_cancel", "campaign_id", id)
			return
		}
	}
}

func (t *Tracker) poll(ctx context.Context, gen uint64, id string) {
	timer := time.NewTimer(t.cfg.Interval)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			t.interrupted(gen)
			return
		case <-timer.C:
		}

		st, err := t.fetcher.CampaignStatus(ctx, id)
		if ctx.Err() != nil {
			t.interrupted(gen)
			return
		}

		if err != nil {
			failures++
			logx.L().Warnw("poll_failed", "campaign_id", id, "consecutive_failures", failures, "error", err)
			if t.cfg.MaxPollFailures > 0 && failures >= t.cfg.MaxPollFailures {
				t.transition(gen, true, func(s *Snapshot) {
					s.State = StateFailed
					s.Err = fmt.Errorf("%w after %d consecutive failures: %w", ErrPollingAbandoned, failures, err)
				})
				return
			}
			timer.Reset(t.backoff(failures))
			continue
		}
		failures = 0

		applied := t.transition(gen, true, func(s *Snapshot) {
			s.Status = st.Status
			s.Sent = st.Sent
			s.Failed = st.Failed
			s.Total = st.Total
			s.Progress = clampProgress(st.Progress)
			switch st.Status {
			case campaign.StatusCompleted:
				s.State = StateCompleted
			case campaign.StatusFailed:
				s.State = StateFailed
				s.Err = ErrCampaignFailed
			}
		})
		if !applied || st.Terminal() {
			return
		}
		timer.Reset(t.cfg.Interval)
	}
}

// interrupted handles a parent context ending without an explicit Cancel.
func (t *Tracker) interrupted(gen uint64) {
	t.transition(gen, true, func(s *Snapshot) { s.State = StateCancelled })
}

// transition applies fn to the current snapshot if it is still active and,
// when checkGen is set, still belongs to run gen.
func (t *Tracker) transition(gen uint64, checkGen bool, fn func(*Snapshot)) bool {
	for {
		cur := t.snap.Load()
		if !cur.State.Active() || (checkGen && cur.gen != gen) {
			return false
		}
		next := *cur
		fn(&next)
		if t.snap.CompareAndSwap(cur, &next) {
			if next.State != cur.State {
				fields := []any{"campaign_id", next.CampaignID, "from", cur.State.String(), "to", next.State.String()}
				if next.Err != nil {
					fields = append(fields, "error", next.Err)
				}
				logx.L().Infow("tracker_state", fields...)
			}
			return true
		}
	}
}

func (t *Tracker) backoff(failures int) time.Duration {
	d := t.cfg.Interval
	for i := 1; i < failures && d < t.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > t.cfg.MaxBackoff {
		d = t.cfg.MaxBackoff
	}
	return d
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
