package watch

import (
	"context"
	"time"

	"git.home.luguber.info/inful/incbuild/internal/errors"
)

// Trigger describes a burst of change requests that were coalesced into one build.
type Trigger struct {
	Count        int
	LastReason   string
	FirstRequest time.Time
	LastRequest  time.Time
	// Cause is "quiet" or "max_delay".
	Cause string
}

// DebouncerConfig bounds how long requests are coalesced.
type DebouncerConfig struct {
	QuietWindow time.Duration
	MaxDelay    time.Duration
}

// Debouncer coalesces bursts of change requests into single builds:
//   - quiet window debounce
//   - max delay (cannot postpone indefinitely)
//   - fire runs on the Run goroutine, so builds never overlap and requests
//     arriving during a build produce exactly one follow-up
type Debouncer struct {
	cfg  DebouncerConfig
	fire func(context.Context, Trigger)
	reqs chan request
}

type request struct {
	reason string
	at     time.Time
}

// NewDebouncer returns a debouncer calling fire for every coalesced burst.
func NewDebouncer(cfg DebouncerConfig, fire func(context.Context, Trigger)) (*Debouncer, error) {
	if fire == nil {
		return nil, errors.ValidationFailed("fire", "callback is required")
	}
	if cfg.QuietWindow <= 0 {
		return nil, errors.ValidationFailed("quiet_window", "must be > 0")
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * cfg.QuietWindow
	}
	return &Debouncer{cfg: cfg, fire: fire, reqs: make(chan request, 64)}, nil
}

// Request asks for a build. It never blocks; a full buffer already guarantees a
// pending build.
func (d *Debouncer) Request(reason string) {
	select {
	case d.reqs <- request{reason: reason, at: time.Now()}:
	default:
	}
}

// Run processes requests until ctx is done.
func (d *Debouncer) Run(ctx context.Context) {
	quietTimer := newStoppedTimer()
	maxTimer := newStoppedTimer()
	var (
		quietC <-chan time.Time
		maxC   <-chan time.Time
		burst  *Trigger
	)

	emit := func(cause string) {
		t := *burst
		t.Cause = cause
		burst = nil
		quietTimer.Stop()
		maxTimer.Stop()
		quietC, maxC = nil, nil
		d.fire(ctx, t)
	}

	for {
		select {
		case <-ctx.Done():
			quietTimer.Stop()
			maxTimer.Stop()
			return
		case req := <-d.reqs:
			if burst == nil {
				burst = &Trigger{FirstRequest: req.at}
				resetTimer(maxTimer, d.cfg.MaxDelay)
				maxC = maxTimer.C
			}
			burst.Count++
			burst.LastReason = req.reason
			burst.LastRequest = req.at
			resetTimer(quietTimer, d.cfg.QuietWindow)
			quietC = quietTimer.C
		case <-quietC:
			emit("quiet")
		case <-maxC:
			emit("max_delay")
		}
	}
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

func resetTimer(t *time.Timer, after time.Duration) {
	t.Stop()
	t.Reset(after)
}
