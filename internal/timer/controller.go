package timer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/timeworked/timeworked/internal/config"
	apperrors "github.com/timeworked/timeworked/internal/errors"
	"github.com/timeworked/timeworked/internal/model"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhasePaused
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhasePaused:
		return "paused"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	ErrRequestInFlight = errors.New("timer: a session request is already in flight")
	ErrNotRunning      = errors.New("timer: not running")
	ErrNotStarted      = errors.New("timer: no interval to stop")
	ErrStopPending     = errors.New("timer: previous stop not confirmed, retry stop")
	ErrStartPending    = errors.New("timer: start not confirmed yet")
	ErrClosed          = errors.New("timer: controller closed")
)

// SessionAPI is the subset of the session server the controller drives.
type SessionAPI interface {
	StartSession(ctx context.Context, subjectID string) (*model.Session, error)
	StopSession(ctx context.Context, id string, endedAt *time.Time) (*model.Session, error)
}

// Snapshot is a point-in-time copy of the controller state.
type Snapshot struct {
	Phase Phase
	// Confirmed is true once the server acknowledged the start of the
	// current interval and SessionID is bound.
	Confirmed bool
	SessionID string
	Elapsed   time.Duration
	Display   string
	InFlight  bool
	LastError error
	// LastElapsed is the locally measured length of the last interval that
	// the server confirmed as closed.
	LastElapsed time.Duration
	LastSession *model.Session
}

type Option func(*Controller)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) { c.tickInterval = d }
}

// WithListener registers fn to receive a snapshot on every state change and
// every display tick. fn runs outside the controller lock.
func WithListener(fn func(Snapshot)) Option {
	return func(c *Controller) { c.listener = fn }
}

// Controller owns one pausable running clock and keeps it in step with the
// server-side session record. Network calls block the calling goroutine;
// the display tick runs on its own goroutine and never waits on them.
type Controller struct {
	api          SessionAPI
	subjectID    string
	clock        clockwork.Clock
	tickInterval time.Duration
	listener     func(Snapshot)

	mu          sync.Mutex
	phase       Phase
	localStart  time.Time
	accumulated time.Duration
	final       time.Duration
	stopAt      time.Time
	sessionID   string
	inFlight    bool
	closed      bool
	lastErr     error
	lastElapsed time.Duration
	lastSession *model.Session

	ticker     clockwork.Ticker
	tickDone   chan struct{}
	tickExited chan struct{}
}

func NewController(api SessionAPI, subjectID string, opts ...Option) *Controller {
	c := &Controller{
		api:          api,
		subjectID:    subjectID,
		clock:        clockwork.NewRealClock(),
		tickInterval: config.DisplayTickInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins a new interval from Idle or resumes a paused one. Starting a
// running timer is a no-op. From Idle the display starts ticking immediately
// and the call blocks until the server acknowledges the session; on failure
// the interval is discarded and the controller returns to Idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrRequestInFlight
	}

	switch c.phase {
	case PhaseRunning:
		c.mu.Unlock()
		return nil

	case PhasePaused:
		c.localStart = c.clock.Now()
		c.phase = PhaseRunning
		c.startTickerLocked()
		snap := c.snapshotLocked()
		c.mu.Unlock()

		log.Debug().Str("sessionId", snap.SessionID).Msg("timer resumed")
		c.notify(snap)
		return nil

	case PhaseStopped:
		c.mu.Unlock()
		return ErrStopPending
	}

	c.phase = PhaseRunning
	c.localStart = c.clock.Now()
	c.accumulated = 0
	c.final = 0
	c.sessionID = ""
	c.lastErr = nil
	c.inFlight = true
	c.startTickerLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	session, err := c.api.StartSession(ctx, c.subjectID)

	c.mu.Lock()
	c.inFlight = false
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	if err != nil {
		c.resetLocked()
		c.lastErr = err
		snap = c.snapshotLocked()
		c.mu.Unlock()

		log.Warn().Err(err).Str("subjectId", c.subjectID).Msg("session start failed, timer rolled back")
		c.notify(snap)
		return err
	}

	c.sessionID = session.ID
	snap = c.snapshotLocked()
	c.mu.Unlock()

	log.Info().Str("sessionId", session.ID).Msg("session start confirmed")
	c.notify(snap)
	return nil
}

// Pause freezes the elapsed time of a confirmed running interval. It never
// contacts the server.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase != PhaseRunning {
		c.mu.Unlock()
		return ErrNotRunning
	}
	if c.sessionID == "" {
		c.mu.Unlock()
		return ErrStartPending
	}

	c.accumulated += c.clock.Since(c.localStart)
	c.phase = PhasePaused
	c.stopTickerLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	log.Debug().Str("sessionId", snap.SessionID).Dur("elapsed", snap.Elapsed).Msg("timer paused")
	c.notify(snap)
	return nil
}

// Stop ends the current interval and asks the server to close its session
// at the stop instant. If the server call fails the controller stays
// stopped with the session still bound, and calling Stop again retries with
// the same session id and the same end time.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrRequestInFlight
	}

	now := c.clock.Now()
	switch c.phase {
	case PhaseIdle:
		c.mu.Unlock()
		return ErrNotStarted
	case PhaseRunning:
		c.final = c.accumulated + now.Sub(c.localStart)
		c.stopAt = now
	case PhasePaused:
		c.final = c.accumulated
		c.stopAt = now
	case PhaseStopped:
		// retry keeps the original stop instant
	}

	c.phase = PhaseStopped
	c.stopTickerLocked()
	c.inFlight = true
	id := c.sessionID
	endedAt := c.stopAt
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	session, err := c.api.StopSession(ctx, id, &endedAt)

	c.mu.Lock()
	c.inFlight = false
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	switch {
	case err == nil:
		c.lastElapsed = c.final
		c.lastSession = session
		c.resetLocked()
		c.lastErr = nil
		snap = c.snapshotLocked()
		c.mu.Unlock()

		log.Info().
			Str("sessionId", id).
			Int64("durationSeconds", session.DurationSeconds).
			Dur("elapsed", snap.LastElapsed).
			Msg("session stop confirmed")
		c.notify(snap)
		return nil

	case apperrors.HasCode(err, apperrors.ErrCodeAlreadyClosed):
		// an earlier attempt reached the server but its response was lost
		c.lastElapsed = c.final
		c.lastSession = nil
		c.resetLocked()
		c.lastErr = nil
		snap = c.snapshotLocked()
		c.mu.Unlock()

		log.Warn().Str("sessionId", id).Msg("session was already closed, clearing binding")
		c.notify(snap)
		return nil

	case apperrors.HasCode(err, apperrors.ErrCodeNotFound):
		c.resetLocked()
		c.lastErr = err
		snap = c.snapshotLocked()
		c.mu.Unlock()

		log.Warn().Str("sessionId", id).Msg("session unknown to server, clearing binding")
		c.notify(snap)
		return err

	default:
		c.lastErr = err
		snap = c.snapshotLocked()
		c.mu.Unlock()

		log.Warn().Err(err).Str("sessionId", id).Msg("session stop failed, keeping binding for retry")
		c.notify(snap)
		return err
	}
}

// Snapshot returns the current state with the elapsed time computed from
// the local clock.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close stops the display tick before returning. A request still in flight
// completes in its own goroutine and its result is discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	exited := c.stopTickerLocked()
	c.mu.Unlock()

	if exited != nil {
		<-exited
	}
}

func (c *Controller) elapsedLocked() time.Duration {
	switch c.phase {
	case PhaseRunning:
		return c.accumulated + c.clock.Since(c.localStart)
	case PhasePaused:
		return c.accumulated
	case PhaseStopped:
		return c.final
	default:
		return 0
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	elapsed := c.elapsedLocked()
	return Snapshot{
		Phase:       c.phase,
		Confirmed:   c.sessionID != "",
		SessionID:   c.sessionID,
		Elapsed:     elapsed,
		Display:     FormatElapsed(elapsed),
		InFlight:    c.inFlight,
		LastError:   c.lastErr,
		LastElapsed: c.lastElapsed,
		LastSession: c.lastSession,
	}
}

func (c *Controller) resetLocked() {
	c.stopTickerLocked()
	c.phase = PhaseIdle
	c.sessionID = ""
	c.accumulated = 0
	c.final = 0
	c.localStart = time.Time{}
	c.stopAt = time.Time{}
}

func (c *Controller) startTickerLocked() {
	if c.ticker != nil || c.tickInterval <= 0 {
		return
	}
	c.ticker = c.clock.NewTicker(c.tickInterval)
	c.tickDone = make(chan struct{})
	c.tickExited = make(chan struct{})
	go c.runTicker(c.ticker, c.tickDone, c.tickExited)
}

// stopTickerLocked stops the display tick and returns a channel closed once
// the tick goroutine has exited, or nil when no tick was running.
func (c *Controller) stopTickerLocked() <-chan struct{} {
	if c.ticker == nil {
		return nil
	}
	c.ticker.Stop()
	close(c.tickDone)
	exited := c.tickExited
	c.ticker = nil
	c.tickDone = nil
	c.tickExited = nil
	return exited
}

func (c *Controller) runTicker(ticker clockwork.Ticker, done <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			c.mu.Lock()
			if c.ticker != ticker {
				c.mu.Unlock()
				return
			}
			snap := c.snapshotLocked()
			c.mu.Unlock()
			c.notify(snap)
		}
	}
}

func (c *Controller) notify(snap Snapshot) {
	if c.listener != nil {
		c.listener(snap)
	}
}
