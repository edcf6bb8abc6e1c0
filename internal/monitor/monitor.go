package monitor

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Checker probes the server liveness endpoint. A nil error means the server
// answered with success.
type Checker interface {
	Liveness(ctx context.Context) error
}

type Status struct {
	Connected bool
	// LatencyMs is the round trip in milliseconds, measured to the response
	// or to the point of failure.
	LatencyMs int64
	CheckedAt time.Time
	Err       error
}

// Monitor measures connectivity to the session server. It keeps no state
// between probes and is safe for concurrent use.
type Monitor struct {
	checker Checker
	clock   clockwork.Clock
}

type Option func(*Monitor)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Monitor) { m.clock = clock }
}

func New(checker Checker, opts ...Option) *Monitor {
	m := &Monitor{
		checker: checker,
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) Ping(ctx context.Context) Status {
	start := m.clock.Now()
	err := m.checker.Liveness(ctx)
	latency := m.clock.Since(start)

	status := Status{
		Connected: err == nil,
		LatencyMs: latency.Round(time.Millisecond).Milliseconds(),
		CheckedAt: start,
		Err:       err,
	}
	if err != nil {
		log.Debug().Err(err).Int64("latencyMs", status.LatencyMs).Msg("liveness probe failed")
	}
	return status
}

// Run probes immediately and then every interval until ctx is done, passing
// each status to fn.
func (m *Monitor) Run(ctx context.Context, interval time.Duration, fn func(Status)) {
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	fn(m.Ping(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			fn(m.Ping(ctx))
		}
	}
}
