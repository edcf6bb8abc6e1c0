package jobs

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type OpenSessionCounter interface {
	CountOpen(ctx context.Context) (int64, error)
}

// OpenSessionsJob periodically publishes the number of open sessions to a
// gauge. A failed count leaves the previous value in place.
type OpenSessionsJob struct {
	counter  OpenSessionCounter
	gauge    prometheus.Gauge
	interval time.Duration
	done     chan struct{}
}

func NewOpenSessionsJob(counter OpenSessionCounter, gauge prometheus.Gauge, interval time.Duration) *OpenSessionsJob {
	return &OpenSessionsJob{
		counter:  counter,
		gauge:    gauge,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *OpenSessionsJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("open sessions job started")
}

func (j *OpenSessionsJob) Stop() {
	close(j.done)
	log.Info().Msg("open sessions job stopped")
}

func (j *OpenSessionsJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.refresh()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.refresh()
		}
	}
}

func (j *OpenSessionsJob) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	count, err := j.counter.CountOpen(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to count open sessions")
		return
	}
	j.gauge.Set(float64(count))
}
