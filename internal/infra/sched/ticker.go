package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Job is one periodic unit of work. Errors are logged, never fatal.
type Job func(ctx context.Context) error

// runEvery calls job once on start and then every interval until ctx ends.
// Each run is bounded by timeout.
func runEvery(ctx context.Context, log *zerolog.Logger, interval, timeout time.Duration, job Job) error {
	log.Info().Dur("interval", interval).Msg("worker started")
	tick := func() {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := job(runCtx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("worker run failed")
		}
	}
	tick()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker stopped")
			return ctx.Err()
		case <-t.C:
			tick()
		}
	}
}
