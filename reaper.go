package oobd

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Reaper periodically times out abandoned operations and deletes
// terminal ones past retention. Sweeps run sequentially: a stuck
// timeout sweep must not race its own next invocation.
type Reaper struct {
	engine     *Engine
	interval   time.Duration
	timeoutAge time.Duration
	deleteAge  time.Duration
}

func NewReaper(engine *Engine, settings Settings) *Reaper {
	return &Reaper{
		engine:     engine,
		interval:   settings.ReaperInterval,
		timeoutAge: settings.TimeoutMaxAge,
		deleteAge:  settings.DeleteMaxAge,
	}
}

// Run sweeps once immediately, then on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs one timeout sweep and one retention sweep. A sweep
// failure is logged and the other sweep still runs; progress up to the
// failure is kept, so the next tick resumes where this one stopped.
func (r *Reaper) RunOnce(ctx context.Context) {
	now := time.Now()

	timedOut, err := r.engine.SweepTimeouts(ctx, now.Add(-r.timeoutAge), nil)
	if err != nil {
		log.Error().Err(err).Msg("timeout sweep failed")
	} else if timedOut > 0 {
		log.Info().Int("operations", timedOut).Msg("timed out abandoned operations")
	}

	deleted, err := r.engine.SweepRetention(ctx, now.Add(-r.deleteAge), nil)
	if err != nil {
		log.Error().Err(err).Msg("retention sweep failed")
	} else if deleted > 0 {
		log.Info().Int("operations", deleted).Msg("deleted operations past retention")
	}
}
