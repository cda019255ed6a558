// Package reaper runs the Controller's background TTL sweep: it prunes
// expired sessions and jtis from the durable store, tears down their
// workers, and periodically reconciles store state against orchestrator
// reality to catch drift from crashes or restarts.
package reaper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/webalive/workerspawn/internal/orchestrator"
	"github.com/webalive/workerspawn/internal/store"
)

type Reaper struct {
	store        *store.Store
	driver       orchestrator.Driver
	interval     time.Duration
	reconcileEvery int
	logger       zerolog.Logger
}

func New(st *store.Store, driver orchestrator.Driver, interval time.Duration, logger zerolog.Logger) *Reaper {
	return &Reaper{
		store:          st,
		driver:         driver,
		interval:       interval,
		reconcileEvery: 10,
		logger:         logger,
	}
}

// Run sweeps on a ticker until ctx is cancelled. It reconciles on startup
// and then every reconcileEvery ticks thereafter.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info().Dur("interval", r.interval).Msg("reaper started")

	r.reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
			tick++
			if tick%r.reconcileEvery == 0 {
				r.reconcile(ctx)
			}
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	sessionsPruned, jtisPruned, err := r.store.PruneExpired(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("reaper: prune expired")
		return
	}
	if sessionsPruned > 0 || jtisPruned > 0 {
		r.logger.Info().
			Int64("sessions_pruned", sessionsPruned).
			Int64("jtis_pruned", jtisPruned).
			Msg("reaper: pruned expired state")
	}
}

// reconcile asks the orchestrator what it has running, compares it against
// the store's live sessions, deletes orphan workers, and marks sessions
// with no worker present as expired.
func (r *Reaper) reconcile(ctx context.Context) {
	expected, err := r.liveSessionWorkerIDs(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("reaper: list live sessions for reconcile")
		return
	}

	orphans, missing, err := r.driver.Reconcile(ctx, expected)
	if err != nil {
		r.logger.Error().Err(err).Msg("reaper: orchestrator reconcile")
		return
	}

	for _, workerID := range orphans {
		if err := r.driver.BestEffortDelete(ctx, workerID); err != nil {
			r.logger.Warn().Err(err).Str("worker_id", workerID).Msg("reaper: delete orphan worker")
		}
	}
	for _, sessionID := range missing {
		if err := r.store.ExpireSession(ctx, sessionID); err != nil {
			r.logger.Warn().Err(err).Str("session_id", sessionID).Msg("reaper: expire session missing its worker")
		}
	}
	if len(orphans) > 0 || len(missing) > 0 {
		r.logger.Info().Int("orphans", len(orphans)).Int("missing", len(missing)).Msg("reaper: reconciled")
	}
}

// liveSessionWorkerIDs is a placeholder seam: the store does not persist a
// separate worker ID column (the orchestrator keys workers by session ID
// directly via labels), so live sessions double as the expected set keyed
// by session ID.
func (r *Reaper) liveSessionWorkerIDs(ctx context.Context) (map[string]string, error) {
	return r.store.LiveSessionIDs(ctx)
}
