package domain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Thomas0321/badminton-app/internal/services/teams/storage"
)

// DefaultReapInterval is the sweep cadence when no override is configured.
const DefaultReapInterval = 10 * time.Minute

// Reaper periodically removes teams whose end time has passed, together with
// their memberships and messages. Cancellation audit rows are left in place.
type Reaper struct {
	store    storage.TeamStore
	clock    Clock
	logger   *slog.Logger
	interval time.Duration
}

// NewReaper constructs a reaper sweeping at the given interval.
func NewReaper(store storage.TeamStore, clock Clock, logger *slog.Logger, interval time.Duration) *Reaper {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{store: store, clock: clock, logger: logger, interval: interval}
}

// ReapExpired deletes every team that ended before now. A failed delete is
// logged and skipped so one stuck team cannot stall the sweep; the sweep is
// idempotent and a skipped team is retried on the next run.
func (r *Reaper) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	if r == nil || r.store == nil {
		return 0, fmt.Errorf("store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	expired, err := r.store.ListExpiredTeams(ctx, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("list expired teams: %w", err)
	}

	reaped := 0
	for _, team := range expired {
		if err := ctx.Err(); err != nil {
			return reaped, err
		}
		if err := r.store.DeleteTeamCascade(ctx, team.ID); err != nil {
			r.logger.ErrorContext(ctx, "reap team failed",
				slog.String("team_id", team.ID),
				slog.String("error", err.Error()))
			continue
		}
		reaped++
	}
	if reaped > 0 {
		r.logger.InfoContext(ctx, "reaped expired teams", slog.Int("count", reaped))
	}
	return reaped, nil
}

// Run sweeps on a ticker until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ReapExpired(ctx, r.clock()); err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "reap sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
