// Package scheduler runs periodic background tasks for Portal: pruning old
// session history and logging a traffic summary.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/portal-project/portal/internal/config"
	"github.com/portal-project/portal/internal/store"
	"github.com/portal-project/portal/internal/util"
)

// DefaultPruneTime is used when the configured prune time is empty or invalid.
const DefaultPruneTime = "04:00"

// Pruner deletes history older than a cutoff. *store.SessionStore satisfies it.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Counter reports live connection counts. *network.Registry satisfies it.
type Counter interface {
	Count() int
	Players() int
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg      *config.Config
	history  Pruner
	live     Counter
	log      zerolog.Logger
	interval time.Duration
	now      func() time.Time
}

// NewScheduler creates a task scheduler. history may be nil when the session
// store is disabled.
func NewScheduler(cfg *config.Config, history Pruner, live Counter) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		history:  history,
		live:     live,
		log:      util.ComponentLogger("scheduler"),
		interval: time.Hour,
		now:      time.Now,
	}
}

// Start runs the scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info().Msg("scheduler started")

	if s.history != nil && s.cfg.GetApplicationData().Database.RetentionDays > 0 {
		go s.runPruneLoop(ctx)
	}
	go s.runSummaryLoop(ctx)

	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runPruneLoop(ctx context.Context) {
	for {
		next := NextRun(s.cfg.GetApplicationData().Database.PruneTime, s.now())
		wait := next.Sub(s.now())

		s.log.Info().Time("next_run", next).Dur("sleep", wait).Msg("history pruning scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			s.Prune(ctx)
		}
	}
}

// Prune removes history older than the configured retention.
func (s *Scheduler) Prune(ctx context.Context) (int64, error) {
	days := s.cfg.GetApplicationData().Database.RetentionDays
	if s.history == nil || days <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	removed, err := s.history.Prune(ctx, cutoff)
	if err != nil {
		s.log.Warn().Err(err).Msg("history pruning failed")
		return 0, err
	}
	s.log.Info().
		Int64("removed_rows", removed).
		Time("cutoff", cutoff).
		Msg("history pruning completed")
	return removed, nil
}

func (s *Scheduler) runSummaryLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Summary(ctx)
		}
	}
}

// Summary logs live connection counts and stored history totals.
func (s *Scheduler) Summary(ctx context.Context) {
	ev := s.log.Info()
	if s.live != nil {
		ev = ev.Int("connections", s.live.Count()).Int("players", s.live.Players())
	}
	if s.history != nil {
		st, err := s.history.Stats(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to read history stats")
		} else {
			ev = ev.Int("sessions", st.Sessions).
				Int("unique_players", st.Players).
				Int("transfers", st.Transfers)
		}
	}
	ev.Msg("traffic summary")
}

// NextRun returns the next occurrence of the HH:MM clock time after now.
func NextRun(clock string, now time.Time) time.Time {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		t, _ = time.Parse("15:04", DefaultPruneTime)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
