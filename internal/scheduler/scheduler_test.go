package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/portal-project/portal/internal/config"
	"github.com/portal-project/portal/internal/store"
)

type fakeHistory struct {
	cutoff time.Time
	rows   int64
	err    error
}

func (f *fakeHistory) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.rows, f.err
}

func (f *fakeHistory) Stats(context.Context) (store.Stats, error) {
	return store.Stats{Sessions: 3}, nil
}

func TestNextRun(t *testing.T) {
	loc := time.UTC
	now := time.Date(2024, 5, 10, 3, 30, 0, 0, loc)

	tests := []struct {
		clock string
		want  time.Time
	}{
		{"04:00", time.Date(2024, 5, 10, 4, 0, 0, 0, loc)},
		{"03:30", time.Date(2024, 5, 11, 3, 30, 0, 0, loc)},
		{"01:15", time.Date(2024, 5, 11, 1, 15, 0, 0, loc)},
		{"garbage", time.Date(2024, 5, 10, 4, 0, 0, 0, loc)},
		{"", time.Date(2024, 5, 10, 4, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		if got := NextRun(tt.clock, now); !got.Equal(tt.want) {
			t.Errorf("NextRun(%q) = %s, want %s", tt.clock, got, tt.want)
		}
	}
}

func TestPruneUsesRetentionCutoff(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ApplicationData.Database.RetentionDays = 7
	hist := &fakeHistory{rows: 4}

	s := NewScheduler(cfg, hist, nil)
	now := time.Date(2024, 5, 10, 4, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	removed, err := s.Prune(context.Background())
	if err != nil || removed != 4 {
		t.Fatalf("Prune = %d, %v", removed, err)
	}
	if want := now.AddDate(0, 0, -7); !hist.cutoff.Equal(want) {
		t.Fatalf("cutoff = %s, want %s", hist.cutoff, want)
	}
}

func TestPruneDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ApplicationData.Database.RetentionDays = 0
	hist := &fakeHistory{rows: 4}

	removed, err := NewScheduler(cfg, hist, nil).Prune(context.Background())
	if err != nil || removed != 0 || !hist.cutoff.IsZero() {
		t.Fatalf("Prune = %d, %v, cutoff %s", removed, err, hist.cutoff)
	}

	if _, err := NewScheduler(config.DefaultConfig(), nil, nil).Prune(context.Background()); err != nil {
		t.Fatalf("nil history: %v", err)
	}
}

func TestPruneReportsStoreErrors(t *testing.T) {
	hist := &fakeHistory{err: errors.New("disk full")}
	if _, err := NewScheduler(config.DefaultConfig(), hist, nil).Prune(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewScheduler(config.DefaultConfig(), &fakeHistory{}, nil).Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
