// Package sweeper watches for jobs that stopped moving: pending jobs nobody
// picked up and assigned jobs with no progress. Each sweep publishes reminder
// events the on-call dispatcher subscribes to.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"field-dispatch/internal/config"
	"field-dispatch/internal/models"
	"field-dispatch/internal/notify"
	"field-dispatch/internal/telemetry"
)

// Store is the read surface the sweeper needs.
type Store interface {
	ListStaleJobs(ctx context.Context, status models.Status, cutoff time.Time, limit int) ([]models.Job, error)
	CountOpenJobs(ctx context.Context) (int64, error)
}

// Sweeper drives the periodic stale-job scan.
type Sweeper struct {
	cfg      config.Config
	store    Store
	notifier notify.Notifier

	// reminded suppresses duplicate reminders until the job moves again.
	reminded map[string]time.Time
}

func New(cfg config.Config, st Store, n notify.Notifier) *Sweeper {
	if n == nil {
		n = notify.Nop{}
	}
	return &Sweeper{
		cfg:      cfg,
		store:    st,
		notifier: n,
		reminded: make(map[string]time.Time),
	}
}

// Run sweeps on the configured interval until context cancellation.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.cfg.SweepInterval
	if interval == 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n := s.SweepOnce(ctx, time.Now())
			if n > 0 {
				slog.Info("stale job sweep", "reminders", n)
			}
		}
	}
}

// SweepOnce scans both stale classes once and returns the reminder count.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) int {
	limit := s.cfg.SweepBatchSize
	if limit <= 0 {
		limit = 100
	}

	total := 0
	total += s.remindStale(ctx, models.StatusPending, now.Add(-s.cfg.StalePendingAfter), limit)
	total += s.remindStale(ctx, models.StatusAssigned, now.Add(-s.cfg.StaleAssignedAfter), limit)

	if open, err := s.store.CountOpenJobs(ctx); err == nil {
		telemetry.OpenJobsGauge.Set(float64(open))
	}
	return total
}

func (s *Sweeper) remindStale(ctx context.Context, status models.Status, cutoff time.Time, limit int) int {
	jobs, err := s.store.ListStaleJobs(ctx, status, cutoff, limit)
	if err != nil {
		slog.Error("stale job scan failed", "status", status, "err", err)
		return 0
	}

	count := 0
	for _, job := range jobs {
		if last, ok := s.reminded[job.ID]; ok && last.After(job.UpdatedAt) {
			continue
		}
		err := s.notifier.Publish(ctx, notify.Event{
			Kind:      notify.KindJobStale,
			JobID:     job.ID,
			JobNumber: job.JobNumber,
			Field:     string(status),
		})
		if err != nil {
			continue
		}
		s.reminded[job.ID] = time.Now().UTC()
		telemetry.StaleReminders.Inc()
		count++
	}
	return count
}
