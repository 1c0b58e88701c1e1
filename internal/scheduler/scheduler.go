// Package scheduler runs periodic housekeeping for the bot.
//
// Jobs are registered with cron expressions: pruning the inbound dedup table
// and sweeping expired in-memory payment sessions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Default housekeeping schedules and retention.
const (
	DefaultDedupPruneSchedule = "17 3 * * *"
	DefaultSessionSweep       = "*/5 * * * *"
	DefaultDedupRetention     = 7 * 24 * time.Hour
	jobTimeout                = time.Minute
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddTask schedules a named task that receives a bounded context. Failures
// are logged and the task runs again at its next tick.
func (s *Scheduler) AddTask(name, expr string, task func(ctx context.Context) error) error {
	err := s.AddJob(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		start := time.Now()
		if err := task(ctx); err != nil {
			slog.Error("Scheduler.task failed", "name", name, "error", err)
			return
		}
		slog.Debug("Scheduler.task done", "name", name, "elapsed", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, expr, err)
	}
	slog.Info("Scheduler.AddTask: scheduled", "name", name, "schedule", expr)
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// DedupPruner is the slice of the store the dedup pruning job needs.
type DedupPruner interface {
	PruneInbound(ctx context.Context, cutoff time.Time) (int64, error)
}

// PruneDedup returns a task deleting dedup records older than retention.
func PruneDedup(p DedupPruner, retention time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		n, err := p.PruneInbound(ctx, time.Now().Add(-retention))
		if err != nil {
			return err
		}
		if n > 0 {
			slog.Info("Scheduler.PruneDedup: removed records", "count", n)
		}
		return nil
	}
}

// Sweeper drops expired entries from an in-memory cache.
type Sweeper interface {
	Sweep() int
}

// Sweep wraps a Sweeper as a task.
func Sweep(s Sweeper) func(ctx context.Context) error {
	return func(context.Context) error {
		s.Sweep()
		return nil
	}
}
