package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	assert.NoError(t, s.AddJob("* * * * *", func() {}))
	assert.Error(t, s.AddJob("not a cron", func() {}))
}

func TestSchedulerAddTaskRejectsBadExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	err := s.AddTask("prune", "61 * * * *", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prune")
	assert.NoError(t, s.AddTask("prune", DefaultDedupPruneSchedule, func(context.Context) error { return nil }))
	assert.NoError(t, s.AddTask("sweep", DefaultSessionSweep, func(context.Context) error { return nil }))
}

type fakePruner struct {
	cutoff time.Time
	err    error
}

func (f *fakePruner) PruneInbound(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, f.err
}

func TestPruneDedupUsesRetention(t *testing.T) {
	p := &fakePruner{}
	require.NoError(t, PruneDedup(p, 48*time.Hour)(context.Background()))
	assert.WithinDuration(t, time.Now().Add(-48*time.Hour), p.cutoff, 5*time.Second)

	p.err = errors.New("db gone")
	assert.Error(t, PruneDedup(p, time.Hour)(context.Background()))
}

type countingSweeper struct{ calls int }

func (c *countingSweeper) Sweep() int {
	c.calls++
	return 0
}

func TestSweepTask(t *testing.T) {
	c := &countingSweeper{}
	require.NoError(t, Sweep(c)(context.Background()))
	assert.Equal(t, 1, c.calls)
}
