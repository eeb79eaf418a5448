package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"fanpay/internal/kvstore"
	"fanpay/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSweeper struct {
	calls       int
	err         error
	result      services.SweepResult
	hadDeadline bool
}

func (s *stubSweeper) ProcessExpiredRequests(ctx context.Context) (services.SweepResult, error) {
	s.calls++
	_, s.hadDeadline = ctx.Deadline()
	return s.result, s.err
}

func TestRunOnceSweepsAndReleasesLock(t *testing.T) {
	ctx := context.Background()
	sweeper := &stubSweeper{result: services.SweepResult{
		Processed: 2,
		Results: []services.SweepItem{
			{ID: "r1", Status: services.SweepRefunded},
			{ID: "r2", Status: services.SweepSkipped},
		},
	}}
	locks := kvstore.NewMemory()
	sweep := NewEscrowSweep(sweeper, locks, time.Minute)

	result, ran, err := sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 2, result.Processed)
	assert.True(t, sweeper.hadDeadline)

	_, err = locks.Get(ctx, sweepLockKey)
	assert.ErrorIs(t, err, kvstore.ErrNotFound)

	_, ran, err = sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 2, sweeper.calls)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	sweeper := &stubSweeper{}
	locks := kvstore.NewMemory()
	require.NoError(t, locks.Set(ctx, sweepLockKey, "other-instance", time.Minute))

	_, ran, err := NewEscrowSweep(sweeper, locks, time.Minute).RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, sweeper.calls)

	owner, err := locks.Get(ctx, sweepLockKey)
	require.NoError(t, err)
	assert.Equal(t, "other-instance", owner, "another instance's lock is left alone")
}

func TestRunOnceReleasesLockOnFailure(t *testing.T) {
	ctx := context.Background()
	sweeper := &stubSweeper{err: errors.New("database unavailable")}
	locks := kvstore.NewMemory()

	_, ran, err := NewEscrowSweep(sweeper, locks, time.Minute).RunOnce(ctx)
	assert.True(t, ran)
	assert.EqualError(t, err, "database unavailable")

	_, err = locks.Get(ctx, sweepLockKey)
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	sweep := NewEscrowSweep(&stubSweeper{}, kvstore.NewMemory(), 0)
	assert.Error(t, sweep.Start("every now and then"))
	assert.NoError(t, sweep.Stop(context.Background()))
}

func TestStartAndStop(t *testing.T) {
	sweep := NewEscrowSweep(&stubSweeper{}, kvstore.NewMemory(), time.Second)
	require.NoError(t, sweep.Start("@every 1h"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, sweep.Stop(ctx))
}
