package scheduler

import (
	"context"
	"errors"
	"time"

	"fanpay/internal/kvstore"
	"fanpay/internal/logger"
	"fanpay/internal/metrics"
	"fanpay/internal/services"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const sweepLockKey = "fanpay:lock:escrow-sweep"

// Sweeper settles reply requests whose deadline has passed.
type Sweeper interface {
	ProcessExpiredRequests(ctx context.Context) (services.SweepResult, error)
}

// EscrowSweep runs the expiry sweep on a cron schedule. Every instance
// schedules it, and a lock in the shared kvstore lets one of them run at a
// time.
type EscrowSweep struct {
	sweeper Sweeper
	locks   kvstore.Store
	timeout time.Duration
	cron    *cron.Cron
}

func NewEscrowSweep(sweeper Sweeper, locks kvstore.Store, timeout time.Duration) *EscrowSweep {
	if timeout <= 0 {
		timeout = 4 * time.Minute
	}
	return &EscrowSweep{sweeper: sweeper, locks: locks, timeout: timeout}
}

// RunOnce sweeps if no other instance holds the lock. The bool reports
// whether this call ran the sweep.
func (s *EscrowSweep) RunOnce(ctx context.Context) (services.SweepResult, bool, error) {
	token := uuid.NewString()
	acquired, err := s.locks.SetNX(ctx, sweepLockKey, token, s.timeout+time.Minute)
	if err != nil {
		return services.SweepResult{}, false, err
	}
	if !acquired {
		logger.Log.Debugw("escrow sweep skipped, lock held elsewhere")
		return services.SweepResult{}, false, nil
	}
	defer func() {
		if _, err := s.locks.CompareAndDelete(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
			logger.Log.Warnw("escrow sweep lock release failed", "error", err)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := s.sweeper.ProcessExpiredRequests(runCtx)
	elapsed := time.Since(start)
	metrics.RecordSweepRun(elapsed)

	refunded, failed := 0, 0
	for _, item := range result.Results {
		switch item.Status {
		case services.SweepRefunded:
			refunded++
		case services.SweepError:
			failed++
		}
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Log.Warnw("escrow sweep timed out", "processed", result.Processed, "refunded", refunded, "timeout", s.timeout)
		} else {
			logger.Log.Errorw("escrow sweep failed", "processed", result.Processed, "error", err)
		}
		return result, true, err
	}
	logger.Log.Infow("escrow sweep finished",
		"processed", result.Processed,
		"refunded", refunded,
		"failed", failed,
		"duration", elapsed,
	)
	return result, true, nil
}

// Start schedules the sweep. A run still in progress makes the next tick a
// no-op on this instance.
func (s *EscrowSweep) Start(schedule string) error {
	log := cronLogger{}
	c := cron.New(cron.WithLogger(log), cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)))
	if _, err := c.AddFunc(schedule, func() {
		_, _, _ = s.RunOnce(context.Background())
	}); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	logger.Log.Infow("escrow sweep scheduled", "schedule", schedule, "timeout", s.timeout)
	return nil
}

// Stop prevents new runs and waits for a running sweep until ctx is done.
func (s *EscrowSweep) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's own messages to the process logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Log.Debugw("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Log.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
