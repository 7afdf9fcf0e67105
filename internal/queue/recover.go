package queue

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"
)

const sweepLockKey = "ingest:stale-session-sweep"

type StaleFailer interface {
	FailStale(ctx context.Context, olderThan time.Duration) (int, error)
}

type Locker interface {
	Run(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// Sweeper periodically fails sessions whose worker died, so their files can
// be processed again. With a Locker only one worker sweeps at a time.
type Sweeper struct {
	sessions   StaleFailer
	locker     Locker
	every      time.Duration
	staleAfter time.Duration
}

func NewSweeper(sessions StaleFailer, locker Locker, every time.Duration, staleAfter time.Duration) *Sweeper {
	return &Sweeper{sessions: sessions, locker: locker, every: every, staleAfter: staleAfter}
}

// SweepOnce runs one sweep. It reports 0 without error when another worker
// holds the sweep lock.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.locker == nil {
		return s.sessions.FailStale(ctx, s.staleAfter)
	}

	var n int
	err := s.locker.Run(ctx, sweepLockKey, leaselock.Options{TTL: max(s.every, time.Minute)}, func(ctx context.Context) error {
		var err error
		n, err = s.sessions.FailStale(ctx, s.staleAfter)
		return err
	})
	if errors.Is(err, leaselock.ErrBusy) {
		logger.Debug("[Queue] Stale sweep running elsewhere")
		return 0, nil
	}
	return n, err
}

func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.every)
	defer t.Stop()
	for {
		n, err := s.SweepOnce(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Error("[Queue] Stale session sweep failed", "err", err)
		case n > 0:
			logger.Info("[Queue] Failed stale sessions", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
