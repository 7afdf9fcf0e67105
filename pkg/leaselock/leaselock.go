// Package leaselock provides expiring, renewable locks stored in the
// app_locks table. A lease whose holder crashes is free again once its TTL
// passes, so periodic jobs can run on exactly one of several workers.
package leaselock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrBusy = errors.New("lease lock busy")
	ErrLost = errors.New("lease lock lost")
)

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Locker struct {
	db dbConn
}

type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	// Wait retries a busy lock until ctx ends instead of failing with ErrBusy.
	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	// Holder prefixes the random holder token, e.g. with a host name.
	Holder string
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Second)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 250 * time.Millisecond
	}
	if o.WaitJitter < 0 {
		o.WaitJitter = 0
	}
	return o
}

// Lease is a held lock. Context ends when the lease is released or lost.
type Lease struct {
	Key     string
	Token   string
	Context context.Context

	locker *Locker
	ttlMs  int64
	cancel context.CancelCauseFunc
	once   sync.Once
	stop   chan struct{}
}

func New(pool *pgxpool.Pool) *Locker {
	return &Locker{db: pool}
}

// Run holds key while fn runs. fn receives the lease context, which is
// cancelled with ErrLost when renewal fails.
func (l *Locker) Run(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := l.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("[LeaseLock] Failed to release", "key", key, "err", err)
		}
	}()
	return fn(lease.Context)
}

func (l *Locker) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease lock key is empty")
	}
	opts = opts.withDefaults()

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create lease token: %w", err)
	}
	token := opts.Holder + id
	ttlMs := opts.TTL.Milliseconds()

	for {
		ok, err := l.tryAcquire(ctx, key, token, ttlMs)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		if err := sleep(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	lease := &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		locker:  l,
		ttlMs:   ttlMs,
		cancel:  cancel,
		stop:    make(chan struct{}),
	}
	go lease.keepAlive(opts.RenewEvery)
	logger.Debug("[LeaseLock] Acquired", "key", key, "ttl", opts.TTL)
	return lease, nil
}

func (l *Locker) tryAcquire(ctx context.Context, key string, token string, ttlMs int64) (bool, error) {
	var got string
	err := l.db.QueryRow(ctx, tryAcquireSQL, key, token, ttlMs).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return got != "", nil
}

// Release frees the lock if this lease still holds it.
func (l *Lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		close(l.stop)
		l.cancel(context.Canceled)
	})
	_, err := l.locker.db.Exec(ctx, releaseSQL, l.Key, l.Token)
	return err
}

func (l *Lease) keepAlive(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
			if err := l.renew(); err != nil {
				logger.Warn("[LeaseLock] Lease lost", "key", l.Key, "err", err)
				l.cancel(err)
				return
			}
		}
	}
}

func (l *Lease) renew() error {
	var lastErr error
	for range 3 {
		ctx, cancel := context.WithTimeout(l.Context, 15*time.Second)
		var got string
		err := l.locker.db.QueryRow(ctx, renewSQL, l.Key, l.Token, l.ttlMs).Scan(&got)
		cancel()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, pgx.ErrNoRows):
			return ErrLost
		}
		lastErr = err
		if err := sleep(l.Context, 200*time.Millisecond, 0); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrLost, lastErr)
}

func sleep(ctx context.Context, base time.Duration, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const tryAcquireSQL = `
INSERT INTO app_locks (lock_key, locked_by, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lock_key) DO UPDATE
SET locked_by  = EXCLUDED.locked_by,
    expires_at = EXCLUDED.expires_at
WHERE app_locks.expires_at < now()
   OR app_locks.locked_by = EXCLUDED.locked_by
RETURNING lock_key;
`

const renewSQL = `
UPDATE app_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lock_key = $1 AND locked_by = $2
RETURNING lock_key;
`

const releaseSQL = `
DELETE FROM app_locks
WHERE lock_key = $1 AND locked_by = $2;
`
