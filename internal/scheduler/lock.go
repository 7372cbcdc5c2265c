package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"time"

	"call-scheduler/pkg/logger"
	"call-scheduler/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TickLockName is the lock every scheduler replica contends for.
const TickLockName = "scheduler:tick"

// TickLock elects a single owner per tick. Acquire returns ok=false when
// another replica holds the lock; release is only set when ok is true.
type TickLock interface {
	Acquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

// RedisTickLock uses SET NX PX with an owner token per acquisition. While a
// tick runs the TTL is renewed every ttl/3, so a slow tick keeps the lock and a
// crashed owner loses it within ttl.
type RedisTickLock struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewRedisTickLock(rdb *redis.Client, ttl time.Duration) *RedisTickLock {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisTickLock{rdb: rdb, key: TickLockName, ttl: ttl}
}

func (l *RedisTickLock) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	owner := uuid.NewString()
	ok, err := utils.AcquireLock(ctx, l.rdb, l.key, owner, l.ttl)
	if err != nil || !ok {
		return nil, false, err
	}

	rctx, stop := context.WithCancel(context.WithoutCancel(ctx))
	var lost atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.renew(rctx, owner, &lost)
	}()

	return func(ctx context.Context) error {
		stop()
		<-done
		released, err := utils.ReleaseLock(ctx, l.rdb, l.key, owner)
		if err != nil {
			return err
		}
		if !released || lost.Load() {
			return errors.New("tick lock expired before release")
		}
		return nil
	}, true, nil
}

func (l *RedisTickLock) renew(ctx context.Context, owner string, lost *atomic.Bool) {
	t := time.NewTicker(l.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		ok, err := utils.ExtendLock(ctx, l.rdb, l.key, owner, l.ttl)
		if err != nil {
			if ctx.Err() == nil {
				logger.From(ctx).Warn("renew tick lock", "error", err)
			}
			continue
		}
		if !ok {
			logger.From(ctx).Warn("tick lock lost to another owner")
			lost.Store(true)
			return
		}
	}
}

// PostgresTickLock uses a session-level advisory lock.
type PostgresTickLock struct {
	db *sql.DB
}

func NewPostgresTickLock(db *sql.DB) *PostgresTickLock { return &PostgresTickLock{db: db} }

func (l *PostgresTickLock) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	return utils.TryAdvisoryLock(ctx, l.db, TickLockName)
}

var (
	_ TickLock = (*RedisTickLock)(nil)
	_ TickLock = (*PostgresTickLock)(nil)
)
