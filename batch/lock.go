package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// LOCKER - Mutual exclusion of batch runs per company
// =============================================================================

// Locker serializes batch runs of one company. Acquire never waits: a held
// lock fails with payroll.ErrBatchLocked.
type Locker interface {
	Acquire(ctx context.Context, company payroll.CompanyID) (Lease, error)
}

// Lease is a held lock. Context is derived from the context given to
// Acquire and is cancelled with payroll.ErrLockLost as its cause once the
// lock can no longer be guaranteed, or on Release.
type Lease interface {
	Context() context.Context
	Release(ctx context.Context) error
}

func lockKey(company payroll.CompanyID) string {
	return "payroll-batch:" + string(company)
}

// =============================================================================
// LOCAL LOCKER - In-process
// =============================================================================

type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) Acquire(ctx context.Context, company payroll.CompanyID) (Lease, error) {
	key := lockKey(company)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] {
		return nil, fmt.Errorf("company %s: %w", company, payroll.ErrBatchLocked)
	}
	l.held[key] = true
	leaseCtx, cancel := context.WithCancelCause(ctx)
	return &localLease{locker: l, key: key, ctx: leaseCtx, cancel: cancel}, nil
}

type localLease struct {
	locker *LocalLocker
	key    string
	ctx    context.Context
	cancel context.CancelCauseFunc
	once   sync.Once
}

func (l *localLease) Context() context.Context { return l.ctx }

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.cancel(payroll.ErrLockLost)
		l.locker.mu.Lock()
		delete(l.locker.held, l.key)
		l.locker.mu.Unlock()
	})
	return nil
}

// =============================================================================
// REDIS LOCKER - Across processes
// =============================================================================

// RedisLocker holds a redislock lock for the whole run and refreshes it every
// TTL/2 so a long batch keeps it. A crashed process loses the lock after TTL.
// A failed refresh cancels the lease context so the run stops before another
// process can take over the company.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	log    logrus.FieldLogger
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration, log logrus.FieldLogger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl, log: log}
}

func (r *RedisLocker) Acquire(ctx context.Context, company payroll.CompanyID) (Lease, error) {
	lock, err := r.client.Obtain(ctx, lockKey(company), r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("company %s: %w", company, payroll.ErrBatchLocked)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain batch lock of %s: %w", company, err)
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	lease := &redisLease{
		lock:   lock,
		ctx:    leaseCtx,
		cancel: cancel,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go lease.refresh(r.ttl, r.log.WithField("company", company))
	return lease, nil
}

type redisLease struct {
	lock   *redislock.Lock
	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (l *redisLease) Context() context.Context { return l.ctx }

func (l *redisLease) refresh(ttl time.Duration, log logrus.FieldLogger) {
	defer close(l.done)

	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if err := l.lock.Refresh(context.Background(), ttl, nil); err != nil {
				log.WithError(err).Error("failed to refresh batch lock, stopping the run")
				l.cancel(fmt.Errorf("%w: %w", payroll.ErrLockLost, err))
				return
			}
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		l.cancel(payroll.ErrLockLost)
		err = l.lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			err = nil
		}
	})
	return err
}
