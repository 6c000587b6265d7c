package batch

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/payroll"
)

func TestLockKey(t *testing.T) {
	assert.Equal(t, "payroll-batch:ACME", lockKey("ACME"))
}

func TestNewRedisLocker_DefaultTTL(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()

	assert.Equal(t, 30*time.Second, NewRedisLocker(rdb, 0, nil).ttl)
	assert.Equal(t, time.Minute, NewRedisLocker(rdb, time.Minute, nil).ttl)
}

func TestRedisLocker_UnreachableServerIsNotLocked(t *testing.T) {
	// GIVEN a client pointing at a closed port
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()
	locker := NewRedisLocker(rdb, time.Second, nil)

	// WHEN the lock is requested
	_, err := locker.Acquire(context.Background(), "ACME")

	// THEN the failure is reported as an infrastructure error, not contention
	require.Error(t, err)
	assert.NotErrorIs(t, err, payroll.ErrBatchLocked)
}
