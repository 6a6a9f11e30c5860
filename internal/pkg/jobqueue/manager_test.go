package jobqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetManager() {
	globalManager = nil
	managerOnce = sync.Once{}
}

func TestGetManager(t *testing.T) {
	resetManager()

	manager1 := GetManager()
	manager2 := GetManager()

	assert.NotNil(t, manager1)
	assert.Same(t, manager1, manager2, "GetManager should return the same instance")
	assert.Same(t, manager1.queue, manager1.GetQueue())
	assert.NotNil(t, manager1.stopCh)
	assert.False(t, manager1.running)
	assert.Equal(t, 10*time.Second, manager1.reminderInterval)
	assert.Equal(t, 24*time.Hour, manager1.housekeepingInterval)
}

func TestManager_StopWithoutStart(t *testing.T) {
	resetManager()
	manager := GetManager()

	assert.False(t, manager.IsRunning())
	manager.Stop()
	assert.False(t, manager.IsRunning())
}

func TestManagerSingletonReset(t *testing.T) {
	resetManager()
	manager1 := GetManager()
	resetManager()
	manager2 := GetManager()

	assert.NotSame(t, manager1, manager2)
}

func TestManagerRunsReminderSweepOnTicks(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	m := NewManager(NewQueueWithClient(client, 1))
	m.reminderInterval = 20 * time.Millisecond

	var mu sync.Mutex
	sweeps := 0
	m.SetReminderSweep(func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		sweeps++
		return nil
	})

	m.Start()
	assert.True(t, m.IsRunning())
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sweeps >= 2
	}, 2*time.Second, 10*time.Millisecond)
	m.Stop()
	assert.False(t, m.IsRunning())
}

func TestRunHousekeepingOnceHonorsLock(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	rs := redsync.New(goredis.NewPool(client))

	m := NewManager(NewQueueWithClient(client, 1))
	m.locker = rs
	runs := 0
	m.SetHousekeeping(func(context.Context) error {
		runs++
		return nil
	})

	ctx := context.Background()
	require.NoError(t, m.RunHousekeepingOnce(ctx))
	assert.Equal(t, 1, runs)

	other := rs.NewMutex(housekeepingLock, redsync.WithExpiry(time.Minute))
	require.NoError(t, other.LockContext(ctx))
	require.NoError(t, m.RunHousekeepingOnce(ctx))
	assert.Equal(t, 1, runs, "skipped while another instance holds the lock")

	_, err := other.UnlockContext(ctx)
	require.NoError(t, err)
	require.NoError(t, m.RunHousekeepingOnce(ctx))
	assert.Equal(t, 2, runs)
}
