package syncengine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vivasaayi/PersonalMailClient/internal/account"
)

func TestSchedulerRunsImmediatelyOnConfigure(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.fetchAll = fakeFetchAll(nil, nil)

	var runs int32
	sched := NewScheduler(engine, func(email string) (account.Credentials, bool) {
		return testCreds(), true
	})
	sched.SetCompletionCallback(func(email string, result *Result, err error) {
		atomic.AddInt32(&runs, 1)
	})

	sched.Configure("user@example.com", time.Hour)
	defer sched.StopAll()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestSchedulerConfigureZeroIntervalDisables(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.fetchAll = fakeFetchAll(nil, nil)

	sched := NewScheduler(engine, func(email string) (account.Credentials, bool) {
		return testCreds(), true
	})

	sched.Configure("user@example.com", time.Hour)
	sched.Configure("user@example.com", 0)

	sched.mu.Lock()
	_, exists := sched.tasks["user@example.com"]
	sched.mu.Unlock()
	require.False(t, exists)
}

func TestSchedulerCancelStopsTask(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.fetchAll = fakeFetchAll(nil, nil)

	sched := NewScheduler(engine, func(email string) (account.Credentials, bool) {
		return testCreds(), true
	})
	sched.Configure("user@example.com", time.Hour)
	sched.Cancel("user@example.com")

	sched.mu.Lock()
	_, exists := sched.tasks["user@example.com"]
	sched.mu.Unlock()
	require.False(t, exists)
}

func TestSchedulerSkipsTickWhenNotConnected(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.fetchAll = fakeFetchAll(nil, nil)

	var runs int32
	sched := NewScheduler(engine, func(email string) (account.Credentials, bool) {
		return account.Credentials{}, false
	})
	sched.SetCompletionCallback(func(email string, result *Result, err error) {
		atomic.AddInt32(&runs, 1)
	})

	sched.tick(context.Background(), "nobody@example.com")
	require.Equal(t, int32(0), atomic.LoadInt32(&runs))
}
