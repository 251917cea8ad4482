package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsInDueOrder(t *testing.T) {
	s := NewScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)
	record := func(n int) func() {
		return func() {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			wg.Done()
		}
	}

	_, err := s.Schedule(60*time.Millisecond, record(3))
	require.NoError(t, err)
	_, err = s.Schedule(10*time.Millisecond, record(1))
	require.NoError(t, err)
	_, err = s.Schedule(30*time.Millisecond, record(2))
	require.NoError(t, err)

	waitOrFail(t, &wg, time.Second)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestScheduler_Cancel(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	fired := make(chan struct{}, 1)
	cancelTask, err := s.Schedule(20*time.Millisecond, func() { fired <- struct{}{} })
	require.NoError(t, err)
	cancelTask()
	assert.Zero(t, s.Pending())

	select {
	case <-fired:
		t.Fatal("cancelled task ran")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestScheduler_PanicDoesNotStopLoop(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	done := make(chan struct{})
	_, err := s.Schedule(0, func() { panic("bad task") })
	require.NoError(t, err)
	_, err = s.Schedule(5*time.Millisecond, func() { close(done) })
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second task never ran")
	}
}

func TestScheduler_ScheduleAfterStop(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()

	_, err := s.Schedule(time.Millisecond, func() {})
	assert.ErrorIs(t, err, ErrStopped)
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for tasks")
	}
}
