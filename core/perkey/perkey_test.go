package perkey

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestScheduler_SequentialPerKey(t *testing.T) {
	s := New[uuid.UUID]()
	defer s.Close()

	key := uuid.New()
	var (
		mu      sync.Mutex
		seq     []int
		running atomic.Int32
	)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(key, func() error {
				if running.Add(1) > 1 {
					t.Error("two tasks for one key ran at once")
				}
				defer running.Add(-1)
				mu.Lock()
				seq = append(seq, i)
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				return nil
			})
		}()
		// space out submissions so the order is known
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	require.Equal(t, []int{0, 1, 2}, seq)
}

func TestScheduler_ParallelAcrossKeys(t *testing.T) {
	s := New[uuid.UUID]()
	defer s.Close()

	var (
		running    atomic.Int32
		maxRunning atomic.Int32
		wg         sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(uuid.New(), func() error {
				cur := running.Add(1)
				for {
					m := maxRunning.Load()
					if cur <= m || maxRunning.CompareAndSwap(m, cur) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxRunning.Load() < 2 {
		t.Errorf("expected concurrent execution across keys, max running was %d", maxRunning.Load())
	}
}

func TestScheduler_ErrorAndPanic(t *testing.T) {
	s := New[string]()
	defer s.Close()

	boom := errors.New("boom")
	require.ErrorIs(t, s.Do("key", func() error { return boom }), boom)

	err := s.Do("key", func() error { panic("kaputt") })
	require.ErrorContains(t, err, "kaputt")

	// the key keeps working after a panic
	require.NoError(t, s.Do("key", func() error { return nil }))
}

func TestScheduler_WorkersAreReaped(t *testing.T) {
	s := New[int]()
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(i%5, func() error { return nil })
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_DoContext_Cancelled(t *testing.T) {
	s := New[string]()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.DoContext(ctx, "key", func() error {
		t.Error("task should not execute")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, s.Len())
}

func TestScheduler_DoContext_Timeout(t *testing.T) {
	s := New[string]()
	defer s.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.Do("key", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var ran atomic.Bool
	err := s.DoContext(ctx, "key", func() error {
		ran.Store(true)
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the queued task still runs once the key is free
	close(release)
	require.Eventually(t, ran.Load, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_Close(t *testing.T) {
	s := New[string](WithBufferSize(10))

	var executed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do("key", func() error {
				time.Sleep(5 * time.Millisecond)
				executed.Add(1)
				return nil
			})
		}()
	}
	time.Sleep(10 * time.Millisecond)

	s.Close()
	s.Close()
	wg.Wait()

	require.EqualValues(t, 5, executed.Load())
	require.ErrorIs(t, s.Do("key", func() error { return nil }), ErrSchedulerClosed)
}

func TestScheduler_CloseWhileSubmitting(t *testing.T) {
	s := New[string]()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Do("key", func() error { return nil })
			if err != nil && !errors.Is(err, ErrSchedulerClosed) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	go func() {
		time.Sleep(time.Millisecond)
		s.Close()
	}()
	wg.Wait()
}
