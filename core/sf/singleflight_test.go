package sf

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleflight_Collapses(t *testing.T) {
	s := New[[]int]()
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([][]int, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := s.Do("owner", func() ([]int, error) {
				calls.Add(1)
				<-release
				return []int{1, 2}, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	for _, r := range results {
		require.Equal(t, []int{1, 2}, r)
	}
}

func TestSingleflight_Error(t *testing.T) {
	s := New[string]()
	boom := errors.New("boom")

	v, shared, err := s.Do("k", func() (string, error) { return "ignored", boom })
	require.ErrorIs(t, err, boom)
	require.False(t, shared)
	require.Empty(t, v)

	v, _, err = s.Do("k", func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	s.Forget("k")
}
