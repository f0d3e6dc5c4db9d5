package hostlock

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "state0.lock")
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	l := New(lockPath(t), 0)
	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Release())
}

func TestAcquireTwiceOnSameLockErrors(t *testing.T) {
	l := New(lockPath(t), 0)
	require.NoError(t, l.Acquire(context.Background()))
	defer l.Release()

	err := l.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyHeld)
}

func TestAcquireTimesOutWhenHeldByAnotherLock(t *testing.T) {
	path := lockPath(t)
	holder := New(path, 10*time.Millisecond)
	require.NoError(t, holder.Acquire(context.Background()))
	defer holder.Release()

	waiter := New(path, 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := waiter.Acquire(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestDoSerializesAcrossLocks(t *testing.T) {
	path := lockPath(t)
	var counter int64
	var observedOverlap bool
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := New(path, 5*time.Millisecond)
			err := l.Do(context.Background(), func() error {
				if !atomic.CompareAndSwapInt64(&counter, 0, 1) {
					mu.Lock()
					observedOverlap = true
					mu.Unlock()
				}
				time.Sleep(time.Millisecond)
				atomic.StoreInt64(&counter, 0)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.False(t, observedOverlap, "Do must serialize critical sections across Lock values sharing a path")
}

func TestReleaseWithoutAcquireIsNoop(t *testing.T) {
	l := New(lockPath(t), 0)
	assert.NoError(t, l.Release())
}

func TestNewDefaultsMaxBackoff(t *testing.T) {
	l := New(lockPath(t), 0)
	assert.Equal(t, 250*time.Millisecond, l.maxBackoff)
}

func TestLockFileCreatedIfAbsent(t *testing.T) {
	path := lockPath(t)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	l := New(path, 0)
	require.NoError(t, l.Acquire(context.Background()))
	defer l.Release()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
