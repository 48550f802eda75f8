package lock

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

func TestLock_AnonSemReentrant(t *testing.T) {
	l, code := New("", "")
	require.Equal(t, OK, code)

	assert.Equal(t, OK, l.Acquire(context.Background(), 0))
	assert.Equal(t, OK, l.Release())
	assert.Equal(t, OK, l.Acquire(context.Background(), 0))
	assert.Equal(t, OK, l.Release())
	assert.Equal(t, OK, l.Destroy())
}

func TestLock_AnonSemDoubleReleaseFails(t *testing.T) {
	l, code := New("", "")
	require.Equal(t, OK, code)

	require.Equal(t, OK, l.Acquire(context.Background(), 0))
	require.Equal(t, OK, l.Release())
	assert.Equal(t, ErrMisconfig, l.Release())
}

func TestLock_AnonSemTimeout(t *testing.T) {
	l, code := New("", "")
	require.Equal(t, OK, code)
	require.Equal(t, OK, l.Acquire(context.Background(), 0))

	got := l.Acquire(context.Background(), 20*time.Millisecond)
	assert.Equal(t, ErrFailed, got)

	assert.Equal(t, OK, l.Release())
}

func TestLock_FileLockRoundTrip(t *testing.T) {
	dir := t.TempDir()

	l, code := New(dir, "c1")
	require.Equal(t, OK, code)

	assert.Equal(t, OK, l.Acquire(context.Background(), 0))
	assert.Equal(t, OK, l.Release())
	assert.Equal(t, OK, l.Acquire(context.Background(), 0))
	assert.Equal(t, OK, l.Release())
	assert.Equal(t, OK, l.Destroy())

	_, err := os.Stat(filepath.Join(dir, "locks", "c1"))
	assert.NoError(t, err)
}

func TestLock_FileLockTimeoutRejected(t *testing.T) {
	dir := t.TempDir()

	l, code := New(dir, "c1")
	require.Equal(t, OK, code)

	assert.Equal(t, ErrMisconfig, l.Acquire(context.Background(), time.Second))
}

func TestLock_FileLockMissingLXCPathIsMisconfigured(t *testing.T) {
	_, code := New("", "c1")
	assert.Equal(t, ErrMisconfig, code)
}

// TestLock_FileLockSerializesGoroutines grounds the cross-process
// serialization guarantee in an in-process proxy: two goroutines
// contending on the same named lock must never both believe they hold it.
func TestLock_FileLockSerializesGoroutines(t *testing.T) {
	dir := t.TempDir()
	var active int32
	var sawOverlap bool
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, code := New(dir, "shared")
			if code != OK {
				return
			}
			if l.Acquire(context.Background(), 0) != OK {
				return
			}
			if atomic.AddInt32(&active, 1) > 1 {
				mu.Lock()
				sawOverlap = true
				mu.Unlock()
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			l.Release()
			l.Destroy()
		}()
	}
	wg.Wait()

	assert.False(t, sawOverlap)
}
