// Package hostlock implements the shared advisory file lock that makes
// cross-process "inspect the set of instances, then decide" atomic for
// coordination phases.
package hostlock

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/boshu2/jobphaser/internal/logging"
)

var log = logging.New("hostlock")

// ErrAlreadyHeld is returned by Acquire when called again on a Lock already
// held by this same Lock value without an intervening Release.
var ErrAlreadyHeld = errors.New("hostlock: lock already held")

// ErrTimeout is returned by Acquire when the context is done before the
// lock could be obtained.
var ErrTimeout = errors.New("hostlock: timed out acquiring lock")

const (
	minBackoff = 10 * time.Millisecond
)

// Lock is a process-wide advisory lock backed by a single file path,
// built on syscall.Flock. One Lock value must not be
// shared concurrently across goroutines that both call Acquire — pair it
// with a sync.Mutex at a higher level, or construct one Lock per goroutine
// against the same path (the kernel-level flock still serializes them).
type Lock struct {
	path       string
	maxBackoff time.Duration

	mu   sync.Mutex
	file *os.File
}

// New returns a Lock over path. maxBackoff bounds the randomised retry
// delay; if <= 0 it defaults to
// 250ms.
func New(path string, maxBackoff time.Duration) *Lock {
	if maxBackoff <= 0 {
		maxBackoff = 250 * time.Millisecond
	}
	return &Lock{path: path, maxBackoff: maxBackoff}
}

// Acquire blocks, retrying with randomised back-off between minBackoff and
// maxBackoff, until the lock is obtained or ctx is done. Back-off is
// randomised rather than fixed to avoid a thundering herd of retrying
// processes waking in lockstep.
func (l *Lock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return ErrAlreadyHeld
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}

	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			l.file = f
			return nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			f.Close()
			return err
		}

		delay := minBackoff + time.Duration(rand.Int63n(int64(l.maxBackoff-minBackoff+1)))
		select {
		case <-ctx.Done():
			f.Close()
			return ErrTimeout
		case <-time.After(delay):
		}
	}
}

// Release unlocks and closes the underlying file descriptor. Safe to call
// even if Acquire was never successfully called; it is then a no-op.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return err
	}
	return closeErr
}

// Do acquires the lock, runs fn, and releases the lock unconditionally
// afterwards — the convenience shape every coordination phase uses for its
// inspect-then-decide critical section.
func (l *Lock) Do(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if err := l.Release(); err != nil {
			log.Warn("failed to release host lock", "path", l.path, "err", err)
		}
	}()
	return fn()
}
