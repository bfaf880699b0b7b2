//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

package codec

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("persisted state is locked by another process")

// FileLock is an advisory exclusive lock on path + ".lock".
type FileLock struct {
	f *os.File
}

// Lock takes a non-blocking exclusive flock next to path.
func Lock(path string) (*FileLock, error) {
	name := path + ".lock"

	f, err := os.OpenFile(name, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrIO, name, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()

		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, name)
		}

		return nil, fmt.Errorf("%w: locking %s: %w", ErrIO, name, err)
	}

	return &FileLock{f: f}, nil
}

// Unlock releases the lock. Safe to call more than once.
func (l *FileLock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}

	f := l.f
	l.f = nil

	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		f.Close()

		return fmt.Errorf("%w: unlocking %s: %w", ErrIO, f.Name(), err)
	}

	return f.Close()
}
