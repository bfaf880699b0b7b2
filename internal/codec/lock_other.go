//go:build !(linux || darwin || freebsd || openbsd || netbsd || dragonfly)

package codec

import "errors"

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("persisted state is locked by another process")

// FileLock is a no-op on platforms without flock.
type FileLock struct{}

// Lock always succeeds on this platform.
func Lock(_ string) (*FileLock, error) {
	return &FileLock{}, nil
}

// Unlock is a no-op.
func (l *FileLock) Unlock() error {
	return nil
}
