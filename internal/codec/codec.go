// Package codec reads and writes counter arrays as a flat sequence of
// big-endian 4-byte signed integers.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// RecordSize is the width of one encoded counter in bytes.
const RecordSize = 4

var (
	// ErrCorruptPersistedState is returned when a file cannot hold a whole
	// number of counters.
	ErrCorruptPersistedState = errors.New("corrupt persisted state")
	// ErrIO wraps any underlying filesystem failure.
	ErrIO = errors.New("persisted state I/O failure")
)

// Encode serialises counters into a new buffer.
func Encode(counters []int32) []byte {
	buf := make([]byte, len(counters)*RecordSize)

	for i, c := range counters {
		binary.BigEndian.PutUint32(buf[i*RecordSize:], uint32(c))
	}

	return buf
}

// Decode reverses Encode.
func Decode(data []byte) ([]int32, error) {
	if len(data)%RecordSize != 0 {
		return nil, fmt.Errorf(
			"%w: %d bytes is not a multiple of %d",
			ErrCorruptPersistedState, len(data), RecordSize,
		)
	}

	counters := make([]int32, len(data)/RecordSize)

	for i := range counters {
		counters[i] = int32(binary.BigEndian.Uint32(data[i*RecordSize:]))
	}

	return counters, nil
}

// Write stores counters at path. The encoded array goes out in a single
// write to a temporary file next to path, which is then synced and renamed
// over path so readers never see a partial file.
func Write(counters []int32, path string) error {
	buf := Encode(counters)

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file for %s: %w", ErrIO, path, err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("%w: writing %s: %w", ErrIO, tmpName, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("%w: syncing %s: %w", ErrIO, tmpName, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("%w: closing %s: %w", ErrIO, tmpName, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("%w: renaming %s to %s: %w", ErrIO, tmpName, path, err)
	}

	return nil
}

// Read loads the counters stored at path. A missing file surfaces as an
// error matching os.ErrNotExist.
func Read(path string) ([]int32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrIO, path, err)
	}

	counters, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	return counters, nil
}
