// Package dirstore implements internal/cache.Store as a directory of one
// file per key, each holding the opaque value followed by an 8-byte
// little-endian Unix-nanosecond timestamp suffix. It is the one concrete,
// on-disk key/value engine this repository ships; any engine satisfying
// cache.Store can be swapped in.
package dirstore

import (
	"context"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pentve/rowcap/internal/cache"
)

// tsLength is the width, in bytes, of the trailing timestamp suffix this
// store appends to every stored value.
const tsLength = 8

// Store is a directory-backed cache.Store. The zero value is not usable;
// construct one with New.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[cache.Key]*sync.Mutex
}

var _ cache.Store = (*Store)(nil)

// New removes any existing contents of dir (see Clear), recreates the store
// directory there and returns a Store rooted at it.
func New(dir string) (*Store, error) {
	if err := Clear(dir); err != nil {
		return nil, fmt.Errorf("dirstore: clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("dirstore: create %s: %w", dir, err)
	}
	return &Store{dir: dir, locks: make(map[cache.Key]*sync.Mutex)}, nil
}

func (s *Store) keyLock(key cache.Key) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// path names the file for key by its unpadded base32 form (205 characters),
// which stays under the common 255-byte file-name limit; the 256-character
// hex form of a 128-byte key does not.
func (s *Store) path(key cache.Key) string {
	return filepath.Join(s.dir, base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(key[:]))
}

// Get reads the entry stored under key, splitting the trailing timestamp
// suffix off the returned value.
func (s *Store) Get(_ context.Context, key cache.Key) ([]byte, time.Time, bool, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	raw, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("dirstore: read: %w", err)
	}
	if len(raw) < tsLength {
		return nil, time.Time{}, false, fmt.Errorf("dirstore: truncated entry for key %x", key[:8])
	}

	split := len(raw) - tsLength
	nanos := int64(binary.LittleEndian.Uint64(raw[split:]))
	value := make([]byte, split)
	copy(value, raw[:split])
	return value, time.Unix(0, nanos), true, nil
}

// Put unconditionally overwrites the entry stored under key, appending the
// current time as the entry's timestamp suffix. The write lands via a
// temp-file-then-rename so a concurrent Get never observes a partial file.
func (s *Store) Put(_ context.Context, key cache.Key, value []byte) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	buf := make([]byte, len(value)+tsLength)
	copy(buf, value)
	binary.LittleEndian.PutUint64(buf[len(value):], uint64(time.Now().UnixNano()))

	tmp, err := os.CreateTemp(s.dir, "put-*.tmp")
	if err != nil {
		return fmt.Errorf("dirstore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("dirstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("dirstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(key)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("dirstore: rename: %w", err)
	}
	return nil
}

// Delete removes the entry stored under key, if any.
func (s *Store) Delete(_ context.Context, key cache.Key) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("dirstore: delete: %w", err)
	}
	return nil
}

// Clear removes every file and subdirectory under the store root with a
// depth-first, post-order walk: directory contents are removed before the
// directory itself, and the directory handle opened for each level is
// always released. A store root that does not exist is treated as
// already-cleared.
func Clear(root string) error {
	err := clearDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func clearDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	entries, err := f.ReadDir(-1)
	closeErr := f.Close()
	if err != nil {
		return fmt.Errorf("dirstore: read dir %s: %w", dir, err)
	}
	if closeErr != nil {
		return fmt.Errorf("dirstore: close dir %s: %w", dir, closeErr)
	}

	for _, entry := range entries {
		child := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := clearDir(child); err != nil {
				return err
			}
			continue
		}
		if err := os.Remove(child); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("dirstore: remove %s: %w", child, err)
		}
	}

	if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("dirstore: remove dir %s: %w", dir, err)
	}
	return nil
}
