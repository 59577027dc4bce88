// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// LockProber reports whether another process holds the exclusive counter lock
type LockProber interface {
	Held() (bool, error)
}

// ProberFunc adapts a function to LockProber
type ProberFunc func() (bool, error)

func (f ProberFunc) Held() (bool, error) {
	return f()
}

// fileLock probes a POSIX write lock with F_GETLK without taking it
type fileLock struct {
	path string

	mu   sync.Mutex
	file *os.File
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path}
}

func (l *fileLock) Held() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return false, fmt.Errorf("failed to open lock file: %w", err)
		}
		l.file = f
	}

	lk := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: io.SeekStart,
	}
	if err := unix.FcntlFlock(l.file.Fd(), unix.F_GETLK, &lk); err != nil {
		return false, fmt.Errorf("failed to query lock %s: %w", l.path, err)
	}
	return lk.Type != unix.F_UNLCK, nil
}

func (l *fileLock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
