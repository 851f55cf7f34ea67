/*
 *
 * Copyright 2025 windfeed authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package rwlock implements a cross-process read/write lock over futex
// words in a small shared file mapping.
//
// The shared state is two counters: LOCK (1 free, 0 held) and READERS.
// A reader acquires LOCK, increments READERS, and releases LOCK, so it
// holds nothing but its READERS increment while reading. A writer
// acquires LOCK and then waits for READERS to drain to zero, holding
// LOCK for the whole write. READERS can only grow under LOCK, so once a
// writer holds LOCK the count is monotonically non-increasing and the
// two-step wait is race-free.
//
// A handle is reentrant within one process: repeated WriteLock (or
// ReadLock) calls by the holder increment a private counter and each
// must be paired with an Unlock. Holding both modes at once is refused
// with ErrExist; there is no upgrade or downgrade. The handle tracks the
// process ID it was last used from, and resets its private counters when
// the ID changes: a forked child starts from zero rather than inheriting
// the parent's held counts.
package rwlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Error taxonomy. Callers dispatch with errors.Is.
var (
	// ErrInvalid reports a corrupt or uninitialized lock.
	ErrInvalid = errors.New("invalid lock")
	// ErrExist reports an incompatible hold, freeing a held lock, or
	// deleting a nonexistent lock.
	ErrExist = errors.New("lock state conflict")
	// ErrSystem reports an operating-system primitive failure.
	ErrSystem = errors.New("system error")
)

const (
	stateMagic uint32 = 0x57465257 // "WFRW"
	stateSize         = 16

	lockFree uint32 = 1
	lockHeld uint32 = 0

	filePrefix = "windfeed_lock_"
)

var logger = zap.NewNop()

// SetLogger replaces the package logger. Not safe to call concurrently
// with lock operations.
func SetLogger(l *zap.Logger) {
	logger = l
}

// lockState is the shared 16-byte layout at offset 0 of the mapping.
// All fields are accessed atomically.
type lockState struct {
	magic   uint32
	lock    uint32 // 1 free, 0 held
	readers uint32
	_       uint32
}

// Lock is a process-local handle onto a shared read/write lock. It is
// not safe for concurrent use by multiple goroutines.
type Lock struct {
	key   string
	file  *os.File
	mem   []byte
	state *lockState
	valid bool

	// Process-private hold counts. Reset when the process ID changes
	// (see vet).
	pid           int
	numReadLocks  uint
	numWriteLocks uint
}

// Path returns the filesystem path backing the lock for a key.
func Path(key string) string {
	return filepath.Join(shmDir(), filePrefix+key)
}

// shmDir prefers /dev/shm and falls back to the temporary directory.
func shmDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Create creates the shared lock for a key. Any previous lock under the
// same key is deleted first, so Create does not fail on a leftover.
func Create(key string) (*Lock, error) {
	path := Path(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("couldn't remove previous lock file",
			zap.String("path", path), zap.Error(err))
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0666)
	if err != nil {
		logger.Error("couldn't create lock file", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%w: creating lock file %s: %v", ErrSystem, path, err)
	}
	if err := file.Truncate(stateSize); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w: sizing lock file: %v", ErrSystem, err)
	}

	l, err := mapLock(key, file)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	atomic.StoreUint32(&l.state.lock, lockFree)
	atomic.StoreUint32(&l.state.readers, 0)
	atomic.StoreUint32(&l.state.magic, stateMagic)
	return l, nil
}

// Get obtains a handle onto an existing shared lock.
func Get(key string) (*Lock, error) {
	path := Path(key)
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: lock %s doesn't exist", ErrExist, key)
		}
		return nil, fmt.Errorf("%w: opening lock file %s: %v", ErrSystem, path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: stat lock file: %v", ErrSystem, err)
	}
	if info.Size() < stateSize {
		file.Close()
		return nil, fmt.Errorf("%w: lock file %s too small (%d bytes)", ErrInvalid, path, info.Size())
	}

	l, err := mapLock(key, file)
	if err != nil {
		file.Close()
		return nil, err
	}
	if atomic.LoadUint32(&l.state.magic) != stateMagic {
		l.unmap()
		return nil, fmt.Errorf("%w: bad magic in lock file %s", ErrInvalid, path)
	}
	return l, nil
}

// DeleteByKey unconditionally deletes the shared lock for a key.
// Handles in other processes keep their mappings until they detach, but
// the name is gone.
func DeleteByKey(key string) error {
	if err := os.Remove(Path(key)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: lock %s doesn't exist", ErrExist, key)
		}
		return fmt.Errorf("%w: removing lock file: %v", ErrSystem, err)
	}
	return nil
}

func mapLock(key string, file *os.File) (*Lock, error) {
	mem, err := unix.Mmap(int(file.Fd()), 0, stateSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap lock file: %v", ErrSystem, err)
	}
	return &Lock{
		key:   key,
		file:  file,
		mem:   mem,
		state: (*lockState)(unsafe.Pointer(&mem[0])),
		valid: true,
		pid:   os.Getpid(),
	}, nil
}

// vet validates the handle and applies the fork rule: if the current
// process ID differs from the stored one, the private hold counts are
// stale copies from the parent and are reset to zero.
func (l *Lock) vet() error {
	if l == nil || !l.valid || l.state == nil {
		logger.Error("invalid lock structure")
		return ErrInvalid
	}
	if pid := os.Getpid(); pid != l.pid {
		l.numReadLocks = 0
		l.numWriteLocks = 0
		l.pid = pid
	}
	return nil
}

// WriteLock locks for writing, waiting until the lock is available.
// Reentrant: a holder of the write lock may call it again. Fails with
// ErrExist if this handle holds a read lock. On a system failure the
// resulting state of the shared lock is unspecified.
func (l *Lock) WriteLock() error {
	if err := l.vet(); err != nil {
		return err
	}
	if l.numReadLocks > 0 {
		logger.Error("lock is locked for reading", zap.String("key", l.key))
		return fmt.Errorf("%w: lock is locked for reading", ErrExist)
	}
	if l.numWriteLocks > 0 {
		l.numWriteLocks++
		return nil
	}

	if err := l.acquire(); err != nil {
		logger.Error("couldn't lock for writing", zap.String("key", l.key), zap.Error(err))
		return fmt.Errorf("%w: write lock: %v", ErrSystem, err)
	}
	if err := l.awaitNoReaders(); err != nil {
		logger.Error("couldn't wait out readers", zap.String("key", l.key), zap.Error(err))
		return fmt.Errorf("%w: write lock: %v", ErrSystem, err)
	}
	l.numWriteLocks = 1
	return nil
}

// ReadLock locks for reading, waiting until the lock is available.
// Reentrant. Fails with ErrExist if this handle holds the write lock.
func (l *Lock) ReadLock() error {
	if err := l.vet(); err != nil {
		return err
	}
	if l.numWriteLocks > 0 {
		logger.Error("lock is locked for writing", zap.String("key", l.key))
		return fmt.Errorf("%w: lock is locked for writing", ErrExist)
	}
	if l.numReadLocks > 0 {
		l.numReadLocks++
		return nil
	}

	if err := l.acquire(); err != nil {
		logger.Error("couldn't lock for reading", zap.String("key", l.key), zap.Error(err))
		return fmt.Errorf("%w: read lock: %v", ErrSystem, err)
	}
	atomic.AddUint32(&l.state.readers, 1)
	if err := l.release(); err != nil {
		logger.Error("couldn't share read lock", zap.String("key", l.key), zap.Error(err))
		return fmt.Errorf("%w: read lock: %v", ErrSystem, err)
	}
	l.numReadLocks = 1
	return nil
}

// Unlock undoes one level of whichever mode is held. It must be called
// as many times as the lock was locked before the lock is truly
// released. Unlocking an unheld lock is a no-op.
func (l *Lock) Unlock() error {
	if err := l.vet(); err != nil {
		return err
	}
	switch {
	case l.numWriteLocks > 1:
		l.numWriteLocks--
	case l.numWriteLocks == 1:
		if err := l.release(); err != nil {
			logger.Error("couldn't unlock write lock", zap.String("key", l.key), zap.Error(err))
			return fmt.Errorf("%w: unlock: %v", ErrSystem, err)
		}
		l.numWriteLocks--
	case l.numReadLocks > 1:
		l.numReadLocks--
	case l.numReadLocks == 1:
		if atomic.AddUint32(&l.state.readers, ^uint32(0)) == 0 {
			// The only possible waiter on the READERS word is a writer
			// that already holds LOCK.
			if _, err := futexWake(&l.state.readers, 1); err != nil {
				logger.Error("couldn't wake writer", zap.String("key", l.key), zap.Error(err))
				return fmt.Errorf("%w: unlock: %v", ErrSystem, err)
			}
		}
		l.numReadLocks--
	}
	return nil
}

// Free releases the process-local resources of the handle. The shared
// lock itself survives. Fails with ErrExist if the handle still holds
// the lock in either mode. Freeing a nil handle succeeds.
func (l *Lock) Free() error {
	if l == nil {
		return nil
	}
	if err := l.vet(); err != nil {
		return err
	}
	if l.numReadLocks != 0 || l.numWriteLocks != 0 {
		logger.Error("lock is locked",
			zap.String("key", l.key),
			zap.Uint("numReadLocks", l.numReadLocks),
			zap.Uint("numWriteLocks", l.numWriteLocks))
		return fmt.Errorf("%w: lock is locked", ErrExist)
	}
	return l.unmap()
}

func (l *Lock) unmap() error {
	l.valid = false
	l.state = nil
	var firstErr error
	if l.mem != nil {
		if err := unix.Munmap(l.mem); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: munmap lock: %v", ErrSystem, err)
		}
		l.mem = nil
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: closing lock file: %v", ErrSystem, err)
		}
		l.file = nil
	}
	return firstErr
}

// acquire takes the LOCK word, waiting while another process holds it.
func (l *Lock) acquire() error {
	for {
		if atomic.CompareAndSwapUint32(&l.state.lock, lockFree, lockHeld) {
			return nil
		}
		if err := futexWait(&l.state.lock, lockHeld); err != nil {
			return err
		}
	}
}

// release frees the LOCK word and wakes one waiter.
func (l *Lock) release() error {
	atomic.StoreUint32(&l.state.lock, lockFree)
	_, err := futexWake(&l.state.lock, 1)
	return err
}

// awaitNoReaders blocks until the READERS count drains to zero. Must be
// called with the LOCK word held, which prevents new readers.
func (l *Lock) awaitNoReaders() error {
	for {
		r := atomic.LoadUint32(&l.state.readers)
		if r == 0 {
			return nil
		}
		if err := futexWait(&l.state.readers, r); err != nil {
			return err
		}
	}
}
