//go:build linux && (amd64 || arm64)

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

package rwlock

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// createTestLock creates a lock with a unique key and registers cleanup.
func createTestLock(t *testing.T) (*Lock, string) {
	t.Helper()

	key := fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano())
	l, err := Create(key)
	if err != nil {
		t.Fatalf("Create(%q) failed: %v", key, err)
	}
	t.Cleanup(func() {
		l.Unlock()
		l.Free()
		DeleteByKey(key)
	})
	return l, key
}

func TestCreateGetDelete(t *testing.T) {
	_, key := createTestLock(t)

	other, err := Get(key)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	if err := other.Free(); err != nil {
		t.Errorf("Free() failed: %v", err)
	}

	if err := DeleteByKey(key); err != nil {
		t.Fatalf("DeleteByKey(%q) failed: %v", key, err)
	}
	if err := DeleteByKey(key); !errors.Is(err, ErrExist) {
		t.Errorf("second DeleteByKey = %v, want ErrExist", err)
	}
	if _, err := Get(key); !errors.Is(err, ErrExist) {
		t.Errorf("Get after delete = %v, want ErrExist", err)
	}
}

func TestCreateReplacesPreviousLock(t *testing.T) {
	_, key := createTestLock(t)

	// A second Create under the same key must succeed: any previous
	// lock is deleted first.
	l2, err := Create(key)
	if err != nil {
		t.Fatalf("second Create(%q) failed: %v", key, err)
	}
	if err := l2.Free(); err != nil {
		t.Errorf("Free() failed: %v", err)
	}
}

func TestWriteLockReentrant(t *testing.T) {
	l, _ := createTestLock(t)

	if err := l.WriteLock(); err != nil {
		t.Fatalf("first WriteLock failed: %v", err)
	}
	if err := l.WriteLock(); err != nil {
		t.Fatalf("second WriteLock failed: %v", err)
	}

	// One unlock must leave the lock held.
	if err := l.Unlock(); err != nil {
		t.Fatalf("first Unlock failed: %v", err)
	}
	if l.numWriteLocks != 1 {
		t.Fatalf("numWriteLocks = %d after one unlock, want 1", l.numWriteLocks)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("second Unlock failed: %v", err)
	}
	if got := atomic.LoadUint32(&l.state.lock); got != lockFree {
		t.Errorf("LOCK word = %d after full unlock, want %d", got, lockFree)
	}
}

func TestReadLockReentrant(t *testing.T) {
	l, _ := createTestLock(t)

	if err := l.ReadLock(); err != nil {
		t.Fatalf("first ReadLock failed: %v", err)
	}
	if err := l.ReadLock(); err != nil {
		t.Fatalf("second ReadLock failed: %v", err)
	}
	if got := atomic.LoadUint32(&l.state.readers); got != 1 {
		t.Errorf("READERS = %d with one reentrant holder, want 1", got)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("first Unlock failed: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("second Unlock failed: %v", err)
	}
	if got := atomic.LoadUint32(&l.state.readers); got != 0 {
		t.Errorf("READERS = %d after full unlock, want 0", got)
	}
}

func TestModeMixingFails(t *testing.T) {
	l, _ := createTestLock(t)

	if err := l.WriteLock(); err != nil {
		t.Fatalf("WriteLock failed: %v", err)
	}
	if err := l.ReadLock(); !errors.Is(err, ErrExist) {
		t.Errorf("ReadLock while write-held = %v, want ErrExist", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	if err := l.ReadLock(); err != nil {
		t.Fatalf("ReadLock failed: %v", err)
	}
	if err := l.WriteLock(); !errors.Is(err, ErrExist) {
		t.Errorf("WriteLock while read-held = %v, want ErrExist", err)
	}
}

func TestFreeHeldLockFails(t *testing.T) {
	l, _ := createTestLock(t)

	if err := l.WriteLock(); err != nil {
		t.Fatalf("WriteLock failed: %v", err)
	}
	if err := l.Free(); !errors.Is(err, ErrExist) {
		t.Errorf("Free of held lock = %v, want ErrExist", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if err := l.Free(); err != nil {
		t.Errorf("Free of released lock failed: %v", err)
	}
	if err := l.WriteLock(); !errors.Is(err, ErrInvalid) {
		t.Errorf("WriteLock after Free = %v, want ErrInvalid", err)
	}
}

func TestForkRuleResetsCounters(t *testing.T) {
	l, _ := createTestLock(t)

	if err := l.WriteLock(); err != nil {
		t.Fatalf("WriteLock failed: %v", err)
	}

	// Simulate the handle having been inherited across a fork: the
	// stored process ID no longer matches.
	l.pid = l.pid + 1

	if err := l.vet(); err != nil {
		t.Fatalf("vet failed: %v", err)
	}
	if l.numWriteLocks != 0 || l.numReadLocks != 0 {
		t.Errorf("counters = (%d, %d) after pid change, want (0, 0)",
			l.numWriteLocks, l.numReadLocks)
	}

	// Let cleanup release the still-held shared word.
	atomic.StoreUint32(&l.state.lock, lockFree)
}

func TestWriterExcludesWriter(t *testing.T) {
	l, key := createTestLock(t)

	other, err := Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer other.Free()

	if err := l.WriteLock(); err != nil {
		t.Fatalf("WriteLock failed: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		if err := other.WriteLock(); err != nil {
			t.Errorf("other.WriteLock failed: %v", err)
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second writer acquired while first still held")
	case <-time.After(50 * time.Millisecond):
	}

	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second writer never acquired after unlock")
	}
	if err := other.Unlock(); err != nil {
		t.Errorf("other.Unlock failed: %v", err)
	}
}

func TestWriterWaitsForReaders(t *testing.T) {
	l, key := createTestLock(t)

	reader, err := Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer reader.Free()

	if err := reader.ReadLock(); err != nil {
		t.Fatalf("ReadLock failed: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		if err := l.WriteLock(); err != nil {
			t.Errorf("WriteLock failed: %v", err)
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("writer acquired while a reader was active")
	case <-time.After(50 * time.Millisecond):
	}

	if err := reader.Unlock(); err != nil {
		t.Fatalf("reader.Unlock failed: %v", err)
	}
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never acquired after last reader left")
	}
	if err := l.Unlock(); err != nil {
		t.Errorf("Unlock failed: %v", err)
	}
}

func TestConcurrentReadersShareLock(t *testing.T) {
	l, key := createTestLock(t)

	if err := l.ReadLock(); err != nil {
		t.Fatalf("ReadLock failed: %v", err)
	}

	other, err := Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer other.Free()

	done := make(chan error, 1)
	go func() {
		if err := other.ReadLock(); err != nil {
			done <- err
			return
		}
		done <- other.Unlock()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second reader failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second reader blocked behind first reader")
	}
	if err := l.Unlock(); err != nil {
		t.Errorf("Unlock failed: %v", err)
	}
}
