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

package shm

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"
)

// createTestSegment creates a segment with a unique key and registers
// cleanup so the backing file is always removed.
func createTestSegment(t *testing.T, capacity uint64) (*Segment, string) {
	t.Helper()

	key := fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano())
	Remove(key)

	seg, err := Create(key, capacity)
	if err != nil {
		t.Fatalf("Create(%q, %d) failed: %v", key, capacity, err)
	}
	t.Cleanup(func() {
		seg.Detach()
		Remove(key)
	})
	return seg, key
}

func TestCreateInitializesHeader(t *testing.T) {
	seg, _ := createTestSegment(t, 4096)

	if got := seg.Capacity(); got != 4096 {
		t.Errorf("Capacity() = %d, want 4096", got)
	}
	if got := seg.Used(); got != 0 {
		t.Errorf("Used() = %d, want 0", got)
	}
	if got := seg.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
	if got := len(seg.Data()); got != 4096 {
		t.Errorf("len(Data()) = %d, want 4096", got)
	}
}

func TestCreateExistingFails(t *testing.T) {
	_, key := createTestSegment(t, 1024)

	if _, err := Create(key, 1024); !errors.Is(err, ErrExist) {
		t.Errorf("Create of existing segment = %v, want ErrExist", err)
	}
}

func TestOpenMissingFails(t *testing.T) {
	key := fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano())

	if _, err := Open(key); !errors.Is(err, ErrNotExist) {
		t.Errorf("Open of missing segment = %v, want ErrNotExist", err)
	}
}

func TestDataVisibleAcrossAttachments(t *testing.T) {
	seg, key := createTestSegment(t, 1024)

	payload := []byte("upstream entry bytes")
	copy(seg.Data(), payload)
	seg.SetUsed(uint64(len(payload)))
	seg.SetCount(1)

	other, err := Open(key)
	if err != nil {
		t.Fatalf("Open(%q) failed: %v", key, err)
	}
	defer other.Detach()

	if got := other.Used(); got != uint64(len(payload)) {
		t.Errorf("Used() via second attachment = %d, want %d", got, len(payload))
	}
	if got := other.Count(); got != 1 {
		t.Errorf("Count() via second attachment = %d, want 1", got)
	}
	if !bytes.Equal(other.Data()[:len(payload)], payload) {
		t.Errorf("Data() via second attachment = %q, want %q",
			other.Data()[:len(payload)], payload)
	}
}

func TestDetachIdempotent(t *testing.T) {
	seg, _ := createTestSegment(t, 512)

	if err := seg.Detach(); err != nil {
		t.Fatalf("first Detach failed: %v", err)
	}
	if err := seg.Detach(); err != nil {
		t.Errorf("second Detach failed: %v", err)
	}
}

func TestRemoveLeavesAttachmentValid(t *testing.T) {
	seg, key := createTestSegment(t, 512)

	copy(seg.Data(), []byte("still here"))
	seg.SetUsed(10)

	if err := Remove(key); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if Exists(key) {
		t.Error("Exists() = true after Remove")
	}

	// The mapping survives the unlink.
	if got := seg.Used(); got != 10 {
		t.Errorf("Used() after Remove = %d, want 10", got)
	}
	if !bytes.Equal(seg.Data()[:10], []byte("still here")) {
		t.Error("data not readable after Remove")
	}

	if err := Remove(key); !errors.Is(err, ErrNotExist) {
		t.Errorf("second Remove = %v, want ErrNotExist", err)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	seg, key := createTestSegment(t, 512)

	copy(seg.hdr.magic[:], "GARBAGE!")

	if _, err := Open(key); err == nil {
		t.Error("Open of corrupt segment succeeded, want error")
	}
}
