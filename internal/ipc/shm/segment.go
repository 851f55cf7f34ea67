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

// Package shm manages named shared-memory segments backed by mapped
// files under /dev/shm. A segment is a fixed header (capacity, bytes
// used, record count) followed by an opaque data area owned by the
// caller. Creation, attachment, detachment, and deletion are separate
// operations because unrelated processes attach to the same name.
package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// SegmentMagic identifies a windfeed registry segment.
	SegmentMagic = "WFREGSEG"

	// SegmentVersion is the current layout version.
	SegmentVersion = uint32(1)

	// HeaderSize is the segment header size (aligned to 64 bytes).
	HeaderSize = 64

	filePrefix = "windfeed_seg_"
)

var (
	// ErrExist reports that a segment already exists under the key.
	ErrExist = errors.New("segment already exists")
	// ErrNotExist reports that no segment exists under the key.
	ErrNotExist = errors.New("segment doesn't exist")
)

// Header is the shared 64-byte layout at offset 0 of the mapping.
// Fields are accessed atomically.
type Header struct {
	magic    [8]byte  // 0x00: "WFREGSEG"
	version  uint32   // 0x08: layout version
	_        uint32   // 0x0C: padding
	capacity uint64   // 0x10: bytes available for records
	used     uint64   // 0x18: bytes currently used
	count    uint32   // 0x20: number of records
	_        uint32   // 0x24: padding
	reserved [24]byte // 0x28-0x3F: reserved to 64B
}

// Segment is one process's attachment to a named shared-memory segment.
type Segment struct {
	file *os.File
	mem  []byte
	hdr  *Header

	// Key is the name the segment was created or opened under.
	Key string
	// Path is the backing file path.
	Path string
}

// Path returns the filesystem path backing the segment for a key.
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

// Create creates and attaches a new segment with room for capacity
// bytes of records. Fails with ErrExist if the name is taken.
func Create(key string, capacity uint64) (*Segment, error) {
	path := Path(key)
	total := HeaderSize + capacity

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0666)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrExist, path)
		}
		return nil, fmt.Errorf("creating segment file %s: %w", path, err)
	}

	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := file.Truncate(int64(total)); err != nil {
		cleanup()
		return nil, fmt.Errorf("sizing segment file to %d bytes: %w", total, err)
	}

	mem, err := mmapFile(file, int(total))
	if err != nil {
		cleanup()
		return nil, err
	}

	seg := &Segment{
		file: file,
		mem:  mem,
		hdr:  (*Header)(unsafe.Pointer(&mem[0])),
		Key:  key,
		Path: path,
	}
	copy(seg.hdr.magic[:], SegmentMagic)
	atomic.StoreUint32(&seg.hdr.version, SegmentVersion)
	atomic.StoreUint64(&seg.hdr.capacity, capacity)
	atomic.StoreUint64(&seg.hdr.used, 0)
	atomic.StoreUint32(&seg.hdr.count, 0)
	return seg, nil
}

// Open attaches to an existing segment. The contents are not modified.
func Open(key string) (*Segment, error) {
	path := Path(key)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, path)
		}
		return nil, fmt.Errorf("opening segment file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	size := info.Size()
	if size < HeaderSize {
		file.Close()
		return nil, fmt.Errorf("segment file %s too small: %d bytes", path, size)
	}

	mem, err := mmapFile(file, int(size))
	if err != nil {
		file.Close()
		return nil, err
	}

	seg := &Segment{
		file: file,
		mem:  mem,
		hdr:  (*Header)(unsafe.Pointer(&mem[0])),
		Key:  key,
		Path: path,
	}
	if err := seg.validate(uint64(size)); err != nil {
		seg.Detach()
		return nil, err
	}
	return seg, nil
}

// Remove unlinks the named segment. An attachment in another process
// stays valid until that process detaches; only the name goes away.
func Remove(key string) error {
	if err := os.Remove(Path(key)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return fmt.Errorf("removing segment: %w", err)
	}
	return nil
}

// Exists reports whether a segment exists under the key.
func Exists(key string) bool {
	_, err := os.Stat(Path(key))
	return err == nil
}

func (s *Segment) validate(fileSize uint64) error {
	if string(s.hdr.magic[:]) != SegmentMagic {
		return fmt.Errorf("segment %s: invalid magic bytes", s.Path)
	}
	if v := atomic.LoadUint32(&s.hdr.version); v != SegmentVersion {
		return fmt.Errorf("segment %s: unsupported version %d, expected %d", s.Path, v, SegmentVersion)
	}
	capacity := atomic.LoadUint64(&s.hdr.capacity)
	if HeaderSize+capacity > fileSize {
		return fmt.Errorf("segment %s: capacity %d exceeds file size %d", s.Path, capacity, fileSize)
	}
	if used := atomic.LoadUint64(&s.hdr.used); used > capacity {
		return fmt.Errorf("segment %s: used %d exceeds capacity %d", s.Path, used, capacity)
	}
	return nil
}

// Detach unmaps the segment from this process and closes the backing
// file. Idempotent. The segment itself survives for other processes.
func (s *Segment) Detach() error {
	var firstErr error
	if s.mem != nil {
		if err := unix.Munmap(s.mem); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("munmap segment: %w", err)
		}
		s.mem = nil
		s.hdr = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing segment file: %w", err)
		}
		s.file = nil
	}
	return firstErr
}

// Capacity returns the number of bytes available for records.
func (s *Segment) Capacity() uint64 {
	return atomic.LoadUint64(&s.hdr.capacity)
}

// Used returns the number of bytes currently used by records.
func (s *Segment) Used() uint64 {
	return atomic.LoadUint64(&s.hdr.used)
}

// SetUsed sets the number of bytes currently used by records.
func (s *Segment) SetUsed(n uint64) {
	atomic.StoreUint64(&s.hdr.used, n)
}

// Count returns the number of records.
func (s *Segment) Count() uint32 {
	return atomic.LoadUint32(&s.hdr.count)
}

// SetCount sets the number of records.
func (s *Segment) SetCount(n uint32) {
	atomic.StoreUint32(&s.hdr.count, n)
}

// Data returns the record area of the mapping.
func (s *Segment) Data() []byte {
	return s.mem[HeaderSize:]
}

// mmapFile memory maps a file.
func mmapFile(file *os.File, size int) ([]byte, error) {
	mem, err := unix.Mmap(int(file.Fd()), 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap segment: %w", err)
	}
	return mem, nil
}
