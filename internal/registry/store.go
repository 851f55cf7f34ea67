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

package registry

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"github.com/windfeed/windfeed/internal/feed"
	"github.com/windfeed/windfeed/internal/ipc/shm"
)

// Record layout, little-endian. Each record kind is rounded up to its
// own natural alignment, probed once at init.
//
// Entry header (24 bytes):
//	0x00 size      uint32  total entry size including the class
//	0x04 pid       uint32
//	0x08 protoVers uint32
//	0x0C flags     uint32  bit0 notifier, bit1 primary
//	0x10 ip        [4]byte IPv4 of the downstream peer
//	0x14 port      uint16
//	0x16 pad       uint16
//
// Class header (24 bytes):
//	0x00 from      int64   unix nanoseconds
//	0x08 to        int64   unix nanoseconds
//	0x10 specsSize uint32  packed size of the spec records
//	0x14 pad       uint32
//
// Spec header (8 bytes):
//	0x00 size      uint32  total spec size including pattern and NUL
//	0x04 feedtype  uint32
//	0x08 pattern   []byte  NUL-terminated
const (
	entryHdrSize = 24
	classHdrSize = 24
	specHdrSize  = 8

	flagNotifier = uint32(1 << 0)
	flagPrimary  = uint32(1 << 1)
)

// Natural alignments, probed by divisibility against {8, 4, 2, 1}. If
// none divide evenly the record is byte-aligned.
var (
	entryAlign = alignOf(entryHdrSize)
	classAlign = alignOf(classHdrSize)
	specAlign  = alignOf(specHdrSize)
)

func alignOf(size uint64) uint64 {
	for _, a := range []uint64{8, 4, 2, 1} {
		if size%a == 0 {
			return a
		}
	}
	return size
}

// roundUp returns the smallest multiple of base that is >= value.
func roundUp(value, base uint64) uint64 {
	return (value + base - 1) / base * base
}

// Entry is one registered upstream worker process.
type Entry struct {
	PID        int32
	ProtoVers  int32
	IsNotifier bool
	IsPrimary  bool
	Addr       netip.AddrPort
	Class      feed.Class
}

// String renders the entry the way the preemption log lines want it.
func (e Entry) String() string {
	kind, mode := "feeder", "alternate"
	if e.IsNotifier {
		kind = "notifier"
	}
	if e.IsPrimary {
		mode = "primary"
	}
	return fmt.Sprintf("(addr=%s, pid=%d, vers=%d, type=%s, mode=%s, sub=%s)",
		e.Addr, e.PID, e.ProtoVers, kind, mode, e.Class)
}

// specEncodedSize returns the bytes a spec record occupies, pattern and
// terminating NUL included.
func specEncodedSize(pattern string) uint64 {
	return roundUp(specHdrSize+uint64(len(pattern))+1, specAlign)
}

// classEncodedSize returns the packed size of the spec records and the
// total bytes the class record occupies.
func classEncodedSize(c feed.Class) (specsSize, total uint64) {
	for _, s := range c.Specs {
		specsSize += specEncodedSize(s.Pattern)
	}
	return specsSize, roundUp(classHdrSize+specsSize, classAlign)
}

// entryEncodedSize returns the bytes an entry with the given class will
// occupy.
func entryEncodedSize(c feed.Class) uint64 {
	_, classTotal := classEncodedSize(c)
	return roundUp(entryHdrSize+classTotal, entryAlign)
}

// Store reads and writes the packed entry records of one attached
// segment, or of a private clone. All access is bounds-checked; records
// are never reinterpreted in place.
type Store struct {
	data  []byte
	used  uint64
	count uint32

	seg *shm.Segment // nil for private clones
}

// newStore wraps an attached segment.
func newStore(seg *shm.Segment) *Store {
	return &Store{
		data:  seg.Data(),
		used:  seg.Used(),
		count: seg.Count(),
		seg:   seg,
	}
}

// Clone returns a private copy of the live records. The clone has
// normal single-owner lifetime and is unaffected by later mutation of
// the segment.
func (st *Store) Clone() *Store {
	data := make([]byte, st.used)
	copy(data, st.data[:st.used])
	return &Store{data: data, used: st.used, count: st.count}
}

// Count returns the number of live entries.
func (st *Store) Count() uint32 {
	return st.count
}

// Used returns the packed size of the live entries in bytes.
func (st *Store) Used() uint64 {
	return st.used
}

func (st *Store) setUsed(n uint64) {
	st.used = n
	if st.seg != nil {
		st.seg.SetUsed(n)
	}
}

func (st *Store) setCount(n uint32) {
	st.count = n
	if st.seg != nil {
		st.seg.SetCount(n)
	}
}

// Append encodes an entry into the first unused byte. The caller must
// have ensured capacity (see Registry growth).
func (st *Store) Append(e Entry) error {
	size := entryEncodedSize(e.Class)
	if st.used+size > uint64(len(st.data)) {
		return fmt.Errorf("entry of %d bytes exceeds segment capacity (%d used of %d)",
			size, st.used, len(st.data))
	}
	ip := e.Addr.Addr().Unmap()
	if !ip.Is4() {
		return fmt.Errorf("peer address %s is not IPv4", e.Addr)
	}

	buf := st.data[st.used : st.used+size]
	for i := range buf {
		buf[i] = 0
	}

	var flags uint32
	if e.IsNotifier {
		flags |= flagNotifier
	}
	if e.IsPrimary {
		flags |= flagPrimary
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(size))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(e.PID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(e.ProtoVers))
	binary.LittleEndian.PutUint32(buf[12:16], flags)
	a4 := ip.As4()
	copy(buf[16:20], a4[:])
	binary.LittleEndian.PutUint16(buf[20:22], e.Addr.Port())

	specsSize, _ := classEncodedSize(e.Class)
	cb := buf[entryHdrSize:]
	binary.LittleEndian.PutUint64(cb[0:8], uint64(e.Class.From.UnixNano()))
	binary.LittleEndian.PutUint64(cb[8:16], uint64(e.Class.To.UnixNano()))
	binary.LittleEndian.PutUint32(cb[16:20], uint32(specsSize))

	off := uint64(classHdrSize)
	for _, s := range e.Class.Specs {
		ssize := specEncodedSize(s.Pattern)
		sb := cb[off : off+ssize]
		binary.LittleEndian.PutUint32(sb[0:4], uint32(ssize))
		binary.LittleEndian.PutUint32(sb[4:8], uint32(s.FeedType))
		copy(sb[specHdrSize:], s.Pattern)
		// Terminating NUL already present from the zero fill.
		off += ssize
	}

	st.setUsed(st.used + size)
	st.setCount(st.count + 1)
	return nil
}

// Remove deletes the entry for a pid, shifting every subsequent entry
// down by the removed entry's size. Returns false if no entry matches.
func (st *Store) Remove(pid int32) (bool, error) {
	off := uint64(0)
	for off < st.used {
		e, next, err := st.decodeAt(off)
		if err != nil {
			return false, err
		}
		if e.PID == pid {
			size := next - off
			copy(st.data[off:], st.data[next:st.used])
			st.setUsed(st.used - size)
			st.setCount(st.count - 1)
			return true, nil
		}
		off = next
	}
	return false, nil
}

// forEach decodes every live entry in storage order. fn returning false
// stops the scan early.
func (st *Store) forEach(fn func(e Entry) bool) error {
	off := uint64(0)
	for off < st.used {
		e, next, err := st.decodeAt(off)
		if err != nil {
			return err
		}
		if !fn(e) {
			return nil
		}
		off = next
	}
	return nil
}

// decodeAt decodes the entry at off and returns it along with the
// offset of the next entry. Every size field is validated against the
// enclosing record before use.
func (st *Store) decodeAt(off uint64) (Entry, uint64, error) {
	var e Entry

	if off+entryHdrSize > st.used {
		return e, 0, fmt.Errorf("truncated entry header at offset %d (used %d)", off, st.used)
	}
	buf := st.data[off:st.used]

	size := uint64(binary.LittleEndian.Uint32(buf[0:4]))
	if size < entryHdrSize+classHdrSize || off+size > st.used || size%entryAlign != 0 {
		return e, 0, fmt.Errorf("invalid entry size %d at offset %d", size, off)
	}
	buf = buf[:size]

	e.PID = int32(binary.LittleEndian.Uint32(buf[4:8]))
	e.ProtoVers = int32(binary.LittleEndian.Uint32(buf[8:12]))
	flags := binary.LittleEndian.Uint32(buf[12:16])
	e.IsNotifier = flags&flagNotifier != 0
	e.IsPrimary = flags&flagPrimary != 0
	ip := netip.AddrFrom4([4]byte(buf[16:20]))
	e.Addr = netip.AddrPortFrom(ip, binary.LittleEndian.Uint16(buf[20:22]))

	cb := buf[entryHdrSize:]
	e.Class.From = time.Unix(0, int64(binary.LittleEndian.Uint64(cb[0:8])))
	e.Class.To = time.Unix(0, int64(binary.LittleEndian.Uint64(cb[8:16])))
	specsSize := uint64(binary.LittleEndian.Uint32(cb[16:20]))
	if classHdrSize+specsSize > uint64(len(cb)) {
		return e, 0, fmt.Errorf("class spec area of %d bytes overruns entry at offset %d", specsSize, off)
	}

	sb := cb[classHdrSize : classHdrSize+specsSize]
	for len(sb) > 0 {
		if len(sb) < specHdrSize {
			return e, 0, fmt.Errorf("truncated spec header in entry at offset %d", off)
		}
		ssize := uint64(binary.LittleEndian.Uint32(sb[0:4]))
		if ssize < specHdrSize+1 || ssize > uint64(len(sb)) {
			return e, 0, fmt.Errorf("invalid spec size %d in entry at offset %d", ssize, off)
		}
		pat := sb[specHdrSize:ssize]
		if i := bytes.IndexByte(pat, 0); i >= 0 {
			pat = pat[:i]
		} else {
			return e, 0, fmt.Errorf("unterminated pattern in entry at offset %d", off)
		}
		e.Class.Specs = append(e.Class.Specs, feed.Spec{
			FeedType: feed.FeedType(binary.LittleEndian.Uint32(sb[4:8])),
			Pattern:  string(pat),
		})
		sb = sb[ssize:]
	}

	return e, off + size, nil
}
