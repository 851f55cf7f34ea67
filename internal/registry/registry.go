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

// Package registry tracks the upstream worker processes a windfeed
// server has spawned for its downstream peers. The record lives in a
// shared-memory segment guarded by a cross-process readers/writer lock,
// so every server process sees the same set of workers.
//
// Admission of a new worker goes through an anti-DoS policy: a
// downstream host that reconnects with a subscription covering one of
// its existing feeders gets the old feeder terminated, and a
// subscription overlapping existing feeders gets the overlap removed.
package registry

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/netip"

	"go.uber.org/zap"

	"github.com/windfeed/windfeed/internal/feed"
	"github.com/windfeed/windfeed/internal/ipc/rwlock"
	"github.com/windfeed/windfeed/internal/ipc/shm"
	"github.com/windfeed/windfeed/internal/ipc/sigmask"
)

const (
	// keyIndex distinguishes the registry's IPC objects from any other
	// objects derived from the same filesystem path.
	keyIndex = 1

	// DefaultCapacity is the initial entry area of a new registry.
	DefaultCapacity = 4096
)

// Registry is a per-process handle onto the shared worker record. It
// is not safe for concurrent use by multiple goroutines; cross-process
// exclusion is the lock's job, in-process exclusion is the caller's.
type Registry struct {
	key     string
	lock    *rwlock.Lock
	antiDoS bool
	term    Terminator
	logger  *zap.Logger
	open    bool
}

// Option adjusts a Registry handle at Create or Open time.
type Option func(*Registry)

// WithAntiDoS toggles the admission policy that terminates or trims
// redundant upstream workers. It defaults to on.
func WithAntiDoS(on bool) Option {
	return func(r *Registry) { r.antiDoS = on }
}

// WithTerminator substitutes the mechanism used to preempt a redundant
// worker. The default sends SIGTERM.
func WithTerminator(t Terminator) Option {
	return func(r *Registry) { r.term = t }
}

// WithLogger substitutes the handle's logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// Key derives the IPC key for the registry anchored at path. Distinct
// paths yield distinct shared objects; the same path yields the same
// objects in every process.
func Key(path string) string {
	h := fnv.New64a()
	io.WriteString(h, path)
	h.Write([]byte{keyIndex})
	return fmt.Sprintf("%016x", h.Sum64())
}

func newHandle(key string, lock *rwlock.Lock, opts []Option) *Registry {
	r := &Registry{
		key:     key,
		lock:    lock,
		antiDoS: true,
		term:    sigTerminator{},
		logger:  zap.NewNop(),
		open:    true,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Create creates the shared registry anchored at path and returns an
// open handle. capacity is the initial entry area in bytes; zero means
// DefaultCapacity. Fails with ErrExist if the registry already exists.
// Creation is all-or-nothing: if the lock can't be created the new
// segment is deleted again.
func Create(path string, capacity uint64, opts ...Option) (*Registry, error) {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	key := Key(path)

	seg, err := shm.Create(key, capacity)
	if err != nil {
		if errors.Is(err, shm.ErrExist) {
			return nil, fmt.Errorf("%w: registry for %q already exists", ErrExist, path)
		}
		return nil, fmt.Errorf("%w: creating segment: %v", ErrSystem, err)
	}
	if err := seg.Detach(); err != nil {
		shm.Remove(key)
		return nil, fmt.Errorf("%w: detaching new segment: %v", ErrSystem, err)
	}

	lock, err := rwlock.Create(key)
	if err != nil {
		shm.Remove(key)
		return nil, fmt.Errorf("%w: creating lock: %v", ErrSystem, err)
	}
	return newHandle(key, lock, opts), nil
}

// Open opens an existing shared registry. Fails with ErrExist if the
// registry doesn't exist.
func Open(path string, opts ...Option) (*Registry, error) {
	key := Key(path)

	// Probe the segment now so a missing registry is reported at open
	// time rather than on the first operation.
	seg, err := shm.Open(key)
	if err != nil {
		if errors.Is(err, shm.ErrNotExist) {
			return nil, fmt.Errorf("%w: registry for %q doesn't exist", ErrExist, path)
		}
		return nil, fmt.Errorf("%w: opening segment: %v", ErrSystem, err)
	}
	seg.Detach()

	lock, err := rwlock.Get(key)
	if err != nil {
		if errors.Is(err, rwlock.ErrExist) {
			return nil, fmt.Errorf("%w: registry lock for %q doesn't exist", ErrExist, path)
		}
		return nil, fmt.Errorf("%w: getting lock: %v", ErrSystem, err)
	}
	return newHandle(key, lock, opts), nil
}

// Delete unconditionally deletes the shared registry anchored at path.
// Handles in other processes keep working against their attachments
// until they notice; the names are gone immediately. Fails with
// ErrExist if neither shared object exists.
func Delete(path string) error {
	key := Key(path)

	segErr := shm.Remove(key)
	if segErr != nil && !errors.Is(segErr, shm.ErrNotExist) {
		return fmt.Errorf("%w: removing segment: %v", ErrSystem, segErr)
	}
	lockErr := rwlock.DeleteByKey(key)
	if lockErr != nil && !errors.Is(lockErr, rwlock.ErrExist) {
		return fmt.Errorf("%w: removing lock: %v", ErrSystem, lockErr)
	}
	if segErr != nil && lockErr != nil {
		return fmt.Errorf("%w: registry for %q doesn't exist", ErrExist, path)
	}
	return nil
}

// Close releases the handle's local resources. The shared registry
// remains for other processes. Fails with ErrSystem if this handle
// still holds the lock.
func (r *Registry) Close() error {
	if !r.open {
		return ErrInit
	}
	if err := r.lock.Free(); err != nil {
		return fmt.Errorf("%w: freeing lock: %v", ErrSystem, err)
	}
	r.open = false
	return nil
}

// ReadLock locks the registry for reading. Reentrant within the
// process. Callers use it to make a sequence of reads one critical
// section; single operations lock for themselves.
func (r *Registry) ReadLock() error {
	if !r.open {
		return ErrInit
	}
	if err := r.lock.ReadLock(); err != nil {
		return r.lockErr(err)
	}
	return nil
}

// WriteLock locks the registry for writing. Reentrant within the
// process.
func (r *Registry) WriteLock() error {
	if !r.open {
		return ErrInit
	}
	if err := r.lock.WriteLock(); err != nil {
		return r.lockErr(err)
	}
	return nil
}

// Unlock releases the most recent ReadLock or WriteLock.
func (r *Registry) Unlock() error {
	if !r.open {
		return ErrInit
	}
	if err := r.lock.Unlock(); err != nil {
		return r.lockErr(err)
	}
	return nil
}

func (r *Registry) lockErr(err error) error {
	if errors.Is(err, rwlock.ErrExist) {
		return fmt.Errorf("%w: %v", ErrExist, err)
	}
	return fmt.Errorf("%w: %v", ErrSystem, err)
}

// withLocked attaches the segment under the lock and runs fn against
// its store. write selects the lock mode.
func (r *Registry) withLocked(write bool, fn func(st *Store) error) (err error) {
	if !r.open {
		return ErrInit
	}

	if write {
		err = r.lock.WriteLock()
	} else {
		err = r.lock.ReadLock()
	}
	if err != nil {
		return r.lockErr(err)
	}
	defer func() {
		if uerr := r.lock.Unlock(); uerr != nil && err == nil {
			err = r.lockErr(uerr)
		}
	}()

	seg, aerr := shm.Open(r.key)
	if aerr != nil {
		err = fmt.Errorf("%w: attaching segment: %v", ErrSystem, aerr)
		return err
	}
	defer seg.Detach()

	err = fn(newStore(seg))
	return err
}

// Size returns the number of registered worker processes.
func (r *Registry) Size() (n uint32, err error) {
	err = r.withLocked(false, func(st *Store) error {
		n = st.Count()
		return nil
	})
	return n, err
}

// Snapshot returns an iterator over a private copy of the registry,
// taken under the read lock. The iterator stays consistent no matter
// what other processes do afterwards.
func (r *Registry) Snapshot() (*Iterator, error) {
	var clone *Store
	err := r.withLocked(false, func(st *Store) error {
		clone = st.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Iterator{st: clone}, nil
}

// AddProcess admits an upstream worker into the registry and returns
// the subscription it is allowed to serve, which the anti-DoS policy
// may have reduced from desired. An empty allowed class means the whole
// subscription was redundant; the worker is not registered and should
// exit. Fails with ErrExist if a worker with the same pid is already
// registered, and with ErrArg for a non-positive pid or a non-IPv4
// address.
//
// Signals are blocked for the duration so the critical section can't be
// abandoned with the lock held.
func (r *Registry) AddProcess(pid int32, protoVers int32, addr netip.AddrPort,
	desired feed.Class, isNotifier, isPrimary bool) (feed.Class, error) {

	var allowed feed.Class
	if pid <= 0 {
		return allowed, fmt.Errorf("%w: non-positive pid %d", ErrArg, pid)
	}
	if !addr.Addr().Unmap().Is4() {
		return allowed, fmt.Errorf("%w: peer address %s is not IPv4", ErrArg, addr)
	}

	guard, err := sigmask.Block()
	if err != nil {
		return allowed, fmt.Errorf("%w: blocking signals: %v", ErrSystem, err)
	}
	defer guard.Restore()

	err = r.withLocked(true, func(st *Store) error {
		var verr error
		allowed, verr = r.vet(st, pid, protoVers, addr, desired, isNotifier)
		if verr != nil {
			return verr
		}
		if allowed.Empty() {
			// The whole subscription was redundant. Nothing recorded.
			return nil
		}

		entry := Entry{
			PID:        pid,
			ProtoVers:  protoVers,
			IsNotifier: isNotifier,
			IsPrimary:  isPrimary,
			Addr:       addr,
			Class:      allowed,
		}
		st, gerr := r.ensureSpace(st, entryEncodedSize(allowed))
		if gerr != nil {
			return gerr
		}
		defer st.seg.Detach()
		if aerr := st.Append(entry); aerr != nil {
			return fmt.Errorf("%w: appending entry: %v", ErrSystem, aerr)
		}
		metricsAdmissions.Inc()
		return nil
	})
	if err != nil {
		return feed.Class{}, err
	}
	if !allowed.EqualSpecs(desired) {
		metricsReductions.Inc()
	}
	return allowed, nil
}

// vet applies the admission policy against the current entries and
// returns the subscription the candidate is allowed to serve.
func (r *Registry) vet(st *Store, pid, protoVers int32, addr netip.AddrPort,
	desired feed.Class, isNotifier bool) (feed.Class, error) {

	allowed := desired.Clone()
	ip := addr.Addr().Unmap()

	var verr error
	serr := st.forEach(func(e Entry) bool {
		if e.PID == pid {
			verr = fmt.Errorf("%w: pid %d is already registered as %s", ErrExist, pid, e)
			return false
		}
		if !r.antiDoS {
			return true
		}
		if e.ProtoVers != protoVers || e.Addr.Addr().Unmap() != ip ||
			isNotifier || e.IsNotifier {
			return true
		}

		// Same downstream host, same protocol, both feeders: the two
		// subscriptions would carry overlapping data.
		if e.Class.SubsetOf(allowed) {
			// The old feeder is wholly covered by the candidate.
			// Preempt it; it removes its own entry on the way out.
			if terr := r.term.Terminate(e.PID); terr != nil {
				r.logger.Warn("couldn't terminate redundant upstream process",
					zap.Int32("pid", e.PID),
					zap.String("entry", e.String()),
					zap.Error(terr))
			} else {
				r.logger.Info("terminated redundant upstream process",
					zap.Int32("pid", e.PID),
					zap.String("entry", e.String()))
				metricsPreemptions.Inc()
			}
		} else {
			allowed.RemoveFrom(e.Class)
			allowed.Scrunch()
			if allowed.Empty() {
				return false
			}
		}
		return true
	})
	if verr != nil {
		return feed.Class{}, verr
	}
	if serr != nil {
		return feed.Class{}, fmt.Errorf("%w: scanning entries: %v", ErrSystem, serr)
	}
	return allowed, nil
}

// growthFactor scales the needed capacity when the segment is too
// small, amortizing re-creations: 8/5 ~ 1.6.
const (
	growthNum = 8
	growthDen = 5
)

// ensureSpace grows the segment if the store can't fit need more bytes,
// returning a store on the (possibly new) segment. Growth re-creates
// the segment at a larger capacity: the live entries are cloned, the
// old segment is deleted, a bigger one is created under the same key
// and the entries are copied back. The delete-create window is not
// atomic; a process attaching at exactly that moment sees a missing
// segment and fails, which the write lock held here makes harmless for
// every process that locks before attaching.
func (r *Registry) ensureSpace(st *Store, need uint64) (*Store, error) {
	capacity := uint64(len(st.data))
	if st.used+need <= capacity {
		return st, nil
	}

	needed := st.used + need
	grown := needed * growthNum / growthDen
	if grown < capacity {
		grown = capacity
	}

	clone := st.Clone()
	if st.seg != nil {
		st.seg.Detach()
	}
	if err := shm.Remove(r.key); err != nil {
		return nil, fmt.Errorf("%w: removing undersized segment: %v", ErrSystem, err)
	}

	seg, err := shm.Create(r.key, grown)
	if err != nil {
		return nil, fmt.Errorf("%w: re-creating segment at %d bytes: %v", ErrSystem, grown, err)
	}
	next := newStore(seg)
	copy(next.data, clone.data[:clone.used])
	next.setUsed(clone.used)
	next.setCount(clone.count)

	r.logger.Info("grew registry segment",
		zap.Uint64("from", capacity), zap.Uint64("to", grown))
	metricsGrowths.Inc()
	return next, nil
}

// Remove deletes the entry for a worker process. Fails with ErrExist if
// no entry matches, so a second Remove for the same pid reports the
// first one already happened. Fails with ErrArg for a non-positive pid.
func (r *Registry) Remove(pid int32) error {
	if pid <= 0 {
		return fmt.Errorf("%w: non-positive pid %d", ErrArg, pid)
	}

	guard, err := sigmask.Block()
	if err != nil {
		return fmt.Errorf("%w: blocking signals: %v", ErrSystem, err)
	}
	defer guard.Restore()

	return r.withLocked(true, func(st *Store) error {
		removed, rerr := st.Remove(pid)
		if rerr != nil {
			return fmt.Errorf("%w: removing entry: %v", ErrSystem, rerr)
		}
		if !removed {
			return fmt.Errorf("%w: no entry for pid %d", ErrExist, pid)
		}
		metricsRemovals.Inc()
		return nil
	})
}
