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

// Package session persists what a downstream session has and hasn't
// received from an upstream feed, so a restarted process can resume
// where the previous one stopped. Each (upstream, feedtype) pair gets
// one YAML file; an exclusive flock keeps two processes from serving
// the same session.
package session

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/windfeed/windfeed/internal/feed"
)

// state is the on-disk document.
type state struct {
	LastProduct    string   `yaml:"last-product,omitempty"`
	MissedProducts []uint64 `yaml:"missed-products,omitempty"`
}

// Memory tracks one session. Products the transport noticed as missing
// sit in the missed queue until a retransmission is requested, then in
// the requested queue until they arrive. Safe for concurrent use by the
// goroutines of one process; cross-process exclusion is the flock's job.
type Memory struct {
	path     string
	lockFile *os.File
	mu       sync.Mutex

	last      []byte
	missed    []uint64
	requested []uint64
	modified  bool
}

// fileFor maps an upstream address and feedtype to the session file.
func fileFor(dir, upstream string, ft feed.FeedType) string {
	name := strings.NewReplacer("/", "_", ":", "_").Replace(upstream)
	return filepath.Join(dir, fmt.Sprintf("%s_%s.yaml", name, ft))
}

// Open loads the session memory for an upstream feed, creating it
// empty if none exists. Fails if another process holds the session.
func Open(dir, upstream string, ft feed.FeedType) (*Memory, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	path := fileFor(dir, upstream, ft)

	lockFile, err := os.OpenFile(path+".lck", os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening session lock file: %w", err)
	}
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("session %s is held by another process: %w", path, err)
	}

	m := &Memory{path: path, lockFile: lockFile}
	if err := m.load(); err != nil {
		unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
		lockFile.Close()
		return nil, err
	}
	return m, nil
}

func (m *Memory) load() error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading session file: %w", err)
	}

	var st state
	if err := yaml.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parsing session file %s: %w", m.path, err)
	}
	if st.LastProduct != "" {
		sig, err := hex.DecodeString(st.LastProduct)
		if err != nil {
			return fmt.Errorf("invalid last-product signature in %s: %w", m.path, err)
		}
		m.last = sig
	}
	m.missed = st.MissedProducts
	return nil
}

// LastProduct returns the signature of the newest product fully
// received, or false if none was recorded.
func (m *Memory) LastProduct() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil, false
	}
	return m.last, true
}

// SetLastProduct records the signature of the newest product fully
// received.
func (m *Memory) SetLastProduct(sig []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = append([]byte(nil), sig...)
	m.modified = true
}

// AddMissed queues a product the transport noticed as missing.
func (m *Memory) AddMissed(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missed = append(m.missed, id)
	m.modified = true
}

// NextMissed moves the oldest unrequested missed product to the
// requested queue and returns it. false means nothing is waiting.
func (m *Memory) NextMissed() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.missed) == 0 {
		return 0, false
	}
	id := m.missed[0]
	m.missed = m.missed[1:]
	m.requested = append(m.requested, id)
	m.modified = true
	return id, true
}

// Ack removes the oldest requested product, which must match id:
// retransmissions arrive in request order.
func (m *Memory) Ack(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requested) == 0 || m.requested[0] != id {
		return fmt.Errorf("product %d is not the oldest requested retransmission", id)
	}
	m.requested = m.requested[1:]
	m.modified = true
	return nil
}

// Outstanding returns how many products are missed or requested and
// not yet received.
func (m *Memory) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.missed) + len(m.requested)
}

// Close commits the memory to disk and releases the session. Products
// still in the requested queue were never received and go back to the
// missed queue for the next session.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() {
		unix.Flock(int(m.lockFile.Fd()), unix.LOCK_UN)
		m.lockFile.Close()
	}()

	if !m.modified {
		return nil
	}
	st := state{
		MissedProducts: append(append([]uint64(nil), m.requested...), m.missed...),
	}
	if m.last != nil {
		st.LastProduct = hex.EncodeToString(m.last)
	}
	data, err := yaml.Marshal(&st)
	if err != nil {
		return fmt.Errorf("encoding session state: %w", err)
	}

	// Write-then-rename so a crash mid-commit leaves the previous
	// state intact.
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing session file: %w", err)
	}
	return nil
}

// Delete removes the session files for an upstream feed. Missing files
// are not an error.
func Delete(dir, upstream string, ft feed.FeedType) error {
	path := fileFor(dir, upstream, ft)
	for _, p := range []string{path, path + ".lck"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
