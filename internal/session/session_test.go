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

package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/windfeed/windfeed/internal/feed"
)

const upstream = "feed.example.com:388"

func TestOpenEmptySession(t *testing.T) {
	m, err := Open(t.TempDir(), upstream, feed.WMO)
	require.NoError(t, err)

	_, ok := m.LastProduct()
	require.False(t, ok)
	require.Zero(t, m.Outstanding())
	require.NoError(t, m.Close())
}

func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	sig := []byte{0xde, 0xad, 0xbe, 0xef}

	m, err := Open(dir, upstream, feed.WMO)
	require.NoError(t, err)
	m.SetLastProduct(sig)
	m.AddMissed(7)
	m.AddMissed(9)
	require.NoError(t, m.Close())

	m, err = Open(dir, upstream, feed.WMO)
	require.NoError(t, err)
	got, ok := m.LastProduct()
	require.True(t, ok)
	require.Equal(t, sig, got)

	id, ok := m.NextMissed()
	require.True(t, ok)
	require.Equal(t, uint64(7), id)
	id, ok = m.NextMissed()
	require.True(t, ok)
	require.Equal(t, uint64(9), id)
	_, ok = m.NextMissed()
	require.False(t, ok)
	require.NoError(t, m.Close())
}

func TestRequestedGoBackToMissed(t *testing.T) {
	dir := t.TempDir()

	m, err := Open(dir, upstream, feed.WMO)
	require.NoError(t, err)
	m.AddMissed(1)
	m.AddMissed(2)

	// 1 is requested and acknowledged, 2 is requested but never
	// arrives before the session ends.
	id, _ := m.NextMissed()
	require.NoError(t, m.Ack(id))
	m.NextMissed()
	require.NoError(t, m.Close())

	m, err = Open(dir, upstream, feed.WMO)
	require.NoError(t, err)
	id, ok := m.NextMissed()
	require.True(t, ok)
	require.Equal(t, uint64(2), id)
	require.Equal(t, 1, m.Outstanding())
	require.NoError(t, m.Close())
}

func TestAckRequiresRequestOrder(t *testing.T) {
	m, err := Open(t.TempDir(), upstream, feed.WMO)
	require.NoError(t, err)
	defer m.Close()

	m.AddMissed(1)
	m.AddMissed(2)
	m.NextMissed()
	m.NextMissed()

	require.Error(t, m.Ack(2))
	require.NoError(t, m.Ack(1))
	require.NoError(t, m.Ack(2))
}

func TestSecondOpenFails(t *testing.T) {
	dir := t.TempDir()

	m, err := Open(dir, upstream, feed.WMO)
	require.NoError(t, err)
	defer m.Close()

	_, err = Open(dir, upstream, feed.WMO)
	require.Error(t, err)
}

func TestSessionsAreKeyedByFeedtype(t *testing.T) {
	dir := t.TempDir()

	m1, err := Open(dir, upstream, feed.WMO)
	require.NoError(t, err)
	defer m1.Close()

	m2, err := Open(dir, upstream, feed.NPort)
	require.NoError(t, err)
	defer m2.Close()
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()

	m, err := Open(dir, upstream, feed.WMO)
	require.NoError(t, err)
	m.AddMissed(1)
	require.NoError(t, m.Close())

	require.NoError(t, Delete(dir, upstream, feed.WMO))
	require.NoError(t, Delete(dir, upstream, feed.WMO))

	m, err = Open(dir, upstream, feed.WMO)
	require.NoError(t, err)
	require.Zero(t, m.Outstanding())
	require.NoError(t, m.Close())
}