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

// Iterator walks the entries of one registry snapshot in storage
// order. The snapshot is private; it has normal garbage-collected
// lifetime and needs no explicit release.
type Iterator struct {
	st  *Store
	off uint64
	err error
}

// First rewinds and returns the first entry, or false on an empty
// snapshot.
func (it *Iterator) First() (Entry, bool) {
	it.off = 0
	it.err = nil
	return it.Next()
}

// Next returns the next entry. false means the snapshot is exhausted
// or decoding failed; Err tells the two apart.
func (it *Iterator) Next() (Entry, bool) {
	if it.err != nil || it.off >= it.st.used {
		return Entry{}, false
	}
	e, next, err := it.st.decodeAt(it.off)
	if err != nil {
		it.err = err
		return Entry{}, false
	}
	it.off = next
	return e, true
}

// Len returns the number of entries in the snapshot.
func (it *Iterator) Len() uint32 {
	return it.st.Count()
}

// Err returns the first decoding error the iteration hit, if any.
func (it *Iterator) Err() error {
	return it.err
}
