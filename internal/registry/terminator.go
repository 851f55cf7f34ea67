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

import "golang.org/x/sys/unix"

// Terminator asks a registered process to shut down. The admission
// path uses it to preempt a redundant upstream worker; tests substitute
// a recorder so no real process is signalled.
type Terminator interface {
	Terminate(pid int32) error
}

// sigTerminator delivers SIGTERM. The target is expected to remove its
// own registry entry on the way out.
type sigTerminator struct{}

func (sigTerminator) Terminate(pid int32) error {
	return unix.Kill(int(pid), unix.SIGTERM)
}
