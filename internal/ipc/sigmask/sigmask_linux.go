//go:build linux

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

package sigmask

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// fatal signals stay unmasked so genuine corruption crashes fast
// instead of being swallowed mid-mutation.
var unmasked = []unix.Signal{
	unix.SIGABRT,
	unix.SIGFPE,
	unix.SIGILL,
	unix.SIGSEGV,
	unix.SIGBUS,
}

// Guard holds the signal mask to restore when the critical section ends.
type Guard struct {
	prev   unix.Sigset_t
	active bool
}

// Block masks every blockable signal except the fatal set on the
// calling thread and pins the goroutine to it, so a multi-step shared
// mutation is not interrupted part-way. The returned guard must be
// restored on every exit path:
//
//	g, err := sigmask.Block()
//	if err != nil { ... }
//	defer g.Restore()
func Block() (*Guard, error) {
	runtime.LockOSThread()

	var set unix.Sigset_t
	for i := range set.Val {
		set.Val[i] = ^uint64(0)
	}
	for _, sig := range unmasked {
		sigDel(&set, sig)
	}

	g := &Guard{}
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, &set, &g.prev); err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	g.active = true
	return g, nil
}

// Restore reinstates the mask saved by Block and unpins the goroutine.
// Idempotent.
func (g *Guard) Restore() {
	if g == nil || !g.active {
		return
	}
	g.active = false
	// Errors here are unrecoverable and must not mask the section's
	// own result; the original ignores them too.
	_ = unix.PthreadSigmask(unix.SIG_SETMASK, &g.prev, nil)
	runtime.UnlockOSThread()
}

func sigDel(set *unix.Sigset_t, sig unix.Signal) {
	n := uint(sig) - 1
	set.Val[n/64] &^= 1 << (n % 64)
}
