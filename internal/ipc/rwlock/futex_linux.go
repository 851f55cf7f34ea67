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
	"fmt"
	"sync/atomic"
	"syscall"
	"unsafe"
)

// Linux futex constants. The shared (non-private) operations are
// required here: the words live in a file mapping shared between
// unrelated processes.
const (
	futexWaitOp = 0 // FUTEX_WAIT
	futexWakeOp = 1 // FUTEX_WAKE
)

// futexWait waits for the value at addr to change from val. It returns
// when the value differs, when another process calls futexWake on the
// same address, or when the call is interrupted. Always re-check the
// logical condition after this returns: spurious wakeups are possible.
func futexWait(addr *uint32, val uint32) error {
	// Re-check atomically before entering the syscall so a wake that
	// lands between the caller's snapshot and the futex entry is not
	// lost.
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	_, _, errno := syscall.Syscall6(
		syscall.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), // uaddr
		futexWaitOp,                   // futex_op
		uintptr(val),                  // val - expected value
		0,                             // timeout - infinite
		0,                             // uaddr2 - unused
		0,                             // val3 - unused
	)

	if errno != 0 {
		// EAGAIN: the value no longer matched. EINTR: interrupted by a
		// signal. Neither is an error for our purposes.
		if errno == syscall.EAGAIN || errno == syscall.EINTR {
			return nil
		}
		return fmt.Errorf("futex wait failed: %w", errno)
	}
	return nil
}

// futexWake wakes up to n waiters blocked on addr and returns the
// number actually woken.
func futexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := syscall.Syscall6(
		syscall.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), // uaddr
		futexWakeOp,                   // futex_op
		uintptr(n),                    // val - number of waiters to wake
		0,                             // timeout - unused
		0,                             // uaddr2 - unused
		0,                             // val3 - unused
	)

	if errno != 0 {
		return 0, fmt.Errorf("futex wake failed: %w", errno)
	}
	return int(r1), nil
}
