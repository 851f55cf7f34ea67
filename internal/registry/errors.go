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

import "errors"

var (
	// ErrInit indicates the registry handle is not open, or is being
	// used after Close.
	ErrInit = errors.New("registry: not open")

	// ErrArg indicates an invalid argument, such as a non-positive pid.
	ErrArg = errors.New("registry: invalid argument")

	// ErrExist indicates a state conflict: the registry already exists,
	// does not exist, or an entry with the same pid is already present.
	ErrExist = errors.New("registry: existence conflict")

	// ErrSystem indicates an operating system failure. The wrapped
	// error carries the detail.
	ErrSystem = errors.New("registry: system failure")
)
