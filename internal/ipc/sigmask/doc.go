/*
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
 */

// Package sigmask provides a scoped guard that blocks most signals on
// the calling thread for the duration of a multi-step shared-memory
// mutation and restores the previous mask on exit. Fatal and diagnostic
// signals (abort, floating-point exception, illegal instruction,
// segmentation fault, bus error) are never blocked.
package sigmask
