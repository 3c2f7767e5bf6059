// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kvstore

import "errors"

var (
	// ErrStoreUnavailable marks transport-level failures talking to the
	// shared store. Callers treat it as a non-fatal degradation signal:
	// the next tick or heartbeat retries.
	ErrStoreUnavailable = errors.New("kv store unavailable")

	// ErrStoreProtocol marks a malformed or unexpected response from the
	// store. It is logged and otherwise treated like a cache miss.
	ErrStoreProtocol = errors.New("kv store protocol error")
)
