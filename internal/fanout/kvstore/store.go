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

// Package kvstore provides typed operations against the shared key-value
// store that coordinates the replica set: the leader lock, the shared
// snapshot, and the capped replay stream.
//
// The conditional operations (SetIfAbsent, CompareAndRenew, CompareAndDelete)
// are the only way the lock record may be mutated. They are atomic on the
// store side; a read-then-write sequence is not an acceptable implementation.
package kvstore

import (
	"context"
	"time"
)

// Store is the gateway contract every component depends on. The production
// implementation is Redis; Mock provides an in-memory equivalent for tests.
type Store interface {
	// SetIfAbsent atomically sets key only when absent and returns whether
	// this caller acquired it. Used to acquire the leader lock.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndRenew extends the TTL only when the current value equals
	// expected. Returns false when ownership was lost.
	CompareAndRenew(ctx context.Context, key, expected string, ttl time.Duration) (bool, error)

	// CompareAndDelete removes the key only when the current value equals
	// expected. Used for graceful lock release.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)

	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// GetWithTTL additionally reports the remaining TTL. A key with no
	// expiry reports ttl < 0.
	GetWithTTL(ctx context.Context, key string) (value string, ttl time.Duration, ok bool, err error)

	// SetWithTTL writes unconditionally with the given expiry.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key unconditionally.
	Delete(ctx context.Context, key string) error

	// StreamAppend appends one entry of field pairs to a capped stream,
	// trimming the oldest entries so the length never exceeds maxLen.
	// It returns the store-assigned entry ID.
	StreamAppend(ctx context.Context, streamKey string, fields map[string]string, maxLen int64) (string, error)

	// StreamLen reports the current stream length.
	StreamLen(ctx context.Context, streamKey string) (int64, error)

	// Ping verifies connectivity. Used by the startup probe and /health.
	Ping(ctx context.Context) error
}
