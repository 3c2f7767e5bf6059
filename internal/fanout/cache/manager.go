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

// Package cache layers the in-process tier (memcache) over the shared store
// (kvstore) as a read-through/write-through pair, with strategy-driven TTLs
// and stampede protection on computed reads.
package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/kvstore"
	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/memcache"
	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/telemetry"
)

// L1MaxTTL caps how long any value may live in process memory regardless of
// its shared-store strategy, so replicas converge after at most this long.
const L1MaxTTL = 5 * time.Minute

// Manager is the two-tier cache facade.
//
// Failure posture: L1 cannot fail; L2 failures degrade reads to misses and
// writes to L1-only, and are reported to callers only where the contract
// says so. Computed values always reach the caller even if both tiers
// reject the write.
type Manager struct {
	l1    *memcache.Cache
	l2    kvstore.Store
	group singleflight.Group
	log   zerolog.Logger
}

// NewManager wires the two tiers together.
func NewManager(l1 *memcache.Cache, l2 kvstore.Store, log zerolog.Logger) *Manager {
	return &Manager{l1: l1, l2: l2, log: log.With().Str("component", "cache").Logger()}
}

// Get checks L1 then L2. An L2 hit is promoted into L1 with a TTL of
// min(remaining L2 TTL, L1MaxTTL) so a follower's L1 copy never outlives the
// shared value. The returned error is non-nil only for store-level failures;
// a miss with a healthy store is (nil, false, nil).
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok := m.l1.Get(key); ok {
		telemetry.RecordCacheHit("l1")
		return v, true, nil
	}
	telemetry.RecordCacheMiss("l1")

	v, remaining, ok, err := m.l2.GetWithTTL(ctx, key)
	if err != nil {
		telemetry.RecordStoreError("cache")
		m.log.Warn().Err(err).Str("key", key).Msg("shared cache read failed, treating as miss")
		return nil, false, err
	}
	if !ok {
		telemetry.RecordCacheMiss("l2")
		return nil, false, nil
	}
	telemetry.RecordCacheHit("l2")

	m.l1.Put(key, []byte(v), promotionTTL(remaining))
	return []byte(v), true, nil
}

// SetWithStrategy writes both tiers. L1 is written first so this process
// serves the value even when the shared store is down; the L2 failure is
// logged and swallowed per the best-effort write contract.
func (m *Manager) SetWithStrategy(ctx context.Context, key string, value []byte, strategy Strategy) {
	ttl := strategy.TTL()
	m.l1.Put(key, value, capTTL(ttl))
	if err := m.l2.SetWithTTL(ctx, key, string(value), ttl); err != nil {
		telemetry.RecordStoreError("cache")
		m.log.Warn().Err(err).Str("key", key).Stringer("strategy", strategy).
			Msg("shared cache write failed, value held in L1 only")
	}
}

// Invalidate removes the key from both tiers.
func (m *Manager) Invalidate(ctx context.Context, key string) {
	m.l1.Invalidate(key)
	if err := m.l2.Delete(ctx, key); err != nil {
		telemetry.RecordStoreError("cache")
		m.log.Warn().Err(err).Str("key", key).Msg("shared cache invalidate failed")
	}
}

// GetOrCompute returns the cached value for key or computes it exactly once
// per process, no matter how many callers arrive concurrently. Concurrent
// callers for the same key share the one result — success or error alike.
// Failed computations are never cached.
func (m *Manager) GetOrCompute(ctx context.Context, key string, strategy Strategy, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok, _ := m.Get(ctx, key); ok {
		return v, nil
	}

	v, err, shared := m.group.Do(key, func() (interface{}, error) {
		// Double-check under the flight: a racing writer may have landed
		// the value between our miss and becoming the leader.
		if v, ok, _ := m.Get(ctx, key); ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		m.SetWithStrategy(ctx, key, v, strategy)
		return v, nil
	})
	if shared {
		telemetry.RecordCoalesced()
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// promotionTTL converts a shared-store remaining TTL into an L1 TTL.
// remaining < 0 means the key has no expiry; use the full L1 cap.
func promotionTTL(remaining time.Duration) time.Duration {
	if remaining < 0 {
		return L1MaxTTL
	}
	return capTTL(remaining)
}

func capTTL(ttl time.Duration) time.Duration {
	if ttl > L1MaxTTL {
		return L1MaxTTL
	}
	return ttl
}
