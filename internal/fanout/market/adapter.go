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

package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/cache"
	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/kvstore"
	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/telemetry"
)

// Adapter sits between the upstream provider and the rest of the service.
// It owns the canonical snapshot lifecycle: fetch, normalize, serialize,
// cache under LatestSnapshotKey, and append to the replay stream.
type Adapter struct {
	upstream Fetcher
	cache    *cache.Manager
	store    kvstore.Store
	log      zerolog.Logger
	now      func() time.Time
}

// AdapterOption adjusts an Adapter at construction.
type AdapterOption func(*Adapter)

// WithAdapterClock overrides the wall clock. Tests use this to pin the
// injected timestamps.
func WithAdapterClock(now func() time.Time) AdapterOption {
	return func(a *Adapter) { a.now = now }
}

// NewAdapter wires the adapter. upstream may be nil, in which case every
// fetch reports ErrNotConfigured (followers never notice; they read the
// shared snapshot the leader wrote).
func NewAdapter(upstream Fetcher, c *cache.Manager, store kvstore.Store, log zerolog.Logger, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		upstream: upstream,
		cache:    c,
		store:    store,
		log:      log.With().Str("component", "market").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FetchNormalized returns the current serialized snapshot.
//
// forceRefresh=false is the read path: serve LatestSnapshotKey from the
// cache tiers, computing from upstream at most once per process on a miss.
//
// forceRefresh=true is the leader's tick path: skip all cached reads and
// the single-flight group, hit the upstream now, overwrite the shared
// snapshot, and append to the replay stream. Leaders must see failures
// immediately rather than a stale success.
func (a *Adapter) FetchNormalized(ctx context.Context, forceRefresh bool) ([]byte, error) {
	if a.upstream == nil {
		return nil, ErrNotConfigured
	}

	if forceRefresh {
		payload, snapshot, err := a.fetchAndNormalize(ctx)
		if err != nil {
			return nil, err
		}
		a.cache.SetWithStrategy(ctx, LatestSnapshotKey, payload, cache.RealTime)
		a.appendStream(ctx, snapshot)
		return payload, nil
	}

	return a.cache.GetOrCompute(ctx, LatestSnapshotKey, cache.RealTime, func(ctx context.Context) ([]byte, error) {
		payload, snapshot, err := a.fetchAndNormalize(ctx)
		if err != nil {
			return nil, err
		}
		a.appendStream(ctx, snapshot)
		return payload, nil
	})
}

// fetchAndNormalize performs one upstream round trip and returns both the
// serialized payload and the snapshot map (the latter feeds the stream).
func (a *Adapter) fetchAndNormalize(ctx context.Context) ([]byte, map[string]any, error) {
	start := a.now()
	raw, err := a.upstream.Fetch(ctx)
	telemetry.ObserveUpstreamFetch(a.now().Sub(start), err)
	if err != nil {
		a.log.Warn().Err(err).Msg("upstream fetch failed")
		return nil, nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	snapshot := Normalize(raw, a.now())
	payload, err := json.Marshal(snapshot)
	if err != nil {
		// Only non-JSON-encodable leaves (channels, funcs) can trip this;
		// treat it as a broken upstream adapter.
		a.log.Error().Err(err).Msg("snapshot serialization failed")
		return nil, nil, fmt.Errorf("%w: serialize: %v", ErrUpstreamUnavailable, err)
	}
	return payload, snapshot, nil
}

// appendStream records the snapshot in the capped replay stream. Append
// failures are logged and counted but never fail the fetch: the stream is
// a convenience for late joiners, not part of the delivery contract.
func (a *Adapter) appendStream(ctx context.Context, snapshot map[string]any) {
	id, err := a.store.StreamAppend(ctx, StreamKey, flattenFields(snapshot, a.now()), StreamMaxLen)
	telemetry.RecordStreamAppend(err)
	if err != nil {
		telemetry.RecordStoreError("market")
		a.log.Warn().Err(err).Msg("stream append failed")
		return
	}
	a.log.Debug().Str("entry_id", id).Msg("snapshot appended to stream")
}
