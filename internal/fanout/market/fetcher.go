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

// Package market turns upstream provider data into the normalized snapshot
// the replica set shares: the adapter orchestrates caching, stream replay
// and force-refresh; the aggregator merges per-section fetchers into one
// snapshot. Vendor adapters themselves (rate limits, API schemas) live
// outside this repo behind the Fetcher interface.
package market

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
)

// Shared-store keys and bounds. Bit-exact across replicas.
const (
	// LatestSnapshotKey is the canonical shared snapshot; followers read it.
	LatestSnapshotKey = "latest_market_data"

	// StreamKey is the capped replay stream.
	StreamKey = "market_data_stream"

	// StreamMaxLen bounds the replay stream; the store evicts the oldest.
	StreamMaxLen = 1000
)

var (
	// ErrUpstreamUnavailable marks a failed provider fetch. Never cached;
	// the next tick retries.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrNotConfigured means no upstream fetcher was wired. Fatal for the
	// adapter's operations; followers keep serving from cache regardless.
	ErrNotConfigured = errors.New("no upstream fetcher configured")
)

// Fetcher is the upstream provider boundary. Implementations return a
// JSON-like object (string keys, heterogeneous leaves) that the adapter
// normalizes; they are expected to honor ctx deadlines.
type Fetcher interface {
	Fetch(ctx context.Context) (map[string]any, error)
}

// FetcherFunc adapts a plain function to Fetcher.
type FetcherFunc func(ctx context.Context) (map[string]any, error)

func (f FetcherFunc) Fetch(ctx context.Context) (map[string]any, error) { return f(ctx) }

// DemoFetcher produces a plausible random-walk snapshot with no network
// dependency so the service can run end to end on a laptop. Not for
// production use.
type DemoFetcher struct {
	calls atomic.Int64
}

// NewDemoFetcher returns a demo fetcher starting from round baseline prices.
func NewDemoFetcher() *DemoFetcher { return &DemoFetcher{} }

func (d *DemoFetcher) Fetch(ctx context.Context) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	n := d.calls.Add(1)
	jitter := func(base float64) float64 { return base * (1 + (rand.Float64()-0.5)/50) }
	return map[string]any{
		"btc_price_usd":  jitter(50000),
		"btc_change_24h": rand.Float64()*4 - 2,
		"eth_price_usd":  jitter(3000),
		"eth_change_24h": rand.Float64()*4 - 2,
		"market_cap_usd": jitter(2.1e12),
		"fng_value":      50 + n%25,
		"btc_rsi_14":     45 + rand.Float64()*10,
	}, nil
}

// BuildFetcher selects an upstream adapter by name:
//   - "demo": dependency-free random-walk snapshots (default)
//   - anything else: rejected — real provider stacks are wired in code by
//     constructing an Aggregator with concrete section fetchers.
func BuildFetcher(kind string) (Fetcher, error) {
	switch kind {
	case "", "demo":
		return NewDemoFetcher(), nil
	default:
		return nil, fmt.Errorf("unknown upstream adapter %q (wire an Aggregator with real section fetchers instead)", kind)
	}
}
