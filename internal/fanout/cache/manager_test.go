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

package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/kvstore"
	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/memcache"
)

// countingStore wraps the mock to count shared-store reads, so promotion
// tests can assert L1 absorbed the traffic.
type countingStore struct {
	*kvstore.Mock
	reads atomic.Int64
}

func (c *countingStore) GetWithTTL(ctx context.Context, key string) (string, time.Duration, bool, error) {
	c.reads.Add(1)
	return c.Mock.GetWithTTL(ctx, key)
}

func newManager(t *testing.T) (*Manager, *countingStore, *memcache.Cache) {
	t.Helper()
	store := &countingStore{Mock: kvstore.NewMock()}
	l1 := memcache.New(memcache.WithIdleTTL(0))
	return NewManager(l1, store, zerolog.Nop()), store, l1
}

// TestGetOrCompute_SingleFlight floods one key with 100 concurrent callers
// and a slow computation; the computation must run exactly once and every
// caller must see its value.
func TestGetOrCompute_SingleFlight(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	var calls atomic.Int64
	compute := func(context.Context) ([]byte, error) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
		return []byte(`{"v":1}`), nil
	}

	const callers = 100
	results := make([][]byte, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = m.GetOrCompute(ctx, "k", RealTime, compute)
		}(i)
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("compute ran %d times, want 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error: %v", i, errs[i])
		}
		if string(results[i]) != `{"v":1}` {
			t.Fatalf("caller %d value: %s", i, results[i])
		}
	}
}

// TestGetOrCompute_ErrorNotCached fails the first computation and checks
// that nothing was stored and a retry recomputes.
func TestGetOrCompute_ErrorNotCached(t *testing.T) {
	m, store, l1 := newManager(t)
	ctx := context.Background()

	boom := errors.New("upstream down")
	var calls atomic.Int64
	failing := func(context.Context) ([]byte, error) {
		calls.Add(1)
		return nil, boom
	}

	if _, err := m.GetOrCompute(ctx, "k", RealTime, failing); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if _, ok := l1.Get("k"); ok {
		t.Fatal("failed computation cached in L1")
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("failed computation cached in L2")
	}

	// Retry recomputes rather than replaying the error.
	ok := func(context.Context) ([]byte, error) { return []byte(`{"v":2}`), nil }
	v, err := m.GetOrCompute(ctx, "k", RealTime, ok)
	if err != nil || string(v) != `{"v":2}` {
		t.Fatalf("retry: (%s, %v)", v, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("failing compute ran %d times, want 1", calls.Load())
	}
}

// TestGet_PromotesToL1 serves the first read from L2 and all subsequent
// reads within the promotion TTL from L1, without touching the store.
func TestGet_PromotesToL1(t *testing.T) {
	m, store, _ := newManager(t)
	ctx := context.Background()

	if err := store.SetWithTTL(ctx, "k", `{"v":3}`, 30*time.Second); err != nil {
		t.Fatal(err)
	}

	v, ok, err := m.Get(ctx, "k")
	if err != nil || !ok || string(v) != `{"v":3}` {
		t.Fatalf("first read: (%s, %v, %v)", v, ok, err)
	}
	before := store.reads.Load()

	for i := 0; i < 5; i++ {
		if _, ok, _ := m.Get(ctx, "k"); !ok {
			t.Fatal("promoted value missing from L1")
		}
	}
	if store.reads.Load() != before {
		t.Fatalf("store reads grew from %d to %d after promotion", before, store.reads.Load())
	}
}

// TestGetOrCompute_StoreDownStillComputes degrades to compute-and-return
// when both tiers are unreadable; the caller still gets fresh data.
func TestGetOrCompute_StoreDownStillComputes(t *testing.T) {
	m, store, _ := newManager(t)
	ctx := context.Background()
	store.FailWith(kvstore.ErrStoreUnavailable)

	v, err := m.GetOrCompute(ctx, "k", RealTime, func(context.Context) ([]byte, error) {
		return []byte(`{"v":4}`), nil
	})
	if err != nil || string(v) != `{"v":4}` {
		t.Fatalf("compute under outage: (%s, %v)", v, err)
	}
}

// TestSetWithStrategy_CapsL1TTL keeps long-strategy values from pinning L1.
func TestSetWithStrategy_CapsL1TTL(t *testing.T) {
	store := kvstore.NewMock()
	var now atomic.Value
	now.Store(time.Unix(1_700_000_000, 0))
	clock := func() time.Time { return now.Load().(time.Time) }
	l1 := memcache.New(memcache.WithClock(clock), memcache.WithIdleTTL(0))
	m := NewManager(l1, store, zerolog.Nop())
	ctx := context.Background()

	m.SetWithStrategy(ctx, "k", []byte(`{"v":5}`), LongTerm)

	// Past L1MaxTTL the in-process copy is gone...
	now.Store(time.Unix(1_700_000_000, 0).Add(L1MaxTTL + time.Second))
	if _, ok := l1.Get("k"); ok {
		t.Fatal("L1 entry outlived L1MaxTTL")
	}
	// ...but the shared copy still honors the LongTerm TTL.
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatal("L2 entry should still be live")
	}
}

// TestStrategy_TTLTable pins the policy table.
func TestStrategy_TTLTable(t *testing.T) {
	cases := []struct {
		strategy Strategy
		want     time.Duration
	}{
		{RealTime, 30 * time.Second},
		{ShortTerm, 5 * time.Minute},
		{MediumTerm, time.Hour},
		{LongTerm, 3 * time.Hour},
		{Default, 5 * time.Minute},
		{Custom(42 * time.Second), 42 * time.Second},
		{Strategy{}, 5 * time.Minute}, // zero value falls back to Default
	}
	for _, tc := range cases {
		if got := tc.strategy.TTL(); got != tc.want {
			t.Errorf("%s TTL = %s, want %s", tc.strategy, got, tc.want)
		}
	}
}
