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
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func staticSection(fields map[string]any) SectionFunc {
	return func(context.Context) (map[string]any, error) { return fields, nil }
}

func failingSection(err error) SectionFunc {
	return func(context.Context) (map[string]any, error) { return nil, err }
}

// TestAggregator_MergesAllSections: every healthy section contributes its
// fields and the bookkeeping fields report a clean run.
func TestAggregator_MergesAllSections(t *testing.T) {
	g := NewAggregator(map[string]SectionFunc{
		"crypto":    staticSection(map[string]any{"btc_price_usd": 50000.0, "eth_price_usd": 3000.0}),
		"global":    staticSection(map[string]any{"market_cap_usd": 2.1e12}),
		"sentiment": staticSection(map[string]any{"fng_value": 62}),
	}, zerolog.Nop())

	snap, err := g.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap["btc_price_usd"] != 50000.0 || snap["market_cap_usd"] != 2.1e12 || snap["fng_value"] != 62 {
		t.Fatalf("merged snapshot incomplete: %v", snap)
	}
	if snap["partial_failure"] != false {
		t.Fatal("clean run flagged as partial")
	}
	if _, ok := snap["last_updated"]; !ok {
		t.Fatal("last_updated missing")
	}
	if got := g.Stats(); got.Total != 1 || got.Partial != 0 || got.Failed != 0 {
		t.Fatalf("stats = %+v", got)
	}
}

// TestAggregator_PartialFailure: one dead section is flagged, not fatal.
func TestAggregator_PartialFailure(t *testing.T) {
	g := NewAggregator(map[string]SectionFunc{
		"crypto":    staticSection(map[string]any{"btc_price_usd": 50000.0}),
		"sentiment": failingSection(errors.New("vendor 429")),
	}, zerolog.Nop())

	snap, err := g.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap["btc_price_usd"] != 50000.0 {
		t.Fatal("healthy section lost")
	}
	if snap["partial_failure"] != true {
		t.Fatal("failed section not flagged")
	}
	if got := g.Stats(); got.Partial != 1 {
		t.Fatalf("stats = %+v, want one partial", got)
	}
}

// TestAggregator_AllSectionsFail: nothing to merge means the fetch itself
// fails so the caller does not cache an empty snapshot.
func TestAggregator_AllSectionsFail(t *testing.T) {
	g := NewAggregator(map[string]SectionFunc{
		"crypto": failingSection(errors.New("down")),
		"global": failingSection(errors.New("down")),
	}, zerolog.Nop())

	if _, err := g.Fetch(context.Background()); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
	if got := g.Stats(); got.Failed != 1 {
		t.Fatalf("stats = %+v, want one failed", got)
	}
}

// TestAggregator_SectionTimeout: a hung section is cut off at its deadline
// while the rest of the snapshot survives.
func TestAggregator_SectionTimeout(t *testing.T) {
	hung := func(ctx context.Context) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	g := NewAggregator(map[string]SectionFunc{
		"crypto": staticSection(map[string]any{"btc_price_usd": 50000.0}),
		"hung":   hung,
	}, zerolog.Nop(), WithSectionTimeout(20*time.Millisecond))

	start := time.Now()
	snap, err := g.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("fetch blocked %s on a hung section", elapsed)
	}
	if snap["partial_failure"] != true {
		t.Fatal("timed-out section not flagged")
	}
}

// TestAggregator_NilAndEmptySections: nil sections are skipped at
// construction; an aggregator with nothing wired is not configured.
func TestAggregator_NilAndEmptySections(t *testing.T) {
	g := NewAggregator(map[string]SectionFunc{"crypto": nil}, zerolog.Nop())
	if _, err := g.Fetch(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}
