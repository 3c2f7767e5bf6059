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
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSectionTimeout bounds each provider section independently so one
// slow vendor cannot starve the rest of the snapshot.
const DefaultSectionTimeout = 8 * time.Second

// SectionFunc fetches one slice of the market snapshot (crypto prices,
// global stats, sentiment, indices) and returns it as flat snapshot fields.
type SectionFunc func(ctx context.Context) (map[string]any, error)

// Aggregator fans out to independent provider sections concurrently and
// merges their fields into one snapshot. Sections are best-effort: a
// failed or timed-out section is logged and marked via partial_failure
// while the rest of the snapshot still goes out. Only when every section
// fails does Fetch return an error.
type Aggregator struct {
	sections map[string]SectionFunc
	timeout  time.Duration
	log      zerolog.Logger
	now      func() time.Time

	total   atomic.Int64
	partial atomic.Int64
	failed  atomic.Int64
}

// AggregatorOption adjusts an Aggregator at construction.
type AggregatorOption func(*Aggregator)

// WithSectionTimeout overrides the per-section deadline.
func WithSectionTimeout(d time.Duration) AggregatorOption {
	return func(g *Aggregator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithAggregatorClock overrides the wall clock for tests.
func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(g *Aggregator) { g.now = now }
}

// NewAggregator builds an aggregator over named sections. Nil sections are
// skipped, so callers can wire only the providers they have credentials for.
func NewAggregator(sections map[string]SectionFunc, log zerolog.Logger, opts ...AggregatorOption) *Aggregator {
	g := &Aggregator{
		sections: make(map[string]SectionFunc, len(sections)),
		timeout:  DefaultSectionTimeout,
		log:      log.With().Str("component", "aggregator").Logger(),
		now:      time.Now,
	}
	for name, fn := range sections {
		if fn != nil {
			g.sections[name] = fn
		}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type sectionResult struct {
	name   string
	fields map[string]any
	err    error
}

// Fetch runs every section concurrently under its own deadline and merges
// the results. The merged snapshot additionally carries partial_failure,
// fetch_duration_ms and last_updated bookkeeping fields.
func (g *Aggregator) Fetch(ctx context.Context) (map[string]any, error) {
	if len(g.sections) == 0 {
		return nil, ErrNotConfigured
	}
	g.total.Add(1)
	start := g.now()

	results := make(chan sectionResult, len(g.sections))
	var wg sync.WaitGroup
	for name, fn := range g.sections {
		wg.Add(1)
		go func(name string, fn SectionFunc) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, g.timeout)
			defer cancel()
			fields, err := fn(sctx)
			results <- sectionResult{name: name, fields: fields, err: err}
		}(name, fn)
	}
	wg.Wait()
	close(results)

	merged := make(map[string]any)
	failures := 0
	for res := range results {
		if res.err != nil {
			failures++
			g.log.Warn().Err(res.err).Str("section", res.name).Msg("section fetch failed")
			continue
		}
		for k, v := range res.fields {
			merged[k] = v
		}
	}

	elapsed := g.now().Sub(start)
	if failures == len(g.sections) {
		g.failed.Add(1)
		return nil, ErrUpstreamUnavailable
	}
	if failures > 0 {
		g.partial.Add(1)
	}
	merged["partial_failure"] = failures > 0
	merged["fetch_duration_ms"] = elapsed.Milliseconds()
	merged["last_updated"] = g.now().UTC().Format(time.RFC3339)

	g.log.Debug().Int("sections", len(g.sections)).Int("failures", failures).
		Dur("elapsed", elapsed).Msg("aggregate fetch complete")
	return merged, nil
}

// AggregatorStats is a point-in-time counter snapshot for diagnostics.
type AggregatorStats struct {
	Total   int64
	Partial int64
	Failed  int64
}

// Stats returns cumulative fetch outcome counters.
func (g *Aggregator) Stats() AggregatorStats {
	return AggregatorStats{
		Total:   g.total.Load(),
		Partial: g.partial.Load(),
		Failed:  g.failed.Load(),
	}
}
