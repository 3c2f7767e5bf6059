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

// Package dispatch runs the periodic fan-out loop. Each tick the dispatcher
// checks the node's current role: the leader refreshes from upstream and
// publishes; followers replay whatever the leader last wrote to the shared
// snapshot. Either way connected clients receive at most one message per
// tick, and a failed tick is skipped rather than retried out of cadence.
package dispatch

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/market"
	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/telemetry"
)

const (
	// DefaultInterval is the broadcast cadence.
	DefaultInterval = 5 * time.Second

	// DefaultOpDeadline bounds the store and upstream work of one tick. It
	// tracks the election heartbeat so a slow dependency shows up as a
	// skipped tick well before it can threaten lock renewal.
	DefaultOpDeadline = 5 * time.Second
)

// SnapshotSource produces the serialized snapshot; the market adapter
// implements it. forceRefresh bypasses every cache tier.
type SnapshotSource interface {
	FetchNormalized(ctx context.Context, forceRefresh bool) ([]byte, error)
}

// SnapshotReader serves the shared snapshot for followers; the cache
// manager implements it.
type SnapshotReader interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// LeaderFlag reports this node's current role; the election service
// implements it.
type LeaderFlag interface {
	IsLeader() bool
}

// Broadcaster delivers one payload to all connected clients; the hub
// implements it. It must not block.
type Broadcaster interface {
	Broadcast(payload []byte)
}

// Dispatcher owns the tick loop. One instance runs per process.
type Dispatcher struct {
	source    SnapshotSource
	reader    SnapshotReader
	leader    LeaderFlag
	hub       Broadcaster
	interval  time.Duration
	opTimeout time.Duration
	log       zerolog.Logger

	lastBroadcast atomic.Int64 // unix nanos of the last successful broadcast
}

// Option adjusts a Dispatcher at construction.
type Option func(*Dispatcher)

// WithInterval overrides the broadcast cadence.
func WithInterval(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.interval = d
		}
	}
}

// WithOpDeadline overrides the per-tick operation deadline. Wiring passes
// the election heartbeat here so tick work always finishes inside one
// renew cycle.
func WithOpDeadline(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.opTimeout = d
		}
	}
}

// New wires the dispatcher.
func New(source SnapshotSource, reader SnapshotReader, leader LeaderFlag, hub Broadcaster, log zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		source:    source,
		reader:    reader,
		leader:    leader,
		hub:       hub,
		interval:  DefaultInterval,
		opTimeout: DefaultOpDeadline,
		log:       log.With().Str("component", "dispatch").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// LastBroadcast reports when clients last received a snapshot; the zero
// time means never. Health checks use it to detect a stalled pipeline.
func (d *Dispatcher) LastBroadcast() time.Time {
	n := d.lastBroadcast.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run ticks until ctx is cancelled. The first tick fires immediately so a
// fresh replica serves clients without waiting a full interval.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info().Dur("interval", d.interval).Msg("starting dispatch loop")

	d.tick(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("dispatch loop stopped")
			return ctx.Err()
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick performs one broadcast attempt. All store and upstream work runs
// under the operation deadline (never longer than the interval itself) so a
// slow dependency cannot make ticks pile up or outlast a renew cycle.
func (d *Dispatcher) tick(ctx context.Context) {
	timeout := d.opTimeout
	if d.interval < timeout {
		timeout = d.interval
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if d.leader.IsLeader() {
		telemetry.RecordTick("leader")
		d.leaderTick(opCtx)
		return
	}
	telemetry.RecordTick("follower")
	d.followerTick(opCtx)
}

// leaderTick refreshes from upstream and publishes. The forced fetch also
// rewrites the shared snapshot, which is what followers replay.
func (d *Dispatcher) leaderTick(ctx context.Context) {
	payload, err := d.source.FetchNormalized(ctx, true)
	if err != nil {
		telemetry.RecordSkippedTick("upstream_error")
		d.log.Warn().Err(err).Msg("leader tick skipped, upstream fetch failed")
		return
	}
	d.broadcast(payload)
}

// followerTick replays the leader's latest shared snapshot. A miss is
// normal right after a cluster cold start; it resolves as soon as the
// leader completes its first tick.
func (d *Dispatcher) followerTick(ctx context.Context) {
	payload, ok, err := d.reader.Get(ctx, market.LatestSnapshotKey)
	if err != nil {
		telemetry.RecordSkippedTick("store_error")
		d.log.Warn().Err(err).Msg("follower tick skipped, shared snapshot unreadable")
		return
	}
	if !ok {
		telemetry.RecordSkippedTick("cache_miss")
		d.log.Debug().Msg("follower tick skipped, no shared snapshot yet")
		return
	}
	d.broadcast(payload)
}

// envelope is the wire frame clients receive. Data carries the snapshot
// verbatim so leader and follower broadcasts are byte-identical for the
// same shared snapshot.
type envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
	Source    string          `json:"source"`
}

func (d *Dispatcher) broadcast(payload []byte) {
	now := time.Now()
	framed, err := json.Marshal(envelope{
		Type:      "dashboard_update",
		Data:      payload,
		Timestamp: now.UTC().Format(time.RFC3339),
		Source:    market.Source,
	})
	if err != nil {
		// payload is already valid JSON, so this cannot happen in practice;
		// send the bare snapshot rather than dropping the tick.
		framed = payload
	}
	d.hub.Broadcast(framed)
	d.lastBroadcast.Store(now.UnixNano())
	telemetry.RecordBroadcast()
	d.log.Debug().Int("bytes", len(framed)).Msg("snapshot broadcast")
}
