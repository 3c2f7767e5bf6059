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

// Package election elects one leader across the replica set using the
// single-writer semantics of the shared store: SET-if-absent acquires the
// lock, a conditional renew keeps it, a conditional delete releases it.
//
// The lock lives in one store instance, so this is not a quorum protocol.
// Under a store partition two nodes may briefly both believe they lead; the
// worst consequence is a duplicated upstream fetch and broadcast, which
// clients tolerate.
package election

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/kvstore"
	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/telemetry"
)

// LockKey is the shared lock record. Bit-exact across replicas; changing it
// splits the cluster into two leader domains.
const LockKey = "websocket:leader"

const (
	DefaultHeartbeat = 5 * time.Second
	DefaultLockTTL   = 10 * time.Second

	// maxRenewFailures bounds how many consecutive unavailable renews a
	// leader rides out before stepping down. Three 5s heartbeats still
	// finish inside the 10s TTL grace extended by the last good renew,
	// so a demoted leader never overlaps a successor that acquired an
	// expired lock.
	maxRenewFailures = 3
)

// State is the observable position in the election state machine.
type State int32

const (
	StateInitializing State = iota
	StateFollower
	StateLeader
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateFollower:
		return "follower"
	case StateLeader:
		return "leader"
	case StateReleased:
		return "released"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// NewNodeID derives the process identity. A non-empty replicaID (for
// platforms that hand out stable replica names) seeds it; otherwise a
// random UUID guarantees uniqueness across live replicas.
func NewNodeID(replicaID string) string {
	if replicaID != "" {
		return replicaID
	}
	return "ws-" + uuid.NewString()
}

// Service runs the acquire/renew/release loop for one node. It is the sole
// writer of the leader flag; any goroutine may read it via IsLeader.
type Service struct {
	store     kvstore.Store
	nodeID    string
	lockKey   string
	heartbeat time.Duration
	lockTTL   time.Duration
	log       zerolog.Logger

	leader        atomic.Bool
	state         atomic.Int32
	renewFailures int // loop-local; only Run's goroutine touches it

	releaseOnce sync.Once
}

// Option adjusts a Service at construction.
type Option func(*Service)

// WithIntervals overrides heartbeat and lock TTL. The TTL is clamped to at
// least twice the heartbeat so one missed renew cannot cost the lock.
func WithIntervals(heartbeat, lockTTL time.Duration) Option {
	return func(s *Service) {
		if heartbeat > 0 {
			s.heartbeat = heartbeat
		}
		if lockTTL > 0 {
			s.lockTTL = lockTTL
		}
		if s.lockTTL < 2*s.heartbeat {
			s.lockTTL = 2 * s.heartbeat
		}
	}
}

// WithLockKey overrides the lock record key. Tests isolate themselves with
// this; production uses LockKey.
func WithLockKey(key string) Option {
	return func(s *Service) { s.lockKey = key }
}

// New builds the election service for this node.
func New(store kvstore.Store, nodeID string, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		nodeID:    nodeID,
		lockKey:   LockKey,
		heartbeat: DefaultHeartbeat,
		lockTTL:   DefaultLockTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = log.With().Str("component", "election").Str("node_id", nodeID).Logger()
	s.state.Store(int32(StateInitializing))
	return s
}

// IsLeader reports whether this node currently holds the lock. The flag is
// authoritative only within this process.
func (s *Service) IsLeader() bool { return s.leader.Load() }

// NodeID returns this node's identity.
func (s *Service) NodeID() string { return s.nodeID }

// State returns the current state machine position.
func (s *Service) State() State { return State(s.state.Load()) }

// Run drives the election until ctx is cancelled. Every exit path — normal
// return and panic alike — attempts exactly one graceful release, so a
// clean shutdown frees the lock without waiting for the TTL.
func (s *Service) Run(ctx context.Context) error {
	defer s.release()

	s.state.Store(int32(StateFollower))
	s.log.Info().Dur("heartbeat", s.heartbeat).Dur("lock_ttl", s.lockTTL).
		Msg("starting leadership loop")

	// First acquisition attempt happens immediately, not a heartbeat later.
	s.tick(ctx)

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick performs one heartbeat: renew while leading, acquire otherwise.
func (s *Service) tick(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, s.heartbeat)
	defer cancel()

	if s.leader.Load() {
		s.renew(opCtx)
		return
	}
	s.acquire(opCtx)
}

func (s *Service) acquire(ctx context.Context) {
	acquired, err := s.store.SetIfAbsent(ctx, s.lockKey, s.nodeID, s.lockTTL)
	if err != nil {
		// Safe default: stay follower and retry next heartbeat.
		telemetry.RecordStoreError("election")
		s.log.Warn().Err(err).Msg("lock acquisition attempt failed")
		return
	}
	if !acquired {
		s.log.Debug().Msg("lock held by another node")
		return
	}
	s.promote()
}

func (s *Service) renew(ctx context.Context) {
	renewed, err := s.store.CompareAndRenew(ctx, s.lockKey, s.nodeID, s.lockTTL)
	if err != nil {
		telemetry.RecordStoreError("election")
		s.renewFailures++
		s.log.Warn().Err(err).Int("consecutive_failures", s.renewFailures).
			Msg("lock renew failed")
		if s.renewFailures >= maxRenewFailures {
			s.demote("store unavailable")
		}
		return
	}
	s.renewFailures = 0
	if !renewed {
		// The record expired or belongs to someone else now.
		s.demote("renew rejected")
		return
	}
	s.log.Debug().Msg("lock renewed")
}

func (s *Service) promote() {
	s.renewFailures = 0
	s.leader.Store(true)
	s.state.Store(int32(StateLeader))
	telemetry.SetLeader(true)
	telemetry.RecordLeadershipChange("acquired")
	s.log.Info().Msg("leadership acquired")
}

func (s *Service) demote(reason string) {
	s.leader.Store(false)
	s.state.Store(int32(StateFollower))
	s.renewFailures = 0
	telemetry.SetLeader(false)
	telemetry.RecordLeadershipChange("lost")
	s.log.Warn().Str("reason", reason).Msg("leadership lost")
}

// release gives the lock back on shutdown so a successor is elected within
// one acquire retry rather than a full TTL. A failed delete is only logged:
// the TTL reclaims the lock regardless.
func (s *Service) release() {
	s.releaseOnce.Do(func() {
		wasLeader := s.leader.Load()
		s.leader.Store(false)
		s.state.Store(int32(StateReleased))
		telemetry.SetLeader(false)
		if !wasLeader {
			return
		}

		// The run context is already cancelled here; use a fresh one.
		ctx, cancel := context.WithTimeout(context.Background(), s.heartbeat)
		defer cancel()

		deleted, err := s.store.CompareAndDelete(ctx, s.lockKey, s.nodeID)
		if err != nil {
			s.log.Warn().Err(err).Msg("lock release failed, TTL will reclaim it")
			return
		}
		telemetry.RecordLeadershipChange("released")
		if deleted {
			s.log.Info().Msg("leadership released")
		} else {
			s.log.Debug().Msg("lock already gone at release")
		}
	})
}
