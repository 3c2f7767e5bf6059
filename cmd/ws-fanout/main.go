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

// Package main runs one replica of the market data fan-out service.
//
// Every replica is identical: each serves websocket clients, each runs the
// election loop and the dispatch loop. Whichever replica holds the leader
// lock fetches from upstream and writes the shared snapshot; the rest
// replay it. Scaling out is therefore just running more copies of this
// binary against the same Redis.
//
// Startup order matters: the store must answer a ping before anything
// else starts (a replica that cannot coordinate is useless), then the
// caches, then the hub, then the loops, and the HTTP listener last so
// /health never reports on a half-built process.
//
// Shutdown runs the same order in reverse: cancel the loops (the election
// loop releases the lock on its way out so a peer takes over within one
// heartbeat instead of a full TTL), close the hub, then drain the HTTP
// listener.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/api"
	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/cache"
	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/config"
	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/dispatch"
	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/election"
	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/hub"
	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/kvstore"
	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/market"
	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/memcache"
	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/telemetry"
)

// startupProbeTimeout bounds how long a replica waits for Redis before
// giving up. Long enough for a container-orchestrated Redis to come up
// alongside us.
const startupProbeTimeout = 30 * time.Second

func main() {
	log := newLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	store, err := kvstore.Open(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid redis url")
	}
	defer store.Close()

	if err := probeStore(store, log); err != nil {
		log.Fatal().Err(err).Msg("shared store unreachable")
	}

	l1 := memcache.New()
	l1.StartJanitor(time.Minute)
	defer l1.Stop()
	mgr := cache.NewManager(l1, store, log)

	upstream, err := market.BuildFetcher(cfg.UpstreamAdapter)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid upstream adapter")
	}
	adapter := market.NewAdapter(upstream, mgr, store, log)

	nodeID := election.NewNodeID(cfg.ReplicaID)
	el := election.New(store, nodeID, log,
		election.WithIntervals(cfg.HeartbeatInterval, cfg.LockTTL))

	h := hub.New(log)
	disp := dispatch.New(adapter, mgr, el, h, log,
		dispatch.WithInterval(cfg.FetchInterval),
		dispatch.WithOpDeadline(cfg.HeartbeatInterval))

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(h, store, el, disp, cfg.AllowedOrigins, log).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		if err := el.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("election loop exited")
		}
	}()
	go func() {
		defer loops.Done()
		if err := disp.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("dispatch loop exited")
		}
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listener starting")
			if err := telemetry.Serve(cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("node_id", nodeID).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http listener failed")
		}
	}()

	<-runCtx.Done()
	log.Info().Msg("shutting down")
	stop()

	// Loops first: the election loop's exit path releases the leader lock.
	loops.Wait()
	h.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	log.Info().Msg("shutdown complete")
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

// probeStore retries the initial ping with exponential backoff so replica
// and store can start in any order.
func probeStore(store kvstore.Store, log zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), startupProbeTimeout)
	defer cancel()

	backoff := retry.WithMaxDuration(startupProbeTimeout,
		retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := store.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("store not ready, retrying")
			return retry.RetryableError(err)
		}
		return nil
	})
}
