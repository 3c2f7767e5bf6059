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

// Package telemetry exposes Prometheus metrics for the fan-out service.
// All recording functions are cheap and safe to call from hot paths; label
// sets are fixed so cardinality stays bounded.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_cache_hits_total",
		Help: "Cache hits by tier (l1 = in-process, l2 = shared store)",
	}, []string{"tier"})
	cacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_cache_misses_total",
		Help: "Cache misses by tier",
	}, []string{"tier"})
	coalescedCalls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fanout_singleflight_coalesced_total",
		Help: "GetOrCompute callers that waited on an in-flight computation instead of computing",
	})
	leaderGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fanout_leader",
		Help: "1 while this replica holds the leader lock, 0 otherwise",
	})
	leadershipTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_leadership_transitions_total",
		Help: "Leadership transitions by direction (acquired, lost, released)",
	}, []string{"direction"})
	ticks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_dispatch_ticks_total",
		Help: "Dispatcher ticks by role at tick time",
	}, []string{"role"})
	broadcasts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fanout_broadcasts_total",
		Help: "Snapshots handed to the client hub",
	})
	skippedTicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_skipped_ticks_total",
		Help: "Ticks that produced no broadcast, by reason (upstream_error, cache_miss, store_error)",
	}, []string{"reason"})
	streamAppends = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fanout_stream_appends_total",
		Help: "Entries appended to the capped market data stream",
	})
	streamAppendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fanout_stream_append_errors_total",
		Help: "Failed stream appends (best-effort, never fatal)",
	})
	upstreamFetchSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fanout_upstream_fetch_seconds",
		Help:    "Latency of upstream aggregate fetches",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
	})
	upstreamErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fanout_upstream_errors_total",
		Help: "Failed upstream fetches",
	})
	connectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fanout_ws_clients",
		Help: "Currently connected websocket clients",
	})
	droppedClients = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fanout_ws_clients_dropped_total",
		Help: "Clients disconnected because their send queue stayed full",
	})
	storeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_store_errors_total",
		Help: "Shared store operation failures by component",
	}, []string{"component"})
)

func init() {
	prometheus.MustRegister(
		cacheHits, cacheMisses, coalescedCalls,
		leaderGauge, leadershipTransitions,
		ticks, broadcasts, skippedTicks,
		streamAppends, streamAppendErrors,
		upstreamFetchSeconds, upstreamErrors,
		connectedClients, droppedClients, storeErrors,
	)
}

func RecordCacheHit(tier string)  { cacheHits.WithLabelValues(tier).Inc() }
func RecordCacheMiss(tier string) { cacheMisses.WithLabelValues(tier).Inc() }
func RecordCoalesced()            { coalescedCalls.Inc() }

// SetLeader mirrors the process-local leader flag into the gauge.
func SetLeader(leader bool) {
	if leader {
		leaderGauge.Set(1)
		return
	}
	leaderGauge.Set(0)
}

func RecordLeadershipChange(direction string) {
	leadershipTransitions.WithLabelValues(direction).Inc()
}

func RecordTick(role string)          { ticks.WithLabelValues(role).Inc() }
func RecordBroadcast()                { broadcasts.Inc() }
func RecordSkippedTick(reason string) { skippedTicks.WithLabelValues(reason).Inc() }

func RecordStreamAppend(err error) {
	if err != nil {
		streamAppendErrors.Inc()
		return
	}
	streamAppends.Inc()
}

func ObserveUpstreamFetch(d time.Duration, err error) {
	upstreamFetchSeconds.Observe(d.Seconds())
	if err != nil {
		upstreamErrors.Inc()
	}
}

func ClientConnected()    { connectedClients.Inc() }
func ClientDisconnected() { connectedClients.Dec() }
func ClientDropped()      { droppedClients.Inc() }

func RecordStoreError(component string) { storeErrors.WithLabelValues(component).Inc() }

// Serve exposes /metrics on its own listener. It blocks, so callers run it in
// a goroutine; errors other than a clean shutdown should be logged fatal by
// the caller.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
