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

// Package config reads the service configuration from the environment.
//
// The service is configured exclusively through environment variables so the
// same container image can run as any replica. All durations are expressed in
// whole seconds on the wire (FETCH_INTERVAL_SECONDS=5) and surfaced as
// time.Duration internally.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults for the coordination parameters. LockTTL must stay at or above
// twice the heartbeat so a leader survives one missed renew.
const (
	DefaultFetchInterval     = 5 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultLockTTL           = 10 * time.Second
	DefaultHTTPAddr          = ":8081"
)

// Config holds everything the process needs to start.
type Config struct {
	// RedisURL is the shared KV store, e.g. "redis://127.0.0.1:6379". Required.
	RedisURL string

	// FetchInterval is the dispatcher tick period.
	FetchInterval time.Duration

	// HeartbeatInterval is the election renew/acquire period.
	HeartbeatInterval time.Duration

	// LockTTL is the server-side expiry of the leader lock.
	LockTTL time.Duration

	// ReplicaID, when set, seeds the node identity. Empty means a random
	// identity is generated at startup.
	ReplicaID string

	// HTTPAddr is the listen address for /ws and /health.
	HTTPAddr string

	// MetricsAddr, when non-empty, exposes Prometheus /metrics on a
	// dedicated listener.
	MetricsAddr string

	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string

	// UpstreamAdapter selects the market data source ("demo" by default).
	UpstreamAdapter string
}

// Load builds a Config from the process environment, applying defaults and
// validating the coordination invariants.
func Load() (Config, error) {
	cfg := Config{
		RedisURL:          strings.TrimSpace(os.Getenv("REDIS_URL")),
		FetchInterval:     envSeconds("FETCH_INTERVAL_SECONDS", DefaultFetchInterval),
		HeartbeatInterval: envSeconds("HEARTBEAT_INTERVAL_SECONDS", DefaultHeartbeatInterval),
		LockTTL:           envSeconds("LOCK_TTL_SECONDS", DefaultLockTTL),
		ReplicaID:         strings.TrimSpace(os.Getenv("REPLICA_ID")),
		HTTPAddr:          envString("HTTP_ADDR", DefaultHTTPAddr),
		MetricsAddr:       strings.TrimSpace(os.Getenv("METRICS_ADDR")),
		AllowedOrigins:    envList("WS_ALLOWED_ORIGINS"),
		UpstreamAdapter:   envString("UPSTREAM_ADAPTER", "demo"),
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration invariants shared by every replica.
func (c Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.FetchInterval <= 0 {
		return fmt.Errorf("FETCH_INTERVAL_SECONDS must be positive, got %s", c.FetchInterval)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL_SECONDS must be positive, got %s", c.HeartbeatInterval)
	}
	// A leader must be able to miss one heartbeat without the lock expiring.
	if c.LockTTL < 2*c.HeartbeatInterval {
		return fmt.Errorf("LOCK_TTL_SECONDS (%s) must be at least twice HEARTBEAT_INTERVAL_SECONDS (%s)",
			c.LockTTL, c.HeartbeatInterval)
	}
	return nil
}

func envString(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func envSeconds(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func envList(name string) []string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
