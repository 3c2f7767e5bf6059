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

package config

import (
	"testing"
	"time"
)

func TestLoad_DefaultsApplied(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://127.0.0.1:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FetchInterval != DefaultFetchInterval {
		t.Errorf("FetchInterval = %s, want %s", cfg.FetchInterval, DefaultFetchInterval)
	}
	if cfg.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("HeartbeatInterval = %s, want %s", cfg.HeartbeatInterval, DefaultHeartbeatInterval)
	}
	if cfg.LockTTL != DefaultLockTTL {
		t.Errorf("LockTTL = %s, want %s", cfg.LockTTL, DefaultLockTTL)
	}
	if cfg.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, DefaultHTTPAddr)
	}
	if cfg.UpstreamAdapter != "demo" {
		t.Errorf("UpstreamAdapter = %q, want demo", cfg.UpstreamAdapter)
	}
	if cfg.AllowedOrigins != nil {
		t.Errorf("AllowedOrigins = %v, want nil", cfg.AllowedOrigins)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("FETCH_INTERVAL_SECONDS", "10")
	t.Setenv("HEARTBEAT_INTERVAL_SECONDS", "3")
	t.Setenv("LOCK_TTL_SECONDS", "9")
	t.Setenv("REPLICA_ID", "replica-2")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FetchInterval != 10*time.Second || cfg.HeartbeatInterval != 3*time.Second || cfg.LockTTL != 9*time.Second {
		t.Errorf("intervals = %s/%s/%s", cfg.FetchInterval, cfg.HeartbeatInterval, cfg.LockTTL)
	}
	if cfg.ReplicaID != "replica-2" {
		t.Errorf("ReplicaID = %q", cfg.ReplicaID)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoad_MissingRedisURLFails(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted an empty REDIS_URL")
	}
}

func TestValidate_LockTTLMustCoverTwoHeartbeats(t *testing.T) {
	cfg := Config{
		RedisURL:          "redis://127.0.0.1:6379",
		FetchInterval:     5 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		LockTTL:           9 * time.Second,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate accepted a lock TTL below two heartbeats")
	}
	cfg.LockTTL = 10 * time.Second
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate rejected a valid config: %v", err)
	}
}

func TestEnvSeconds_GarbageFallsBackToDefault(t *testing.T) {
	t.Setenv("FETCH_INTERVAL_SECONDS", "soon")
	if got := envSeconds("FETCH_INTERVAL_SECONDS", DefaultFetchInterval); got != DefaultFetchInterval {
		t.Errorf("envSeconds = %s, want default", got)
	}
	t.Setenv("FETCH_INTERVAL_SECONDS", "-4")
	if got := envSeconds("FETCH_INTERVAL_SECONDS", DefaultFetchInterval); got != DefaultFetchInterval {
		t.Errorf("negative seconds accepted: %s", got)
	}
}
