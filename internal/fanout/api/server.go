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

// Package api exposes the public HTTP surface: the websocket upgrade
// endpoint clients subscribe on and the health endpoint load balancers
// poll. Metrics live on their own listener (telemetry.Serve), not here.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/hub"
	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/kvstore"
)

// staleAfter is how old the last broadcast may be before a dead store
// also makes the replica report degraded. Three broadcast intervals.
const staleAfter = 30 * time.Second

// healthCheckTimeout bounds the store ping inside /health so a hung store
// cannot hang the load balancer's probe.
const healthCheckTimeout = 2 * time.Second

// ElectionInfo is the slice of the election service the API reports on.
type ElectionInfo interface {
	IsLeader() bool
	NodeID() string
}

// DispatchInfo is the slice of the dispatcher the API reports on.
type DispatchInfo interface {
	LastBroadcast() time.Time
}

// Server serves /ws and /health.
type Server struct {
	hub      *hub.Hub
	store    kvstore.Store
	election ElectionInfo
	dispatch DispatchInfo
	upgrader websocket.Upgrader
	log      zerolog.Logger
	now      func() time.Time
}

// NewServer wires the API surface. allowedOrigins lists the Origin values
// accepted on upgrade; empty allows any origin, and "*" as an entry does
// the same explicitly.
func NewServer(h *hub.Hub, store kvstore.Store, el ElectionInfo, dp DispatchInfo, allowedOrigins []string, log zerolog.Logger) *Server {
	s := &Server{
		hub:      h,
		store:    store,
		election: el,
		dispatch: dp,
		log:      log.With().Str("component", "api").Logger(),
		now:      time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return s
}

// Handler returns the route table for the public listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// handleWS upgrades the connection and hands it to the hub. The client
// receives the next scheduled broadcast; there is no per-connection replay.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade rejected")
		return
	}
	if hub.Attach(s.hub, conn) == nil {
		s.log.Debug().Str("remote", r.RemoteAddr).Msg("connection refused, hub shut down")
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	NodeID        string `json:"node_id"`
	Role          string `json:"role"`
	Clients       int    `json:"clients"`
	Store         string `json:"store"`
	LastBroadcast string `json:"last_broadcast,omitempty"`
}

// handleHealth reports replica health. Follower is a normal role, never a
// failure; the replica is degraded only when the store is unreachable AND
// clients have not received anything recently. Degraded still answers 200
// so orchestrators keep the replica serving its connected clients.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{
		Status:  "healthy",
		NodeID:  s.election.NodeID(),
		Role:    "follower",
		Clients: s.hub.Count(),
		Store:   "ok",
	}
	if s.election.IsLeader() {
		resp.Role = "leader"
	}

	last := s.dispatch.LastBroadcast()
	if !last.IsZero() {
		resp.LastBroadcast = last.UTC().Format(time.RFC3339)
	}

	if err := s.store.Ping(ctx); err != nil {
		resp.Store = "unreachable"
		if last.IsZero() || s.now().Sub(last) > staleAfter {
			resp.Status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Debug().Err(err).Msg("health response write failed")
	}
}

// originChecker builds the upgrade origin policy. Browsers send Origin;
// non-browser clients usually do not, and those are always allowed.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
