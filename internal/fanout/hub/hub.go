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

// Package hub tracks connected websocket clients and fans one payload out
// to all of them. Delivery is fire-and-forget: a client whose send queue
// stays full is dropped so one slow consumer cannot stall the broadcast
// path for everyone else.
package hub

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/telemetry"
)

// sendBufferSize is the per-client queue depth. At the default 5s
// broadcast cadence this absorbs over two minutes of backlog before a
// client is considered dead.
const sendBufferSize = 32

// Hub is the client registry and broadcast entry point. Safe for
// concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
	log     zerolog.Logger
}

// New returns an empty hub.
func New(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		log:     log.With().Str("component", "hub").Logger(),
	}
}

// register adds a client and queues its connection acknowledgement. The ack
// goes into the send queue under the lock: every send on c.send happens
// either here or in Broadcast while the client is still registered, so
// Close can never close the queue with a send still pending.
func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	c.send <- connectedAck
	telemetry.ClientConnected()
	h.log.Debug().Str("remote", c.RemoteAddr()).Int("clients", len(h.clients)).
		Msg("client connected")
	return true
}

// unregister removes a client if present. Idempotent.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	telemetry.ClientDisconnected()
	h.log.Debug().Str("remote", c.RemoteAddr()).Int("clients", len(h.clients)).
		Msg("client disconnected")
}

// Broadcast queues payload for every connected client without blocking.
// Clients whose queue is full are detached and closed.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	var slow []*Client
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		telemetry.ClientDropped()
		h.log.Warn().Str("remote", c.RemoteAddr()).Msg("dropping slow client")
		h.unregister(c)
		c.close()
	}
}

// Count reports the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close detaches and closes every client and rejects future registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		telemetry.ClientDisconnected()
		c.close()
	}
	h.log.Info().Int("clients", len(clients)).Msg("hub closed")
}
