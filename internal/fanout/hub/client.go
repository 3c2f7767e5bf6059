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

package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a client may stay silent before the read side
	// declares it dead; pings go out at pingPeriod to keep it talking.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound frames. Clients only listen; anything
	// beyond a pong is noise.
	maxMessageSize = 512
)

// Client is one websocket connection attached to the hub. The hub writes
// into send; the client's write pump drains it onto the wire.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

// connectedAck is the first frame every client receives; snapshots follow
// on the broadcast cadence.
var connectedAck = []byte(`{"type":"connected"}`)

// Attach registers conn with the hub and starts its pumps. The connection
// is owned by the client from here on; the caller must not use it again.
func Attach(h *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	if !h.register(c) {
		conn.Close()
		return nil
	}
	go c.writePump()
	go c.readPump()
	return c
}

// RemoteAddr identifies the peer for logs.
func (c *Client) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// close shuts the connection down once. Safe to call from any goroutine.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

// writePump serializes all writes to the connection: queued broadcasts and
// the keepalive pings. Exactly one writePump runs per connection, which is
// what makes gorilla's single-writer requirement hold.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.hub.unregister(c)
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				c.close()
				return
			}
		}
	}
}

// readPump discards inbound messages and enforces liveness via pongs. Its
// real job is noticing the disconnect.
func (c *Client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.hub.unregister(c)
			c.close()
			return
		}
	}
}
