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

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/hub"
	"github.com/thichuong/Web-server-Report-websocket/internal/fanout/kvstore"
)

type fakeElection struct {
	leader bool
	nodeID string
}

func (f *fakeElection) IsLeader() bool { return f.leader }
func (f *fakeElection) NodeID() string { return f.nodeID }

type fakeDispatch struct{ last time.Time }

func (f *fakeDispatch) LastBroadcast() time.Time { return f.last }

func newTestServer(t *testing.T, store kvstore.Store, el *fakeElection, dp *fakeDispatch, origins []string) (*Server, *hub.Hub, *httptest.Server) {
	t.Helper()
	h := hub.New(zerolog.Nop())
	t.Cleanup(h.Close)
	s := NewServer(h, store, el, dp, origins, zerolog.Nop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, h, ts
}

func getHealth(t *testing.T, ts *httptest.Server) (int, healthResponse) {
	t.Helper()
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealth_FollowerWithHealthyStoreIsHealthy(t *testing.T) {
	store := kvstore.NewMock()
	_, _, ts := newTestServer(t, store, &fakeElection{nodeID: "ws-1"}, &fakeDispatch{}, nil)

	code, body := getHealth(t, ts)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "healthy", body.Status)
	require.Equal(t, "follower", body.Role)
	require.Equal(t, "ws-1", body.NodeID)
	require.Equal(t, "ok", body.Store)
}

func TestHealth_LeaderRoleReported(t *testing.T) {
	store := kvstore.NewMock()
	_, _, ts := newTestServer(t, store, &fakeElection{leader: true, nodeID: "ws-2"}, &fakeDispatch{last: time.Now()}, nil)

	_, body := getHealth(t, ts)
	require.Equal(t, "leader", body.Role)
	require.NotEmpty(t, body.LastBroadcast)
}

func TestHealth_StoreDownButRecentBroadcastStillHealthy(t *testing.T) {
	store := kvstore.NewMock()
	store.FailWith(kvstore.ErrStoreUnavailable)
	_, _, ts := newTestServer(t, store, &fakeElection{nodeID: "ws-3"}, &fakeDispatch{last: time.Now()}, nil)

	code, body := getHealth(t, ts)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "healthy", body.Status, "recent broadcasts mean clients are being served")
	require.Equal(t, "unreachable", body.Store)
}

func TestHealth_StoreDownAndStaleIsDegradedBut200(t *testing.T) {
	store := kvstore.NewMock()
	store.FailWith(kvstore.ErrStoreUnavailable)
	stale := &fakeDispatch{last: time.Now().Add(-5 * time.Minute)}
	_, _, ts := newTestServer(t, store, &fakeElection{nodeID: "ws-4"}, stale, nil)

	code, body := getHealth(t, ts)
	require.Equal(t, http.StatusOK, code, "degraded replicas keep serving, never 5xx")
	require.Equal(t, "degraded", body.Status)
}

func TestWS_UpgradeAndReceiveBroadcast(t *testing.T) {
	store := kvstore.NewMock()
	_, h, ts := newTestServer(t, store, &fakeElection{nodeID: "ws-5"}, &fakeDispatch{}, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Count() == 1 },
		time.Second, 10*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"connected"}`, string(payload))

	h.Broadcast([]byte(`{"btc_price_usd":50000}`))
	_, payload, err = conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"btc_price_usd":50000}`, string(payload))
}

func TestWS_OriginPolicy(t *testing.T) {
	store := kvstore.NewMock()
	_, _, ts := newTestServer(t, store, &fakeElection{nodeID: "ws-6"}, &fakeDispatch{},
		[]string{"https://app.example.com"})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	// Allowed origin upgrades.
	hdr := http.Header{"Origin": []string{"https://app.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)
	conn.Close()

	// Unlisted origin is refused at the HTTP layer.
	hdr = http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Non-browser clients send no Origin and are always allowed.
	conn, _, err = websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	conn.Close()
}
