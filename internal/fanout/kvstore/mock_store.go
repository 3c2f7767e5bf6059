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

package kvstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mock is an in-memory Store used by unit tests across the repo. It honors
// the same atomicity and TTL semantics as the Redis gateway, with a
// controllable clock and fault injection.
//
// Safe for concurrent use; every operation holds one mutex, which also makes
// the conditional operations atomic.
type Mock struct {
	mu      sync.Mutex
	entries map[string]mockEntry
	streams map[string][]MockStreamEntry
	nowFn   func() time.Time
	failErr error
	nextID  int64
}

type mockEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MockStreamEntry is one appended stream record.
type MockStreamEntry struct {
	ID     string
	Fields map[string]string
}

// NewMock returns an empty in-memory store using the wall clock.
func NewMock() *Mock {
	return &Mock{
		entries: make(map[string]mockEntry),
		streams: make(map[string][]MockStreamEntry),
		nowFn:   time.Now,
	}
}

// SetClock replaces the time source. Tests advance it to expire keys.
func (m *Mock) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowFn = now
}

// FailWith makes every subsequent operation return err. Pass nil to heal.
func (m *Mock) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *Mock) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return false, m.failErr
	}
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.entries[key] = mockEntry{value: value, expiresAt: m.deadline(ttl)}
	return true, nil
}

func (m *Mock) CompareAndRenew(_ context.Context, key, expected string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return false, m.failErr
	}
	e, ok := m.live(key)
	if !ok || e.value != expected {
		return false, nil
	}
	m.entries[key] = mockEntry{value: e.value, expiresAt: m.deadline(ttl)}
	return true, nil
}

func (m *Mock) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return false, m.failErr
	}
	e, ok := m.live(key)
	if !ok || e.value != expected {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *Mock) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return "", false, m.failErr
	}
	e, ok := m.live(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Mock) GetWithTTL(_ context.Context, key string) (string, time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return "", 0, false, m.failErr
	}
	e, ok := m.live(key)
	if !ok {
		return "", 0, false, nil
	}
	if e.expiresAt.IsZero() {
		return e.value, -1, true, nil
	}
	return e.value, e.expiresAt.Sub(m.nowFn()), true, nil
}

func (m *Mock) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.entries[key] = mockEntry{value: value, expiresAt: m.deadline(ttl)}
	return nil
}

func (m *Mock) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	delete(m.entries, key)
	return nil
}

func (m *Mock) StreamAppend(_ context.Context, streamKey string, fields map[string]string, maxLen int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return "", m.failErr
	}
	m.nextID++
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	id := fmt.Sprintf("%d-0", m.nextID)
	s := append(m.streams[streamKey], MockStreamEntry{ID: id, Fields: cp})
	if maxLen > 0 && int64(len(s)) > maxLen {
		s = s[int64(len(s))-maxLen:]
	}
	m.streams[streamKey] = s
	return id, nil
}

func (m *Mock) StreamLen(_ context.Context, streamKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}
	return int64(len(m.streams[streamKey])), nil
}

func (m *Mock) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failErr
}

// StreamEntries returns a copy of the stream for assertions.
func (m *Mock) StreamEntries(streamKey string) []MockStreamEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockStreamEntry, len(m.streams[streamKey]))
	copy(out, m.streams[streamKey])
	return out
}

// live returns the entry for key, lazily dropping it when expired.
// Callers must hold m.mu.
func (m *Mock) live(key string) (mockEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return mockEntry{}, false
	}
	if !e.expiresAt.IsZero() && !e.expiresAt.After(m.nowFn()) {
		delete(m.entries, key)
		return mockEntry{}, false
	}
	return e, true
}

func (m *Mock) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.nowFn().Add(ttl)
}
