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

// Package memcache is the process-local cache tier (L1): a bounded map with
// LRU eviction, per-entry TTL, and an idle deadline. Whichever bound is hit
// first wins. It never touches the network; the shared tier lives in kvstore.
package memcache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults sized for the fan-out workload: a few well-known snapshot keys
// plus headroom for request-driven lookups.
const (
	DefaultCapacity = 2000
	DefaultTTL      = 5 * time.Minute
	DefaultIdleTTL  = 2 * time.Minute
)

// Cache is a bounded LRU+TTL cache of key to serialized JSON value.
// All methods are safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	lru      *list.List // front = most recently used
	capacity int
	ttl      time.Duration
	idleTTL  time.Duration
	now      func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

type entry struct {
	key          string
	value        []byte
	expiresAt    time.Time
	idleDeadline time.Time
	acquiredAt   time.Time
}

// Stats is a monotonic counter snapshot plus the current size.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// Option tweaks a Cache at construction.
type Option func(*Cache)

// WithCapacity bounds the number of resident entries.
func WithCapacity(n int) Option { return func(c *Cache) { c.capacity = n } }

// WithDefaultTTL sets the TTL used when Put receives a non-positive ttl.
func WithDefaultTTL(d time.Duration) Option { return func(c *Cache) { c.ttl = d } }

// WithIdleTTL sets how long an untouched entry may linger. Zero disables
// idle eviction.
func WithIdleTTL(d time.Duration) Option { return func(c *Cache) { c.idleTTL = d } }

// WithClock replaces the time source. Tests advance it to expire entries.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// New builds a cache with the fan-out defaults, then applies opts.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
		idleTTL:  DefaultIdleTTL,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value and refreshes the entry's recency and idle
// deadline. Expired entries are dropped on access.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	e := el.Value.(*entry)
	if c.dead(e) {
		c.remove(el)
		c.misses.Add(1)
		return nil, false
	}
	c.lru.MoveToFront(el)
	if c.idleTTL > 0 {
		e.idleDeadline = c.now().Add(c.idleTTL)
	}
	c.hits.Add(1)
	return e.value, true
}

// Put inserts or replaces key with the given ttl (non-positive falls back to
// the default). Inserting over capacity evicts from the LRU tail.
func (c *Cache) Put(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e := &entry{
		key:        key,
		value:      value,
		expiresAt:  now.Add(ttl),
		acquiredAt: now,
	}
	if c.idleTTL > 0 {
		e.idleDeadline = now.Add(c.idleTTL)
	}

	if el, ok := c.entries[key]; ok {
		el.Value = e
		c.lru.MoveToFront(el)
		return
	}
	c.entries[key] = c.lru.PushFront(e)
	for c.capacity > 0 && c.lru.Len() > c.capacity {
		c.evictions.Add(1)
		c.remove(c.lru.Back())
	}
}

// Invalidate drops key if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
}

// Len reports the number of resident entries, including not-yet-swept
// expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	size := c.lru.Len()
	c.mu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
	}
}

// Sweep removes every expired or idle entry. Expiry is otherwise lazy, so a
// cache holding keys nobody reads again would pin memory without this.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if c.dead(el.Value.(*entry)) {
			c.remove(el)
			removed++
		}
		el = prev
	}
	return removed
}

// StartJanitor launches a background sweep loop with the given period.
func (c *Cache) StartJanitor(interval time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Stop halts the janitor. Safe to call more than once.
func (c *Cache) Stop() {
	if !atomic.CompareAndSwapUint32(&c.stopped, 0, 1) {
		return
	}
	close(c.stopChan)
	c.wg.Wait()
}

// dead reports whether the entry has passed its TTL or idle deadline.
// Callers must hold c.mu.
func (c *Cache) dead(e *entry) bool {
	now := c.now()
	if !e.expiresAt.After(now) {
		return true
	}
	return !e.idleDeadline.IsZero() && !e.idleDeadline.After(now)
}

func (c *Cache) remove(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.entries, e.key)
	c.lru.Remove(el)
}
