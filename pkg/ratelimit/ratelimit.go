// Copyright (c) mongotap contributors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit throttles connection attempts per client address
// on the proxy's accept path using token buckets.
package ratelimit

import (
	"sync"
	"time"
)

const (
	defaultMaxClients = 10000
	evictInterval     = 5 * time.Minute
	evictIdleAfter    = 10 * time.Minute
)

// bucket is one client's token bucket. Tokens refill continuously at
// refillRate per second up to capacity.
type bucket struct {
	mu         sync.Mutex
	capacity   int64
	tokens     int64
	refillRate int64
	lastRefill time.Time
	lastSeen   time.Time
}

func newBucket(capacity, refillRate int64) *bucket {
	now := time.Now()
	return &bucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: now,
		lastSeen:   now,
	}
}

func (b *bucket) take(n int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.lastSeen = now

	elapsed := now.Sub(b.lastRefill).Seconds()
	if refill := int64(elapsed * float64(b.refillRate)); refill > 0 {
		b.tokens += refill
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}

	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

func (b *bucket) idleSince(cutoff time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeen.Before(cutoff)
}

// Limiter tracks one token bucket per client address. A client over
// its budget, or a new client arriving when the tracking table is
// full, is rejected.
type Limiter struct {
	mu         sync.RWMutex
	buckets    map[string]*bucket
	capacity   int64
	refillRate int64
	maxClients int

	stop chan struct{}
	once sync.Once
}

// NewLimiter creates a limiter granting each client address capacity
// tokens refilled at refillRate per second. maxClients bounds the
// tracking table; zero means the default.
func NewLimiter(capacity, refillRate int64, maxClients int) *Limiter {
	if maxClients == 0 {
		maxClients = defaultMaxClients
	}

	l := &Limiter{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
		maxClients: maxClients,
		stop:       make(chan struct{}),
	}
	go l.evictLoop()

	return l
}

// Allow reports whether one connection attempt from addr fits the
// client's budget.
func (l *Limiter) Allow(addr string) bool {
	return l.AllowN(addr, 1)
}

// AllowN reports whether n connection attempts from addr fit the
// client's budget.
func (l *Limiter) AllowN(addr string, n int64) bool {
	l.mu.RLock()
	b, ok := l.buckets[addr]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		b, ok = l.buckets[addr]
		if !ok {
			if len(l.buckets) >= l.maxClients {
				l.mu.Unlock()
				return false
			}
			b = newBucket(l.capacity, l.refillRate)
			l.buckets[addr] = b
		}
		l.mu.Unlock()
	}

	return b.take(n)
}

// Remove drops the bucket tracked for addr.
func (l *Limiter) Remove(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, addr)
}

// Clients returns the number of tracked client addresses.
func (l *Limiter) Clients() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// Close stops the background eviction loop.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// evictLoop periodically drops buckets whose client has been idle
// long enough that keeping the state serves no purpose.
func (l *Limiter) evictLoop() {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-evictIdleAfter)
			l.mu.Lock()
			for addr, b := range l.buckets {
				if b.idleSince(cutoff) {
					delete(l.buckets, addr)
				}
			}
			l.mu.Unlock()
		}
	}
}
