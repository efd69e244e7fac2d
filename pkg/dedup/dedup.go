// Package dedup drops redeliveries of identical payloads inside a time window.
// QoS1 subscriptions can hand us the same message twice; processing a
// variableUpdate twice is harmless but processing a setValue twice is not.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

type Deduper struct {
	mu     sync.Mutex
	window time.Duration
	cap    int
	seen   map[string]time.Time // key -> expiry
}

func New(window time.Duration, capacity int) *Deduper {
	if window <= 0 {
		window = 10 * time.Minute
	}
	if capacity <= 0 {
		capacity = 10000
	}
	return &Deduper{window: window, cap: capacity, seen: make(map[string]time.Time, capacity)}
}

// Key returns the dedup key for a raw payload.
func Key(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// First reports whether key is being seen for the first time within the
// window, and records it. An empty key is always processed.
func (d *Deduper) First(key string) bool {
	if key == "" {
		return true
	}
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false
	}
	d.seen[key] = now.Add(d.window)
	if len(d.seen) > d.cap {
		d.sweep(now)
	}
	return true
}

// Len reports the number of tracked keys, expired ones included.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// sweep removes expired entries; caller holds the lock. If everything is
// still live we evict arbitrarily down to cap rather than grow without bound.
func (d *Deduper) sweep(now time.Time) {
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
		if len(d.seen) <= d.cap {
			return
		}
	}
	for k := range d.seen {
		delete(d.seen, k)
		if len(d.seen) <= d.cap {
			return
		}
	}
}
