// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

package auth

import (
	"sync"
	"time"
)

// limiterCleanupInterval is how often the background janitor drops expired
// entries.
const limiterCleanupInterval = 5 * time.Minute

// RateLimiter is a generic per-key cooldown guard. A key is limited while
// less than the window has elapsed since its last permitted action. State is
// process-lifetime only and resets on restart.
//
// The limiter runs a background janitor; call Close to stop it.
type RateLimiter[K comparable] struct {
	mu      sync.Mutex
	entries map[K]time.Time
	window  time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewRateLimiter creates a limiter with the given cooldown window.
func NewRateLimiter[K comparable](window time.Duration) *RateLimiter[K] {
	rl := &RateLimiter[K]{
		entries:  make(map[K]time.Time),
		window:   window,
		stopChan: make(chan struct{}),
	}
	rl.wg.Add(1)
	go rl.cleanupLoop()
	return rl
}

// TryAndLimit reports whether key is currently limited. When it is not, the
// current time is recorded as the key's last permitted action, atomically
// with respect to concurrent callers.
func (rl *RateLimiter[K]) TryAndLimit(key K) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if last, ok := rl.entries[key]; ok && now.Sub(last) < rl.window {
		return true
	}
	rl.entries[key] = now
	return false
}

// Len returns the number of tracked keys. Useful for tests and monitoring.
func (rl *RateLimiter[K]) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Cleanup drops entries whose window has fully elapsed. Called by the
// janitor, exposed for tests.
func (rl *RateLimiter[K]) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := time.Now().Add(-rl.window)
	for key, last := range rl.entries {
		if last.Before(threshold) {
			delete(rl.entries, key)
		}
	}
}

func (rl *RateLimiter[K]) cleanupLoop() {
	defer rl.wg.Done()

	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// Close stops the background janitor. It blocks until the goroutine exits.
func (rl *RateLimiter[K]) Close() {
	close(rl.stopChan)
	rl.wg.Wait()
}
