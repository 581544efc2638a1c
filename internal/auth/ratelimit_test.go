// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

package auth_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/luminauth/luminauth/internal/auth"
)

func TestRateLimiter_WindowLaw(t *testing.T) {
	defer goleak.VerifyNone(t)

	rl := auth.NewRateLimiter[string](50 * time.Millisecond)
	defer rl.Close()

	// First action within a fresh window is permitted.
	assert.False(t, rl.TryAndLimit("k"))

	// A second action inside the window is limited.
	assert.True(t, rl.TryAndLimit("k"))

	// After the window elapses the key is permitted again.
	time.Sleep(60 * time.Millisecond)
	assert.False(t, rl.TryAndLimit("k"))
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := auth.NewRateLimiter[string](time.Minute)
	defer rl.Close()

	assert.False(t, rl.TryAndLimit("a"))
	assert.False(t, rl.TryAndLimit("b"))
	assert.True(t, rl.TryAndLimit("a"))
	assert.True(t, rl.TryAndLimit("b"))
}

func TestRateLimiter_ConcurrentSameKey(t *testing.T) {
	rl := auth.NewRateLimiter[int](time.Minute)
	defer rl.Close()

	const callers = 32
	var wg sync.WaitGroup
	permitted := make(chan struct{}, callers)

	wg.Add(callers)
	for range callers {
		go func() {
			defer wg.Done()
			if !rl.TryAndLimit(7) {
				permitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(permitted)

	// Exactly one concurrent caller wins the window.
	assert.Len(t, permitted, 1)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := auth.NewRateLimiter[string](10 * time.Millisecond)
	defer rl.Close()

	rl.TryAndLimit("stale")
	assert.Equal(t, 1, rl.Len())

	time.Sleep(20 * time.Millisecond)
	rl.Cleanup()
	assert.Equal(t, 0, rl.Len())
}
