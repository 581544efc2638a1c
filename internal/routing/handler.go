// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

// Package routing tracks the lobby and limbo server pools and picks
// destinations for players leaving the authentication flow.
package routing

import (
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/samber/oops"
)

// RootTag is the pool every untagged lobby joins. Tagged lobbies are only
// eligible for players whose destination carries the matching forced tag.
const RootTag = "root"

// Server is a registered backend the proxy can route players to.
type Server interface {
	Name() string
	PlayerCount() int
}

// Pool selection errors.
var (
	ErrNoLobby = oops.Code("ROUTING_NO_LOBBY").Errorf("no lobby server available")
	ErrNoLimbo = oops.Code("ROUTING_NO_LIMBO").Errorf("no limbo server available")
)

// ServerHandler owns the in-memory lobby and limbo pools. It is rebuilt from
// the currently known services at startup and kept current by the lifecycle
// watcher afterwards.
type ServerHandler struct {
	mu     sync.RWMutex
	lobby  map[string]map[string]Server
	limbo  map[string]Server
	logger *slog.Logger
}

// NewServerHandler creates an empty handler.
func NewServerHandler(logger *slog.Logger) *ServerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerHandler{
		lobby:  make(map[string]map[string]Server),
		limbo:  make(map[string]Server),
		logger: logger,
	}
}

// RegisterLobby adds s to the pools named by tags, or to the root pool when
// no tag is given. Re-registering under the same tag replaces the entry.
func (h *ServerHandler) RegisterLobby(s Server, tags ...string) {
	if len(tags) == 0 {
		tags = []string{RootTag}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, tag := range tags {
		pool, ok := h.lobby[tag]
		if !ok {
			pool = make(map[string]Server)
			h.lobby[tag] = pool
		}
		pool[s.Name()] = s
	}
	h.logger.Debug("lobby registered", "server", s.Name(), "tags", tags)
}

// UnregisterLobby removes the named server from the pools named by tags, or
// from the root pool when no tag is given. Unknown names are a no-op.
func (h *ServerHandler) UnregisterLobby(name string, tags ...string) {
	if len(tags) == 0 {
		tags = []string{RootTag}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, tag := range tags {
		pool, ok := h.lobby[tag]
		if !ok {
			continue
		}
		delete(pool, name)
		if len(pool) == 0 {
			delete(h.lobby, tag)
		}
	}
}

// RegisterLimbo adds s to the limbo pool.
func (h *ServerHandler) RegisterLimbo(s Server) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.limbo[s.Name()] = s
	h.logger.Debug("limbo registered", "server", s.Name())
}

// UnregisterLimbo removes the named server from the limbo pool.
func (h *ServerHandler) UnregisterLimbo(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.limbo, name)
}

// Lobbies returns a snapshot of the pool for tag.
func (h *ServerHandler) Lobbies(tag string) []Server {
	h.mu.RLock()
	defer h.mu.RUnlock()
	pool := h.lobby[tag]
	out := make([]Server, 0, len(pool))
	for _, s := range pool {
		out = append(out, s)
	}
	return out
}

// Limbos returns a snapshot of the limbo pool.
func (h *ServerHandler) Limbos() []Server {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Server, 0, len(h.limbo))
	for _, s := range h.limbo {
		out = append(out, s)
	}
	return out
}

// NextLobby picks a destination from the pool for tag: fewest players first,
// random among ties.
func (h *ServerHandler) NextLobby(tag string) (Server, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := pick(h.lobby[tag])
	if s == nil {
		return nil, oops.With("tag", tag).Wrap(ErrNoLobby)
	}
	return s, nil
}

// NextLimbo picks a limbo destination: fewest players first, random among
// ties.
func (h *ServerHandler) NextLimbo() (Server, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := pick(h.limbo)
	if s == nil {
		return nil, ErrNoLimbo
	}
	return s, nil
}

func pick(pool map[string]Server) Server {
	var best []Server
	min := 0
	for _, s := range pool {
		n := s.PlayerCount()
		switch {
		case len(best) == 0 || n < min:
			best = append(best[:0], s)
			min = n
		case n == min:
			best = append(best, s)
		}
	}
	if len(best) == 0 {
		return nil
	}
	return best[rand.IntN(len(best))]
}
