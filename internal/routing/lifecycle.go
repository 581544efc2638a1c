// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

package routing

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
)

// ServiceState is a lifecycle phase of a platform service.
type ServiceState string

// States the watcher reacts to. Intermediate phases are ignored so a service
// is never removed before it has fully shut down.
const (
	StateStarted ServiceState = "started"
	StateClosed  ServiceState = "closed"
)

// ServiceEvent is a lifecycle notification from the hosting platform.
type ServiceEvent struct {
	Name  string
	Group string
	State ServiceState
	Proxy bool
}

// PlatformHandle resolves service names to routable servers.
type PlatformHandle interface {
	GetServer(name string) (Server, bool)
}

// ResolverFunc adapts a function to PlatformHandle.
type ResolverFunc func(name string) (Server, bool)

// GetServer resolves name through the function.
func (f ResolverFunc) GetServer(name string) (Server, bool) { return f(name) }

// StaticServer is a fixed pool entry for platforms that do not report
// player counts.
type StaticServer struct {
	ServerName string
	Players    int
}

// Name returns the server name.
func (s StaticServer) Name() string { return s.ServerName }

// PlayerCount returns the fixed player count.
func (s StaticServer) PlayerCount() int { return s.Players }

// Rules maps platform services onto pools. LobbyTags maps a forced tag to a
// name substring; a service whose name contains the substring joins only
// that tag's pool, regardless of its group. Otherwise, services in
// LobbyGroup join the root pool and services in AuthGroup join the limbo
// pool.
type Rules struct {
	LobbyTags  map[string]string
	LobbyGroup string
	AuthGroup  string
}

// LifecycleWatcher applies platform lifecycle events to a ServerHandler.
type LifecycleWatcher struct {
	handler  *ServerHandler
	platform PlatformHandle
	rules    Rules
	logger   *slog.Logger
}

// NewLifecycleWatcher creates a watcher feeding handler.
func NewLifecycleWatcher(handler *ServerHandler, platform PlatformHandle, rules Rules, logger *slog.Logger) *LifecycleWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleWatcher{
		handler:  handler,
		platform: platform,
		rules:    rules,
		logger:   logger,
	}
}

// Seed replays the currently known services as Started events, rebuilding
// the pools after a restart.
func (w *LifecycleWatcher) Seed(services []ServiceEvent) {
	for _, ev := range services {
		ev.State = StateStarted
		w.Handle(ev)
	}
}

// Run consumes lifecycle events until ctx is cancelled or events closes.
func (w *LifecycleWatcher) Run(ctx context.Context, events <-chan ServiceEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.Handle(ev)
		}
	}
}

// Handle applies one lifecycle event. Proxies never join a pool, and a
// service leaves only on the Closed state so restarts in intermediate phases
// do not drain the pools.
func (w *LifecycleWatcher) Handle(ev ServiceEvent) {
	if ev.Proxy {
		return
	}

	switch ev.State {
	case StateStarted:
		w.add(ev)
	case StateClosed:
		w.remove(ev)
	}
}

func (w *LifecycleWatcher) add(ev ServiceEvent) {
	tag, forced := w.forcedTag(ev.Name)
	isLobby := ev.Group == w.rules.LobbyGroup
	isAuth := ev.Group == w.rules.AuthGroup
	if !forced && !isLobby && !isAuth {
		return
	}

	s, ok := w.platform.GetServer(ev.Name)
	if !ok {
		w.logger.Warn("service started but not resolvable", "service", ev.Name, "group", ev.Group)
		return
	}

	// A forced tag claims the service outright; the group rules only apply
	// when no tag matched.
	if forced {
		w.handler.RegisterLobby(s, tag)
		return
	}
	if isLobby {
		w.handler.RegisterLobby(s)
	}
	if isAuth {
		w.handler.RegisterLimbo(s)
	}
}

func (w *LifecycleWatcher) remove(ev ServiceEvent) {
	if tag, forced := w.forcedTag(ev.Name); forced {
		w.handler.UnregisterLobby(ev.Name, tag)
		return
	}
	if ev.Group == w.rules.LobbyGroup {
		w.handler.UnregisterLobby(ev.Name)
	}
	if ev.Group == w.rules.AuthGroup {
		w.handler.UnregisterLimbo(ev.Name)
	}
}

// forcedTag returns the first tag whose substring matches name. Tags are
// tried in sorted order so overlapping rules resolve deterministically.
func (w *LifecycleWatcher) forcedTag(name string) (string, bool) {
	for _, tag := range slices.Sorted(maps.Keys(w.rules.LobbyTags)) {
		if substr := w.rules.LobbyTags[tag]; substr != "" && strings.Contains(name, substr) {
			return tag, true
		}
	}
	return "", false
}
