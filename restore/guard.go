// Copyright 2026 Blink Labs Software
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

package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/guildstash/guildstash/event"
	"github.com/guildstash/guildstash/runlock"
)

const (
	// DefaultHeartbeatInterval is how often a running restore
	// refreshes its lock key and broadcasts its status.
	DefaultHeartbeatInterval = 5 * time.Second

	// DefaultLockTTL is the lock key lifetime. A run that stops
	// heartbeating (crash, partition) loses its claim after this
	// long.
	DefaultLockTTL = 10 * time.Second
)

// lockKey returns the mutual-exclusion key for a target guild. One
// key per target: concurrent runs against the same target are
// rejected regardless of who requested them.
func lockKey(targetID string) string {
	return "loaders:" + targetID
}

// GuardConfig holds the dependencies for a Guard.
type GuardConfig struct {
	Store             runlock.Store
	Bus               *event.EventBus
	Logger            *slog.Logger
	HeartbeatInterval time.Duration
	LockTTL           time.Duration
}

// Guard governs restore runs: it enforces the advisory single-owner
// lock per target guild, heartbeats the lock key while a run is
// active, and interprets external deletion of the key as an operator
// cancellation request.
type Guard struct {
	store    runlock.Store
	bus      *event.EventBus
	logger   *slog.Logger
	interval time.Duration
	ttl      time.Duration
}

// NewGuard creates a Guard.
func NewGuard(cfg GuardConfig) *Guard {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &Guard{
		store:    cfg.Store,
		bus:      cfg.Bus,
		logger:   cfg.Logger,
		interval: cfg.HeartbeatInterval,
		ttl:      cfg.LockTTL,
	}
}

type runResult struct {
	translator *Translator
	err        error
}

// Run executes the restorer under the per-target lock. It returns
// ErrRunActive without side effects when another run already holds
// the lock, and ErrRunCancelled when the lock key disappears while
// the run is active.
func (g *Guard) Run(
	ctx context.Context,
	r *Restorer,
	meta event.LoaderEvent,
) (*Translator, error) {
	key := lockKey(r.TargetID())
	held, err := g.store.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("checking loader lock: %w", err)
	}
	if held {
		return nil, ErrRunActive
	}
	if err := g.store.SetWithExpiry(ctx, key, r.Status(), g.ttl); err != nil {
		return nil, fmt.Errorf("claiming loader lock: %w", err)
	}
	g.publish(event.LoaderStartEventType, meta)
	defer g.publish(event.LoaderDoneEventType, meta)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	resultCh := make(chan runResult, 1)
	go func() {
		translator, err := r.Run(runCtx)
		resultCh <- runResult{translator: translator, err: err}
	}()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case res := <-resultCh:
			if err := g.store.Delete(ctx, key); err != nil {
				g.logger.Warn(
					"failed to release loader lock",
					"component", "guard",
					"key", key,
					"error", err,
				)
			}
			return res.translator, res.err
		case <-ticker.C:
			held, err := g.store.Exists(ctx, key)
			if err != nil {
				// Liveness unknown. Refreshing now could resurrect a
				// key an operator just deleted, so wait for the next
				// tick instead.
				g.logger.Warn(
					"loader lock check failed",
					"component", "guard",
					"key", key,
					"error", err,
				)
				continue
			}
			if !held {
				// Externally deleted: operator cancellation
				cancel()
				res := <-resultCh
				if res.err != nil && !errors.Is(res.err, context.Canceled) {
					return nil, res.err
				}
				return nil, ErrRunCancelled
			}
			if err := g.store.SetWithExpiry(ctx, key, r.Status(), g.ttl); err != nil {
				g.logger.Warn(
					"loader heartbeat failed",
					"component", "guard",
					"key", key,
					"error", err,
				)
			}
			g.publishStatus(r)
		case <-ctx.Done():
			cancel()
			res := <-resultCh
			_ = g.store.Delete(context.WithoutCancel(ctx), key)
			if res.err != nil && !errors.Is(res.err, context.Canceled) {
				return nil, res.err
			}
			return nil, ctx.Err()
		}
	}
}

func (g *Guard) publish(eventType event.EventType, meta event.LoaderEvent) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(eventType, event.NewEvent(eventType, meta))
}

func (g *Guard) publishStatus(r *Restorer) {
	if g.bus == nil {
		return
	}
	payload := event.LoaderStatusEvent{
		ID:     r.TargetID(),
		Status: r.Status(),
	}
	g.bus.Publish(
		event.LoaderStatusEventType,
		event.NewEvent(event.LoaderStatusEventType, payload),
	)
}
