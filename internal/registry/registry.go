// Package registry manages this node's membership in the shared swarm
// registry: heartbeat self-registration, graceful deregistration on
// shutdown, and peer discovery for the dispatcher. Grounded on the
// eventually-consistent, last-write-wins-by-port registry described in
// spec §4.5 step 1 and §8's self-healing property; there is no literal
// Python source for the registry write path itself (remote_worker_connector
// only reads it), so the retry shape here follows the teacher's general
// reach for cenkalti/backoff/v4 wherever a network write can transiently
// fail.
package registry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/agentswarm/swarmnode/internal/store"
	"github.com/agentswarm/swarmnode/pkg/models"
)

// StaleAfter is how long a peer can go without a heartbeat before it is
// considered dead and pruned (spec §8 self-healing).
const StaleAfter = 30 * time.Second

// HeartbeatInterval is how often this node refreshes its own row.
const HeartbeatInterval = 10 * time.Second

// Registry owns this node's self-registration heartbeat loop and exposes
// peer discovery to the dispatcher.
type Registry struct {
	store store.RegistryStore
	self  models.RegistryRecord
}

func New(s store.RegistryStore, port int, baseURL string) *Registry {
	return &Registry{
		store: s,
		self: models.RegistryRecord{
			Port:   port,
			URL:    baseURL,
			Status: models.RegistryStatusActive,
		},
	}
}

// Register writes this node's initial row and starts the heartbeat loop,
// which runs until ctx is cancelled. Callers should run it in a goroutine.
func (r *Registry) Register(ctx context.Context) error {
	if err := r.heartbeatOnce(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.heartbeatOnce(ctx); err != nil {
				log.Warn().Err(err).Msg("registry heartbeat failed")
			}
			if n, err := r.Prune(ctx); err != nil {
				log.Warn().Err(err).Msg("registry prune failed")
			} else if n > 0 {
				log.Info().Int("count", n).Msg("pruned stale peers")
			}
		}
	}
}

func (r *Registry) heartbeatOnce(ctx context.Context) error {
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	return backoff.Retry(func() error {
		rec := r.self
		rec.LastSeen = time.Now()
		return r.store.Upsert(ctx, rec)
	}, backoff.WithContext(bo, ctx))
}

// Deregister removes this node's row on graceful shutdown.
func (r *Registry) Deregister(ctx context.Context) error {
	return r.store.Remove(ctx, r.self.Port)
}

// Peers returns every other active node, excluding self. The dispatcher
// applies its own shuffle on top of this for load spreading (spec §4.5
// step 2).
func (r *Registry) Peers(ctx context.Context) ([]models.RegistryRecord, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.RegistryRecord, 0, len(all))
	for _, rec := range all {
		if rec.Port != r.self.Port {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Prune removes rows stale for longer than StaleAfter (the passive half of
// dead-node self-healing; the active half is the dispatcher pruning a peer
// immediately on a failed connection attempt, spec §4.5 step 5).
func (r *Registry) Prune(ctx context.Context) (int, error) {
	return r.store.PruneOlderThan(ctx, time.Now().Add(-StaleAfter))
}

// RemovePeer prunes a single unreachable peer immediately, called by the
// dispatcher on connection failure.
func (r *Registry) RemovePeer(ctx context.Context, port int) error {
	return r.store.Remove(ctx, port)
}

func (r *Registry) SelfPort() int { return r.self.Port }
