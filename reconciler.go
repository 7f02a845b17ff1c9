/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StatusFetcher is the part of the gateway the reconciler needs.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, gameID string) (*StatusSnapshot, error)
}

// StatusUpdate carries the result of one status refresh.
type StatusUpdate struct {
	GameID   string
	Snapshot *StatusSnapshot
	Err      error
	At       time.Time
}

// StatusCache holds the latest snapshot per game. Entries are disposable and
// can be dropped at any time.
type StatusCache struct {
	mu        sync.RWMutex
	snapshots map[string]*StatusSnapshot
}

func NewStatusCache() *StatusCache {
	return &StatusCache{
		snapshots: make(map[string]*StatusSnapshot),
	}
}

func (c *StatusCache) Get(gameID string) (*StatusSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, ok := c.snapshots[gameID]
	return snap, ok
}

func (c *StatusCache) Put(gameID string, snap *StatusSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshots[gameID] = snap
}

func (c *StatusCache) Drop(gameID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.snapshots, gameID)
}

// Reconciler keeps a recent copy of the server's status for one game. It
// refreshes on a fixed interval and whenever it is invalidated, and it never
// touches the game session.
type Reconciler struct {
	fetcher  StatusFetcher
	cache    *StatusCache
	gameID   string
	interval time.Duration
	logger   *zap.Logger

	refresh chan struct{}
	updates chan StatusUpdate
}

func NewReconciler(fetcher StatusFetcher, cache *StatusCache, gameID string, interval time.Duration, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		fetcher:  fetcher,
		cache:    cache,
		gameID:   gameID,
		interval: interval,
		logger:   logger.Named("reconciler").With(zap.String("gameID", gameID)),
		refresh:  make(chan struct{}, 1),
		updates:  make(chan StatusUpdate, 1),
	}
}

// Updates delivers refresh results. Only the latest undelivered result is kept.
func (r *Reconciler) Updates() <-chan StatusUpdate {
	return r.updates
}

// Invalidate asks for an immediate refresh. Requests made while one is
// already pending are coalesced.
func (r *Reconciler) Invalidate() {
	select {
	case r.refresh <- struct{}{}:
	default:
	}
}

// Run refreshes until ctx is cancelled, then closes Updates.
func (r *Reconciler) Run(ctx context.Context) {
	defer close(r.updates)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.poll(ctx, "start")

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Status polling stopped")
			return
		case <-ticker.C:
			r.poll(ctx, "interval")
		case <-r.refresh:
			r.poll(ctx, "invalidate")
			ticker.Reset(r.interval)
		}
	}
}

func (r *Reconciler) poll(ctx context.Context, trigger string) {
	snap, err := r.fetcher.FetchStatus(ctx, r.gameID)
	if ctx.Err() != nil {
		return
	}

	statusPollsTotal.WithLabelValues(trigger, resultLabel(err)).Inc()

	if err != nil {
		r.logger.Warn("Status refresh failed", zap.String("trigger", trigger), zap.Error(err))
	} else {
		r.cache.Put(r.gameID, snap)
		r.logger.Debug("Status refreshed",
			zap.String("trigger", trigger),
			zap.Int("admitted", snap.Admitted),
			zap.Int("rejected", snap.Rejected),
			zap.Int("rejectionsUntilLimit", snap.RejectionsUntilLimit),
		)
	}

	r.send(StatusUpdate{GameID: r.gameID, Snapshot: snap, Err: err, At: time.Now()})
}

// send replaces any undelivered update with u. Run is the only sender, so the
// second send cannot block.
func (r *Reconciler) send(u StatusUpdate) {
	select {
	case r.updates <- u:
		return
	default:
	}

	select {
	case <-r.updates:
	default:
	}

	r.updates <- u
}
