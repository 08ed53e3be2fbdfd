// Package clips keeps the client's copy of the backend clip collection.
// The collection is only ever replaced wholesale by a successful refresh.
package clips

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clipflow/clipflow/internal/backend"
	"github.com/clipflow/clipflow/internal/logging"
)

// Store is the backend surface the registry needs.
type Store interface {
	ListClips(ctx context.Context) ([]backend.Clip, error)
	DeleteClip(ctx context.Context, id string) error
}

// Registry is the single writer of the clip set. Readers get copies.
type Registry struct {
	store  Store
	logger *slog.Logger

	mu          sync.RWMutex
	clips       []backend.Clip
	refreshedAt time.Time
	lastErr     error

	// generation orders refreshes: a result is applied only when no newer
	// refresh has been applied in the meantime.
	started uint64
	applied uint64
}

func NewRegistry(store Store, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logging.WithComponent(logging.OrDiscard(logger), "clips"),
		clips:  []backend.Clip{},
	}
}

// Refresh fetches the full clip list and replaces the local set. On failure
// the previous set is kept unchanged.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.Lock()
	r.started++
	gen := r.started
	r.mu.Unlock()

	list, err := r.store.ListClips(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if gen > r.applied {
			r.lastErr = err
		}
		r.logger.Warn("clip refresh failed, keeping previous set",
			"error", err,
			"kept", len(r.clips),
		)
		return fmt.Errorf("refresh clips: %w", err)
	}
	if gen < r.applied {
		r.logger.Debug("discarding stale clip refresh", "generation", gen, "applied", r.applied)
		return nil
	}
	r.applied = gen
	r.clips = append(make([]backend.Clip, 0, len(list)), list...)
	r.refreshedAt = time.Now()
	r.lastErr = nil
	r.logger.Debug("clips refreshed", "count", len(r.clips))
	return nil
}

// Remove deletes one clip and then refreshes whatever the delete outcome.
// A missing clip surfaces as backend.ErrNotFound. When both calls fail the
// errors are joined.
func (r *Registry) Remove(ctx context.Context, id string) error {
	log := logging.WithClipID(r.logger, id)

	delErr := r.store.DeleteClip(ctx, id)
	switch {
	case delErr == nil:
		log.Info("clip removed")
	case errors.Is(delErr, backend.ErrNotFound):
		log.Info("clip already gone on backend")
		delErr = fmt.Errorf("remove clip %s: %w", id, delErr)
	default:
		log.Warn("clip delete failed", "error", delErr)
		delErr = fmt.Errorf("remove clip %s: %w", id, delErr)
	}

	refreshErr := r.Refresh(ctx)
	return errors.Join(delErr, refreshErr)
}

// Current returns the clips of the last successful refresh in server order.
func (r *Registry) Current() []backend.Clip {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append(make([]backend.Clip, 0, len(r.clips)), r.clips...)
}

// IDs returns the current clip ids in server order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.clips))
	for i, c := range r.clips {
		ids[i] = c.ID
	}
	return ids
}

// Get looks up one clip by id.
func (r *Registry) Get(id string) (backend.Clip, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clips {
		if c.ID == id {
			return c, true
		}
	}
	return backend.Clip{}, false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clips)
}

// RefreshedAt is the time of the last successful refresh, zero before any.
func (r *Registry) RefreshedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshedAt
}

// LastError is the error of the most recent refresh, nil when it succeeded.
func (r *Registry) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}
