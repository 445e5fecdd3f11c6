package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raterudder/octobridge/pkg/log"
	"github.com/raterudder/octobridge/pkg/storage"
	"github.com/raterudder/octobridge/pkg/types"
)

var (
	// ErrNotFound is returned for unknown entity ids.
	ErrNotFound = errors.New("entity not found")
	// ErrNotText is returned when setting the value of a read-only entity.
	ErrNotText = errors.New("entity does not accept values")
)

// StateStore persists entity state.
type StateStore interface {
	GetEntityState(ctx context.Context, entityID string) (types.EntityState, error)
	SetEntityState(ctx context.Context, state types.EntityState) error
}

// Sink receives entity announcements and state updates, e.g. to publish them
// to the host.
type Sink interface {
	Announce(ctx context.Context, e Entity) error
	PublishState(ctx context.Context, e Entity, state types.EntityState) error
}

// Registry tracks live entities, restores and persists their state and fans
// state out to sinks.
type Registry struct {
	store StateStore
	now   func() time.Time

	mu       sync.RWMutex
	sinks    []Sink
	entities map[string]Entity
	order    []string
}

// NewRegistry creates a registry persisting to store.
func NewRegistry(store StateStore, sinks ...Sink) *Registry {
	return &Registry{
		store:    store,
		now:      time.Now,
		sinks:    sinks,
		entities: map[string]Entity{},
	}
}

// AddSink registers an additional sink. Entities added earlier are announced
// to it.
func (r *Registry) AddSink(ctx context.Context, s Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	entities := r.listLocked()
	r.mu.Unlock()

	for _, e := range entities {
		if err := s.Announce(ctx, e); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to announce entity", slog.String("entityID", e.EntityID()), slog.Any("error", err))
		}
	}
}

// Add restores the entity's last persisted state, makes it live, announces it
// to every sink and finally runs its added hook.
func (r *Registry) Add(ctx context.Context, e Entity) error {
	ctx = log.WithAttrs(ctx, slog.String("entityID", e.EntityID()))

	r.mu.RLock()
	_, exists := r.entities[e.EntityID()]
	r.mu.RUnlock()
	if exists {
		return fmt.Errorf("entity %s already added", e.EntityID())
	}

	if restorer, ok := e.(Restorer); ok {
		state, err := r.store.GetEntityState(ctx, e.EntityID())
		switch {
		case errors.Is(err, storage.ErrNotFound):
			log.Ctx(ctx).DebugContext(ctx, "no previous state to restore")
		case err != nil:
			return fmt.Errorf("failed to get previous state of %s: %w", e.EntityID(), err)
		default:
			if err := restorer.Restore(ctx, state); err != nil {
				return fmt.Errorf("failed to restore %s: %w", e.EntityID(), err)
			}
			log.Ctx(ctx).DebugContext(ctx, "restored state", slog.String("state", state.State))
		}
	}

	r.mu.Lock()
	r.entities[e.EntityID()] = e
	r.order = append(r.order, e.EntityID())
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.Unlock()

	for _, s := range sinks {
		if err := s.Announce(ctx, e); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to announce entity", slog.Any("error", err))
		}
	}

	if hook, ok := e.(AddedHook); ok {
		if err := hook.Added(ctx); err != nil {
			return fmt.Errorf("failed to run added hook of %s: %w", e.EntityID(), err)
		}
	}
	return nil
}

// Write persists the entity's current state and publishes it to every sink.
// Sink failures are logged, storage failures are returned.
func (r *Registry) Write(ctx context.Context, e Entity) error {
	state := e.State()
	if state.LastUpdated.IsZero() {
		state.LastUpdated = r.now()
	}
	if err := r.store.SetEntityState(ctx, state); err != nil {
		return fmt.Errorf("failed to persist %s: %w", e.EntityID(), err)
	}

	r.mu.RLock()
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.RUnlock()
	for _, s := range sinks {
		if err := s.PublishState(ctx, e, state); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to publish state", slog.String("entityID", e.EntityID()), slog.Any("error", err))
		}
	}
	return nil
}

// Get returns a live entity by id.
func (r *Registry) Get(entityID string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[entityID]
	return e, ok
}

// List returns the live entities in the order they were added.
func (r *Registry) List() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []Entity {
	res := make([]Entity, 0, len(r.order))
	for _, id := range r.order {
		res = append(res, r.entities[id])
	}
	return res
}

// SetValue sets the value of a text entity.
func (r *Registry) SetValue(ctx context.Context, entityID, value string) error {
	e, ok := r.Get(entityID)
	if !ok {
		return ErrNotFound
	}
	t, ok := e.(Text)
	if !ok {
		return ErrNotText
	}
	return t.SetValue(ctx, value)
}
