package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/phlaster/biokeeper-backend/internal/domain"
	"github.com/phlaster/biokeeper-backend/internal/repository"
)

var entityTypes = []domain.EntityType{
	domain.EntityUser,
	domain.EntityKit,
	domain.EntityResearch,
	domain.EntitySample,
}

// StatusRegistry resolves status keys to ids for every entity type.
// The vocabulary never changes at runtime, so it is loaded once and cached.
type StatusRegistry struct {
	store repository.Store

	mu     sync.RWMutex
	loaded bool
	byType map[domain.EntityType][]domain.Status
}

func NewStatusRegistry(store repository.Store) *StatusRegistry {
	return &StatusRegistry{store: store}
}

// Load fills the cache. Call it before entering a transaction on the memory store.
func (r *StatusRegistry) Load(ctx context.Context) error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}

	byType := make(map[domain.EntityType][]domain.Status, len(entityTypes))
	repo := r.store.Repos().Statuses
	for _, et := range entityTypes {
		list, err := repo.ListStatuses(ctx, et)
		if err != nil {
			return fmt.Errorf("failed to load %s statuses: %w", et, err)
		}
		byType[et] = list
	}

	r.mu.Lock()
	r.byType = byType
	r.loaded = true
	r.mu.Unlock()
	return nil
}

func (r *StatusRegistry) list(ctx context.Context, entity domain.EntityType) ([]domain.Status, error) {
	if err := r.Load(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	list, ok := r.byType[entity]
	if !ok {
		return nil, domain.InvalidInput("unknown entity type %q", entity)
	}
	return list, nil
}

// Resolve maps a status key to its id
func (r *StatusRegistry) Resolve(ctx context.Context, entity domain.EntityType, key string) (int64, error) {
	list, err := r.list(ctx, entity)
	if err != nil {
		return 0, err
	}
	for _, s := range list {
		if s.Key == key {
			return s.ID, nil
		}
	}
	return 0, domain.NotFound("unknown %s status %q", entity, key)
}

// Name maps a status id back to its key
func (r *StatusRegistry) Name(ctx context.Context, entity domain.EntityType, id int64) (string, error) {
	list, err := r.list(ctx, entity)
	if err != nil {
		return "", err
	}
	for _, s := range list {
		if s.ID == id {
			return s.Key, nil
		}
	}
	return "", domain.NotFound("unknown %s status id %d", entity, id)
}

// Keys returns the vocabulary of an entity type in seed order
func (r *StatusRegistry) Keys(ctx context.Context, entity domain.EntityType) ([]domain.Status, error) {
	list, err := r.list(ctx, entity)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Status, len(list))
	copy(out, list)
	return out, nil
}

// Count returns how many entities are in key, or all of them for domain.StatusAll
func (r *StatusRegistry) Count(ctx context.Context, entity domain.EntityType, key string) (int64, error) {
	var id int64
	if key != domain.StatusAll {
		var err error
		if id, err = r.Resolve(ctx, entity, key); err != nil {
			return 0, err
		}
	}
	return r.store.Repos().Statuses.CountEntities(ctx, entity, id)
}

// ids resolves several keys of one entity type at once
func (r *StatusRegistry) ids(ctx context.Context, entity domain.EntityType, keys ...string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	for _, k := range keys {
		id, err := r.Resolve(ctx, entity, k)
		if err != nil {
			return nil, err
		}
		out[k] = id
	}
	return out, nil
}
