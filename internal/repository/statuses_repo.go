package repository

import (
	"context"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

// StatusesRepository reads the immutable status vocabulary
type StatusesRepository interface {
	// ListStatuses returns every status of an entity type ordered by id
	ListStatuses(ctx context.Context, entity domain.EntityType) ([]domain.Status, error)

	// CountEntities counts rows of entity's table in statusID, or all rows when statusID is 0
	CountEntities(ctx context.Context, entity domain.EntityType, statusID int64) (int64, error)
}
