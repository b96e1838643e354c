package repository

import (
	"context"
	"fmt"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

// PostgresStatusesRepository reads the statuses table
type PostgresStatusesRepository struct {
	db Querier
}

func NewPostgresStatusesRepository(db Querier) *PostgresStatusesRepository {
	return &PostgresStatusesRepository{db: db}
}

var _ StatusesRepository = (*PostgresStatusesRepository)(nil)

// entity table and its status column
var entityTables = map[domain.EntityType]struct{ table, column string }{
	domain.EntityUser:     {"users", "role"},
	domain.EntityKit:      {"kits", "status"},
	domain.EntityResearch: {"researches", "status"},
	domain.EntitySample:   {"samples", "status"},
}

func (r *PostgresStatusesRepository) ListStatuses(ctx context.Context, entity domain.EntityType) ([]domain.Status, error) {
	query := `
		SELECT id, entity_type, key, info
		FROM statuses
		WHERE entity_type = $1
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, string(entity))
	if err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", err)
	}
	defer rows.Close()

	var out []domain.Status
	for rows.Next() {
		var s domain.Status
		var et string
		if err := rows.Scan(&s.ID, &et, &s.Key, &s.Info); err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		s.EntityType = domain.EntityType(et)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate statuses: %w", err)
	}
	return out, nil
}

func (r *PostgresStatusesRepository) CountEntities(ctx context.Context, entity domain.EntityType, statusID int64) (int64, error) {
	t, ok := entityTables[entity]
	if !ok {
		return 0, domain.InvalidInput("unknown entity type %q", entity)
	}

	var n int64
	var err error
	if statusID == 0 {
		err = r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t.table)).Scan(&n)
	} else {
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = $1`, t.table, t.column)
		err = r.db.QueryRowContext(ctx, query, statusID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", t.table, err)
	}
	return n, nil
}
