package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore is the lib/pq backed Store
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func newPostgresRepos(q Querier) Repos {
	return Repos{
		Statuses:   NewPostgresStatusesRepository(q),
		Users:      NewPostgresUsersRepository(q),
		Kits:       NewPostgresKitsRepository(q),
		Researches: NewPostgresResearchesRepository(q),
		Samples:    NewPostgresSamplesRepository(q),
	}
}

// Repos returns repositories running each statement in autocommit mode
func (s *PostgresStore) Repos() Repos {
	return newPostgresRepos(s.db)
}

// WithTx runs fn in a READ COMMITTED transaction; row locks taken by
// LockShare/LockUpdate reads serialize conflicting writers.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, newPostgresRepos(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
