package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

// PostgresUsersRepository implements UsersRepository
type PostgresUsersRepository struct {
	db Querier
}

func NewPostgresUsersRepository(db Querier) *PostgresUsersRepository {
	return &PostgresUsersRepository{db: db}
}

var _ UsersRepository = (*PostgresUsersRepository)(nil)

const userColumns = `
	u.id, u.name, u.role, s.key, u.n_samples_collected, u.created_at, u.updated_at
	FROM users u
	JOIN statuses s ON s.id = u.role
`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Name, &u.RoleID, &u.Role, &u.SamplesCollected, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PostgresUsersRepository) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` WHERE u.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("user %d not found", id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (r *PostgresUsersRepository) GetUserByName(ctx context.Context, name string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` WHERE u.name = $1`, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("user %q not found", name)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (r *PostgresUsersRepository) ListUsers(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` ORDER BY u.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return out, nil
}

// UpsertUser relies on xmax = 0 to tell a fresh insert from a conflict update
func (r *PostgresUsersRepository) UpsertUser(ctx context.Context, user *domain.User) (bool, error) {
	query := `
		INSERT INTO users (id, name, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			updated_at = CASE WHEN users.name <> EXCLUDED.name THEN now() ELSE users.updated_at END
		RETURNING (xmax = 0)
	`
	var inserted bool
	if err := r.db.QueryRowContext(ctx, query, user.ID, user.Name, user.RoleID).Scan(&inserted); err != nil {
		return false, mapWriteError(err, "user")
	}
	return inserted, nil
}

func (r *PostgresUsersRepository) SetRole(ctx context.Context, id, roleID int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET role = $2, updated_at = now() WHERE id = $1`, id, roleID)
	if err != nil {
		return mapWriteError(err, "user")
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFound("user %d not found", id)
	}
	return nil
}

func (r *PostgresUsersRepository) IncrementSamples(ctx context.Context, id int64) (int64, error) {
	query := `
		UPDATE users
		SET n_samples_collected = n_samples_collected + 1, updated_at = now()
		WHERE id = $1
		RETURNING n_samples_collected
	`
	var n int64
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.NotFound("user %d not found", id)
		}
		return 0, fmt.Errorf("failed to increment user samples: %w", err)
	}
	return n, nil
}
