package repository

import (
	"context"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

// UsersRepository is the local projection of identity-service users
type UsersRepository interface {
	// ========== Queries ==========
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByName(ctx context.Context, name string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]*domain.User, error)

	// ========== Mutations ==========
	// UpsertUser inserts the user or refreshes its name; the role is only set on insert.
	// created reports whether a new row was written.
	UpsertUser(ctx context.Context, user *domain.User) (created bool, err error)

	// SetRole changes the role status id
	SetRole(ctx context.Context, id, roleID int64) error

	// IncrementSamples bumps n_samples_collected and returns the new value
	IncrementSamples(ctx context.Context, id int64) (int64, error)
}
