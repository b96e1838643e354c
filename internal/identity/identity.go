package identity

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

var (
	// ErrUnauthenticated means the credential is missing, malformed or rejected
	ErrUnauthenticated = errors.New("could not validate credentials")
	// ErrExpired means the credential was valid but has expired
	ErrExpired = errors.New("access token expired")
)

// RoleClaim is the role object carried in tokens issued by the auth service
type RoleClaim struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Info string `json:"info,omitempty"`
}

// Resolver turns a bearer credential into a caller
type Resolver interface {
	ResolveCaller(ctx context.Context, credential string) (domain.Caller, error)
}

// UserLookup is the local users table as seen by the directory
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	UserExists(ctx context.Context, id int64) (bool, error)
}

// Directory resolves callers through a Resolver and takes their role from the local
// users table, which is what the workflow managers read inside transactions.
type Directory struct {
	resolver Resolver
	users    UserLookup
	logger   *zap.Logger
}

var _ Resolver = (*Directory)(nil)

func NewDirectory(resolver Resolver, users UserLookup, logger *zap.Logger) *Directory {
	return &Directory{resolver: resolver, users: users, logger: logger}
}

func (d *Directory) ResolveCaller(ctx context.Context, credential string) (domain.Caller, error) {
	if credential == "" {
		return domain.Caller{}, ErrUnauthenticated
	}
	caller, err := d.resolver.ResolveCaller(ctx, credential)
	if err != nil {
		return domain.Caller{}, err
	}

	user, err := d.users.GetUser(ctx, caller.UserID)
	switch {
	case err == nil:
		caller.Name = user.Name
		caller.Role = user.Role
	case domain.KindOf(err) == domain.KindNotFound:
		// new-user event not consumed yet
		d.logger.Debug("Caller not registered locally", zap.Int64("user_id", caller.UserID))
	default:
		return domain.Caller{}, err
	}
	return caller, nil
}

func (d *Directory) UserExists(ctx context.Context, id int64) (bool, error) {
	return d.users.UserExists(ctx, id)
}
