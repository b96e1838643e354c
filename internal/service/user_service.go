package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/domain"
	"github.com/phlaster/biokeeper-backend/internal/metrics"
	"github.com/phlaster/biokeeper-backend/internal/repository"
)

// UserService keeps the local copy of identity-service users
type UserService struct {
	store    repository.Store
	statuses *StatusRegistry
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewUserService(store repository.Store, statuses *StatusRegistry, m *metrics.Metrics, logger *zap.Logger) *UserService {
	return &UserService{store: store, statuses: statuses, metrics: m, logger: logger}
}

// RegisterUserRequest is the payload of a new-user event
type RegisterUserRequest struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"` // defaults to observer
}

// RegisterUser upserts a user. Redelivered events are harmless: the second call only
// refreshes the name and reports created=false.
func (s *UserService) RegisterUser(ctx context.Context, req RegisterUserRequest) (*domain.User, bool, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.ID <= 0 {
		return nil, false, domain.InvalidInput("user id must be positive")
	}
	if req.Name == "" {
		return nil, false, domain.InvalidInput("user name is required")
	}
	if req.Role == "" {
		req.Role = domain.RoleObserver
	}
	if !domain.ValidRole(req.Role) {
		return nil, false, domain.InvalidInput("unknown role %q", req.Role)
	}

	roleID, err := s.statuses.Resolve(ctx, domain.EntityUser, req.Role)
	if err != nil {
		return nil, false, err
	}

	repos := s.store.Repos()
	created, err := repos.Users.UpsertUser(ctx, &domain.User{ID: req.ID, Name: req.Name, RoleID: roleID})
	s.metrics.Operation("register_user", outcomeOf(err))
	if err != nil {
		s.logger.Error("RegisterUser failed", zap.Int64("user_id", req.ID), zap.String("name", req.Name), zap.Error(err))
		return nil, false, err
	}

	user, err := repos.Users.GetUser(ctx, req.ID)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logger.Info("User registered", zap.Int64("user_id", user.ID), zap.String("role", user.Role))
	}
	return user, created, nil
}

func (s *UserService) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return s.store.Repos().Users.GetUser(ctx, id)
}

func (s *UserService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return s.store.Repos().Users.ListUsers(ctx)
}

// UserExists reports whether the user is known locally
func (s *UserService) UserExists(ctx context.Context, id int64) (bool, error) {
	_, err := s.store.Repos().Users.GetUser(ctx, id)
	if err == nil {
		return true, nil
	}
	if domain.KindOf(err) == domain.KindNotFound {
		return false, nil
	}
	return false, err
}

// ResolveUser turns an id or user name into a user id
func (s *UserService) ResolveUser(ctx context.Context, ident domain.Identifier) (int64, error) {
	if ident.IsNumeric() {
		return ident.ID(), nil
	}
	u, err := s.store.Repos().Users.GetUserByName(ctx, ident.Key())
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}

// SetRoleRequest changes a user's role
type SetRoleRequest struct {
	UserID      int64
	Role        string
	RequesterID int64
}

func (s *UserService) SetRole(ctx context.Context, req SetRoleRequest) (*domain.User, error) {
	if !domain.ValidRole(req.Role) {
		return nil, domain.InvalidInput("unknown role %q", req.Role)
	}
	roleID, err := s.statuses.Resolve(ctx, domain.EntityUser, req.Role)
	if err != nil {
		return nil, err
	}

	var out *domain.User
	err = s.store.WithTx(ctx, func(ctx context.Context, repos repository.Repos) error {
		requester, err := repos.Users.GetUser(ctx, req.RequesterID)
		if err != nil {
			return err
		}
		if requester.Role != domain.RoleAdmin {
			return domain.Forbidden("only admins may change roles")
		}
		if err := repos.Users.SetRole(ctx, req.UserID, roleID); err != nil {
			return err
		}
		out, err = repos.Users.GetUser(ctx, req.UserID)
		return err
	})
	s.metrics.Operation("set_role", outcomeOf(err))
	if err != nil {
		return nil, err
	}
	s.logger.Info("User role changed", zap.Int64("user_id", req.UserID), zap.String("role", req.Role),
		zap.Int64("requester_id", req.RequesterID))
	return out, nil
}

func (s *UserService) CountUsers(ctx context.Context, roleKey string) (int64, error) {
	return s.statuses.Count(ctx, domain.EntityUser, roleKey)
}
