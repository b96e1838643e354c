package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

// checkResponse is the auth service /auth/check payload
type checkResponse struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	Role     RoleClaim `json:"role"`
	Exp      int64     `json:"exp"`
}

// RemoteResolver asks the auth service to validate each token
type RemoteResolver struct {
	http   *resty.Client
	logger *zap.Logger
	now    func() time.Time
}

var _ Resolver = (*RemoteResolver)(nil)

func NewRemoteResolver(baseURL string, timeout time.Duration, logger *zap.Logger) *RemoteResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(100*time.Millisecond).
		SetHeader("Accept", "application/json")
	return &RemoteResolver{http: client, logger: logger, now: time.Now}
}

func (r *RemoteResolver) ResolveCaller(ctx context.Context, credential string) (domain.Caller, error) {
	var out checkResponse
	resp, err := r.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/auth/check/" + url.PathEscape(credential))
	if err != nil {
		r.logger.Error("Auth service call failed", zap.Error(err))
		return domain.Caller{}, fmt.Errorf("failed to call auth service: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusUnauthorized, resp.StatusCode() == http.StatusForbidden:
		return domain.Caller{}, ErrUnauthenticated
	case resp.IsError():
		return domain.Caller{}, fmt.Errorf("auth service returned %d", resp.StatusCode())
	}
	if out.ID <= 0 || out.Username == "" {
		return domain.Caller{}, ErrUnauthenticated
	}
	if out.Exp > 0 && r.now().Unix() >= out.Exp {
		return domain.Caller{}, ErrExpired
	}
	return domain.Caller{UserID: out.ID, Name: out.Username, Role: out.Role.Name}, nil
}
