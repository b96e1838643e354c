package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/phlaster/biokeeper-backend/internal/domain"
	"github.com/phlaster/biokeeper-backend/internal/identity"
)

type callerKey struct{}

// Authenticator resolves the bearer credential of every API request
type Authenticator struct {
	resolver identity.Resolver
	logger   *zap.Logger
}

func NewAuthenticator(resolver identity.Resolver, logger *zap.Logger) *Authenticator {
	return &Authenticator{resolver: resolver, logger: logger}
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// Require rejects requests without a valid credential with 401
func (a *Authenticator) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		caller, err := a.resolver.ResolveCaller(r.Context(), bearer(r))
		switch {
		case err == nil:
		case errors.Is(err, identity.ErrExpired):
			writeJSON(w, http.StatusUnauthorized, Result[any]{Code: ResultTokenExpired, Type: "error", Message: err.Error()})
			return
		case errors.Is(err, identity.ErrUnauthenticated):
			writeJSON(w, http.StatusUnauthorized, Fail(identity.ErrUnauthenticated.Error()))
			return
		default:
			a.logger.Error("Caller resolution failed", zap.Error(err))
			writeJSON(w, http.StatusBadGateway, Fail("identity service unavailable"))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	}
}

func callerFrom(r *http.Request) domain.Caller {
	c, _ := r.Context().Value(callerKey{}).(domain.Caller)
	return c
}
