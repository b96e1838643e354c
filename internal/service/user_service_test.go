package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

func TestRegisterUser_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := RegisterUserRequest{ID: 42, Name: "newbie"}

	u, created, err := f.users.RegisterUser(ctx, req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.RoleObserver, u.Role)

	_, created, err = f.users.RegisterUser(ctx, req)
	require.NoError(t, err)
	assert.False(t, created)

	n, err := f.users.CountUsers(ctx, domain.StatusAll)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestRegisterUser_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.users.RegisterUser(ctx, RegisterUserRequest{ID: 0, Name: "x"})
	requireKind(t, err, domain.ErrInvalidInput)
	_, _, err = f.users.RegisterUser(ctx, RegisterUserRequest{ID: 50, Name: ""})
	requireKind(t, err, domain.ErrInvalidInput)
	_, _, err = f.users.RegisterUser(ctx, RegisterUserRequest{ID: 50, Name: "x", Role: "root"})
	requireKind(t, err, domain.ErrInvalidInput)
	_, _, err = f.users.RegisterUser(ctx, RegisterUserRequest{ID: 50, Name: "vol"})
	requireKind(t, err, domain.ErrConflict)
}

func TestSetRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.SetRole(ctx, SetRoleRequest{UserID: observerID, Role: domain.RoleVolunteer, RequesterID: volunteerID})
	requireKind(t, err, domain.ErrForbidden)

	u, err := f.users.SetRole(ctx, SetRoleRequest{UserID: observerID, Role: domain.RoleVolunteer, RequesterID: adminID})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleVolunteer, u.Role)

	_, err = f.users.SetRole(ctx, SetRoleRequest{UserID: 999, Role: domain.RoleVolunteer, RequesterID: adminID})
	requireKind(t, err, domain.ErrNotFound)
}

func TestResolveUserAndExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.users.ResolveUser(ctx, domain.NaturalKey("vol"))
	require.NoError(t, err)
	assert.Equal(t, volunteerID, id)

	ok, err := f.users.UserExists(ctx, volunteerID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.users.UserExists(ctx, 12345)
	require.NoError(t, err)
	assert.False(t, ok)
}
