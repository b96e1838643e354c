package repository

import (
	"context"
	"sort"
	"time"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

type memoryStatuses struct{ h *memHandle }

var _ StatusesRepository = (*memoryStatuses)(nil)

func (r *memoryStatuses) ListStatuses(_ context.Context, entity domain.EntityType) ([]domain.Status, error) {
	var out []domain.Status
	err := r.h.run(func(st *memState, _ time.Time) error {
		for _, s := range st.statuses {
			if s.EntityType == entity {
				out = append(out, s)
			}
		}
		return nil
	})
	return out, err
}

func (r *memoryStatuses) CountEntities(_ context.Context, entity domain.EntityType, statusID int64) (int64, error) {
	var n int64
	err := r.h.run(func(st *memState, _ time.Time) error {
		match := func(id int64) bool { return statusID == 0 || id == statusID }
		switch entity {
		case domain.EntityUser:
			for _, u := range st.users {
				if match(u.RoleID) {
					n++
				}
			}
		case domain.EntityKit:
			for _, k := range st.kits {
				if match(k.StatusID) {
					n++
				}
			}
		case domain.EntityResearch:
			for _, r := range st.researches {
				if match(r.StatusID) {
					n++
				}
			}
		case domain.EntitySample:
			for _, s := range st.samples {
				if match(s.StatusID) {
					n++
				}
			}
		default:
			return domain.InvalidInput("unknown entity type %q", entity)
		}
		return nil
	})
	return n, err
}

type memoryUsers struct{ h *memHandle }

var _ UsersRepository = (*memoryUsers)(nil)

func (st *memState) userView(u *domain.User) *domain.User {
	out := *u
	out.Role = st.statusKey(u.RoleID)
	return &out
}

func (r *memoryUsers) GetUser(_ context.Context, id int64) (*domain.User, error) {
	var out *domain.User
	err := r.h.run(func(st *memState, _ time.Time) error {
		u, ok := st.users[id]
		if !ok {
			return domain.NotFound("user %d not found", id)
		}
		out = st.userView(u)
		return nil
	})
	return out, err
}

func (r *memoryUsers) GetUserByName(_ context.Context, name string) (*domain.User, error) {
	var out *domain.User
	err := r.h.run(func(st *memState, _ time.Time) error {
		for _, u := range st.users {
			if u.Name == name {
				out = st.userView(u)
				return nil
			}
		}
		return domain.NotFound("user %q not found", name)
	})
	return out, err
}

func (r *memoryUsers) ListUsers(_ context.Context) ([]*domain.User, error) {
	var out []*domain.User
	err := r.h.run(func(st *memState, _ time.Time) error {
		for _, u := range st.users {
			out = append(out, st.userView(u))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *memoryUsers) UpsertUser(_ context.Context, user *domain.User) (bool, error) {
	var created bool
	err := r.h.run(func(st *memState, now time.Time) error {
		for id, u := range st.users {
			if u.Name == user.Name && id != user.ID {
				return domain.Conflict("user already exists")
			}
		}
		if cur, ok := st.users[user.ID]; ok {
			if cur.Name != user.Name {
				next := *cur
				next.Name = user.Name
				next.UpdatedAt = now
				st.users[user.ID] = &next
			}
			return nil
		}
		if !st.statusExists(domain.EntityUser, user.RoleID) {
			return domain.NotFound("user references a missing row")
		}
		st.users[user.ID] = &domain.User{
			ID:        user.ID,
			Name:      user.Name,
			RoleID:    user.RoleID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		created = true
		return nil
	})
	return created, err
}

func (r *memoryUsers) SetRole(_ context.Context, id, roleID int64) error {
	return r.h.run(func(st *memState, now time.Time) error {
		cur, ok := st.users[id]
		if !ok {
			return domain.NotFound("user %d not found", id)
		}
		next := *cur
		next.RoleID = roleID
		next.UpdatedAt = now
		st.users[id] = &next
		return nil
	})
}

func (r *memoryUsers) IncrementSamples(_ context.Context, id int64) (int64, error) {
	var n int64
	err := r.h.run(func(st *memState, now time.Time) error {
		cur, ok := st.users[id]
		if !ok {
			return domain.NotFound("user %d not found", id)
		}
		next := *cur
		next.SamplesCollected++
		next.UpdatedAt = now
		st.users[id] = &next
		n = next.SamplesCollected
		return nil
	})
	return n, err
}
