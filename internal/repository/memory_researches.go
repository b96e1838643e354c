package repository

import (
	"context"
	"sort"
	"time"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

type memoryResearches struct{ h *memHandle }

var _ ResearchesRepository = (*memoryResearches)(nil)

func (st *memState) researchView(r *domain.Research) *domain.Research {
	out := *r
	out.Status = st.statusKey(r.StatusID)
	return &out
}

func (r *memoryResearches) CreateResearch(_ context.Context, research *domain.Research) (*domain.Research, error) {
	var out *domain.Research
	err := r.h.run(func(st *memState, now time.Time) error {
		for _, cur := range st.researches {
			if cur.Name == research.Name {
				return domain.Conflict("research already exists")
			}
		}
		if _, ok := st.users[research.CreatedBy]; !ok {
			return domain.NotFound("research references a missing row")
		}
		if research.DayEnd != nil && research.DayEnd.Before(research.DayStart) {
			return domain.InvalidInput("research violates a constraint")
		}
		st.nextResearchID++
		row := *research
		row.ID = st.nextResearchID
		row.SampleCount = 0
		row.CreatedAt = now
		row.UpdatedAt = now
		st.researches[row.ID] = &row
		out = st.researchView(&row)
		return nil
	})
	return out, err
}

func (r *memoryResearches) GetResearch(_ context.Context, id int64, _ LockMode) (*domain.Research, error) {
	var out *domain.Research
	err := r.h.run(func(st *memState, _ time.Time) error {
		cur, ok := st.researches[id]
		if !ok {
			return domain.NotFound("research %d not found", id)
		}
		out = st.researchView(cur)
		return nil
	})
	return out, err
}

func (r *memoryResearches) GetResearchByName(_ context.Context, name string) (*domain.Research, error) {
	var out *domain.Research
	err := r.h.run(func(st *memState, _ time.Time) error {
		for _, cur := range st.researches {
			if cur.Name == name {
				out = st.researchView(cur)
				return nil
			}
		}
		return domain.NotFound("research %q not found", name)
	})
	return out, err
}

func (r *memoryResearches) ListResearches(_ context.Context, filter ResearchesFilter) ([]*domain.Research, error) {
	var out []*domain.Research
	err := r.h.run(func(st *memState, _ time.Time) error {
		for _, cur := range st.researches {
			if filter.StatusID != 0 && cur.StatusID != filter.StatusID {
				continue
			}
			if filter.CreatedBy != 0 && cur.CreatedBy != filter.CreatedBy {
				continue
			}
			if filter.ParticipantID != 0 && !st.participants[cur.ID][filter.ParticipantID] {
				continue
			}
			out = append(out, st.researchView(cur))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *memoryResearches) update(id int64, fn func(next *domain.Research) error) error {
	return r.h.run(func(st *memState, now time.Time) error {
		cur, ok := st.researches[id]
		if !ok {
			return domain.NotFound("research %d not found", id)
		}
		next := *cur
		if err := fn(&next); err != nil {
			return err
		}
		next.UpdatedAt = now
		st.researches[id] = &next
		return nil
	})
}

func (r *memoryResearches) ChangeStatus(_ context.Context, id, fromStatus, toStatus int64, dayEnd *time.Time) (bool, error) {
	var ok bool
	err := r.h.run(func(st *memState, now time.Time) error {
		cur, found := st.researches[id]
		if !found || cur.StatusID != fromStatus {
			return nil
		}
		next := *cur
		next.StatusID = toStatus
		if next.DayEnd == nil && dayEnd != nil {
			next.DayEnd = ptr(*dayEnd)
		}
		next.UpdatedAt = now
		st.researches[id] = &next
		ok = true
		return nil
	})
	return ok, err
}

func (r *memoryResearches) UpdateComment(_ context.Context, id int64, comment *string) error {
	return r.update(id, func(next *domain.Research) error {
		next.Comment = comment
		return nil
	})
}

func (r *memoryResearches) UpdateDayEnd(_ context.Context, id int64, dayEnd *time.Time) error {
	return r.update(id, func(next *domain.Research) error {
		if dayEnd != nil && dayEnd.Before(next.DayStart) {
			return domain.InvalidInput("research violates a constraint")
		}
		next.DayEnd = dayEnd
		return nil
	})
}

func (r *memoryResearches) IncrementSamples(_ context.Context, id int64) (int64, error) {
	var n int64
	err := r.update(id, func(next *domain.Research) error {
		next.SampleCount++
		n = next.SampleCount
		return nil
	})
	return n, err
}

// ========== Membership ==========

type memberSet func(st *memState) map[int64]map[int64]bool

func participantsOf(st *memState) map[int64]map[int64]bool { return st.participants }
func candidatesOf(st *memState) map[int64]map[int64]bool   { return st.candidates }

func (r *memoryResearches) has(set memberSet, researchID, userID int64) (bool, error) {
	var ok bool
	err := r.h.run(func(st *memState, _ time.Time) error {
		ok = set(st)[researchID][userID]
		return nil
	})
	return ok, err
}

func (r *memoryResearches) add(set memberSet, what string, researchID, userID int64) error {
	return r.h.run(func(st *memState, _ time.Time) error {
		if _, ok := st.researches[researchID]; !ok {
			return domain.NotFound("%s references a missing row", what)
		}
		if _, ok := st.users[userID]; !ok {
			return domain.NotFound("%s references a missing row", what)
		}
		m := set(st)
		if m[researchID][userID] {
			return domain.Conflict("%s already exists", what)
		}
		if m[researchID] == nil {
			m[researchID] = map[int64]bool{}
		}
		m[researchID][userID] = true
		return nil
	})
}

func (r *memoryResearches) remove(set memberSet, researchID, userID int64) (bool, error) {
	var removed bool
	err := r.h.run(func(st *memState, _ time.Time) error {
		m := set(st)
		if m[researchID][userID] {
			delete(m[researchID], userID)
			removed = true
		}
		return nil
	})
	return removed, err
}

func (r *memoryResearches) list(set memberSet, researchID int64) ([]int64, error) {
	var out []int64
	err := r.h.run(func(st *memState, _ time.Time) error {
		for id := range set(st)[researchID] {
			out = append(out, id)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, err
}

func (r *memoryResearches) IsParticipant(_ context.Context, researchID, userID int64) (bool, error) {
	return r.has(participantsOf, researchID, userID)
}

func (r *memoryResearches) IsCandidate(_ context.Context, researchID, userID int64) (bool, error) {
	return r.has(candidatesOf, researchID, userID)
}

func (r *memoryResearches) AddCandidate(_ context.Context, researchID, userID int64) error {
	return r.add(candidatesOf, "candidates", researchID, userID)
}

func (r *memoryResearches) RemoveCandidate(_ context.Context, researchID, userID int64) (bool, error) {
	return r.remove(candidatesOf, researchID, userID)
}

func (r *memoryResearches) AddParticipant(_ context.Context, researchID, userID int64) error {
	return r.add(participantsOf, "participants", researchID, userID)
}

func (r *memoryResearches) RemoveParticipant(_ context.Context, researchID, userID int64) (bool, error) {
	return r.remove(participantsOf, researchID, userID)
}

func (r *memoryResearches) ListParticipants(_ context.Context, researchID int64) ([]int64, error) {
	return r.list(participantsOf, researchID)
}

func (r *memoryResearches) ListCandidates(_ context.Context, researchID int64) ([]int64, error) {
	return r.list(candidatesOf, researchID)
}
