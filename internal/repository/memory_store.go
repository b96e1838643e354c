package repository

import (
	"context"
	"sync"
	"time"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

// MemoryStore is the in-process Store used when no database is configured and in tests.
// Transactions are serialized by one mutex and run against a cloned state that is
// swapped in only when fn succeeds. Every table except samples is copied per
// transaction, so writes cost O(users+kits+researches); the samples table is
// copied only by transactions that write a sample.
//
// Repos() returned from the store (not from WithTx) must not be used inside a WithTx callback.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	st := newMemState()
	for i, s := range domain.DefaultStatuses() {
		s.ID = int64(i + 1)
		st.statuses = append(st.statuses, s)
	}
	return &MemoryStore{state: st, now: func() time.Time { return time.Now().UTC() }}
}

var _ Store = (*MemoryStore)(nil)

// SetClock overrides the timestamp source
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Repos() Repos {
	return newMemoryRepos(&memHandle{store: s})
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(ctx, newMemoryRepos(&memHandle{store: s, state: work})); err != nil {
		return err
	}
	s.state = work
	return nil
}

func newMemoryRepos(h *memHandle) Repos {
	return Repos{
		Statuses:   &memoryStatuses{h},
		Users:      &memoryUsers{h},
		Kits:       &memoryKits{h},
		Researches: &memoryResearches{h},
		Samples:    &memorySamples{h},
	}
}

// memHandle runs repository calls either on a transaction's working copy
// or, outside a transaction, on the live state under the store mutex
type memHandle struct {
	store *MemoryStore
	state *memState
}

func (h *memHandle) run(fn func(st *memState, now time.Time) error) error {
	if h.state != nil {
		return fn(h.state, h.store.now())
	}
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return fn(h.store.state, h.store.now())
}

type memSample struct {
	domain.Sample
	photo []byte
}

type memState struct {
	statuses     []domain.Status
	users        map[int64]*domain.User
	kits         map[int64]*domain.Kit
	qrs          map[int64]*domain.QRCode
	researches   map[int64]*domain.Research
	participants map[int64]map[int64]bool
	candidates   map[int64]map[int64]bool
	samples      map[int64]*memSample
	// samples is shared with the parent state until the first write
	samplesShared bool

	nextKitID      int64
	nextQRID       int64
	nextResearchID int64
	nextSampleID   int64
}

func newMemState() *memState {
	return &memState{
		users:        map[int64]*domain.User{},
		kits:         map[int64]*domain.Kit{},
		qrs:          map[int64]*domain.QRCode{},
		researches:   map[int64]*domain.Research{},
		participants: map[int64]map[int64]bool{},
		candidates:   map[int64]map[int64]bool{},
		samples:      map[int64]*memSample{},
	}
}

// clone copies every row; rows are replaced, never mutated through shared pointers
func (s *memState) clone() *memState {
	c := newMemState()
	c.statuses = s.statuses
	for k, v := range s.users {
		u := *v
		c.users[k] = &u
	}
	for k, v := range s.kits {
		kit := *v
		c.kits[k] = &kit
	}
	for k, v := range s.qrs {
		qr := *v
		c.qrs[k] = &qr
	}
	for k, v := range s.researches {
		r := *v
		c.researches[k] = &r
	}
	for k, set := range s.participants {
		c.participants[k] = cloneSet(set)
	}
	for k, set := range s.candidates {
		c.candidates[k] = cloneSet(set)
	}
	// sample rows are replaced, never mutated, so the map is copied lazily
	c.samples = s.samples
	c.samplesShared = true
	c.nextKitID = s.nextKitID
	c.nextQRID = s.nextQRID
	c.nextResearchID = s.nextResearchID
	c.nextSampleID = s.nextSampleID
	return c
}

// writableSamples returns the samples map, copying it first if it is still shared
func (s *memState) writableSamples() map[int64]*memSample {
	if s.samplesShared {
		m := make(map[int64]*memSample, len(s.samples)+1)
		for k, v := range s.samples {
			m[k] = v
		}
		s.samples = m
		s.samplesShared = false
	}
	return s.samples
}

func cloneSet(set map[int64]bool) map[int64]bool {
	out := make(map[int64]bool, len(set))
	for k, v := range set {
		out[k] = v
	}
	return out
}

func (s *memState) statusKey(id int64) string {
	for _, st := range s.statuses {
		if st.ID == id {
			return st.Key
		}
	}
	return ""
}

func (s *memState) statusExists(entity domain.EntityType, id int64) bool {
	for _, st := range s.statuses {
		if st.ID == id && st.EntityType == entity {
			return true
		}
	}
	return false
}

func ptr[T any](v T) *T { return &v }
