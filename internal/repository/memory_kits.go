package repository

import (
	"context"
	"sort"
	"time"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

type memoryKits struct{ h *memHandle }

var _ KitsRepository = (*memoryKits)(nil)

func (st *memState) kitView(k *domain.Kit) *domain.Kit {
	out := *k
	out.Status = st.statusKey(k.StatusID)
	out.QRCodes = nil
	return &out
}

func (r *memoryKits) CreateKit(_ context.Context, kit *domain.Kit, qrHexes []string) (*domain.Kit, error) {
	var out *domain.Kit
	err := r.h.run(func(st *memState, now time.Time) error {
		if _, ok := st.users[kit.CreatorID]; !ok {
			return domain.NotFound("kit references a missing row")
		}
		for _, k := range st.kits {
			if k.UniqueHex == kit.UniqueHex {
				return domain.Conflict("kit already exists")
			}
		}
		seen := map[string]bool{}
		for _, qr := range st.qrs {
			seen[qr.UniqueHex] = true
		}
		for _, hex := range qrHexes {
			if seen[hex] {
				return domain.Conflict("qr code already exists")
			}
			seen[hex] = true
		}

		st.nextKitID++
		row := &domain.Kit{
			ID:        st.nextKitID,
			UniqueHex: kit.UniqueHex,
			QRCount:   len(qrHexes),
			CreatorID: kit.CreatorID,
			StatusID:  kit.StatusID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		st.kits[row.ID] = row

		out = st.kitView(row)
		for _, hex := range qrHexes {
			st.nextQRID++
			qr := &domain.QRCode{ID: st.nextQRID, UniqueHex: hex, KitID: ptr(row.ID), CreatedAt: now}
			st.qrs[qr.ID] = qr
			out.QRCodes = append(out.QRCodes, *qr)
		}
		return nil
	})
	return out, err
}

func (r *memoryKits) GetKit(_ context.Context, id int64, _ LockMode) (*domain.Kit, error) {
	var out *domain.Kit
	err := r.h.run(func(st *memState, _ time.Time) error {
		k, ok := st.kits[id]
		if !ok {
			return domain.NotFound("kit %d not found", id)
		}
		out = st.kitView(k)
		return nil
	})
	return out, err
}

func (r *memoryKits) GetKitByHex(_ context.Context, hex string) (*domain.Kit, error) {
	var out *domain.Kit
	err := r.h.run(func(st *memState, _ time.Time) error {
		for _, k := range st.kits {
			if k.UniqueHex == hex {
				out = st.kitView(k)
				return nil
			}
		}
		return domain.NotFound("kit %q not found", hex)
	})
	return out, err
}

func (r *memoryKits) ListKits(_ context.Context, filter KitsFilter) ([]*domain.Kit, error) {
	var out []*domain.Kit
	err := r.h.run(func(st *memState, _ time.Time) error {
		for _, k := range st.kits {
			if filter.OwnerID != 0 && !k.OwnedBy(filter.OwnerID) {
				continue
			}
			if filter.StatusID != 0 && k.StatusID != filter.StatusID {
				continue
			}
			out = append(out, st.kitView(k))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *memoryKits) AssignOwner(_ context.Context, kitID, ownerID, fromStatus, toStatus int64) (bool, error) {
	var ok bool
	err := r.h.run(func(st *memState, now time.Time) error {
		cur, found := st.kits[kitID]
		if !found || cur.HasOwner() || cur.StatusID != fromStatus {
			return nil
		}
		if _, exists := st.users[ownerID]; !exists {
			return domain.NotFound("kit references a missing row")
		}
		next := *cur
		next.OwnerID = ptr(ownerID)
		next.StatusID = toStatus
		next.UpdatedAt = now
		st.kits[kitID] = &next
		ok = true
		return nil
	})
	return ok, err
}

func (r *memoryKits) ChangeStatus(_ context.Context, kitID, fromStatus, toStatus int64) (bool, error) {
	var ok bool
	err := r.h.run(func(st *memState, now time.Time) error {
		cur, found := st.kits[kitID]
		if !found || cur.StatusID != fromStatus {
			return nil
		}
		next := *cur
		next.StatusID = toStatus
		next.UpdatedAt = now
		st.kits[kitID] = &next
		ok = true
		return nil
	})
	return ok, err
}

func (r *memoryKits) ListQRCodes(_ context.Context, kitID int64) ([]domain.QRCode, error) {
	var out []domain.QRCode
	err := r.h.run(func(st *memState, _ time.Time) error {
		for _, qr := range st.qrs {
			if qr.KitID != nil && *qr.KitID == kitID {
				out = append(out, *qr)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *memoryKits) GetQRByHex(_ context.Context, hex string, _ LockMode) (*domain.QRCode, error) {
	var out *domain.QRCode
	err := r.h.run(func(st *memState, _ time.Time) error {
		for _, qr := range st.qrs {
			if qr.UniqueHex == hex {
				cp := *qr
				out = &cp
				return nil
			}
		}
		return domain.NotFound("qr %q not found", hex)
	})
	return out, err
}

func (r *memoryKits) MarkQRUsed(_ context.Context, qrID int64) (bool, error) {
	var ok bool
	err := r.h.run(func(st *memState, _ time.Time) error {
		cur, found := st.qrs[qrID]
		if !found || cur.IsUsed {
			return nil
		}
		next := *cur
		next.IsUsed = true
		st.qrs[qrID] = &next
		ok = true
		return nil
	})
	return ok, err
}

// AddLooseQR inserts a QR code bound to no kit. Only the memory store needs this:
// it reproduces rows whose kit was detached outside the service layer.
func (s *MemoryStore) AddLooseQR(hex string) domain.QRCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.nextQRID++
	qr := &domain.QRCode{ID: s.state.nextQRID, UniqueHex: hex, CreatedAt: s.now()}
	s.state.qrs[qr.ID] = qr
	return *qr
}
