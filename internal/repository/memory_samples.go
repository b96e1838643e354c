package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

type memorySamples struct{ h *memHandle }

var _ SamplesRepository = (*memorySamples)(nil)

func (st *memState) sampleView(s *memSample) *domain.Sample {
	out := s.Sample
	out.Status = st.statusKey(s.StatusID)
	out.HasPhoto = len(s.photo) > 0
	return &out
}

func (r *memorySamples) CreateSample(_ context.Context, sample *domain.Sample, photo []byte) (*domain.Sample, error) {
	var out *domain.Sample
	err := r.h.run(func(st *memState, now time.Time) error {
		for _, cur := range st.samples {
			if cur.QRID == sample.QRID {
				return domain.Conflict("sample already exists")
			}
		}
		if _, ok := st.researches[sample.ResearchID]; !ok {
			return domain.NotFound("sample references a missing row")
		}
		if _, ok := st.qrs[sample.QRID]; !ok {
			return domain.NotFound("sample references a missing row")
		}
		if _, ok := st.users[sample.OwnerID]; !ok {
			return domain.NotFound("sample references a missing row")
		}
		st.nextSampleID++
		row := &memSample{Sample: *sample}
		row.ID = st.nextSampleID
		row.CreatedAt = now
		row.UpdatedAt = now
		if len(photo) > 0 {
			row.photo = append([]byte(nil), photo...)
		}
		st.writableSamples()[row.ID] = row
		out = st.sampleView(row)
		return nil
	})
	return out, err
}

func (r *memorySamples) GetSample(_ context.Context, id int64) (*domain.Sample, error) {
	var out *domain.Sample
	err := r.h.run(func(st *memState, _ time.Time) error {
		cur, ok := st.samples[id]
		if !ok {
			return domain.NotFound("sample %d not found", id)
		}
		out = st.sampleView(cur)
		return nil
	})
	return out, err
}

func (r *memorySamples) ListSamples(_ context.Context, filter SamplesFilter) ([]*domain.Sample, error) {
	var out []*domain.Sample
	err := r.h.run(func(st *memState, _ time.Time) error {
		for _, cur := range st.samples {
			if filter.OwnerID != 0 && cur.OwnerID != filter.OwnerID {
				continue
			}
			if filter.ResearchID != 0 && cur.ResearchID != filter.ResearchID {
				continue
			}
			if filter.StatusID != 0 && cur.StatusID != filter.StatusID {
				continue
			}
			out = append(out, st.sampleView(cur))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *memorySamples) GetPhoto(_ context.Context, id int64) ([]byte, error) {
	var out []byte
	err := r.h.run(func(st *memState, _ time.Time) error {
		cur, ok := st.samples[id]
		if !ok {
			return domain.NotFound("sample %d not found", id)
		}
		out = append([]byte(nil), cur.photo...)
		return nil
	})
	return out, err
}

func (r *memorySamples) ChangeStatus(_ context.Context, id, fromStatus, toStatus int64, stamp StampColumn, at time.Time) (bool, error) {
	var ok bool
	err := r.h.run(func(st *memState, now time.Time) error {
		cur, found := st.samples[id]
		if !found || cur.StatusID != fromStatus {
			return nil
		}
		next := *cur
		next.StatusID = toStatus
		switch stamp {
		case StampNone:
		case StampSent:
			next.SentToLabAt = ptr(at)
		case StampDelivered:
			next.DeliveredToLabAt = ptr(at)
		default:
			return fmt.Errorf("unknown stamp column %q", stamp)
		}
		next.UpdatedAt = now
		st.writableSamples()[id] = &next
		ok = true
		return nil
	})
	return ok, err
}

func (r *memorySamples) SetField(_ context.Context, id int64, field domain.SampleField, value any) error {
	return r.h.run(func(st *memState, now time.Time) error {
		cur, ok := st.samples[id]
		if !ok {
			return domain.NotFound("sample %d not found", id)
		}
		next := *cur
		switch field {
		case domain.SampleFieldWeather:
			next.Weather = textValue(value)
		case domain.SampleFieldComment:
			next.Comment = textValue(value)
		case domain.SampleFieldLocality:
			next.Locality = textValue(value)
		case domain.SampleFieldPhoto:
			b, _ := value.([]byte)
			next.photo = append([]byte(nil), b...)
		default:
			return domain.InvalidInput("unknown sample field %q", field)
		}
		next.UpdatedAt = now
		st.writableSamples()[id] = &next
		return nil
	})
}

func textValue(v any) *string {
	switch t := v.(type) {
	case string:
		return ptr(t)
	case *string:
		if t == nil {
			return nil
		}
		return ptr(*t)
	default:
		return nil
	}
}
