package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

// PostgresSamplesRepository implements SamplesRepository
type PostgresSamplesRepository struct {
	db Querier
}

func NewPostgresSamplesRepository(db Querier) *PostgresSamplesRepository {
	return &PostgresSamplesRepository{db: db}
}

var _ SamplesRepository = (*PostgresSamplesRepository)(nil)

const sampleColumns = `
	sm.id, sm.research_id, sm.qr_id, sm.owner_id, sm.collected_at, sm.latitude, sm.longitude,
	sm.status, s.key, sm.weather, sm.locality, sm.comment, (sm.photo IS NOT NULL),
	sm.sent_to_lab_at, sm.delivered_to_lab_at, sm.created_at, sm.updated_at
	FROM samples sm
	JOIN statuses s ON s.id = sm.status
`

func scanSample(row interface{ Scan(...any) error }) (*domain.Sample, error) {
	var sm domain.Sample
	var weather, locality, comment sql.NullString
	var sentAt, deliveredAt sql.NullTime
	if err := row.Scan(
		&sm.ID, &sm.ResearchID, &sm.QRID, &sm.OwnerID, &sm.CollectedAt, &sm.GPS.Latitude, &sm.GPS.Longitude,
		&sm.StatusID, &sm.Status, &weather, &locality, &comment, &sm.HasPhoto,
		&sentAt, &deliveredAt, &sm.CreatedAt, &sm.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sm.Weather = nullStringPtr(weather)
	sm.Locality = nullStringPtr(locality)
	sm.Comment = nullStringPtr(comment)
	sm.SentToLabAt = nullTimePtr(sentAt)
	sm.DeliveredToLabAt = nullTimePtr(deliveredAt)
	return &sm, nil
}

func (r *PostgresSamplesRepository) CreateSample(ctx context.Context, sample *domain.Sample, photo []byte) (*domain.Sample, error) {
	query := `
		INSERT INTO samples (research_id, qr_id, owner_id, collected_at, latitude, longitude, status, weather, comment, photo)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`
	var photoArg any
	if len(photo) > 0 {
		photoArg = photo
	}
	out := *sample
	err := r.db.QueryRowContext(ctx, query,
		sample.ResearchID,
		sample.QRID,
		sample.OwnerID,
		sample.CollectedAt,
		sample.GPS.Latitude,
		sample.GPS.Longitude,
		sample.StatusID,
		stringArg(sample.Weather),
		stringArg(sample.Comment),
		photoArg,
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, mapWriteError(err, "sample")
	}
	out.HasPhoto = photoArg != nil
	return &out, nil
}

func (r *PostgresSamplesRepository) GetSample(ctx context.Context, id int64) (*domain.Sample, error) {
	sm, err := scanSample(r.db.QueryRowContext(ctx, `SELECT `+sampleColumns+` WHERE sm.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("sample %d not found", id)
		}
		return nil, fmt.Errorf("failed to get sample: %w", err)
	}
	return sm, nil
}

func (r *PostgresSamplesRepository) ListSamples(ctx context.Context, filter SamplesFilter) ([]*domain.Sample, error) {
	var where []string
	var args []any
	argIdx := 1

	if filter.OwnerID != 0 {
		where = append(where, fmt.Sprintf("sm.owner_id = $%d", argIdx))
		args = append(args, filter.OwnerID)
		argIdx++
	}
	if filter.ResearchID != 0 {
		where = append(where, fmt.Sprintf("sm.research_id = $%d", argIdx))
		args = append(args, filter.ResearchID)
		argIdx++
	}
	if filter.StatusID != 0 {
		where = append(where, fmt.Sprintf("sm.status = $%d", argIdx))
		args = append(args, filter.StatusID)
	}

	query := `SELECT ` + sampleColumns
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY sm.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list samples: %w", err)
	}
	defer rows.Close()

	var out []*domain.Sample
	for rows.Next() {
		sm, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		out = append(out, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate samples: %w", err)
	}
	return out, nil
}

func (r *PostgresSamplesRepository) GetPhoto(ctx context.Context, id int64) ([]byte, error) {
	var photo []byte
	if err := r.db.QueryRowContext(ctx, `SELECT photo FROM samples WHERE id = $1`, id).Scan(&photo); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("sample %d not found", id)
		}
		return nil, fmt.Errorf("failed to get sample photo: %w", err)
	}
	return photo, nil
}

func (r *PostgresSamplesRepository) ChangeStatus(ctx context.Context, id, fromStatus, toStatus int64, stamp StampColumn, at time.Time) (bool, error) {
	var res sql.Result
	var err error
	switch stamp {
	case StampNone:
		res, err = r.db.ExecContext(ctx,
			`UPDATE samples SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
			id, fromStatus, toStatus)
	case StampSent, StampDelivered:
		query := fmt.Sprintf(`UPDATE samples SET status = $3, %s = $4, updated_at = now() WHERE id = $1 AND status = $2`, stamp)
		res, err = r.db.ExecContext(ctx, query, id, fromStatus, toStatus, at)
	default:
		return false, fmt.Errorf("unknown stamp column %q", stamp)
	}
	if err != nil {
		return false, mapWriteError(err, "sample")
	}
	return rowsAffected(res)
}

func (r *PostgresSamplesRepository) SetField(ctx context.Context, id int64, field domain.SampleField, value any) error {
	switch field {
	case domain.SampleFieldWeather, domain.SampleFieldComment, domain.SampleFieldLocality, domain.SampleFieldPhoto:
	default:
		return domain.InvalidInput("unknown sample field %q", field)
	}
	query := fmt.Sprintf(`UPDATE samples SET %s = $2, updated_at = now() WHERE id = $1`, field)
	res, err := r.db.ExecContext(ctx, query, id, value)
	if err != nil {
		return mapWriteError(err, "sample")
	}
	return requireRow(res, "sample", id)
}
