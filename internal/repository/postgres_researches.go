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

// PostgresResearchesRepository implements ResearchesRepository
type PostgresResearchesRepository struct {
	db Querier
}

func NewPostgresResearchesRepository(db Querier) *PostgresResearchesRepository {
	return &PostgresResearchesRepository{db: db}
}

var _ ResearchesRepository = (*PostgresResearchesRepository)(nil)

const researchColumns = `
	r.id, r.name, r.comment, r.created_by, r.status, s.key, r.day_start, r.day_end,
	r.approval_required, r.n_samples, r.created_at, r.updated_at
	FROM researches r
	JOIN statuses s ON s.id = r.status
`

func scanResearch(row interface{ Scan(...any) error }) (*domain.Research, error) {
	var r domain.Research
	var comment sql.NullString
	var dayEnd sql.NullTime
	if err := row.Scan(
		&r.ID, &r.Name, &comment, &r.CreatedBy, &r.StatusID, &r.Status, &r.DayStart, &dayEnd,
		&r.ApprovalRequired, &r.SampleCount, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.Comment = nullStringPtr(comment)
	r.DayEnd = nullTimePtr(dayEnd)
	return &r, nil
}

func (r *PostgresResearchesRepository) CreateResearch(ctx context.Context, research *domain.Research) (*domain.Research, error) {
	query := `
		INSERT INTO researches (name, comment, created_by, status, day_start, day_end, approval_required)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	out := *research
	err := r.db.QueryRowContext(ctx, query,
		research.Name,
		stringArg(research.Comment),
		research.CreatedBy,
		research.StatusID,
		research.DayStart,
		timeArg(research.DayEnd),
		research.ApprovalRequired,
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, mapWriteError(err, "research")
	}
	return &out, nil
}

func (r *PostgresResearchesRepository) GetResearch(ctx context.Context, id int64, lock LockMode) (*domain.Research, error) {
	res, err := scanResearch(r.db.QueryRowContext(ctx, `SELECT `+researchColumns+` WHERE r.id = $1`+lock.clause("r"), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("research %d not found", id)
		}
		return nil, fmt.Errorf("failed to get research: %w", err)
	}
	return res, nil
}

func (r *PostgresResearchesRepository) GetResearchByName(ctx context.Context, name string) (*domain.Research, error) {
	res, err := scanResearch(r.db.QueryRowContext(ctx, `SELECT `+researchColumns+` WHERE r.name = $1`, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("research %q not found", name)
		}
		return nil, fmt.Errorf("failed to get research: %w", err)
	}
	return res, nil
}

func (r *PostgresResearchesRepository) ListResearches(ctx context.Context, filter ResearchesFilter) ([]*domain.Research, error) {
	var where []string
	var args []any
	argIdx := 1

	if filter.StatusID != 0 {
		where = append(where, fmt.Sprintf("r.status = $%d", argIdx))
		args = append(args, filter.StatusID)
		argIdx++
	}
	if filter.CreatedBy != 0 {
		where = append(where, fmt.Sprintf("r.created_by = $%d", argIdx))
		args = append(args, filter.CreatedBy)
		argIdx++
	}
	if filter.ParticipantID != 0 {
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM research_participants p WHERE p.research_id = r.id AND p.user_id = $%d)", argIdx))
		args = append(args, filter.ParticipantID)
	}

	query := `SELECT ` + researchColumns
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY r.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list researches: %w", err)
	}
	defer rows.Close()

	var out []*domain.Research
	for rows.Next() {
		res, err := scanResearch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan research: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate researches: %w", err)
	}
	return out, nil
}

func (r *PostgresResearchesRepository) ChangeStatus(ctx context.Context, id, fromStatus, toStatus int64, dayEnd *time.Time) (bool, error) {
	query := `
		UPDATE researches
		SET status = $3, day_end = COALESCE(day_end, $4), updated_at = now()
		WHERE id = $1 AND status = $2
	`
	res, err := r.db.ExecContext(ctx, query, id, fromStatus, toStatus, timeArg(dayEnd))
	if err != nil {
		return false, mapWriteError(err, "research")
	}
	return rowsAffected(res)
}

func (r *PostgresResearchesRepository) UpdateComment(ctx context.Context, id int64, comment *string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE researches SET comment = $2, updated_at = now() WHERE id = $1`, id, stringArg(comment))
	if err != nil {
		return mapWriteError(err, "research")
	}
	return requireRow(res, "research", id)
}

func (r *PostgresResearchesRepository) UpdateDayEnd(ctx context.Context, id int64, dayEnd *time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE researches SET day_end = $2, updated_at = now() WHERE id = $1`, id, timeArg(dayEnd))
	if err != nil {
		return mapWriteError(err, "research")
	}
	return requireRow(res, "research", id)
}

func (r *PostgresResearchesRepository) IncrementSamples(ctx context.Context, id int64) (int64, error) {
	query := `
		UPDATE researches
		SET n_samples = n_samples + 1, updated_at = now()
		WHERE id = $1
		RETURNING n_samples
	`
	var n int64
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.NotFound("research %d not found", id)
		}
		return 0, fmt.Errorf("failed to increment research samples: %w", err)
	}
	return n, nil
}

// ========== Membership ==========

func (r *PostgresResearchesRepository) exists(ctx context.Context, table string, researchID, userID int64) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE research_id = $1 AND user_id = $2)`, table)
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, researchID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to query %s: %w", table, err)
	}
	return ok, nil
}

func (r *PostgresResearchesRepository) insertMember(ctx context.Context, table string, researchID, userID int64) error {
	query := fmt.Sprintf(`INSERT INTO %s (research_id, user_id) VALUES ($1, $2)`, table)
	if _, err := r.db.ExecContext(ctx, query, researchID, userID); err != nil {
		return mapWriteError(err, strings.TrimPrefix(table, "research_"))
	}
	return nil
}

func (r *PostgresResearchesRepository) deleteMember(ctx context.Context, table string, researchID, userID int64) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE research_id = $1 AND user_id = $2`, table)
	res, err := r.db.ExecContext(ctx, query, researchID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return rowsAffected(res)
}

func (r *PostgresResearchesRepository) listMembers(ctx context.Context, table string, researchID int64) ([]int64, error) {
	query := fmt.Sprintf(`SELECT user_id FROM %s WHERE research_id = $1 ORDER BY user_id`, table)
	rows, err := r.db.QueryContext(ctx, query, researchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *PostgresResearchesRepository) IsParticipant(ctx context.Context, researchID, userID int64) (bool, error) {
	return r.exists(ctx, "research_participants", researchID, userID)
}

func (r *PostgresResearchesRepository) IsCandidate(ctx context.Context, researchID, userID int64) (bool, error) {
	return r.exists(ctx, "research_candidates", researchID, userID)
}

func (r *PostgresResearchesRepository) AddCandidate(ctx context.Context, researchID, userID int64) error {
	return r.insertMember(ctx, "research_candidates", researchID, userID)
}

func (r *PostgresResearchesRepository) RemoveCandidate(ctx context.Context, researchID, userID int64) (bool, error) {
	return r.deleteMember(ctx, "research_candidates", researchID, userID)
}

func (r *PostgresResearchesRepository) AddParticipant(ctx context.Context, researchID, userID int64) error {
	return r.insertMember(ctx, "research_participants", researchID, userID)
}

func (r *PostgresResearchesRepository) RemoveParticipant(ctx context.Context, researchID, userID int64) (bool, error) {
	return r.deleteMember(ctx, "research_participants", researchID, userID)
}

func (r *PostgresResearchesRepository) ListParticipants(ctx context.Context, researchID int64) ([]int64, error) {
	return r.listMembers(ctx, "research_participants", researchID)
}

func (r *PostgresResearchesRepository) ListCandidates(ctx context.Context, researchID int64) ([]int64, error) {
	return r.listMembers(ctx, "research_candidates", researchID)
}
