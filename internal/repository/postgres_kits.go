package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

// PostgresKitsRepository implements KitsRepository
type PostgresKitsRepository struct {
	db Querier
}

func NewPostgresKitsRepository(db Querier) *PostgresKitsRepository {
	return &PostgresKitsRepository{db: db}
}

var _ KitsRepository = (*PostgresKitsRepository)(nil)

const kitColumns = `
	k.id, k.unique_hex, k.n_qrs, k.creator_id, k.owner_id, k.status, s.key, k.created_at, k.updated_at
	FROM kits k
	JOIN statuses s ON s.id = k.status
`

func scanKit(row interface{ Scan(...any) error }) (*domain.Kit, error) {
	var k domain.Kit
	var owner sql.NullInt64
	if err := row.Scan(&k.ID, &k.UniqueHex, &k.QRCount, &k.CreatorID, &owner, &k.StatusID, &k.Status, &k.CreatedAt, &k.UpdatedAt); err != nil {
		return nil, err
	}
	k.OwnerID = nullInt64Ptr(owner)
	return &k, nil
}

func (r *PostgresKitsRepository) CreateKit(ctx context.Context, kit *domain.Kit, qrHexes []string) (*domain.Kit, error) {
	query := `
		INSERT INTO kits (unique_hex, n_qrs, creator_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	out := *kit
	out.QRCount = len(qrHexes)
	if err := r.db.QueryRowContext(ctx, query, kit.UniqueHex, len(qrHexes), kit.CreatorID, kit.StatusID).
		Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, mapWriteError(err, "kit")
	}

	out.QRCodes = make([]domain.QRCode, 0, len(qrHexes))
	for _, hex := range qrHexes {
		kitID := out.ID
		qr := domain.QRCode{UniqueHex: hex, KitID: &kitID}
		err := r.db.QueryRowContext(ctx,
			`INSERT INTO qr_codes (unique_hex, kit_id) VALUES ($1, $2) RETURNING id, created_at`,
			hex, out.ID,
		).Scan(&qr.ID, &qr.CreatedAt)
		if err != nil {
			return nil, mapWriteError(err, "qr code")
		}
		out.QRCodes = append(out.QRCodes, qr)
	}
	return &out, nil
}

func (r *PostgresKitsRepository) GetKit(ctx context.Context, id int64, lock LockMode) (*domain.Kit, error) {
	k, err := scanKit(r.db.QueryRowContext(ctx, `SELECT `+kitColumns+` WHERE k.id = $1`+lock.clause("k"), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("kit %d not found", id)
		}
		return nil, fmt.Errorf("failed to get kit: %w", err)
	}
	return k, nil
}

func (r *PostgresKitsRepository) GetKitByHex(ctx context.Context, hex string) (*domain.Kit, error) {
	k, err := scanKit(r.db.QueryRowContext(ctx, `SELECT `+kitColumns+` WHERE k.unique_hex = $1`, hex))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("kit %q not found", hex)
		}
		return nil, fmt.Errorf("failed to get kit: %w", err)
	}
	return k, nil
}

func (r *PostgresKitsRepository) ListKits(ctx context.Context, filter KitsFilter) ([]*domain.Kit, error) {
	var where []string
	var args []any
	argIdx := 1

	if filter.OwnerID != 0 {
		where = append(where, fmt.Sprintf("k.owner_id = $%d", argIdx))
		args = append(args, filter.OwnerID)
		argIdx++
	}
	if filter.StatusID != 0 {
		where = append(where, fmt.Sprintf("k.status = $%d", argIdx))
		args = append(args, filter.StatusID)
	}

	query := `SELECT ` + kitColumns
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY k.id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list kits: %w", err)
	}
	defer rows.Close()

	var out []*domain.Kit
	for rows.Next() {
		k, err := scanKit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan kit: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate kits: %w", err)
	}
	return out, nil
}

func (r *PostgresKitsRepository) AssignOwner(ctx context.Context, kitID, ownerID, fromStatus, toStatus int64) (bool, error) {
	query := `
		UPDATE kits
		SET owner_id = $2, status = $4, updated_at = now()
		WHERE id = $1 AND owner_id IS NULL AND status = $3
	`
	res, err := r.db.ExecContext(ctx, query, kitID, ownerID, fromStatus, toStatus)
	if err != nil {
		return false, mapWriteError(err, "kit")
	}
	return rowsAffected(res)
}

func (r *PostgresKitsRepository) ChangeStatus(ctx context.Context, kitID, fromStatus, toStatus int64) (bool, error) {
	query := `UPDATE kits SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, kitID, fromStatus, toStatus)
	if err != nil {
		return false, mapWriteError(err, "kit")
	}
	return rowsAffected(res)
}

func (r *PostgresKitsRepository) ListQRCodes(ctx context.Context, kitID int64) ([]domain.QRCode, error) {
	query := `
		SELECT id, unique_hex, kit_id, is_used, created_at
		FROM qr_codes
		WHERE kit_id = $1
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, kitID)
	if err != nil {
		return nil, fmt.Errorf("failed to list qr codes: %w", err)
	}
	defer rows.Close()

	var out []domain.QRCode
	for rows.Next() {
		qr, err := scanQR(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan qr code: %w", err)
		}
		out = append(out, *qr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate qr codes: %w", err)
	}
	return out, nil
}

func scanQR(row interface{ Scan(...any) error }) (*domain.QRCode, error) {
	var qr domain.QRCode
	var kitID sql.NullInt64
	if err := row.Scan(&qr.ID, &qr.UniqueHex, &kitID, &qr.IsUsed, &qr.CreatedAt); err != nil {
		return nil, err
	}
	qr.KitID = nullInt64Ptr(kitID)
	return &qr, nil
}

func (r *PostgresKitsRepository) GetQRByHex(ctx context.Context, hex string, lock LockMode) (*domain.QRCode, error) {
	query := `
		SELECT id, unique_hex, kit_id, is_used, created_at
		FROM qr_codes
		WHERE unique_hex = $1` + lock.clause("")
	qr, err := scanQR(r.db.QueryRowContext(ctx, query, hex))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("qr %q not found", hex)
		}
		return nil, fmt.Errorf("failed to get qr code: %w", err)
	}
	return qr, nil
}

func (r *PostgresKitsRepository) MarkQRUsed(ctx context.Context, qrID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE qr_codes SET is_used = true WHERE id = $1 AND is_used = false`, qrID)
	if err != nil {
		return false, mapWriteError(err, "qr code")
	}
	return rowsAffected(res)
}
