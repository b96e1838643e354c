package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/phlaster/biokeeper-backend/internal/domain"
)

// pq error codes
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// mapWriteError turns constraint violations into domain errors and wraps the rest
func mapWriteError(err error, what string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgUniqueViolation:
			return &domain.Error{Kind: domain.KindConflict, Message: what + " already exists", Err: err}
		case pgForeignKeyViolation:
			return &domain.Error{Kind: domain.KindNotFound, Message: what + " references a missing row", Err: err}
		case pgCheckViolation:
			return &domain.Error{Kind: domain.KindInvalidInput, Message: what + " violates a constraint", Err: err}
		}
	}
	return fmt.Errorf("failed to write %s: %w", what, err)
}

func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullInt64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func stringArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// requireRow maps a zero-row update to NotFound
func requireRow(res sql.Result, what string, id int64) error {
	ok, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFound("%s %d not found", what, id)
	}
	return nil
}
