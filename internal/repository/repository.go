package repository

import (
	"context"
	"database/sql"
)

// Querier is satisfied by both *sql.DB and *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// LockMode selects the row lock a read takes inside a transaction
type LockMode int

const (
	LockNone LockMode = iota
	LockShare
	LockUpdate
)

// clause renders the locking suffix; alias restricts it to one table of a join
func (m LockMode) clause(alias string) string {
	of := ""
	if alias != "" {
		of = " OF " + alias
	}
	switch m {
	case LockShare:
		return " FOR SHARE" + of
	case LockUpdate:
		return " FOR UPDATE" + of
	default:
		return ""
	}
}

// Repos bundles every repository bound to the same connection or transaction
type Repos struct {
	Statuses   StatusesRepository
	Users      UsersRepository
	Kits       KitsRepository
	Researches ResearchesRepository
	Samples    SamplesRepository
}

// Store hands out repositories and runs multi-step mutations atomically.
// fn's repos are only valid inside fn; any error rolls everything back.
type Store interface {
	Repos() Repos
	WithTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error
}
