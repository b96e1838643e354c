package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

// Schema is the full DDL plus the seeded status vocabulary
//
//go:embed schema.sql
var Schema string

// ApplySchema runs Schema in a single statement batch
func ApplySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
