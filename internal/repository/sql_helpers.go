package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/connexto/msgbridge/internal/domain"
)

func toNullStringValue(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func fromNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// execAffectingOne runs a keyed statement and maps "no row" to
// domain.ErrNotFound.
func execAffectingOne(ctx context.Context, db *sql.DB, query string, key string) error {
	result, err := db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("exec for %s: %w", key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
