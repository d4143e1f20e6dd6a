package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/connexto/msgbridge/internal/domain"
)

// sqliteTimeFormat has a fixed width so saved_at sorts as text.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_credentials (
	external_identity  TEXT PRIMARY KEY,
	account_id         TEXT,
	credential         TEXT NOT NULL,
	device_fingerprint TEXT,
	saved_at           TEXT NOT NULL,
	invalid            INTEGER NOT NULL DEFAULT 0
);`

// SQLiteCredentialRepository keeps credentials in a local file for
// single-node deployments.
type SQLiteCredentialRepository struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return db, nil
}

func NewSQLiteCredentialRepository(db *sql.DB) *SQLiteCredentialRepository {
	return &SQLiteCredentialRepository{db: db}
}

func (r *SQLiteCredentialRepository) Upsert(ctx context.Context, record domain.CredentialRecord) error {
	query := `
		INSERT INTO session_credentials (external_identity, account_id, credential, device_fingerprint, saved_at, invalid)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_identity) DO UPDATE SET
			account_id = excluded.account_id,
			credential = excluded.credential,
			device_fingerprint = excluded.device_fingerprint,
			saved_at = excluded.saved_at,
			invalid = excluded.invalid
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ExternalIdentity,
		toNullStringValue(record.AccountID),
		record.SealedCredential,
		toNullStringValue(record.DeviceFingerprint),
		record.SavedAt.UTC().Format(sqliteTimeFormat),
		boolToInt(record.Invalid),
	)
	if err != nil {
		return fmt.Errorf("upsert credential %s: %w", record.ExternalIdentity, err)
	}
	return nil
}

func (r *SQLiteCredentialRepository) FindAll(ctx context.Context) ([]domain.CredentialRecord, error) {
	query := `
		SELECT external_identity, account_id, credential, device_fingerprint, saved_at, invalid
		FROM session_credentials
		ORDER BY saved_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var records []domain.CredentialRecord
	for rows.Next() {
		var record domain.CredentialRecord
		var accountID, fingerprint sql.NullString
		var savedAt string
		var invalid int64

		if err := rows.Scan(
			&record.ExternalIdentity,
			&accountID,
			&record.SealedCredential,
			&fingerprint,
			&savedAt,
			&invalid,
		); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}

		record.SavedAt, err = time.Parse(sqliteTimeFormat, savedAt)
		if err != nil {
			return nil, fmt.Errorf("parse saved_at for %s: %w", record.ExternalIdentity, err)
		}
		record.AccountID = fromNullString(accountID)
		record.DeviceFingerprint = fromNullString(fingerprint)
		record.Invalid = invalid != 0
		records = append(records, record)
	}
	return records, rows.Err()
}

func (r *SQLiteCredentialRepository) MarkInvalid(ctx context.Context, externalIdentity string) error {
	query := `UPDATE session_credentials SET invalid = 1 WHERE external_identity = ?`
	return execAffectingOne(ctx, r.db, query, externalIdentity)
}

func (r *SQLiteCredentialRepository) Delete(ctx context.Context, externalIdentity string) error {
	query := `DELETE FROM session_credentials WHERE external_identity = ?`
	return execAffectingOne(ctx, r.db, query, externalIdentity)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
