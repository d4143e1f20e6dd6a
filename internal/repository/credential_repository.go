package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/connexto/msgbridge/internal/domain"
)

type PostgresCredentialRepository struct {
	db *sql.DB
}

func NewPostgresCredentialRepository(db *sql.DB) *PostgresCredentialRepository {
	return &PostgresCredentialRepository{db: db}
}

func (r *PostgresCredentialRepository) Upsert(ctx context.Context, record domain.CredentialRecord) error {
	query := `
		INSERT INTO session_credentials (external_identity, account_id, credential, device_fingerprint, saved_at, invalid)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_identity) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			credential = EXCLUDED.credential,
			device_fingerprint = EXCLUDED.device_fingerprint,
			saved_at = EXCLUDED.saved_at,
			invalid = EXCLUDED.invalid
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ExternalIdentity,
		toNullStringValue(record.AccountID),
		record.SealedCredential,
		toNullStringValue(record.DeviceFingerprint),
		record.SavedAt.UTC(),
		record.Invalid,
	)
	if err != nil {
		return fmt.Errorf("upsert credential %s: %w", record.ExternalIdentity, err)
	}
	return nil
}

func (r *PostgresCredentialRepository) FindAll(ctx context.Context) ([]domain.CredentialRecord, error) {
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

		if err := rows.Scan(
			&record.ExternalIdentity,
			&accountID,
			&record.SealedCredential,
			&fingerprint,
			&record.SavedAt,
			&record.Invalid,
		); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}

		record.AccountID = fromNullString(accountID)
		record.DeviceFingerprint = fromNullString(fingerprint)
		records = append(records, record)
	}
	return records, rows.Err()
}

func (r *PostgresCredentialRepository) MarkInvalid(ctx context.Context, externalIdentity string) error {
	query := `UPDATE session_credentials SET invalid = TRUE WHERE external_identity = $1`
	return execAffectingOne(ctx, r.db, query, externalIdentity)
}

func (r *PostgresCredentialRepository) Delete(ctx context.Context, externalIdentity string) error {
	query := `DELETE FROM session_credentials WHERE external_identity = $1`
	return execAffectingOne(ctx, r.db, query, externalIdentity)
}
