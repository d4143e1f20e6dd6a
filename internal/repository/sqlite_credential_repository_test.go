package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/connexto/msgbridge/internal/domain"
)

func newTestSQLiteRepository(t *testing.T) *SQLiteCredentialRepository {
	t.Helper()

	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "creds", "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLiteCredentialRepository(db)
}

func TestSQLiteCredentialRepositoryUpsertAndFindAll(t *testing.T) {
	repo := newTestSQLiteRepository(t)
	ctx := context.Background()
	savedAt := time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC)

	record := domain.CredentialRecord{
		ExternalIdentity:  "zid-1",
		AccountID:         "7",
		SealedCredential:  "sealed-v1",
		DeviceFingerprint: "dev-1",
		SavedAt:           savedAt,
	}
	if err := repo.Upsert(ctx, record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record.SealedCredential = "sealed-v2"
	record.SavedAt = savedAt.Add(time.Hour)
	if err := repo.Upsert(ctx, record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := repo.Upsert(ctx, domain.CredentialRecord{
		ExternalIdentity: "zid-2",
		SealedCredential: "other",
		SavedAt:          savedAt,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, err := repo.FindAll(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	got := records[0]
	if got.ExternalIdentity != "zid-1" || got.SealedCredential != "sealed-v2" || got.AccountID != "7" || got.DeviceFingerprint != "dev-1" {
		t.Errorf("unexpected record %+v", got)
	}
	if !got.SavedAt.Equal(savedAt.Add(time.Hour)) {
		t.Errorf("expected saved_at %v, got %v", savedAt.Add(time.Hour), got.SavedAt)
	}
	if records[1].AccountID != "" {
		t.Errorf("expected empty account id, got %q", records[1].AccountID)
	}
}

func TestSQLiteCredentialRepositoryMarkInvalidAndDelete(t *testing.T) {
	repo := newTestSQLiteRepository(t)
	ctx := context.Background()

	_ = repo.Upsert(ctx, domain.CredentialRecord{ExternalIdentity: "zid-1", SealedCredential: "x", SavedAt: time.Now()})

	if err := repo.MarkInvalid(ctx, "zid-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	records, _ := repo.FindAll(ctx)
	if len(records) != 1 || !records[0].Invalid {
		t.Fatalf("expected record marked invalid, got %+v", records)
	}

	if err := repo.MarkInvalid(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := repo.Delete(ctx, "zid-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.Delete(ctx, "zid-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	records, _ = repo.FindAll(ctx)
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}
