package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteRepoUpsertLatestPrice(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.UpsertLatestPrice(ctx, "NIFTY24000CE", 125.50, 1000, 1234567890); err != nil {
		t.Fatalf("UpsertLatestPrice failed: %v", err)
	}
	// second upsert for the same symbol replaces, not duplicates
	if err := repo.UpsertLatestPrice(ctx, "NIFTY24000CE", 126.00, 1100, 1234567891); err != nil {
		t.Fatalf("UpsertLatestPrice update failed: %v", err)
	}

	var count int
	if err := repo.GetDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM leg_prices WHERE symbol='NIFTY24000CE'`).Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row after upsert, got %d", count)
	}
}

func TestSQLiteRepoInsertCombined(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	err := repo.InsertCombined(ctx, "NIFTY24000STRD", 213.75, 1000, 125.50, 88.25, 1234567890)
	if err != nil {
		t.Fatalf("InsertCombined failed: %v", err)
	}
	err = repo.InsertCombined(ctx, "NIFTY24000STRD", 214.00, 1200, 125.75, 88.25, 1234567891)
	if err != nil {
		t.Fatalf("InsertCombined failed: %v", err)
	}

	rows, err := repo.LatestCombined(ctx, "NIFTY24000STRD", 10)
	if err != nil {
		t.Fatalf("LatestCombined failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 combined rows, got %d", len(rows))
	}
	if rows[0].Price != 214.00 || rows[0].LegAPrice != 125.75 {
		t.Errorf("latest row first: %+v", rows[0])
	}
}

func TestSQLiteRepoInsertSnapshot(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.InsertSnapshot(context.Background(), 1234567890, "NIFTY24000STRD 213.75"); err != nil {
		t.Fatalf("InsertSnapshot failed: %v", err)
	}
}
