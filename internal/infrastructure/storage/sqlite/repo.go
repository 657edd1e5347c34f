package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"stradfeed/internal/application/port"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) GetDB() *sql.DB {
	return r.db
}

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS leg_prices (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  symbol TEXT NOT NULL,
  price REAL NOT NULL,
  volume INTEGER NOT NULL,
  ts_ms INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  UNIQUE(symbol)
);
CREATE INDEX IF NOT EXISTS idx_leg_prices_ts ON leg_prices(ts_ms);

CREATE TABLE IF NOT EXISTS combined_prices (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  synthetic TEXT NOT NULL,
  price REAL NOT NULL,
  volume INTEGER NOT NULL,
  leg_a_price REAL NOT NULL,
  leg_b_price REAL NOT NULL,
  ts_ms INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_combined_synthetic ON combined_prices(synthetic);
CREATE INDEX IF NOT EXISTS idx_combined_ts ON combined_prices(ts_ms);

CREATE TABLE IF NOT EXISTS snapshots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts_ms INTEGER NOT NULL,
  payload TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts_ms);
`)
	return err
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, symbol string, price float64, volume, ts int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO leg_prices(symbol, price, volume, ts_ms, created_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
		price=excluded.price, volume=excluded.volume, ts_ms=excluded.ts_ms
	`, symbol, price, volume, ts, ts)
	return err
}

func (r *Repo) InsertCombined(ctx context.Context, synthetic string, price float64, volume int64, legA, legB float64, ts int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO combined_prices(synthetic, price, volume, leg_a_price, leg_b_price, ts_ms, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, synthetic, price, volume, legA, legB, ts, ts)
	return err
}

func (r *Repo) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO snapshots(ts_ms, payload, created_at) VALUES(?, ?, ?)`, ts, payload, ts)
	return err
}

// LatestCombined 查询某合成标的最近 n 条成交价（诊断用）
func (r *Repo) LatestCombined(ctx context.Context, synthetic string, n int) ([]CombinedRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT synthetic, price, volume, leg_a_price, leg_b_price, ts_ms
		FROM combined_prices WHERE synthetic=? ORDER BY id DESC LIMIT ?
	`, synthetic, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CombinedRow
	for rows.Next() {
		var c CombinedRow
		if err := rows.Scan(&c.Synthetic, &c.Price, &c.Volume, &c.LegAPrice, &c.LegBPrice, &c.TsMs); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type CombinedRow struct {
	Synthetic string
	Price     float64
	Volume    int64
	LegAPrice float64
	LegBPrice float64
	TsMs      int64
}

var _ port.Repository = (*Repo)(nil)
