package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"stradfeed/internal/application/port"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS combined_prices (
  id BIGSERIAL PRIMARY KEY,
  synthetic TEXT NOT NULL,
  price DOUBLE PRECISION NOT NULL,
  volume BIGINT NOT NULL,
  leg_a_price DOUBLE PRECISION NOT NULL,
  leg_b_price DOUBLE PRECISION NOT NULL,
  ts_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_combined_synthetic ON combined_prices(synthetic);
CREATE INDEX IF NOT EXISTS idx_combined_ts ON combined_prices(ts_ms);

CREATE TABLE IF NOT EXISTS snapshots (
  id BIGSERIAL PRIMARY KEY,
  ts_ms BIGINT NOT NULL,
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts_ms);
`)
	return err
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, symbol string, price float64, volume, ts int64) error {
	// leg-level latest lives in sqlite/redis; postgres keeps the durable streams
	return nil
}

func (r *Repo) InsertCombined(ctx context.Context, synthetic string, price float64, volume int64, legA, legB float64, ts int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO combined_prices(synthetic, price, volume, leg_a_price, leg_b_price, ts_ms)
		VALUES($1, $2, $3, $4, $5, $6)
	`, synthetic, price, volume, legA, legB, ts)
	return err
}

func (r *Repo) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO snapshots(ts_ms, payload) VALUES($1, $2)`, ts, payload)
	return err
}

var _ port.Repository = (*Repo)(nil)
