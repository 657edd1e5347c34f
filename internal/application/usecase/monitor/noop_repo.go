package monitor

import (
	"context"

	"stradfeed/internal/application/port"
)

type noopRepo struct{}

func NewNoopRepo() port.Repository { return &noopRepo{} }

func (n *noopRepo) UpsertLatestPrice(ctx context.Context, symbol string, price float64, volume, ts int64) error {
	return nil
}
func (n *noopRepo) InsertCombined(ctx context.Context, synthetic string, price float64, volume int64, legA, legB float64, ts int64) error {
	return nil
}
func (n *noopRepo) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	return nil
}
func (n *noopRepo) Close() error { return nil }
