package port

import "context"

type Repository interface {
	// Leg price operations
	UpsertLatestPrice(ctx context.Context, symbol string, price float64, volume, ts int64) error

	// Combined (synthetic) print operations
	InsertCombined(ctx context.Context, synthetic string, price float64, volume int64, legA, legB float64, ts int64) error

	// Snapshot operations
	InsertSnapshot(ctx context.Context, ts int64, payload string) error

	// Connection management
	Close() error
}
