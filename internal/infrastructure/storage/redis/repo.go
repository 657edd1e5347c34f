package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"stradfeed/internal/application/port"
)

type Repo struct {
	rdb            *redis.Client
	prefix         string
	ttl            time.Duration
	keyLatest      string // prefix + ":latest"
	combinedStream string
	combinedChan   string
}

type LatestPrice struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume int64   `json:"volume"`
	Ts     int64   `json:"ts"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, combinedStream, combinedChan string) *Repo {
	if strings.TrimSpace(combinedStream) == "" {
		combinedStream = prefix + ":combined"
	}
	if strings.TrimSpace(combinedChan) == "" {
		combinedChan = prefix + ":combined:pub"
	}
	return &Repo{
		rdb:            rdb,
		prefix:         prefix,
		ttl:            ttl,
		keyLatest:      prefix + ":latest",
		combinedStream: combinedStream,
		combinedChan:   combinedChan,
	}
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, symbol string, price float64, volume, ts int64) error {
	if price <= 0 {
		return nil
	}
	lp := LatestPrice{Symbol: symbol, Price: price, Volume: volume, Ts: ts}
	b, _ := json.Marshal(lp)

	// Hash: field = "NIFTY24000CE" -> json
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, symbol, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Repo) InsertCombined(ctx context.Context, synthetic string, price float64, volume int64, legA, legB float64, ts int64) error {
	// 1) Stream: XADD <stream> * ...
	_, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.combinedStream,
		Values: map[string]any{
			"ts_ms":     ts,
			"synthetic": synthetic,
			"price":     price,
			"volume":    volume,
			"leg_a":     legA,
			"leg_b":     legB,
		},
	}).Result()
	if err != nil {
		return err
	}

	// 2) PubSub: PUBLISH <channel> json
	// 用最简单的 JSON，便于消费者
	msg := fmt.Sprintf(`{"ts_ms":%d,"synthetic":"%s","price":%.2f,"volume":%d,"leg_a":%.2f,"leg_b":%.2f}`,
		ts, synthetic, price, volume, legA, legB)
	return r.rdb.Publish(ctx, r.combinedChan, msg).Err()
}

func (r *Repo) InsertSnapshot(ctx context.Context, ts int64, payload string) error {
	// snapshots stay in sqlite/postgres; Redis carries only the live surface
	return nil
}

func (r *Repo) Close() error { return nil }

var _ port.Repository = (*Repo)(nil)
