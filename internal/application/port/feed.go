package port

import "context"

// TickFeed 行情源接口，各数据源包实现
type TickFeed interface {
	Name() string
	Subscribe(ctx context.Context, symbols []string) (<-chan Tick, error)
}
