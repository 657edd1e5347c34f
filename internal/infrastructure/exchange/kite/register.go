package kite

import (
	"stradfeed/internal/application/port"
	"stradfeed/internal/infrastructure/tickfeed"
)

// 自注册 Kite 行情源工厂
func init() {
	tickfeed.Register(SourceName, func(opts tickfeed.Options) port.TickFeed {
		return NewTickerFeed(opts)
	})
}
