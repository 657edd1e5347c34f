package tickfeed

import (
	"stradfeed/internal/application/port"

	"github.com/rs/zerolog/log"
)

// Options 行情源连接参数
type Options struct {
	WsURL       string
	APIKey      string
	AccessToken string
	Tokens      map[string]uint32 // symbol -> instrument token

	// session lifecycle hooks, invoked from the feed's connection goroutine
	OnSessionUp   func()
	OnSessionDown func(err error)
}

// Factory 创建一个行情源
type Factory func(opts Options) port.TickFeed

// registry maps feed source names to their factories
var registry = make(map[string]Factory)

// Register 注册一个tick feed factory（由各数据源包的init()调用自注册）
func Register(sourceName string, factory Factory) {
	if factory == nil {
		log.Warn().Str("source", sourceName).Msg("invalid tick feed factory")
		return
	}
	if _, exists := registry[sourceName]; exists {
		log.Warn().Str("source", sourceName).Msg("tick feed factory already registered, overwriting")
	}
	registry[sourceName] = factory
	log.Debug().Str("source", sourceName).Msg("tick feed factory registered")
}

// Get 获取已注册的tick feed factory
func Get(sourceName string) (Factory, bool) {
	factory, ok := registry[sourceName]
	return factory, ok
}
