package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State 单个行情 symbol 的连接状态
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateBackingOff
	StateDisposing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateBackingOff:
		return "BACKING_OFF"
	case StateDisposing:
		return "DISPOSING"
	default:
		return "UNKNOWN"
	}
}

// RetryConfig 重连退避配置
type RetryConfig struct {
	InitialDelay time.Duration // 初始延迟
	MaxDelay     time.Duration // 最大延迟
	MaxRetries   int           // 单个重连周期内的最大尝试次数
}

// DefaultRetryConfig 默认退避：1s 起倍增，封顶 16s
var DefaultRetryConfig = RetryConfig{
	InitialDelay: 1 * time.Second,
	MaxDelay:     16 * time.Second,
	MaxRetries:   8,
}

// BackoffDelay returns the delay before the next attempt after the given
// number of consecutive failures: initial, 2x, 4x, ... capped at max.
func BackoffDelay(cfg RetryConfig, consecutiveFailures int) time.Duration {
	d := cfg.InitialDelay
	for i := 1; i < consecutiveFailures; i++ {
		d *= 2
		if d >= cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}
	if d > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return d
}

// DialFunc performs one wire handshake for a symbol. It returns once the
// subscription is established (nil) or the handshake failed (error). A later
// session drop is reported separately via MarkDropped.
type DialFunc func(ctx context.Context, symbol string) error

// KeepTryingFunc is the externally supplied "should I keep retrying" predicate
// (the reference-counted wire-subscription tracker owns the business decision).
type KeepTryingFunc func(symbol string) bool

type conn struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	nextRetryAt         time.Time

	dropCh chan struct{}
	cancel context.CancelFunc
}

func (c *conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *conn) snapshot() (State, int, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.consecutiveFailures, c.nextRetryAt
}

// Manager runs one connection state machine per live-feed symbol. Each symbol
// gets a dedicated goroutine for its wire-connect attempts so many
// simultaneous subscriptions never starve a shared pool.
type Manager struct {
	cfg        RetryConfig
	dial       DialFunc
	keepTrying KeepTryingFunc

	ctx context.Context

	mu    sync.Mutex
	conns map[string]*conn
}

func NewManager(ctx context.Context, cfg RetryConfig, dial DialFunc, keepTrying KeepTryingFunc) *Manager {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultRetryConfig.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetryConfig.MaxDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultRetryConfig.MaxRetries
	}
	if keepTrying == nil {
		keepTrying = func(string) bool { return true }
	}
	return &Manager{
		cfg:        cfg,
		dial:       dial,
		keepTrying: keepTrying,
		ctx:        ctx,
		conns:      make(map[string]*conn),
	}
}

// Request asks for a live wire subscription on a symbol. While the symbol is
// already Connecting/Reconnecting/BackingOff/Connected the request coalesces:
// no second wire connection is ever opened for the same symbol.
func (m *Manager) Request(symbol string) {
	m.mu.Lock()
	c := m.conns[symbol]
	if c != nil {
		st, _, _ := c.snapshot()
		if st != StateDisconnected {
			m.mu.Unlock()
			log.Debug().Str("symbol", symbol).Str("state", st.String()).Msg("subscribe request coalesced")
			return
		}
	}

	ctx, cancel := context.WithCancel(m.ctx)
	c = &conn{
		state:  StateConnecting,
		dropCh: make(chan struct{}, 1),
		cancel: cancel,
	}
	m.conns[symbol] = c
	m.mu.Unlock()

	go m.run(ctx, symbol, c)
}

// MarkDropped reports a wire error or session drop for a Connected symbol.
func (m *Manager) MarkDropped(symbol string) {
	m.mu.Lock()
	c := m.conns[symbol]
	m.mu.Unlock()
	if c == nil {
		return
	}
	c.mu.Lock()
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected {
		return
	}
	select {
	case c.dropCh <- struct{}{}:
	default:
	}
}

// StateOf returns the live state for a symbol.
func (m *Manager) StateOf(symbol string) (State, bool) {
	m.mu.Lock()
	c := m.conns[symbol]
	m.mu.Unlock()
	if c == nil {
		return StateDisconnected, false
	}
	st, _, _ := c.snapshot()
	return st, true
}

// Info returns state plus retry diagnostics for a symbol.
func (m *Manager) Info(symbol string) (state State, consecutiveFailures int, nextRetryAt time.Time, ok bool) {
	m.mu.Lock()
	c := m.conns[symbol]
	m.mu.Unlock()
	if c == nil {
		return StateDisconnected, 0, time.Time{}, false
	}
	st, n, at := c.snapshot()
	return st, n, at, true
}

// Dispose tears down one symbol's machine. Terminal.
func (m *Manager) Dispose(symbol string) {
	m.mu.Lock()
	c := m.conns[symbol]
	delete(m.conns, symbol)
	m.mu.Unlock()
	if c == nil {
		return
	}
	c.setState(StateDisposing)
	c.cancel()
}

// Close disposes every symbol. Called at adapter disconnect.
func (m *Manager) Close() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*conn)
	m.mu.Unlock()

	for symbol, c := range conns {
		c.setState(StateDisposing)
		c.cancel()
		log.Debug().Str("symbol", symbol).Msg("connection disposed")
	}
}

// run drives one symbol through the state machine on its dedicated goroutine.
func (m *Manager) run(ctx context.Context, symbol string, c *conn) {
	for {
		if ctx.Err() != nil {
			c.setState(StateDisposing)
			return
		}

		// the external tracker may have unsubscribed the symbol entirely
		if !m.keepTrying(symbol) {
			c.setState(StateDisconnected)
			log.Info().Str("symbol", symbol).Msg("retry predicate declined, connection released")
			return
		}

		err := m.dial(ctx, symbol)
		if err == nil {
			c.mu.Lock()
			c.state = StateConnected
			c.consecutiveFailures = 0
			c.mu.Unlock()
			log.Info().Str("symbol", symbol).Msg("✓ wire subscription connected")

			select {
			case <-ctx.Done():
				c.setState(StateDisposing)
				return
			case <-c.dropCh:
				log.Warn().Str("symbol", symbol).Msg("wire subscription dropped")
			}
		} else {
			log.Warn().Str("symbol", symbol).Err(err).Msg("wire handshake failed")
		}

		c.mu.Lock()
		c.consecutiveFailures++
		failures := c.consecutiveFailures
		if failures > m.cfg.MaxRetries {
			c.state = StateDisconnected
			c.mu.Unlock()
			log.Error().Str("symbol", symbol).Int("attempts", failures-1).Msg("reconnect retries exhausted")
			return
		}
		delay := BackoffDelay(m.cfg, failures)
		c.state = StateBackingOff
		c.nextRetryAt = time.Now().Add(delay)
		c.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setState(StateDisposing)
			return
		case <-timer.C:
		}

		c.setState(StateReconnecting)
	}
}
