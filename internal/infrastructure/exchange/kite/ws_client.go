package kite

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"stradfeed/internal/application/port"
	"stradfeed/internal/infrastructure/tickfeed"
)

// SourceName Kite 行情源名称
const SourceName = "KITE"

// TickerFeed Zerodha Kite 行情源（二进制 quote 流）
type TickerFeed struct {
	wsURL       string // e.g. wss://ws.kite.trade
	apiKey      string
	accessToken string
	instruments *InstrumentMap

	onSessionUp   func()
	onSessionDown func(err error)
}

func NewTickerFeed(opts tickfeed.Options) *TickerFeed {
	return &TickerFeed{
		wsURL:         strings.TrimSpace(opts.WsURL),
		apiKey:        strings.TrimSpace(opts.APIKey),
		accessToken:   strings.TrimSpace(opts.AccessToken),
		instruments:   NewInstrumentMap(opts.Tokens),
		onSessionUp:   opts.OnSessionUp,
		onSessionDown: opts.OnSessionDown,
	}
}

func (f *TickerFeed) Name() string { return SourceName }

// Instruments exposes the token map for wiring (connection manager dial checks).
func (f *TickerFeed) Instruments() *InstrumentMap { return f.instruments }

// kiteMessage 客户端指令 {"a": "subscribe"|"mode", "v": ...}
type kiteMessage struct {
	Action string `json:"a"`
	Value  any    `json:"v"`
}

func subscribeMessages(tokens []uint32) ([][]byte, error) {
	if len(tokens) == 0 {
		return nil, errors.New("no instrument tokens to subscribe")
	}
	sub, err := json.Marshal(kiteMessage{Action: "subscribe", Value: tokens})
	if err != nil {
		return nil, err
	}
	// QUOTE mode: includes volume for contracts (FULL adds depth but indices lose volume)
	mode, err := json.Marshal(kiteMessage{Action: "mode", Value: []any{"quote", tokens}})
	if err != nil {
		return nil, err
	}
	return [][]byte{sub, mode}, nil
}

func (f *TickerFeed) buildURL() (string, error) {
	if f.wsURL == "" {
		return "", errors.New("kite ws_url empty")
	}
	u, err := url.Parse(f.wsURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("api_key", f.apiKey)
	q.Set("access_token", f.accessToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *TickerFeed) Subscribe(ctx context.Context, symbols []string) (<-chan port.Tick, error) {
	tokens := f.instruments.Tokens(symbols)
	if len(tokens) == 0 {
		return nil, errors.New("no known instrument tokens for requested symbols")
	}
	wsURL, err := f.buildURL()
	if err != nil {
		return nil, err
	}

	out := make(chan port.Tick, 1024)
	go f.run(ctx, wsURL, tokens, out)
	return out, nil
}

func (f *TickerFeed) run(ctx context.Context, wsURL string, tokens []uint32, out chan<- port.Tick) {
	defer close(out)

	backoff := 500 * time.Millisecond
	maxBackoff := 10 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		log.Warn().Str("feed", f.Name()).Int("tokens", len(tokens)).Msg("ws connecting")
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, _, err := websocket.DefaultDialer.DialContext(cctx, wsURL, nil)
		cancel()
		if err != nil {
			log.Error().Str("feed", f.Name()).Err(err).Msg("ws dial failed")
			f.sessionDown(err)
			time.Sleep(backoff)
			backoff = minDur(backoff*2, maxBackoff)
			continue
		}

		if err := f.sendSubscribe(conn, tokens); err != nil {
			log.Error().Str("feed", f.Name()).Err(err).Msg("subscribe send failed")
			_ = conn.Close()
			f.sessionDown(err)
			time.Sleep(backoff)
			backoff = minDur(backoff*2, maxBackoff)
			continue
		}

		backoff = 500 * time.Millisecond
		log.Info().Str("feed", f.Name()).Msg("ws connected")
		if f.onSessionUp != nil {
			f.onSessionUp()
		}

		err = readLoop(ctx, conn, func(msgType int, b []byte) {
			switch msgType {
			case websocket.BinaryMessage:
				now := time.Now()
				for _, pkt := range splitFrame(b) {
					if tk, ok := parsePacket(pkt, f.instruments, now); ok {
						out <- tk
					}
				}
			case websocket.TextMessage:
				// postbacks and error notices arrive as JSON text
				log.Debug().Str("feed", f.Name()).Str("msg", string(b)).Msg("text frame")
			}
		})

		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}

		log.Warn().Str("feed", f.Name()).Err(err).Msg("ws disconnected, reconnecting")
		f.sessionDown(err)
		time.Sleep(backoff)
		backoff = minDur(backoff*2, maxBackoff)
	}
}

func (f *TickerFeed) sendSubscribe(conn *websocket.Conn, tokens []uint32) error {
	msgs, err := subscribeMessages(tokens)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return err
		}
	}
	return nil
}

func (f *TickerFeed) sessionDown(err error) {
	if f.onSessionDown != nil {
		f.onSessionDown(err)
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, onMsg func(int, []byte)) error {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			mt, b, err := conn.ReadMessage()
			if err == nil {
				// heartbeats (1-byte binary frames) also refresh the deadline
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			}
			if err != nil {
				errCh <- err
				return
			}
			onMsg(mt, b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
