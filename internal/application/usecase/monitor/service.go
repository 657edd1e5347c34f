package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"stradfeed/internal/application/port"
	"stradfeed/internal/application/subscription"
	"stradfeed/internal/application/synthetic"

	"github.com/rs/zerolog/log"
)

// ConnRequester is the slice of the connection manager the monitor needs.
type ConnRequester interface {
	Request(symbol string)
	MarkDropped(symbol string)
}

type ServiceDeps struct {
	Feeds         []port.TickFeed
	FeedSymbols   []string
	PipelineCfg   synthetic.Config
	Registry      *subscription.Registry
	Store         *synthetic.Store
	Conn          ConnRequester
	Sink          port.Sink
	Repo          port.Repository
	PrintEveryMin int

	// OnUnsubscribe, if set, relays per-consumer unsubscribe requests to the
	// external wire-subscription refcount owner. The registry is never touched.
	OnUnsubscribe func(symbol string, handle any)
}

type Service struct {
	deps ServiceDeps
	pl   *synthetic.Pipeline
	fmt  *Formatter

	combined chan synthetic.Result

	mu    sync.Mutex
	board *Board
}

func NewService(deps ServiceDeps) *Service {
	if deps.PrintEveryMin <= 0 {
		deps.PrintEveryMin = 1
	}
	s := &Service{
		deps:     deps,
		fmt:      NewFormatter(),
		combined: make(chan synthetic.Result, 256),
		board:    NewBoard(deps.Store.Current().Synthetics()),
	}
	s.pl = synthetic.NewPipeline(deps.PipelineCfg, deps.Store, deps.Registry, s.onCombined)
	return s
}

// onCombined runs on the pipeline's publisher goroutine; hand the print to the
// run loop instead of doing sink/repo I/O here.
func (s *Service) onCombined(res synthetic.Result) {
	select {
	case s.combined <- res:
	default:
		log.Warn().Str("synthetic", res.Synthetic).Msg("combined channel full, print dropped from display")
	}
}

func (s *Service) currentBoard() *Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board
}

// Reload swaps in a new straddle table wholesale. In-flight ticks finish
// against the generation they were enqueued under.
func (s *Service) Reload(defs []synthetic.Definition) error {
	if err := s.pl.Reload(defs); err != nil {
		return err
	}
	s.mu.Lock()
	s.board = NewBoard(s.deps.Store.Current().Synthetics())
	s.mu.Unlock()
	log.Info().Int("straddles", len(defs)).Msg("straddle table reloaded")
	return nil
}

// SubscribeSymbol registers one more callback for symbol. Registrations are
// additive: the same handle may appear any number of times.
func (s *Service) SubscribeSymbol(symbol string, handle any, cb subscription.Callback) string {
	id := s.deps.Registry.AddCallback(symbol, handle, cb)
	if s.deps.Conn != nil {
		s.deps.Conn.Request(symbol)
	}
	return id
}

// UnsubscribeSymbol intentionally does NOT touch the registry. Consumers issue
// spurious unsubscribes while catching up on history; tearing registrations
// down here would silence live callbacks they still expect. Registrations only
// clear when the adapter itself disconnects. The refcount owner is still told,
// so it can release the wire subscription once nobody wants the symbol.
func (s *Service) UnsubscribeSymbol(symbol string, handle any) {
	log.Debug().Str("symbol", symbol).Msg("unsubscribe noted, registrations persist until disconnect")
	if s.deps.OnUnsubscribe != nil {
		s.deps.OnUnsubscribe(symbol, handle)
	}
}

func (s *Service) Stats() synthetic.Stats {
	return s.pl.Stats()
}

func (s *Service) Run(ctx context.Context) error {
	if len(s.deps.Feeds) == 0 {
		return errors.New("no feeds")
	}

	s.pl.Start(ctx)
	defer s.pl.Stop()

	merged := make(chan port.Tick, 1024)

	// start feeds
	for _, feed := range s.deps.Feeds {
		ch, err := feed.Subscribe(ctx, s.deps.FeedSymbols)
		if err != nil {
			return err
		}
		go func(name string, in <-chan port.Tick) {
			for {
				select {
				case <-ctx.Done():
					return
				case t, ok := <-in:
					if !ok {
						return
					}
					merged <- t
				}
			}
		}(feed.Name(), ch)

		log.Info().Str("feed", feed.Name()).Msg("feed started")
	}

	if s.deps.Conn != nil {
		for _, sym := range s.deps.FeedSymbols {
			s.deps.Conn.Request(sym)
		}
	}

	// snapshot ticker
	snapTicker := time.NewTicker(time.Duration(s.deps.PrintEveryMin) * time.Minute)
	defer snapTicker.Stop()

	// initial live line
	_ = s.deps.Sink.WriteLive(s.fmt.Render(s.currentBoard(), RenderLive))

	for {
		select {
		case <-ctx.Done():
			_ = s.deps.Sink.NewLine()
			return ctx.Err()

		case now := <-snapTicker.C:
			line := s.fmt.Render(s.currentBoard(), RenderSnapshot)
			_ = s.deps.Sink.WriteSnapshot(now, line)
			_ = s.deps.Repo.InsertSnapshot(ctx, now.UnixMilli(), line)

		case res := <-s.combined:
			if s.currentBoard().Apply(res) {
				_ = s.deps.Sink.WriteLive(s.fmt.Render(s.currentBoard(), RenderLive))
			}
			_ = s.deps.Repo.InsertCombined(ctx, res.Synthetic, res.Price, res.Volume, res.LegAPrice, res.LegBPrice, res.Ts.UnixMilli())

		case t := <-merged:
			s.dispatch(ctx, t)
		}
	}
}

// dispatch fans one feed tick out to its direct subscribers and, when the
// symbol is an option leg, additionally offers it to the combination pipeline.
func (s *Service) dispatch(ctx context.Context, t port.Tick) {
	s.deps.Registry.Publish(t.Symbol, t.Kind, t.Price, t.Volume, t.Ts, 0)
	if t.Price > 0 {
		_ = s.deps.Repo.UpsertLatestPrice(ctx, t.Symbol, t.Price, t.Volume, t.Ts.UnixMilli())
	}

	if s.pl.IsLeg(t.Symbol) && !s.pl.TryEnqueue(t) {
		log.Warn().Str("symbol", t.Symbol).Msg("pipeline queue full, tick dropped")
	}
}
