package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stradfeed/internal/application/port"
	"stradfeed/internal/application/subscription"
	"stradfeed/internal/application/synthetic"
)

type fakeFeed struct {
	name string
	ch   chan port.Tick
}

func (f *fakeFeed) Name() string { return f.name }
func (f *fakeFeed) Subscribe(ctx context.Context, symbols []string) (<-chan port.Tick, error) {
	return f.ch, nil
}

type fakeSink struct {
	mu    sync.Mutex
	live  []string
	snaps []string
}

func (s *fakeSink) WriteLive(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = append(s.live, line)
	return nil
}
func (s *fakeSink) WriteSnapshot(ts time.Time, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, line)
	return nil
}
func (s *fakeSink) NewLine() error { return nil }

type captureRepo struct {
	mu       sync.Mutex
	latest   map[string]float64
	combined []struct {
		synthetic string
		price     float64
		volume    int64
	}
}

func newCaptureRepo() *captureRepo {
	return &captureRepo{latest: make(map[string]float64)}
}

func (r *captureRepo) UpsertLatestPrice(ctx context.Context, symbol string, price float64, volume, ts int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest[symbol] = price
	return nil
}

func (r *captureRepo) InsertCombined(ctx context.Context, synthetic string, price float64, volume int64, legA, legB float64, ts int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.combined = append(r.combined, struct {
		synthetic string
		price     float64
		volume    int64
	}{synthetic, price, volume})
	return nil
}

func (r *captureRepo) InsertSnapshot(ctx context.Context, ts int64, payload string) error { return nil }
func (r *captureRepo) Close() error                                                       { return nil }

func (r *captureRepo) latestOf(symbol string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.latest[symbol]
	return p, ok
}

func (r *captureRepo) combinedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.combined)
}

type fakeConn struct {
	mu       sync.Mutex
	requests []string
}

func (c *fakeConn) Request(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, symbol)
}
func (c *fakeConn) MarkDropped(symbol string) {}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startService(t *testing.T, mutate ...func(*ServiceDeps)) (*Service, *fakeFeed, *subscription.Registry, *captureRepo, *fakeSink, context.CancelFunc) {
	t.Helper()

	store, err := synthetic.NewStore([]synthetic.Definition{
		{Synthetic: "NIFTY24000STRADDLE", LegA: "NIFTY24000CE", LegB: "NIFTY24000PE"},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	feed := &fakeFeed{name: "FAKE", ch: make(chan port.Tick, 64)}
	reg := subscription.NewRegistry()
	repo := newCaptureRepo()
	sink := &fakeSink{}

	deps := ServiceDeps{
		Feeds:         []port.TickFeed{feed},
		FeedSymbols:   []string{"GIFT NIFTY", "NIFTY24000CE", "NIFTY24000PE"},
		PipelineCfg:   synthetic.Config{Workers: 2},
		Registry:      reg,
		Store:         store,
		Conn:          &fakeConn{},
		Sink:          sink,
		Repo:          repo,
		PrintEveryMin: 60,
	}
	for _, m := range mutate {
		m(&deps)
	}
	svc := NewService(deps)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = svc.Run(ctx) }()

	return svc, feed, reg, repo, sink, cancel
}

func tick(symbol string, price float64) port.Tick {
	return port.Tick{Symbol: symbol, Kind: port.KindLast, Price: price, Volume: 10, Ts: time.Now()}
}

func TestUnsubscribeIsSticky(t *testing.T) {
	svc, feed, reg, _, _, cancel := startService(t)
	defer cancel()

	var fired atomic.Int64
	handle := "consumer-1"
	svc.SubscribeSymbol("GIFT NIFTY", handle, func(kind port.TickKind, price float64, volume int64, ts time.Time, aux int64) {
		fired.Add(1)
	})

	// a spurious unsubscribe must leave the registration in place
	svc.UnsubscribeSymbol("GIFT NIFTY", handle)
	if got := reg.Count("GIFT NIFTY"); got != 1 {
		t.Fatalf("Count after unsubscribe = %d, want 1", got)
	}

	feed.ch <- tick("GIFT NIFTY", 24123.50)
	waitFor(t, "callback after unsubscribe", func() bool { return fired.Load() == 1 })
}

func TestDuplicateSubscriptionsBothFire(t *testing.T) {
	svc, feed, reg, _, _, cancel := startService(t)
	defer cancel()

	var fired atomic.Int64
	handle := "consumer-1"
	cb := func(kind port.TickKind, price float64, volume int64, ts time.Time, aux int64) {
		fired.Add(1)
	}
	svc.SubscribeSymbol("GIFT NIFTY", handle, cb)
	svc.SubscribeSymbol("GIFT NIFTY", handle, cb)

	if got := reg.Count("GIFT NIFTY"); got != 2 {
		t.Fatalf("Count = %d, want 2 (registrations are additive)", got)
	}

	feed.ch <- tick("GIFT NIFTY", 24123.50)
	waitFor(t, "both callbacks", func() bool { return fired.Load() == 2 })
}

func TestLegTicksProduceCombinedPrint(t *testing.T) {
	_, feed, _, repo, _, cancel := startService(t)
	defer cancel()

	feed.ch <- tick("NIFTY24000CE", 125.50)
	feed.ch <- tick("NIFTY24000PE", 88.25)

	waitFor(t, "combined print persisted", func() bool { return repo.combinedCount() > 0 })

	repo.mu.Lock()
	got := repo.combined[0]
	repo.mu.Unlock()
	if got.synthetic != "NIFTY24000STRADDLE" {
		t.Errorf("synthetic = %q, want NIFTY24000STRADDLE", got.synthetic)
	}
	if got.price != 213.75 {
		t.Errorf("combined price = %v, want 213.75", got.price)
	}
}

func TestLegTicksAlsoReachDirectSubscribers(t *testing.T) {
	svc, feed, _, _, _, cancel := startService(t)
	defer cancel()

	var fired atomic.Int64
	svc.SubscribeSymbol("NIFTY24000CE", "observer", func(kind port.TickKind, price float64, volume int64, ts time.Time, aux int64) {
		fired.Add(1)
	})

	feed.ch <- tick("NIFTY24000CE", 125.50)
	waitFor(t, "leg subscriber callback", func() bool { return fired.Load() == 1 })
}

func TestUnsubscribeNotifiesRefcountOwner(t *testing.T) {
	var mu sync.Mutex
	type unsub struct {
		symbol string
		handle any
	}
	var notified []unsub
	svc, _, reg, _, _, cancel := startService(t, func(d *ServiceDeps) {
		d.OnUnsubscribe = func(symbol string, handle any) {
			mu.Lock()
			notified = append(notified, unsub{symbol, handle})
			mu.Unlock()
		}
	})
	defer cancel()

	handle := "consumer-1"
	svc.SubscribeSymbol("GIFT NIFTY", handle, func(port.TickKind, float64, int64, time.Time, int64) {})
	svc.UnsubscribeSymbol("GIFT NIFTY", handle)

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 1 || notified[0].symbol != "GIFT NIFTY" || notified[0].handle != handle {
		t.Fatalf("refcount owner notifications = %+v", notified)
	}
	// the notification never reaches into the registry
	if got := reg.Count("GIFT NIFTY"); got != 1 {
		t.Fatalf("Count after unsubscribe = %d, want 1", got)
	}
}

func TestZeroPrintIntervalIsClamped(t *testing.T) {
	_, feed, _, repo, _, cancel := startService(t, func(d *ServiceDeps) {
		d.PrintEveryMin = 0
	})
	defer cancel()

	// an unclamped interval would panic the run loop's ticker before this tick
	feed.ch <- tick("GIFT NIFTY", 24100.00)
	waitFor(t, "latest price upsert with zero interval", func() bool {
		p, ok := repo.latestOf("GIFT NIFTY")
		return ok && p == 24100.00
	})
}

func TestNonLegTickPersistsLatest(t *testing.T) {
	_, feed, _, repo, _, cancel := startService(t)
	defer cancel()

	feed.ch <- tick("GIFT NIFTY", 24321.00)
	waitFor(t, "latest price upsert", func() bool {
		p, ok := repo.latestOf("GIFT NIFTY")
		return ok && p == 24321.00
	})
}

func TestReloadSwapsBoard(t *testing.T) {
	svc, feed, _, repo, _, cancel := startService(t)
	defer cancel()

	err := svc.Reload([]synthetic.Definition{
		{Synthetic: "BANKNIFTY51000STRADDLE", LegA: "BANKNIFTY51000CE", LegB: "BANKNIFTY51000PE"},
	})
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}

	syms := svc.currentBoard().Symbols()
	if len(syms) != 1 || syms[0] != "BANKNIFTY51000STRADDLE" {
		t.Fatalf("board symbols after reload = %v", syms)
	}

	// the old legs are no longer legs; only the new pair combines
	feed.ch <- tick("BANKNIFTY51000CE", 300.00)
	feed.ch <- tick("BANKNIFTY51000PE", 250.00)
	waitFor(t, "combined print for reloaded straddle", func() bool { return repo.combinedCount() > 0 })

	repo.mu.Lock()
	got := repo.combined[0]
	repo.mu.Unlock()
	if got.synthetic != "BANKNIFTY51000STRADDLE" || got.price != 550.00 {
		t.Fatalf("combined = %+v, want BANKNIFTY51000STRADDLE @ 550.00", got)
	}
}
