package svc

import (
	"context"
	"errors"
	"testing"

	"stradfeed/internal/infrastructure/config"
)

// testConfig builds a minimal config: kite feed, one straddle, no storage
// backends (so New never touches the network).
func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.PrintEveryMin = 1
	cfg.Feed.Source = "KITE"
	cfg.Kite.WsURL = "wss://ws.kite.trade"
	cfg.Kite.APIKey = "k"
	cfg.Kite.AccessToken = "t"
	cfg.Kite.Instruments = []config.Instrument{
		{Symbol: "NIFTY24000CE", Token: 13368834},
		{Symbol: "NIFTY24000PE", Token: 13368835},
	}
	cfg.Straddles = []config.Straddle{
		{Synthetic: "NIFTY24000STRADDLE", LegA: "NIFTY24000CE", LegB: "NIFTY24000PE"},
	}
	return cfg
}

func TestNewWiresFeedAndNoopStorage(t *testing.T) {
	sc, err := New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = sc.Close() }()

	deps := sc.BuildMonitorServiceDeps()
	if len(deps.Feeds) != 1 || deps.Feeds[0].Name() != "KITE" {
		t.Fatalf("feeds = %+v, want one KITE feed", deps.Feeds)
	}
	if deps.Repo == nil {
		t.Fatal("no storage enabled must still yield a repository")
	}
	if deps.Registry == nil || deps.Store == nil || deps.Conn == nil {
		t.Fatal("monitor deps incomplete")
	}
}

func TestNewRejectsEmptyFeedSource(t *testing.T) {
	cfg := testConfig()
	cfg.Feed.Source = ""

	if _, err := New(context.Background(), cfg); !errors.Is(err, ErrNoFeedsEnabled) {
		t.Fatalf("err = %v, want ErrNoFeedsEnabled", err)
	}
}

func TestNewRejectsUnknownFeedSource(t *testing.T) {
	cfg := testConfig()
	cfg.Feed.Source = "BOGUS"

	if _, err := New(context.Background(), cfg); !errors.Is(err, ErrUnknownFeedSource) {
		t.Fatalf("err = %v, want ErrUnknownFeedSource", err)
	}
}
