package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type Instrument struct {
	Symbol string `toml:"symbol"`
	Token  uint32 `toml:"token"`
}

type Straddle struct {
	Synthetic string `toml:"synthetic"`
	LegA      string `toml:"leg_a"`
	LegB      string `toml:"leg_b"`
}

type Config struct {
	App struct {
		PrintEveryMin int    `toml:"print_every_min"`
		LogLevel      string `toml:"log_level"`
	} `toml:"app"`

	Feed struct {
		Source string `toml:"source"` // e.g. "KITE"
	} `toml:"feed"`

	Kite struct {
		WsURL       string       `toml:"ws_url"` // e.g. wss://ws.kite.trade
		APIKey      string       `toml:"api_key"`
		AccessToken string       `toml:"access_token"`
		Instruments []Instrument `toml:"instruments"`
	} `toml:"kite"`

	Straddles []Straddle `toml:"straddles"`

	Symbols struct {
		Direct []string `toml:"direct"` // non-leg symbols published straight through
	} `toml:"symbols"`

	Pipeline struct {
		Workers            int `toml:"workers"`
		InputCap           int `toml:"input_cap"`
		OutputCap          int `toml:"output_cap"`
		Batch              int `toml:"batch"`
		ShutdownTimeoutSec int `toml:"shutdown_timeout_sec"`
	} `toml:"pipeline"`

	Connection struct {
		InitialDelaySec int `toml:"initial_delay_sec"`
		MaxDelaySec     int `toml:"max_delay_sec"`
		MaxRetries      int `toml:"max_retries"`
	} `toml:"connection"`

	Redis struct {
		Enabled         bool   `toml:"enabled"`
		Addr            string `toml:"addr"`
		Password        string `toml:"password"`
		DB              int    `toml:"db"`
		Prefix          string `toml:"prefix"`
		TTLSeconds      int    `toml:"ttl_seconds"`
		CombinedStream  string `toml:"combined_stream"`
		CombinedChannel string `toml:"combined_channel"`
	} `toml:"redis"`

	SQLite struct {
		Enabled bool   `toml:"enabled"`
		Path    string `toml:"path"`
	} `toml:"sqlite"`

	Postgres struct {
		Enabled bool   `toml:"enabled"`
		DSN     string `toml:"dsn"`
	} `toml:"postgres"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.PrintEveryMin <= 0 {
		cfg.App.PrintEveryMin = 5
	}
	if strings.TrimSpace(cfg.App.LogLevel) == "" {
		cfg.App.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.Feed.Source) == "" {
		cfg.Feed.Source = "KITE"
	}
	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Pipeline.InputCap <= 0 {
		cfg.Pipeline.InputCap = 4096
	}
	if cfg.Pipeline.OutputCap <= 0 {
		cfg.Pipeline.OutputCap = 1024
	}
	if cfg.Pipeline.Batch <= 0 {
		cfg.Pipeline.Batch = 32
	}
	if cfg.Pipeline.ShutdownTimeoutSec <= 0 {
		cfg.Pipeline.ShutdownTimeoutSec = 5
	}
	if cfg.Connection.InitialDelaySec <= 0 {
		cfg.Connection.InitialDelaySec = 1
	}
	if cfg.Connection.MaxDelaySec <= 0 {
		cfg.Connection.MaxDelaySec = 16
	}
	if cfg.Connection.MaxRetries <= 0 {
		cfg.Connection.MaxRetries = 8
	}
	if strings.TrimSpace(cfg.Redis.Prefix) == "" {
		cfg.Redis.Prefix = "stradfeed"
	}
	if strings.TrimSpace(cfg.SQLite.Path) == "" {
		cfg.SQLite.Path = "data/stradfeed.db"
	}
}

func validate(cfg *Config) error {
	cfg.Feed.Source = strings.ToUpper(strings.TrimSpace(cfg.Feed.Source))

	if cfg.Feed.Source == "KITE" {
		if strings.TrimSpace(cfg.Kite.WsURL) == "" {
			return errors.New("kite.ws_url is empty")
		}
		if strings.TrimSpace(cfg.Kite.APIKey) == "" || strings.TrimSpace(cfg.Kite.AccessToken) == "" {
			return errors.New("kite.api_key / kite.access_token are required")
		}
	}

	if len(cfg.Straddles) == 0 {
		return errors.New("no straddles configured")
	}
	seen := map[string]struct{}{}
	for i, s := range cfg.Straddles {
		synth := strings.ToUpper(strings.TrimSpace(s.Synthetic))
		legA := strings.ToUpper(strings.TrimSpace(s.LegA))
		legB := strings.ToUpper(strings.TrimSpace(s.LegB))
		if synth == "" || legA == "" || legB == "" {
			return fmt.Errorf("straddles[%d]: synthetic, leg_a and leg_b are all required", i)
		}
		if legA == legB {
			return fmt.Errorf("straddles[%d] (%s): identical legs", i, synth)
		}
		if _, dup := seen[synth]; dup {
			return fmt.Errorf("duplicate synthetic symbol: %s", synth)
		}
		seen[synth] = struct{}{}
		cfg.Straddles[i] = Straddle{Synthetic: synth, LegA: legA, LegB: legB}
	}

	cfg.Symbols.Direct = normalizeSymbols(cfg.Symbols.Direct)

	if cfg.Feed.Source == "KITE" {
		tokens := cfg.InstrumentTokens()
		for _, s := range cfg.Straddles {
			for _, leg := range []string{s.LegA, s.LegB} {
				if _, ok := tokens[leg]; !ok {
					return fmt.Errorf("leg %s of %s has no instrument token", leg, s.Synthetic)
				}
			}
		}
	}

	if cfg.Postgres.Enabled && strings.TrimSpace(cfg.Postgres.DSN) == "" {
		return errors.New("postgres.dsn is empty but postgres enabled")
	}
	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr is empty but redis enabled")
	}

	return nil
}

// InstrumentTokens 返回 symbol -> token 映射
func (cfg *Config) InstrumentTokens() map[string]uint32 {
	out := make(map[string]uint32, len(cfg.Kite.Instruments))
	for _, ins := range cfg.Kite.Instruments {
		u := strings.ToUpper(strings.TrimSpace(ins.Symbol))
		if u == "" || ins.Token == 0 {
			continue
		}
		out[u] = ins.Token
	}
	return out
}

// LegSymbols 返回所有腿 symbol（去重）
func (cfg *Config) LegSymbols() []string {
	var legs []string
	seen := map[string]struct{}{}
	for _, s := range cfg.Straddles {
		for _, leg := range []string{s.LegA, s.LegB} {
			if _, ok := seen[leg]; ok {
				continue
			}
			seen[leg] = struct{}{}
			legs = append(legs, leg)
		}
	}
	return legs
}

// FeedSymbols 返回所有要在线订阅的 symbol：全部腿加直通 symbol
func (cfg *Config) FeedSymbols() []string {
	return append(cfg.LegSymbols(), cfg.Symbols.Direct...)
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
