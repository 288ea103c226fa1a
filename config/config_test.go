package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `dexflow:
  name: "TestApp"
  version: "1.0"
networks:
  - id: "TLOS"
    rpc_url: "http://127.0.0.1:8888"
    trade_feed:
      code: "data.tbn"
  - id: "usds"
    label: "USDS"
    rpc_url: "http://127.0.0.1:8889"
    retry:
      max_attempts: 3
      interval: 250ms
prices:
  coingecko:
    enabled: true
`

// writeTemp creates a file holding content and returns its path.
func writeTemp(t *testing.T, pattern, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), pattern)
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTemp(t, "cfg-*.yml", minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Dexflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Dexflow.Name)
	}
	if cfg.Dexflow.DefaultNetwork != "tlos" {
		t.Errorf("default network = %q, want tlos", cfg.Dexflow.DefaultNetwork)
	}
	if cfg.Dexflow.HomeCurrency != "TLOS" {
		t.Errorf("home currency = %q, want TLOS", cfg.Dexflow.HomeCurrency)
	}
	if cfg.Prices.TTL != 15*time.Minute {
		t.Errorf("prices ttl = %s, want 15m", cfg.Prices.TTL)
	}

	tlos, ok := cfg.Network("tlos")
	if !ok {
		t.Fatal("expected tlos network")
	}
	if tlos.Label != "TLOS" || tlos.Retry.MaxAttempts != 10 || tlos.Retry.Interval != time.Second {
		t.Errorf("unexpected tlos defaults: %+v", tlos)
	}
	if tlos.TradeFeed.Table != "tradedata" || tlos.TradeFeed.Scope != "data.tbn" || tlos.TradeFeed.Limit != 100 {
		t.Errorf("unexpected trade feed defaults: %+v", tlos.TradeFeed)
	}

	usds, _ := cfg.Network("USDS")
	if usds.Retry.MaxAttempts != 3 || usds.Retry.Interval != 250*time.Millisecond {
		t.Errorf("unexpected usds retry: %+v", usds.Retry)
	}
	if usds.TradeFeed.Table != "" {
		t.Errorf("trade feed defaults applied without a code: %+v", usds.TradeFeed)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("COINGECKO_API_KEY", " cg-key ")
	t.Setenv("BINANCE_API_KEY", "bn-key")

	cfg, err := LoadConfig(writeTemp(t, "cfg-*.yml", minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Prices.CoinGecko.APIKey != "cg-key" {
		t.Errorf("coingecko key = %q", cfg.Prices.CoinGecko.APIKey)
	}
	if cfg.Prices.Binance.APIKey != "bn-key" {
		t.Errorf("binance key = %q", cfg.Prices.Binance.APIKey)
	}
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing name", func(c *Config) { c.Dexflow.Name = "" }, "dexflow.name"},
		{"no networks", func(c *Config) { c.Networks = nil }, "at least one network"},
		{"duplicate network", func(c *Config) { c.Networks = append(c.Networks, c.Networks[0]) }, "duplicated"},
		{"missing rpc", func(c *Config) { c.Networks[0].RPCURL = "" }, "rpc_url"},
		{"unknown default", func(c *Config) { c.Dexflow.DefaultNetwork = "eos" }, "default_network"},
		{"no sources", func(c *Config) { c.Prices.CoinGecko.Enabled = false }, "price source"},
		{"cloudwatch without region", func(c *Config) { c.Metrics.CloudWatch.Enabled = true }, "region"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Dexflow.Name = "x"
			cfg.Dexflow.Version = "1"
			cfg.Dexflow.DefaultNetwork = "tlos"
			cfg.Networks = []NetworkConfig{{ID: "tlos", RPCURL: "http://node"}}
			cfg.Prices.CoinGecko.Enabled = true
			tc.mutate(&cfg)

			err := validateConfig(&cfg)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("validateConfig error = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadRelays(t *testing.T) {
	content := `networks:
- network: "TLOS"
  relays:
  - contract: "seedsrelay11"
    fee_ppm: 2500
    smart_token: {contract: "relays", symbol: "SEEDSTLOS", precision: 4}
    reserves:
    - {contract: "eosio.token", symbol: "TLOS", precision: 4}
    - {contract: "token.seeds", symbol: "SEEDS", precision: 4}
`
	relays, err := LoadRelays(writeTemp(t, "relays-*.yml", content))
	if err != nil {
		t.Fatalf("LoadRelays failed: %v", err)
	}
	got := relays.For("tlos")
	if len(got) != 1 {
		t.Fatalf("expected 1 relay, got %d", len(got))
	}
	if got[0].Contract != "seedsrelay11" || got[0].FeePPM != 2500 {
		t.Errorf("unexpected relay: %+v", got[0])
	}
	if got[0].Reserves[1].Symbol != "SEEDS" {
		t.Errorf("unexpected reserves: %+v", got[0].Reserves)
	}
	if relays.For("usds") != nil {
		t.Errorf("expected no relays for usds")
	}
}

func TestLoadRelaysRejectsSingleReserve(t *testing.T) {
	content := `networks:
- network: tlos
  relays:
  - contract: broken
    reserves:
    - {contract: eosio.token, symbol: TLOS, precision: 4}
`
	if _, err := LoadRelays(writeTemp(t, "relays-*.yml", content)); err == nil {
		t.Fatal("expected error for relay with one reserve")
	}
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config", "config.prod.yml"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("APP_ENV", "prod")
	if got := ResolveConfigPath(""); got != "config/config.prod.yml" {
		t.Errorf("ResolveConfigPath(\"\") = %q", got)
	}
	if got := ResolveConfigPath("custom.yml"); got != "custom.yml" {
		t.Errorf("explicit path replaced: %q", got)
	}

	t.Setenv("APP_ENV", "staging")
	if got := ResolveConfigPath(""); got != DefaultConfigPath {
		t.Errorf("missing staging file should fall back, got %q", got)
	}
}

func TestIsProductionLike(t *testing.T) {
	t.Setenv("APP_ENV", "stag")
	if !IsProductionLike(AppEnvironment()) {
		t.Errorf("expected staging alias to be production-like")
	}
	t.Setenv("APP_ENV", "")
	if IsProductionLike(AppEnvironment()) {
		t.Errorf("development should not be production-like")
	}
}
