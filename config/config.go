package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "config/config.yml"
	DefaultRelaysPath = "config/relays.yml"
)

var configEnvPaths = map[string]string{
	environmentDevelopment: "config/config.dev.yml",
	environmentStaging:     "config/config.staging.yml",
	environmentProduction:  "config/config.prod.yml",
}

type Config struct {
	Dexflow   DexflowConfig   `yaml:"dexflow"`
	Networks  []NetworkConfig `yaml:"networks"`
	Prices    PricesConfig    `yaml:"prices"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

type DexflowConfig struct {
	Name           string `yaml:"name"`
	Version        string `yaml:"version"`
	HomeCurrency   string `yaml:"home_currency"`
	DefaultNetwork string `yaml:"default_network"`
}

// NetworkConfig describes one chain the registry manages.
type NetworkConfig struct {
	ID            string          `yaml:"id"`
	Label         string          `yaml:"label"`
	RPCURL        string          `yaml:"rpc_url"`
	Timeout       time.Duration   `yaml:"timeout"`
	RequestsPerS  float64         `yaml:"requests_per_second"`
	Retry         RetryConfig     `yaml:"retry"`
	TradeFeed     TradeFeedConfig `yaml:"trade_feed"`
	StatTable     string          `yaml:"stat_table"`
	AccountsTable string          `yaml:"accounts_table"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"interval"`
}

type TradeFeedConfig struct {
	Code  string `yaml:"code"`
	Table string `yaml:"table"`
	Scope string `yaml:"scope"`
	Limit int    `yaml:"limit"`
}

type PricesConfig struct {
	TTL       time.Duration   `yaml:"ttl"`
	Symbol    string          `yaml:"symbol"`
	CoinGecko CoinGeckoConfig `yaml:"coingecko"`
	Binance   BinanceConfig   `yaml:"binance"`
	Websocket WebsocketConfig `yaml:"websocket"`
}

type CoinGeckoConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	Timeout       time.Duration `yaml:"timeout"`
}

type BinanceConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Quote   string `yaml:"quote"`
}

type WebsocketConfig struct {
	Enabled     bool          `yaml:"enabled"`
	URL         string        `yaml:"url"`
	Quote       string        `yaml:"quote"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type MetricsConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type CloudWatchConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Region          string        `yaml:"region"`
	Namespace       string        `yaml:"namespace"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

type LoggingConfig struct {
	Level          string                 `yaml:"level"`
	Format         string                 `yaml:"format"`
	Output         string                 `yaml:"output"`
	MaxAge         int                    `yaml:"max_age"`
	Fields         map[string]interface{} `yaml:"fields"`
	ReportInterval time.Duration          `yaml:"report_interval"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
}

// Network returns the network configuration with the given id.
func (c *Config) Network(id string) (NetworkConfig, bool) {
	for _, n := range c.Networks {
		if strings.EqualFold(n.ID, id) {
			return n, true
		}
	}
	return NetworkConfig{}, false
}

// ResolveConfigPath picks the APP_ENV specific file when the caller asked
// for the default path.
func ResolveConfigPath(path string) string {
	return resolveEnvSpecificPath(path, DefaultConfigPath, configEnvPaths)
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)
	applyNetworkDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func defaultConfig() Config {
	return Config{
		Dexflow: DexflowConfig{
			HomeCurrency: "TLOS",
		},
		Prices: PricesConfig{
			TTL:    15 * time.Minute,
			Symbol: "TLOS",
			CoinGecko: CoinGeckoConfig{
				BaseURL:       "https://api.coingecko.com/api/v3",
				RatePerMinute: 30,
				Timeout:       10 * time.Second,
			},
			Binance: BinanceConfig{
				Quote: "USDT",
			},
			Websocket: WebsocketConfig{
				URL:         "wss://stream.binance.com:9443/ws",
				Quote:       "USDT",
				ReadTimeout: 10 * time.Second,
			},
		},
		Metrics: MetricsConfig{
			Prometheus: PrometheusConfig{Address: "0.0.0.0:2112"},
			CloudWatch: CloudWatchConfig{
				Namespace:       "Dexflow",
				PublishInterval: time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			Output:         "stdout",
			ReportInterval: time.Minute,
		},
		Dashboard: DashboardConfig{
			Address:         ":8080",
			RefreshInterval: 5 * time.Second,
			LogHistory:      200,
			MetricsHistory:  200,
		},
	}
}

func applyEnvOverrides(config *Config) {
	if config.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Metrics.CloudWatch.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Metrics.CloudWatch.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		config.Prices.CoinGecko.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		config.Prices.Binance.APIKey = strings.TrimSpace(v)
	}
}

func applyNetworkDefaults(config *Config) {
	for i := range config.Networks {
		n := &config.Networks[i]
		n.ID = strings.ToLower(strings.TrimSpace(n.ID))
		if n.Label == "" {
			n.Label = strings.ToUpper(n.ID)
		}
		if n.Timeout <= 0 {
			n.Timeout = 10 * time.Second
		}
		if n.Retry.MaxAttempts <= 0 {
			n.Retry.MaxAttempts = 10
		}
		if n.Retry.Interval <= 0 {
			n.Retry.Interval = time.Second
		}
		if n.StatTable == "" {
			n.StatTable = "stat"
		}
		if n.AccountsTable == "" {
			n.AccountsTable = "accounts"
		}
		if n.TradeFeed.Code != "" {
			if n.TradeFeed.Table == "" {
				n.TradeFeed.Table = "tradedata"
			}
			if n.TradeFeed.Scope == "" {
				n.TradeFeed.Scope = n.TradeFeed.Code
			}
			if n.TradeFeed.Limit <= 0 {
				n.TradeFeed.Limit = 100
			}
		}
	}
	if config.Dexflow.DefaultNetwork == "" && len(config.Networks) > 0 {
		config.Dexflow.DefaultNetwork = config.Networks[0].ID
	}
	config.Dexflow.DefaultNetwork = strings.ToLower(config.Dexflow.DefaultNetwork)
}

func validateConfig(cfg *Config) error {
	if cfg.Dexflow.Name == "" {
		return fmt.Errorf("dexflow.name is required")
	}

	if cfg.Dexflow.Version == "" {
		return fmt.Errorf("dexflow.version is required")
	}

	if len(cfg.Networks) == 0 {
		return fmt.Errorf("at least one network is required")
	}

	seen := make(map[string]struct{}, len(cfg.Networks))
	for i, n := range cfg.Networks {
		if n.ID == "" {
			return fmt.Errorf("networks[%d].id is required", i)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("networks[%d].id %q is duplicated", i, n.ID)
		}
		seen[n.ID] = struct{}{}
		if n.RPCURL == "" {
			return fmt.Errorf("networks[%d].rpc_url is required", i)
		}
	}

	if _, ok := cfg.Network(cfg.Dexflow.DefaultNetwork); !ok {
		return fmt.Errorf("dexflow.default_network %q is not a configured network", cfg.Dexflow.DefaultNetwork)
	}

	if cfg.Prices.TTL <= 0 {
		return fmt.Errorf("prices.ttl must be greater than 0")
	}

	if !cfg.Prices.CoinGecko.Enabled && !cfg.Prices.Binance.Enabled && !cfg.Prices.Websocket.Enabled {
		return fmt.Errorf("at least one price source must be enabled")
	}

	if cfg.Metrics.CloudWatch.Enabled {
		if cfg.Metrics.CloudWatch.Region == "" {
			return fmt.Errorf("metrics.cloudwatch.region is required when CloudWatch is enabled")
		}
		if cfg.Metrics.CloudWatch.AccessKeyID == "" || cfg.Metrics.CloudWatch.SecretAccessKey == "" {
			return fmt.Errorf("metrics.cloudwatch.access_key_id and metrics.cloudwatch.secret_access_key are required when CloudWatch is enabled")
		}
	}

	return nil
}
