package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int `yaml:"port"`
	ReadTimeoutMS     int `yaml:"read_timeout_ms"`
	WriteTimeoutMS    int `yaml:"write_timeout_ms"`
	ShutdownTimeoutMS int `yaml:"shutdown_timeout_ms"`
}

// ExchangeConfig holds exchange API endpoints.
type ExchangeConfig struct {
	BaseURL      string `yaml:"base_url"`
	WebsocketURL string `yaml:"websocket_url"`
	TimeoutMS    int    `yaml:"timeout_ms"`
}

// DetectionConfig defines leader-detection parameters.
type DetectionConfig struct {
	MinVolumeUSD    float64 `yaml:"min_volume_usd"`
	MinTrades       int     `yaml:"min_trades"`
	TradeSampleSize int     `yaml:"trade_sample_size"`
	RefreshMins     int     `yaml:"refresh_minutes"`
}

// MonitorConfig controls per-wallet trade monitoring.
type MonitorConfig struct {
	PollIntervalMS int `yaml:"poll_interval_ms"`
	MaxLeaders     int `yaml:"max_leaders"`
}

// CopyConfig controls copy-trade synthesis defaults.
type CopyConfig struct {
	MinAmountUSD float64 `yaml:"min_amount_usd"`
	MaxAmountUSD float64 `yaml:"max_amount_usd"` // 0 = no cap
}

// DataConfig contains persistence-related settings.
type DataConfig struct {
	DBPath string `yaml:"db_path"`
}

// Config aggregates all app configuration knobs.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Detection DetectionConfig `yaml:"detection"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Copy      CopyConfig      `yaml:"copy"`
	Data      DataConfig      `yaml:"data"`
}

// Load reads configuration from disk, falling back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	configPath := path
	if configPath == "" {
		configPath = filepath.Join("config", "default.yaml")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: unable to read %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unable to parse %s: %w", configPath, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns baseline configuration values.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              8080,
			ReadTimeoutMS:     10000,
			WriteTimeoutMS:    10000,
			ShutdownTimeoutMS: 5000,
		},
		Exchange: ExchangeConfig{
			BaseURL:      "https://data-api.polymarket.com",
			WebsocketURL: "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			TimeoutMS:    15000,
		},
		Detection: DetectionConfig{
			MinVolumeUSD:    5000,
			MinTrades:       10,
			TradeSampleSize: 1000,
			RefreshMins:     30,
		},
		Monitor: MonitorConfig{
			PollIntervalMS: 5000,
			MaxLeaders:     50,
		},
		Copy: CopyConfig{
			MinAmountUSD: 1,
		},
		Data: DataConfig{
			DBPath: filepath.Join("data", "copytrader.db"),
		},
	}
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.ReadTimeoutMS == 0 {
		c.Server.ReadTimeoutMS = def.Server.ReadTimeoutMS
	}
	if c.Server.WriteTimeoutMS == 0 {
		c.Server.WriteTimeoutMS = def.Server.WriteTimeoutMS
	}
	if c.Server.ShutdownTimeoutMS == 0 {
		c.Server.ShutdownTimeoutMS = def.Server.ShutdownTimeoutMS
	}
	if c.Exchange.BaseURL == "" {
		c.Exchange.BaseURL = def.Exchange.BaseURL
	}
	if c.Exchange.WebsocketURL == "" {
		c.Exchange.WebsocketURL = def.Exchange.WebsocketURL
	}
	if c.Exchange.TimeoutMS == 0 {
		c.Exchange.TimeoutMS = def.Exchange.TimeoutMS
	}
	if c.Detection.MinVolumeUSD == 0 {
		c.Detection.MinVolumeUSD = def.Detection.MinVolumeUSD
	}
	if c.Detection.MinTrades == 0 {
		c.Detection.MinTrades = def.Detection.MinTrades
	}
	if c.Detection.TradeSampleSize == 0 {
		c.Detection.TradeSampleSize = def.Detection.TradeSampleSize
	}
	if c.Detection.RefreshMins == 0 {
		c.Detection.RefreshMins = def.Detection.RefreshMins
	}
	if c.Monitor.PollIntervalMS == 0 {
		c.Monitor.PollIntervalMS = def.Monitor.PollIntervalMS
	}
	if c.Monitor.MaxLeaders == 0 {
		c.Monitor.MaxLeaders = def.Monitor.MaxLeaders
	}
	if c.Copy.MinAmountUSD == 0 {
		c.Copy.MinAmountUSD = def.Copy.MinAmountUSD
	}
	if c.Data.DBPath == "" {
		c.Data.DBPath = def.Data.DBPath
	}
}
