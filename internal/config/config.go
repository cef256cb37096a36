// Package config loads the YAML runtime configuration and .env
// credentials for every binary.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Thresholds maps classifier scores onto sentiment labels. Each field is
// the inclusive lower bound of its band; scores below VeryNegative's bound
// land on VERY_NEGATIVE.
type Thresholds struct {
	SuperPositive float64 `yaml:"super_positive"`
	VeryPositive  float64 `yaml:"very_positive"`
	Positive      float64 `yaml:"positive"`
	Negative      float64 `yaml:"negative"`
	VeryNegative  float64 `yaml:"very_negative"`
}

type Classifier struct {
	URL       string `yaml:"url"` // scoring service endpoint
	TimeoutMs int    `yaml:"timeout_ms"`
}

type Trading struct {
	Direction        string  `yaml:"direction"` // long | short
	TradeAmount      float64 `yaml:"trade_amount"`
	StopLossPct      float64 `yaml:"stop_loss_pct"` // percent, 2.0 means 2%
	TargetPct        float64 `yaml:"target_pct"`    // percent
	MaxOpenPositions int     `yaml:"max_open_positions"`
	MaxHoldMinutes   int     `yaml:"max_hold_minutes"`
}

type Session struct {
	Enabled       bool   `yaml:"enabled"`
	OpenTime      string `yaml:"open_time"`  // HH:MM local to Timezone
	CloseTime     string `yaml:"close_time"` // HH:MM
	Timezone      string `yaml:"timezone"`
	EntryCutoffMin int   `yaml:"entry_cutoff_minutes"` // stop opening this long before close
}

type Paper struct {
	OutboxPath     string `yaml:"outbox_path"`
	LatencyMsMin   int    `yaml:"latency_ms_min"`
	LatencyMsMax   int    `yaml:"latency_ms_max"`
	SlippageBpsMin int    `yaml:"slippage_bps_min"`
	SlippageBpsMax int    `yaml:"slippage_bps_max"`
}

type Broker struct {
	BaseURL           string `yaml:"base_url"`
	TimeoutMs         int    `yaml:"timeout_ms"`
	RequestsPerSecond int    `yaml:"requests_per_second"`
}

type Retry struct {
	MaxAttempts      int `yaml:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms"`
	JitterMs         int `yaml:"jitter_ms"`
}

type Stream struct {
	URL              string `yaml:"url"`
	ReorderWindowMs  int    `yaml:"reorder_window_ms"`
	PingIntervalSecs int    `yaml:"ping_interval_seconds"`
	ReadTimeoutSecs  int    `yaml:"read_timeout_seconds"`
}

type Journal struct {
	Dir string `yaml:"dir"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Root struct {
	Mode       string     `yaml:"mode"` // sim | paper | broker
	Handles    []string   `yaml:"handles"`
	Universe   []string   `yaml:"universe"`
	Thresholds Thresholds `yaml:"thresholds"`
	Classifier Classifier `yaml:"classifier"`
	Trading    Trading    `yaml:"trading"`
	Session    Session    `yaml:"session"`
	Paper      Paper      `yaml:"paper"`
	Broker     Broker     `yaml:"broker"`
	Retry      Retry      `yaml:"retry"`
	Stream     Stream     `yaml:"stream"`
	Journal    Journal    `yaml:"journal"`
	Logging    Logging    `yaml:"logging"`
}

// Credentials are secrets kept out of the YAML file. Loaded from the
// environment, optionally seeded from a .env file.
type Credentials struct {
	BrokerAPIKey string
	StreamToken  string
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}

	if c.Mode == "" {
		c.Mode = "sim"
	}
	switch c.Mode {
	case "sim", "paper", "broker":
	default:
		return c, fmt.Errorf("unknown mode %q", c.Mode)
	}

	// Score band defaults, matching the strategy's published thresholds.
	if c.Thresholds.SuperPositive == 0 {
		c.Thresholds.SuperPositive = 0.8
	}
	if c.Thresholds.VeryPositive == 0 {
		c.Thresholds.VeryPositive = 0.7
	}
	if c.Thresholds.Positive == 0 {
		c.Thresholds.Positive = 0.6
	}
	if c.Thresholds.Negative == 0 {
		c.Thresholds.Negative = 0.4
	}
	if c.Thresholds.VeryNegative == 0 {
		c.Thresholds.VeryNegative = 0.2
	}
	if c.Classifier.TimeoutMs == 0 {
		c.Classifier.TimeoutMs = 5000
	}

	if c.Trading.Direction == "" {
		c.Trading.Direction = "long"
	}
	if c.Trading.Direction != "long" && c.Trading.Direction != "short" {
		return c, fmt.Errorf("unknown direction %q", c.Trading.Direction)
	}
	if c.Trading.TradeAmount == 0 {
		c.Trading.TradeAmount = 10000
	}
	if c.Trading.StopLossPct == 0 {
		c.Trading.StopLossPct = 2.0
	}
	if c.Trading.TargetPct == 0 {
		c.Trading.TargetPct = 4.0
	}
	if c.Trading.MaxOpenPositions == 0 {
		c.Trading.MaxOpenPositions = 5
	}
	if c.Trading.MaxHoldMinutes == 0 {
		c.Trading.MaxHoldMinutes = 240
	}

	if c.Session.OpenTime == "" {
		c.Session.OpenTime = "09:15"
	}
	if c.Session.CloseTime == "" {
		c.Session.CloseTime = "15:30"
	}
	if c.Session.Timezone == "" {
		c.Session.Timezone = "Asia/Kolkata"
	}
	if c.Session.EntryCutoffMin == 0 {
		c.Session.EntryCutoffMin = 30
	}

	if c.Paper.OutboxPath == "" {
		c.Paper.OutboxPath = "data/outbox.jsonl"
	}
	if c.Paper.LatencyMsMin == 0 {
		c.Paper.LatencyMsMin = 100
	}
	if c.Paper.LatencyMsMax == 0 {
		c.Paper.LatencyMsMax = 2000
	}
	if c.Paper.SlippageBpsMin == 0 {
		c.Paper.SlippageBpsMin = 1
	}
	if c.Paper.SlippageBpsMax == 0 {
		c.Paper.SlippageBpsMax = 5
	}

	if c.Broker.TimeoutMs == 0 {
		c.Broker.TimeoutMs = 5000
	}
	if c.Broker.RequestsPerSecond == 0 {
		c.Broker.RequestsPerSecond = 5
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialBackoffMs == 0 {
		c.Retry.InitialBackoffMs = 100
	}
	if c.Retry.MaxBackoffMs == 0 {
		c.Retry.MaxBackoffMs = 5000
	}
	if c.Retry.JitterMs == 0 {
		c.Retry.JitterMs = 50
	}

	if c.Stream.ReorderWindowMs == 0 {
		c.Stream.ReorderWindowMs = 500
	}
	if c.Stream.PingIntervalSecs == 0 {
		c.Stream.PingIntervalSecs = 30
	}
	if c.Stream.ReadTimeoutSecs == 0 {
		c.Stream.ReadTimeoutSecs = 90
	}

	if c.Journal.Dir == "" {
		c.Journal.Dir = "data"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	return c, nil
}

// LoadCredentials reads secrets from the environment. A .env file at
// envPath seeds missing variables first; a missing file is fine.
func LoadCredentials(envPath string) (Credentials, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return Credentials{}, fmt.Errorf("load %s: %w", envPath, err)
		}
	}
	return Credentials{
		BrokerAPIKey: os.Getenv("BROKER_API_KEY"),
		StreamToken:  os.Getenv("STREAM_TOKEN"),
	}, nil
}
