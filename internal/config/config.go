// Package config loads gemwatch's startup configuration: a YAML file plus
// environment-variable overrides for anything that should never live in a
// checked-in file (credentials, connection strings).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"gemwatch/internal/correlator"
	"gemwatch/internal/domain"
)

// Exit codes per spec §6: 0 clean shutdown, 2 configuration error, 3
// unrecoverable ingest auth failure.
const (
	ExitOK                = 0
	ExitConfigError       = 2
	ExitUnrecoverableAuth = 3
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "./config.yaml"

// SourceSpec describes one configured chat source.
type SourceSpec struct {
	ID          string            `yaml:"id"`
	Kind        domain.SourceKind `yaml:"kind"`
	Endpoint    string            `yaml:"endpoint"`
	TrustWeight float64           `yaml:"trust_weight"`
	AuthToken   string            `yaml:"auth_token,omitempty"`
}

// JobsConfig holds the cron expressions for the periodic maintenance jobs
// (spec §5 expansion: state eviction, dynamic-threshold recompute,
// mirror-burst reconciliation).
type JobsConfig struct {
	StateEvictionCron      string `yaml:"state_eviction_cron"`
	ThresholdRecomputeCron string `yaml:"threshold_recompute_cron"`
	MirrorReconcileCron    string `yaml:"mirror_reconcile_cron"`
}

// DefaultJobsConfig matches the cadences described in spec.md §5/§9.
func DefaultJobsConfig() JobsConfig {
	return JobsConfig{
		StateEvictionCron:      "*/5 * * * *",
		ThresholdRecomputeCron: "*/15 * * * *",
		MirrorReconcileCron:    "0 * * * *",
	}
}

// Config is gemwatch's full startup configuration.
type Config struct {
	Sources []SourceSpec `yaml:"sources"`

	HTTPListenAddr string `yaml:"http_listen_addr"`
	DurableLogPath string `yaml:"durable_log_path"`

	MirrorDSN             string `yaml:"mirror_dsn,omitempty"`
	OutcomesClickhouseDSN string `yaml:"outcomes_clickhouse_dsn,omitempty"`
	QuoteServiceEndpoint  string `yaml:"quote_service_endpoint,omitempty"`

	TelegramBotToken        string `yaml:"telegram_bot_token,omitempty"`
	TelegramBroadcastChatID int64  `yaml:"telegram_broadcast_chat_id,omitempty"`

	IngestLatencyBudget time.Duration `yaml:"ingest_latency_budget"`

	Jobs JobsConfig `yaml:"jobs"`

	Thresholds correlator.DynamicThresholds `yaml:"thresholds"`
}

// Default returns a Config with every non-credential field at the
// specification's documented default.
func Default() *Config {
	return &Config{
		HTTPListenAddr:      ":8080",
		DurableLogPath:      "./data/alerts.json",
		IngestLatencyBudget: 5 * time.Second,
		Jobs:                DefaultJobsConfig(),
		Thresholds:          correlator.DefaultDynamicThresholds(),
	}
}

// Load reads path (YAML) over the defaults, then applies environment
// overrides, then validates. A missing file is not an error — the
// defaults (plus any env overrides) are used as-is, matching a
// bring-your-own-credentials deployment that configures everything
// through the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides implements spec §6's "environment variables consumed:
// source credentials, remote-mirror credentials, HTTP listen port,
// durable-log path".
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GEMWATCH_HTTP_ADDR"); v != "" {
		cfg.HTTPListenAddr = v
	}
	if v := os.Getenv("GEMWATCH_LOG_PATH"); v != "" {
		cfg.DurableLogPath = v
	}
	if v := os.Getenv("GEMWATCH_MIRROR_DSN"); v != "" {
		cfg.MirrorDSN = v
	}
	if v := os.Getenv("GEMWATCH_OUTCOMES_CLICKHOUSE_DSN"); v != "" {
		cfg.OutcomesClickhouseDSN = v
	}
	if v := os.Getenv("GEMWATCH_QUOTE_SERVICE_ENDPOINT"); v != "" {
		cfg.QuoteServiceEndpoint = v
	}
	if v := os.Getenv("GEMWATCH_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.TelegramBotToken = v
	}
	if v := os.Getenv("GEMWATCH_TELEGRAM_BROADCAST_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramBroadcastChatID = id
		}
	}
	if v := os.Getenv("GEMWATCH_INGEST_LATENCY_BUDGET"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.IngestLatencyBudget = d
		}
	}
	for i := range cfg.Sources {
		envKey := "GEMWATCH_SOURCE_" + normalizeEnvKey(cfg.Sources[i].ID) + "_TOKEN"
		if v := os.Getenv(envKey); v != "" {
			cfg.Sources[i].AuthToken = v
		}
	}
}

func normalizeEnvKey(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z':
			out[i] = c - 'a' + 'A'
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// Validate enforces the invariants a misconfigured deployment would
// otherwise fail on only once it is already running.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("config: at least one source must be configured")
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("config: source missing id")
		}
		if seen[s.ID] {
			return fmt.Errorf("config: duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
		switch s.Kind {
		case domain.SourceKindBuyFeed, domain.SourceKindSocialFeed,
			domain.SourceKindMomentumFeed, domain.SourceKindTrendingFeed,
			domain.SourceKindHotlistFeed:
		default:
			return fmt.Errorf("config: source %q has invalid kind %q", s.ID, s.Kind)
		}
		if s.Endpoint == "" {
			return fmt.Errorf("config: source %q missing endpoint", s.ID)
		}
	}
	if c.HTTPListenAddr == "" {
		return fmt.Errorf("config: http_listen_addr must not be empty")
	}
	if c.DurableLogPath == "" {
		return fmt.Errorf("config: durable_log_path must not be empty")
	}
	if c.IngestLatencyBudget <= 0 {
		return fmt.Errorf("config: ingest_latency_budget must be positive")
	}
	return nil
}
