// Package config holds the inkling configuration: defaults, the JSON
// config file, and environment overrides, applied in that order.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".inkling"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// Config is the full inkling configuration.
type Config struct {
	Identity IdentityConfig `json:"identity"`
	Paths    PathsConfig    `json:"paths"`
	Oracle   OracleConfig   `json:"oracle"`
	Pipeline PipelineConfig `json:"pipeline"`
	Query    QueryConfig    `json:"query"`
	Journal  JournalConfig  `json:"journal"`
	Kafka    KafkaConfig    `json:"kafka"`
	Slack    SlackConfig    `json:"slack"`
}

// IdentityConfig names the person the pipeline models.
type IdentityConfig struct {
	UserName string `json:"userName" envconfig:"USER_NAME"`
}

// PathsConfig groups filesystem locations.
type PathsConfig struct {
	DBPath string `json:"dbPath" envconfig:"DB_PATH"`
}

// OracleConfig configures the semantic oracle client.
type OracleConfig struct {
	APIKey            string `json:"apiKey" envconfig:"API_KEY"`
	APIBase           string `json:"apiBase" envconfig:"API_BASE"`
	Model             string `json:"model" envconfig:"MODEL"`
	MaxDrafts         int    `json:"maxDrafts" envconfig:"MAX_DRAFTS"`
	TimeoutSeconds    int    `json:"timeoutSeconds" envconfig:"TIMEOUT_SECONDS"`
	RequestsPerMinute int    `json:"requestsPerMinute" envconfig:"REQUESTS_PER_MINUTE"`
	CacheTTLSeconds   int    `json:"cacheTtlSeconds" envconfig:"CACHE_TTL_SECONDS"`
}

// Timeout returns the per-call timeout.
func (o OracleConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// CacheTTL returns how long identical oracle calls are memoized.
func (o OracleConfig) CacheTTL() time.Duration {
	return time.Duration(o.CacheTTLSeconds) * time.Second
}

// PipelineConfig tunes the dispatcher and reconciler.
type PipelineConfig struct {
	MaxConcurrent  int  `json:"maxConcurrent" envconfig:"MAX_CONCURRENT"`
	NeighborLimit  int  `json:"neighborLimit" envconfig:"NEIGHBOR_LIMIT"`
	PollIntervalMS int  `json:"pollIntervalMs" envconfig:"POLL_INTERVAL_MS"`
	AuditEnabled   bool `json:"auditEnabled" envconfig:"AUDIT_ENABLED"`
}

// PollInterval returns how long an idle producer pump sleeps.
func (p PipelineConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMS) * time.Millisecond
}

// QueryConfig tunes search ranking.
type QueryConfig struct {
	TextWeight           float64 `json:"textWeight" envconfig:"TEXT_WEIGHT"`
	ConfidenceWeight     float64 `json:"confidenceWeight" envconfig:"CONFIDENCE_WEIGHT"`
	RecencyWeight        float64 `json:"recencyWeight" envconfig:"RECENCY_WEIGHT"`
	RecencyHalfLifeHours int     `json:"recencyHalfLifeHours" envconfig:"RECENCY_HALF_LIFE_HOURS"`
	CandidateFactor      int     `json:"candidateFactor" envconfig:"CANDIDATE_FACTOR"`
}

// HalfLife returns the recency decay half-life.
func (q QueryConfig) HalfLife() time.Duration {
	return time.Duration(q.RecencyHalfLifeHours) * time.Hour
}

// JournalConfig configures the file journal producer.
type JournalConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Path    string `json:"path" envconfig:"PATH"`
}

// KafkaConfig configures the Kafka update producer.
type KafkaConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Brokers string `json:"brokers" envconfig:"BROKERS"` // comma separated
	Topic   string `json:"topic" envconfig:"TOPIC"`
	Group   string `json:"group" envconfig:"GROUP"`
}

// SlackConfig configures outcome notifications.
type SlackConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"ENABLED"`
	BotToken string `json:"botToken" envconfig:"BOT_TOKEN"`
	Channel  string `json:"channel" envconfig:"CHANNEL"`
	APIBase  string `json:"apiBase" envconfig:"API_BASE"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DBPath: "~/" + ConfigDir + "/inkling.db",
		},
		Oracle: OracleConfig{
			APIBase:           "https://api.openai.com/v1",
			Model:             "gpt-4o-mini",
			MaxDrafts:         5,
			TimeoutSeconds:    120,
			RequestsPerMinute: 60,
			CacheTTLSeconds:   300,
		},
		Pipeline: PipelineConfig{
			MaxConcurrent:  4,
			NeighborLimit:  10,
			PollIntervalMS: 200,
			AuditEnabled:   true,
		},
		Query: QueryConfig{
			TextWeight:           0.6,
			ConfidenceWeight:     0.2,
			RecencyWeight:        0.2,
			RecencyHalfLifeHours: 72,
			CandidateFactor:      4,
		},
		Journal: JournalConfig{
			Path: "~/" + ConfigDir + "/journal.jsonl",
		},
		Kafka: KafkaConfig{
			Brokers: "localhost:9092",
			Topic:   "inkling.updates",
			Group:   "inkling",
		},
	}
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("INKLING_CONFIG")); explicit != "" {
		return ResolvePath(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("INKLING_HOME")); h != "" {
		return ResolvePath(h)
	}
	return os.UserHomeDir()
}

// ResolvePath expands a leading ~ against the home directory.
func ResolvePath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, p[1:]), nil
}

// Load builds the configuration: defaults, then the config file when it
// exists, then INKLING_* environment overrides per group.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // use defaults if the config path is unknown
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	envconfig.Process("INKLING_IDENTITY", &cfg.Identity)
	envconfig.Process("INKLING_PATHS", &cfg.Paths)
	envconfig.Process("INKLING_ORACLE", &cfg.Oracle)
	envconfig.Process("INKLING_PIPELINE", &cfg.Pipeline)
	envconfig.Process("INKLING_QUERY", &cfg.Query)
	envconfig.Process("INKLING_JOURNAL", &cfg.Journal)
	envconfig.Process("INKLING_KAFKA", &cfg.Kafka)
	envconfig.Process("INKLING_SLACK", &cfg.Slack)

	return cfg, nil
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
