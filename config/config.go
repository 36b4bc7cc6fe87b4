package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Provider   ProviderConfig   `yaml:"provider"`
	Events     EventsConfig     `yaml:"events"`
	Instance   InstanceConfig   `yaml:"instance"`
	Reaper     ReaperConfig     `yaml:"reaper"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ProviderConfig holds the cloud provider connection and pipeline tuning.
// The poll/retry/timeout values govern the gateway's waiters and retry policy.
type ProviderConfig struct {
	Token               string        `yaml:"token"`
	Endpoint            string        `yaml:"endpoint"` // override for tests; empty means the SDK default
	ServerType          string        `yaml:"server_type"`
	Location            string        `yaml:"location"`
	PollIntervalSeconds int           `yaml:"poll_interval_seconds"`
	PollInterval        time.Duration `yaml:"-"`
	MaxPolls            int           `yaml:"max_polls"`
	RetryBudget         int           `yaml:"retry_budget"`
	BaseBackoffMs       int           `yaml:"base_backoff_ms"`
	BaseBackoff         time.Duration `yaml:"-"`
	MaxBackoffMs        int           `yaml:"max_backoff_ms"`
	MaxBackoff          time.Duration `yaml:"-"`
	AttemptTimeoutSec   int           `yaml:"attempt_timeout_seconds"`
	AttemptTimeout      time.Duration `yaml:"-"`
	OperationTimeoutSec int           `yaml:"operation_timeout_seconds"`
	OperationTimeout    time.Duration `yaml:"-"`
}

// EventsConfig holds the NATS progress-channel configuration.
type EventsConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// InstanceConfig holds per-instance policy: expiry and the estimated
// durations surfaced in operation handles.
type InstanceConfig struct {
	TTLMinutes           int           `yaml:"ttl_minutes"`
	TTL                  time.Duration `yaml:"-"`
	EstimateCreateSec    int           `yaml:"estimate_create_seconds"`
	EstimateStartSec     int           `yaml:"estimate_start_seconds"`
	EstimateStopSec      int           `yaml:"estimate_stop_seconds"`
	EstimateTerminateSec int           `yaml:"estimate_terminate_seconds"`
}

// ReaperConfig holds the expired-instance sweeper configuration.
type ReaperConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in sane values for anything the file left unset.
// Exposed so tests can build configs without a file.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}

	if cfg.Provider.PollIntervalSeconds <= 0 {
		cfg.Provider.PollIntervalSeconds = 3
	}
	cfg.Provider.PollInterval = time.Duration(cfg.Provider.PollIntervalSeconds) * time.Second

	if cfg.Provider.MaxPolls <= 0 {
		cfg.Provider.MaxPolls = 100
	}
	if cfg.Provider.RetryBudget <= 0 {
		cfg.Provider.RetryBudget = 4
	}
	if cfg.Provider.BaseBackoffMs <= 0 {
		cfg.Provider.BaseBackoffMs = 500
	}
	cfg.Provider.BaseBackoff = time.Duration(cfg.Provider.BaseBackoffMs) * time.Millisecond

	if cfg.Provider.MaxBackoffMs <= 0 {
		cfg.Provider.MaxBackoffMs = 10000
	}
	cfg.Provider.MaxBackoff = time.Duration(cfg.Provider.MaxBackoffMs) * time.Millisecond

	if cfg.Provider.AttemptTimeoutSec <= 0 {
		cfg.Provider.AttemptTimeoutSec = 15
	}
	cfg.Provider.AttemptTimeout = time.Duration(cfg.Provider.AttemptTimeoutSec) * time.Second

	if cfg.Provider.OperationTimeoutSec <= 0 {
		cfg.Provider.OperationTimeoutSec = 600
	}
	cfg.Provider.OperationTimeout = time.Duration(cfg.Provider.OperationTimeoutSec) * time.Second

	if cfg.Provider.ServerType == "" {
		cfg.Provider.ServerType = "cpx11"
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "instances.events"
	}

	cfg.Instance.TTL = time.Duration(cfg.Instance.TTLMinutes) * time.Minute

	if cfg.Instance.EstimateCreateSec <= 0 {
		cfg.Instance.EstimateCreateSec = 90
	}
	if cfg.Instance.EstimateStartSec <= 0 {
		cfg.Instance.EstimateStartSec = 30
	}
	if cfg.Instance.EstimateStopSec <= 0 {
		cfg.Instance.EstimateStopSec = 30
	}
	if cfg.Instance.EstimateTerminateSec <= 0 {
		cfg.Instance.EstimateTerminateSec = 45
	}

	if cfg.Reaper.IntervalSeconds <= 0 {
		cfg.Reaper.IntervalSeconds = 60
	}
	cfg.Reaper.Interval = time.Duration(cfg.Reaper.IntervalSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
}
