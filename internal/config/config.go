// Package config initializes application configuration. It uses Viper to
// merge a config file, environment variables, and defaults into one typed
// Config consumed by the commands.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Init sets defaults, search paths, and environment bindings. Call once at
// startup, before Load.
func Init(cfgFile string) {
	v := viper.GetViper()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/marketsense/")
		v.AddConfigPath("$HOME/.marketsense")
	}

	setDefaults(v)

	v.SetEnvPrefix("MARKETSENSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bare env names kept for operators migrating existing deployments.
	_ = v.BindEnv("crawler.allow_domains", "ALLOW_DOMAINS")
	_ = v.BindEnv("crawler.deny_domains", "DENY_DOMAINS")
	_ = v.BindEnv("crawler.robots_enabled", "ROBOTS_ENABLED")
	_ = v.BindEnv("crawler.robots_user_agent", "ROBOTS_USER_AGENT")
	_ = v.BindEnv("throttle.delay_base", "DOMAIN_DELAY_BASE")
	_ = v.BindEnv("throttle.delay_max", "DOMAIN_DELAY_MAX")
	_ = v.BindEnv("storage.local_raw_dir", "LOCAL_RAW_DIR")
	_ = v.BindEnv("storage.local_store_only", "LOCAL_STORE_ONLY")
	_ = v.BindEnv("llm.api_key", "LLM_API_KEY")

	// Missing config file is fine; defaults and env cover everything.
	_ = v.ReadInConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.firestore.collection", "crawl_tasks")
	v.SetDefault("store.postgres.table", "crawl_tasks")

	v.SetDefault("crawler.user_agent", "MarketSenseBot/1.0")
	v.SetDefault("crawler.robots_enabled", true)
	v.SetDefault("crawler.robots_user_agent", "MarketSenseBot")
	v.SetDefault("crawler.robots_cache_ttl", time.Hour)
	v.SetDefault("crawler.request_timeout", 20*time.Second)
	v.SetDefault("crawler.retries", 3)
	v.SetDefault("crawler.headless_enabled", false)
	v.SetDefault("crawler.headless_max_concurrency", 2)
	v.SetDefault("crawler.headless_timeout", 30*time.Second)

	v.SetDefault("throttle.delay_base", 2*time.Second)
	v.SetDefault("throttle.delay_max", 30*time.Second)
	v.SetDefault("ratelimit.rps", 5.0)
	v.SetDefault("ratelimit.burst", 5)

	v.SetDefault("worker.batch_limit", 50)
	v.SetDefault("worker.lease", 10*time.Minute)
	v.SetDefault("worker.concurrency", 3)

	v.SetDefault("maintenance.max_attempts", 5)
	v.SetDefault("maintenance.requeue_error_hours", 24)
	v.SetDefault("maintenance.limit", 500)

	v.SetDefault("storage.local_raw_dir", "data/raw_html")
	v.SetDefault("storage.local_store_only", false)
	v.SetDefault("storage.raw_prefix", "raw_html")

	v.SetDefault("llm.base_url", "https://api.openai.com")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_key_header", "Authorization")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.dry_run", false)

	v.SetDefault("api.addr", ":8080")

	v.SetDefault("logging.development", false)
}

// Config is the fully loaded application configuration.
type Config struct {
	Store       StoreConfig
	Crawler     CrawlerConfig
	Throttle    ThrottleConfig
	RateLimit   RateLimitConfig
	Worker      WorkerConfig
	Maintenance MaintenanceConfig
	Storage     StorageConfig
	LLM         LLMConfig
	PubSub      PubSubConfig
	API         APIConfig
	Logging     LoggingConfig
}

// StoreConfig selects and parameterizes the task store backend.
type StoreConfig struct {
	Backend   string
	Firestore FirestoreConfig
	Postgres  PostgresConfig
}

// FirestoreConfig holds Firestore connection settings.
type FirestoreConfig struct {
	Project    string
	Collection string
}

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	DSN   string
	Table string
}

// CrawlerConfig holds fetch-policy settings.
type CrawlerConfig struct {
	UserAgent              string
	AllowDomains           []string
	DenyDomains            []string
	RobotsEnabled          bool
	RobotsUserAgent        string
	RobotsCacheTTL         time.Duration
	RequestTimeout         time.Duration
	Retries                int
	HeadlessEnabled        bool
	HeadlessMaxConcurrency int
	HeadlessTimeout        time.Duration
}

// ThrottleConfig holds per-domain politeness delays.
type ThrottleConfig struct {
	DelayBase time.Duration
	DelayMax  time.Duration
}

// RateLimitConfig holds the global request budget.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// WorkerConfig holds crawl-loop settings.
type WorkerConfig struct {
	BatchLimit  int
	Lease       time.Duration
	Concurrency int
}

// MaintenanceConfig holds sweep settings.
type MaintenanceConfig struct {
	MaxAttempts       int
	RequeueErrorHours int
	Limit             int
}

// StorageConfig holds archive destinations.
type StorageConfig struct {
	LocalRawDir    string
	LocalStoreOnly bool
	GCSBucket      string
	RawPrefix      string
}

// LLMConfig holds chat-completion settings.
type LLMConfig struct {
	BaseURL      string
	Model        string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
	DryRun       bool
}

// PubSubConfig holds completion-event publishing settings.
type PubSubConfig struct {
	Project string
	Topic   string
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Addr string
}

// LoggingConfig selects the log encoder.
type LoggingConfig struct {
	Development bool
}

// Load reads the configuration out of viper into a validated Config.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Store: StoreConfig{
			Backend: v.GetString("store.backend"),
			Firestore: FirestoreConfig{
				Project:    v.GetString("store.firestore.project"),
				Collection: v.GetString("store.firestore.collection"),
			},
			Postgres: PostgresConfig{
				DSN:   v.GetString("store.postgres.dsn"),
				Table: v.GetString("store.postgres.table"),
			},
		},
		Crawler: CrawlerConfig{
			UserAgent:              v.GetString("crawler.user_agent"),
			AllowDomains:           splitList(v.GetString("crawler.allow_domains")),
			DenyDomains:            splitList(v.GetString("crawler.deny_domains")),
			RobotsEnabled:          v.GetBool("crawler.robots_enabled"),
			RobotsUserAgent:        v.GetString("crawler.robots_user_agent"),
			RobotsCacheTTL:         v.GetDuration("crawler.robots_cache_ttl"),
			RequestTimeout:         v.GetDuration("crawler.request_timeout"),
			Retries:                v.GetInt("crawler.retries"),
			HeadlessEnabled:        v.GetBool("crawler.headless_enabled"),
			HeadlessMaxConcurrency: v.GetInt("crawler.headless_max_concurrency"),
			HeadlessTimeout:        v.GetDuration("crawler.headless_timeout"),
		},
		Throttle: ThrottleConfig{
			DelayBase: v.GetDuration("throttle.delay_base"),
			DelayMax:  v.GetDuration("throttle.delay_max"),
		},
		RateLimit: RateLimitConfig{
			RPS:   v.GetFloat64("ratelimit.rps"),
			Burst: v.GetInt("ratelimit.burst"),
		},
		Worker: WorkerConfig{
			BatchLimit:  v.GetInt("worker.batch_limit"),
			Lease:       v.GetDuration("worker.lease"),
			Concurrency: v.GetInt("worker.concurrency"),
		},
		Maintenance: MaintenanceConfig{
			MaxAttempts:       v.GetInt("maintenance.max_attempts"),
			RequeueErrorHours: v.GetInt("maintenance.requeue_error_hours"),
			Limit:             v.GetInt("maintenance.limit"),
		},
		Storage: StorageConfig{
			LocalRawDir:    v.GetString("storage.local_raw_dir"),
			LocalStoreOnly: v.GetBool("storage.local_store_only"),
			GCSBucket:      v.GetString("storage.gcs_bucket"),
			RawPrefix:      v.GetString("storage.raw_prefix"),
		},
		LLM: LLMConfig{
			BaseURL:      v.GetString("llm.base_url"),
			Model:        v.GetString("llm.model"),
			APIKey:       v.GetString("llm.api_key"),
			APIKeyHeader: v.GetString("llm.api_key_header"),
			Timeout:      v.GetDuration("llm.timeout"),
			DryRun:       v.GetBool("llm.dry_run"),
		},
		PubSub: PubSubConfig{
			Project: v.GetString("pubsub.project"),
			Topic:   v.GetString("pubsub.topic"),
		},
		API: APIConfig{
			Addr: v.GetString("api.addr"),
		},
		Logging: LoggingConfig{
			Development: v.GetBool("logging.development"),
		},
	}
	return cfg, cfg.Validate()
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "firestore":
		if c.Store.Firestore.Project == "" {
			return fmt.Errorf("store.firestore.project must be set for the firestore backend")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend must be memory, firestore, or postgres")
	}
	if c.Crawler.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.Retries <= 0 {
		return fmt.Errorf("crawler.retries must be > 0")
	}
	if c.Throttle.DelayBase <= 0 {
		return fmt.Errorf("throttle.delay_base must be > 0")
	}
	if c.Throttle.DelayMax < c.Throttle.DelayBase {
		return fmt.Errorf("throttle.delay_max must be >= throttle.delay_base")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("ratelimit.rps must be >= 0")
	}
	if c.Worker.BatchLimit <= 0 {
		return fmt.Errorf("worker.batch_limit must be > 0")
	}
	if c.Worker.Lease <= 0 {
		return fmt.Errorf("worker.lease must be > 0")
	}
	if c.Maintenance.MaxAttempts < 0 {
		return fmt.Errorf("maintenance.max_attempts must be >= 0")
	}
	if c.Storage.LocalRawDir == "" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("at least one of storage.local_raw_dir and storage.gcs_bucket must be set")
	}
	if c.Storage.LocalStoreOnly && c.Storage.LocalRawDir == "" {
		return fmt.Errorf("storage.local_raw_dir must be set when storage.local_store_only is enabled")
	}
	return nil
}

// splitList parses a comma-separated domain list, dropping empty entries.
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
