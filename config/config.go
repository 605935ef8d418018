// Package config provides unified configuration loading for mailflow:
// defaults, YAML file, then environment variable overrides.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("MAILFLOW").
//	    Load()
//
// Precedence: defaults -> YAML file -> environment.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete mailflow configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" env:"SERVER"`
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
	Redis    RedisConfig    `yaml:"redis" env:"REDIS"`
	LLM      LLMConfig      `yaml:"llm" env:"LLM"`
	RAG      RAGConfig      `yaml:"rag" env:"RAG"`
	Priority PriorityConfig `yaml:"priority" env:"PRIORITY"`
	Notify   NotifyConfig   `yaml:"notify" env:"NOTIFY"`
	Retry    RetryConfig    `yaml:"retry" env:"RETRY"`
	Log      LogConfig      `yaml:"log" env:"LOG"`
}

// ServerConfig configures the HTTP and metrics listeners.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	// Driver: postgres or sqlite.
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// DSN returns the driver connection string.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// RedisConfig configures the embedding cache.
type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	EmbeddingTTL time.Duration `yaml:"embedding_ttl" env:"EMBEDDING_TTL"`
}

// LLMConfig configures the LLM collaborator.
type LLMConfig struct {
	Provider            string        `yaml:"provider" env:"PROVIDER"`
	Model               string        `yaml:"model" env:"MODEL"`
	APIKey              string        `yaml:"api_key" env:"API_KEY"`
	BaseURL             string        `yaml:"base_url" env:"BASE_URL"`
	Timeout             time.Duration `yaml:"timeout" env:"TIMEOUT"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" env:"CONFIDENCE_THRESHOLD"`
	MaxReasoningChars   int           `yaml:"max_reasoning_chars" env:"MAX_REASONING_CHARS"`
	// Categories is the candidate set offered to the classifier. The
	// reserved "unclassified" fallback is never listed here.
	Categories []string `yaml:"categories" env:"CATEGORIES"`
}

// RAGConfig tunes smart hybrid context retrieval. The k thresholds encode
// the adaptive neighbor count: short threads lean on semantic recall, long
// threads are considered sufficient on their own.
type RAGConfig struct {
	SparseThreadLen   int    `yaml:"sparse_thread_len" env:"SPARSE_THREAD_LEN"`
	DenseThreadLen    int    `yaml:"dense_thread_len" env:"DENSE_THREAD_LEN"`
	SparseNeighbors   int    `yaml:"sparse_neighbors" env:"SPARSE_NEIGHBORS"`
	MediumNeighbors   int    `yaml:"medium_neighbors" env:"MEDIUM_NEIGHBORS"`
	TokenBudget       int    `yaml:"token_budget" env:"TOKEN_BUDGET"`
	TokenizerEncoding string `yaml:"tokenizer_encoding" env:"TOKENIZER_ENCODING"`
}

// PriorityConfig tunes the rule-based priority detector.
type PriorityConfig struct {
	HighPriorityDomains []string `yaml:"high_priority_domains" env:"HIGH_PRIORITY_DOMAINS"`
	UrgencyKeywords     []string `yaml:"urgency_keywords" env:"URGENCY_KEYWORDS"`
	DomainWeight        int      `yaml:"domain_weight" env:"DOMAIN_WEIGHT"`
	KeywordWeight       int      `yaml:"keyword_weight" env:"KEYWORD_WEIGHT"`
	Threshold           int      `yaml:"threshold" env:"THRESHOLD"`
}

// NotifyConfig tunes the notification dispatcher.
type NotifyConfig struct {
	// DispatchInterval is the minimum gap between consecutive sends to one
	// user, respecting the channel's per-user quota.
	DispatchInterval time.Duration `yaml:"dispatch_interval" env:"DISPATCH_INTERVAL"`
	// SchedulerTick is how often the batch scheduler checks for due batches.
	SchedulerTick time.Duration `yaml:"scheduler_tick" env:"SCHEDULER_TICK"`
}

// RetryConfig tunes the shared collaborator retry policy.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" env:"MULTIPLIER"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level        string   `yaml:"level" env:"LEVEL"`
	Format       string   `yaml:"format" env:"FORMAT"`
	OutputPaths  []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Priority.Threshold < 0 || c.Priority.Threshold > 100 {
		errs = append(errs, "priority threshold must be within [0,100]")
	}
	if c.RAG.TokenBudget <= 0 {
		errs = append(errs, "rag token_budget must be positive")
	}
	if c.RAG.SparseThreadLen > c.RAG.DenseThreadLen {
		errs = append(errs, "rag sparse_thread_len must not exceed dense_thread_len")
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, "retry max_retries must not be negative")
	}
	if c.LLM.ConfidenceThreshold < 0 || c.LLM.ConfidenceThreshold > 1 {
		errs = append(errs, "llm confidence_threshold must be within [0,1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
