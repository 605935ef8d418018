package config

import "time"

// DefaultConfig returns the documented defaults. The numeric workflow
// tunables (priority threshold 70, token budget 6500, neighbor counts
// 7/3/0, three retries at 2s/4s/8s) are deliberate configuration, not
// hard-coded invariants; override them per deployment.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "mailflow",
			Name:            "mailflow",
			SSLMode:         "disable",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			EmbeddingTTL: 24 * time.Hour,
		},
		LLM: LLMConfig{
			Provider:            "openai",
			Model:               "gpt-4o-mini",
			Timeout:             60 * time.Second,
			ConfidenceThreshold: 0.5,
			MaxReasoningChars:   300,
			Categories: []string{
				"work", "finance", "personal", "newsletters", "notifications",
			},
		},
		RAG: RAGConfig{
			SparseThreadLen:   3,
			DenseThreadLen:    5,
			SparseNeighbors:   7,
			MediumNeighbors:   3,
			TokenBudget:       6500,
			TokenizerEncoding: "cl100k_base",
		},
		Priority: PriorityConfig{
			HighPriorityDomains: []string{},
			UrgencyKeywords: []string{
				"urgent", "asap", "immediately", "deadline", "critical",
				"action required", "final notice",
			},
			DomainWeight:  50,
			KeywordWeight: 30,
			Threshold:     70,
		},
		Notify: NotifyConfig{
			DispatchInterval: 500 * time.Millisecond,
			SchedulerTick:    time.Minute,
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: 2 * time.Second,
			MaxDelay:     8 * time.Second,
			Multiplier:   2.0,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
	}
}
