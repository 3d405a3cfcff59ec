package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays CHATTY_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("CHATTY_INSTANCE_ID"); v != "" {
		cfg.InstanceID = v
	}
	if v := os.Getenv("CHATTY_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("CHATTY_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("CHATTY_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CHATTY_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := os.Getenv("CHATTY_SURREAL_URL"); v != "" {
		cfg.SurrealURL = v
	}
	if v := os.Getenv("CHATTY_SURREAL_NAMESPACE"); v != "" {
		cfg.SurrealNamespace = v
	}
	if v := os.Getenv("CHATTY_SURREAL_DATABASE"); v != "" {
		cfg.SurrealDatabase = v
	}
	if v := os.Getenv("CHATTY_SURREAL_USER"); v != "" {
		cfg.SurrealUser = v
	}
	if v := os.Getenv("CHATTY_SURREAL_PASS"); v != "" {
		cfg.SurrealPass = v
	}
	if v := os.Getenv("CHATTY_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerConcurrency = n
		}
	}
	if v := os.Getenv("CHATTY_JOB_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.JobMaxAttempts = n
		}
	}
	if v := os.Getenv("CHATTY_JOB_BACKOFF_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.JobBackoff = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("CHATTY_LEASE_DURATION_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LeaseDuration = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("CHATTY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CHATTY_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}
