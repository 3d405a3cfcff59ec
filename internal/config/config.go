package config

import (
	"fmt"
	"time"
)

// Config is the top-level configuration for a Chatty process. Every key the
// process depends on is listed here explicitly; Validate enumerates the
// required ones by name.
type Config struct {
	// InstanceID distinguishes this process on the event backplane. Empty
	// means a random id is assigned at runtime start.
	InstanceID string `json:"instanceId"`

	// HTTPAddr is the listen address of the operational HTTP surface.
	HTTPAddr string `json:"httpAddr"`

	// RedisAddr is the shared cache/queue/backplane backend.
	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"redisPassword"`
	RedisDB       int    `json:"redisDB"`

	// Durable store (system of record).
	SurrealURL       string `json:"surrealUrl"`
	SurrealNamespace string `json:"surrealNamespace"`
	SurrealDatabase  string `json:"surrealDatabase"`
	SurrealUser      string `json:"surrealUser"`
	SurrealPass      string `json:"surrealPass"`

	// WorkerConcurrency bounds concurrent job execution per queue.
	WorkerConcurrency int `json:"workerConcurrency"`

	// JobMaxAttempts and JobBackoff govern queue re-delivery. Fixed backoff,
	// applied uniformly unless a queue overrides it.
	JobMaxAttempts int           `json:"jobMaxAttempts"`
	JobBackoff     time.Duration `json:"jobBackoff"`

	// LeaseDuration is how long a dequeued job may run before a sibling
	// instance may reclaim it.
	LeaseDuration time.Duration `json:"leaseDuration"`

	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"` // "text" or "json"
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:          ":5000",
		RedisAddr:         "127.0.0.1:6379",
		SurrealURL:        "ws://127.0.0.1:8000/rpc",
		SurrealNamespace:  "chatty",
		SurrealDatabase:   "chatty",
		WorkerConcurrency: 5,
		JobMaxAttempts:    3,
		JobBackoff:        5 * time.Second,
		LeaseDuration:     30 * time.Second,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Validate checks each required key and reports the first violation by name.
func (c Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"httpAddr", c.HTTPAddr},
		{"redisAddr", c.RedisAddr},
		{"surrealUrl", c.SurrealURL},
		{"surrealNamespace", c.SurrealNamespace},
		{"surrealDatabase", c.SurrealDatabase},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("config: missing required key %q", r.key)
		}
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("config: workerConcurrency must be positive, got %d", c.WorkerConcurrency)
	}
	if c.JobMaxAttempts <= 0 {
		return fmt.Errorf("config: jobMaxAttempts must be positive, got %d", c.JobMaxAttempts)
	}
	if c.JobBackoff <= 0 {
		return fmt.Errorf("config: jobBackoff must be positive, got %s", c.JobBackoff)
	}
	if c.LeaseDuration <= 0 {
		return fmt.Errorf("config: leaseDuration must be positive, got %s", c.LeaseDuration)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config: logFormat must be \"text\" or \"json\", got %q", c.LogFormat)
	}
	return nil
}
