package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Common contains parameters shared by every service.
type Common struct {
	DatabasePath string
}

// Worker holds configuration for the extraction and indexing consumers.
type Worker struct {
	Common
	KafkaBrokers   []string
	ExtractTopic   string
	IndexTopic     string
	ConsumerGroup  string
	MaxRetries     int
	RetryDelay     time.Duration
	DedupeCapacity int
	DedupeTTL      time.Duration
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	BindAddr     string
	KafkaBrokers []string
	ExtractTopic string
	UploadDir    string
	DefaultLimit int
	MaxLimit     int
}

// Retention configures the stale-row cleanup loop.
type Retention struct {
	Common
	Interval  time.Duration
	BatchSize int
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	c := &Worker{
		Common: Common{
			DatabasePath: getEnv("SQLITE_PATH", "data/docsearch.db"),
		},
		KafkaBrokers:   splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		ExtractTopic:   getEnv("KAFKA_EXTRACT_TOPIC", "doc_extract"),
		IndexTopic:     getEnv("KAFKA_INDEX_TOPIC", "doc_index"),
		ConsumerGroup:  getEnv("KAFKA_CONSUMER_GROUP", "doc-worker"),
		MaxRetries:     getInt("WORKER_MAX_RETRIES", 3),
		RetryDelay:     getDuration("WORKER_RETRY_DELAY", "60s"),
		DedupeCapacity: getInt("WORKER_DEDUPE_CAPACITY", 20000),
		DedupeTTL:      getDuration("WORKER_DEDUPE_TTL", "24h"),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.ExtractTopic == c.IndexTopic {
		return nil, fmt.Errorf("KAFKA_EXTRACT_TOPIC and KAFKA_INDEX_TOPIC must differ")
	}
	if c.MaxRetries < 0 {
		return nil, fmt.Errorf("WORKER_MAX_RETRIES cannot be negative")
	}
	if c.RetryDelay <= 0 {
		return nil, fmt.Errorf("WORKER_RETRY_DELAY must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_DEDUPE_CAPACITY must be positive")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	c := &API{
		Common: Common{
			DatabasePath: getEnv("SQLITE_PATH", "data/docsearch.db"),
		},
		BindAddr:     getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		KafkaBrokers: splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		ExtractTopic: getEnv("KAFKA_EXTRACT_TOPIC", "doc_extract"),
		UploadDir:    getEnv("API_UPLOAD_DIR", "data/uploads"),
		DefaultLimit: getInt("API_RESULT_LIMIT", 10),
		MaxLimit:     getInt("API_MAX_RESULT_LIMIT", 100),
	}

	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.DefaultLimit <= 0 {
		return nil, fmt.Errorf("API_RESULT_LIMIT must be positive")
	}
	if c.MaxLimit <= 0 {
		return nil, fmt.Errorf("API_MAX_RESULT_LIMIT must be positive")
	}
	if c.DefaultLimit > c.MaxLimit {
		return nil, fmt.Errorf("API_RESULT_LIMIT cannot exceed API_MAX_RESULT_LIMIT")
	}

	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	c := &Retention{
		Common: Common{
			DatabasePath: getEnv("SQLITE_PATH", "data/docsearch.db"),
		},
		Interval:  getDuration("RETENTION_INTERVAL", "1h"),
		BatchSize: getInt("RETENTION_BATCH_SIZE", 500),
	}

	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_INTERVAL must be positive")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}

	return c, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
