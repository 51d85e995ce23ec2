// Package config loads all runtime configuration from the environment so
// main stays lean. Every section has development defaults; production
// deployments override via env.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for the server binary.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Ledger   LedgerConfig
	Mailer   MailerConfig
	Learning LearningConfig
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string
	JWTSigningKey   string
	InboundSecret   string
	ShutdownTimeout time.Duration
}

// PostgresConfig carries the SQL connection settings. An empty DSN selects
// the in-memory stores.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig carries cache settings for derived-statistic snapshots. An
// empty URL disables the cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SnapshotTTL  time.Duration
}

// KafkaConfig configures the outbound event producer. Empty brokers disable
// publishing (signals are logged instead).
type KafkaConfig struct {
	Brokers         []string
	CollectiveTopic string
	OutcomeTopic    string
}

// LedgerConfig configures the external evidence ledger client.
type LedgerConfig struct {
	BaseURL         string
	APIKey          string
	Network         string
	ConfirmInterval time.Duration
	ConfirmAttempts int
	SubmitTimeout   time.Duration
}

// MailerConfig configures the outbound correspondence transport. Without an
// API key the mailer runs in dev mode and logs instead of sending.
type MailerConfig struct {
	APIURL      string
	APIKey      string
	FromAddress string
	FromName    string
	ReplyDomain string
	// ArchiveAddress, when set, gets a CC of every outbound message for the
	// operator's own records.
	ArchiveAddress string
}

// LearningConfig holds the threshold knobs for the learning engine. These
// must stay injectable rather than hardcoded in the engine.
type LearningConfig struct {
	PatternThreshold     int
	MinSampleConfidence  int
	ClassActionUsers     int
	ClassActionSuccesses int
	ClassActionHarmFloor float64
}

// FromEnv builds the full configuration from environment variables.
func FromEnv() Config {
	return Config{
		Server: ServerConfig{
			Addr:            envString("AEGIS_ADDR", ":8080"),
			JWTSigningKey:   envString("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			InboundSecret:   envString("INBOUND_WEBHOOK_SECRET", "dev-inbound-secret"),
			ShutdownTimeout: envDuration("AEGIS_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Postgres: PostgresConfig{
			DSN:             os.Getenv("POSTGRES_DSN"),
			MaxOpenConns:    envInt("POSTGRES_MAX_OPEN_CONNS", 25),
			ConnMaxLifetime: envDuration("POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			SnapshotTTL:  envDuration("REDIS_SNAPSHOT_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:         envList("KAFKA_BROKERS"),
			CollectiveTopic: envString("KAFKA_COLLECTIVE_TOPIC", "aegis.collective-action"),
			OutcomeTopic:    envString("KAFKA_OUTCOME_TOPIC", "aegis.outcomes"),
		},
		Ledger: LedgerConfig{
			BaseURL:         envString("LEDGER_BASE_URL", "http://localhost:8020"),
			APIKey:          os.Getenv("LEDGER_API_KEY"),
			Network:         envString("LEDGER_NETWORK", "testnet"),
			ConfirmInterval: envDuration("LEDGER_CONFIRM_INTERVAL", 10*time.Second),
			ConfirmAttempts: envInt("LEDGER_CONFIRM_ATTEMPTS", 30),
			SubmitTimeout:   envDuration("LEDGER_SUBMIT_TIMEOUT", 15*time.Second),
		},
		Mailer: MailerConfig{
			APIURL:      envString("MAILER_API_URL", "https://api.sendgrid.com/v3/mail/send"),
			APIKey:      os.Getenv("MAILER_API_KEY"),
			FromAddress: envString("MAILER_FROM_ADDRESS", "correspondence@aegis.local"),
			FromName:    envString("MAILER_FROM_NAME", "Aegis Correspondence"),
			ReplyDomain:    envString("MAILER_REPLY_DOMAIN", "aegis.local"),
			ArchiveAddress: os.Getenv("MAILER_ARCHIVE_ADDRESS"),
		},
		Learning: LearningConfig{
			PatternThreshold:     envInt("LEARNING_PATTERN_THRESHOLD", 10),
			MinSampleConfidence:  envInt("LEARNING_MIN_SAMPLE_CONFIDENCE", 5),
			ClassActionUsers:     envInt("LEARNING_CLASS_ACTION_USERS", 50),
			ClassActionSuccesses: envInt("LEARNING_CLASS_ACTION_SUCCESSES", 25),
			ClassActionHarmFloor: envFloat("LEARNING_CLASS_ACTION_HARM_FLOOR", 100000),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
