// Package config loads service configuration from the environment.
// A .env file in the working directory is read first; variables already set
// in the environment take precedence.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingDSN is returned when persistent storage is selected without DSNs.
var ErrMissingDSN = errors.New("POSTGRES_DSN and CLICKHOUSE_DSN are required unless USE_MEMORY is set")

// Config holds all environment-derived settings.
type Config struct {
	PostgresDSN   string
	ClickhouseDSN string
	UseMemory     bool

	RedisAddr        string // empty: in-process locks
	KafkaBroker      string // empty: log notifications only
	KafkaNotifyTopic string

	InstrumentsFile string

	ValidateInterval time.Duration
	BatchTimeLimit   time.Duration
	BatchWorkers     int
	AutoRepair       bool
	RetryDelay       time.Duration
	MaxRetries       int

	LogLevel    string
	MetricsAddr string
}

// Load reads .env (if present) and the environment.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// LoadFile reads the given env file and the environment. A missing file is an error.
func LoadFile(path string) (Config, error) {
	if err := godotenv.Load(path); err != nil {
		return Config{}, err
	}
	return FromEnv(), nil
}

// FromEnv reads the environment without touching .env files.
func FromEnv() Config {
	return Config{
		PostgresDSN:      getEnv("POSTGRES_DSN", ""),
		ClickhouseDSN:    getEnv("CLICKHOUSE_DSN", ""),
		UseMemory:        getEnvBool("USE_MEMORY", false),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		KafkaBroker:      getEnv("KAFKA_BROKER", ""),
		KafkaNotifyTopic: getEnv("KAFKA_NOTIFY_TOPIC", "position-ledger.batch-runs"),
		InstrumentsFile:  getEnv("INSTRUMENTS_FILE", ""),
		ValidateInterval: getEnvDuration("VALIDATE_INTERVAL", time.Hour),
		BatchTimeLimit:   getEnvDuration("BATCH_TIME_LIMIT", 25*time.Minute),
		BatchWorkers:     getEnvInt("BATCH_WORKERS", 4),
		AutoRepair:       getEnvBool("AUTO_REPAIR", false),
		RetryDelay:       getEnvDuration("RETRY_DELAY", 5*time.Minute),
		MaxRetries:       getEnvInt("MAX_RETRIES", 3),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		MetricsAddr:      getEnv("METRICS_ADDR", ":9090"),
	}
}

// Validate checks that the storage settings are usable.
func (c Config) Validate() error {
	if !c.UseMemory && (c.PostgresDSN == "" || c.ClickhouseDSN == "") {
		return ErrMissingDSN
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}
