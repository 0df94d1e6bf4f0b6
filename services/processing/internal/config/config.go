package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"jobwatch/services/processing/internal/errors"
)

type Config struct {
	NATSURL         string
	NATSConnTimeout time.Duration

	ClickHouseDSN          string
	ClickHouseMaxOpenConns int
	ClickHouseMaxIdleConns int
	ClickHouseConnMaxLife  time.Duration
	ClickHouseUsername     string
	ClickHousePassword     string
	ClickHouseDatabase     string

	OTELCollectorURL string
	LogDevelopment   bool

	BatchSize         int
	ProcessingTimeout time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
}

func LoadConfig() (*Config, error) {
	config := &Config{
		NATSURL:         getEnvString("NATS_URL", "nats://localhost:4222"),
		NATSConnTimeout: getEnvDuration("NATS_CONN_TIMEOUT", 10*time.Second),

		ClickHouseDSN:          getEnvString("CLICKHOUSE_DSN", "localhost:9000"),
		ClickHouseMaxOpenConns: getEnvInt("CLICKHOUSE_MAX_OPEN_CONNS", 10),
		ClickHouseMaxIdleConns: getEnvInt("CLICKHOUSE_MAX_IDLE_CONNS", 5),
		ClickHouseConnMaxLife:  getEnvDuration("CLICKHOUSE_CONN_MAX_LIFE", time.Hour),
		ClickHouseUsername:     getEnvString("CLICKHOUSE_USERNAME", "default"),
		ClickHousePassword:     getEnvString("CLICKHOUSE_PASSWORD", ""),
		ClickHouseDatabase:     getEnvString("CLICKHOUSE_DATABASE", "jobwatch"),

		OTELCollectorURL: getEnvString("OTEL_COLLECTOR_URL", ""),
		LogDevelopment:   getEnvBool("LOG_DEV", false),

		BatchSize:         getEnvInt("BATCH_SIZE", 100),
		ProcessingTimeout: getEnvDuration("PROCESSING_TIMEOUT", 5*time.Minute),
		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		RetryDelay:        getEnvDuration("RETRY_DELAY", 5*time.Second),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	switch {
	case c.NATSURL == "":
		return errors.InvalidInput("NATS_URL is required", nil)
	case c.ClickHouseDSN == "":
		return errors.InvalidInput("CLICKHOUSE_DSN is required", nil)
	case c.BatchSize <= 0:
		return errors.InvalidInput(fmt.Sprintf("BATCH_SIZE must be positive, got %d", c.BatchSize), nil)
	case c.MaxRetries < 0:
		return errors.InvalidInput(fmt.Sprintf("MAX_RETRIES must not be negative, got %d", c.MaxRetries), nil)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
