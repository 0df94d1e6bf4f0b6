package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"jobwatch/services/ingestion/internal/errors"

	"github.com/joho/godotenv"
)

type Config struct {
	DocumentPath string
	HTTPAddr     string
	AutoStart    bool

	LedgerBackend string
	LedgerPath    string
	LedgerDSN     string

	ScraperURL     string
	ScraperTimeout time.Duration
	ScraperRPS     float64
	ScraperProxied bool
	FeedURLs       []string
	Sites          []string
	ResultsWanted  int
	HoursOld       int
	Country        string
	FetchCacheTTL  time.Duration

	MaxAttempts   int
	RetryDelay    time.Duration
	CrashCooldown time.Duration

	NATSURL         string
	NATSConnTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SMTPHost       string
	SMTPPort       int
	SMTPTimeout    time.Duration
	SenderEmail    string
	SenderPassword string
	RecipientEmail string
	KeyringAccount string

	TelegramToken  string
	TelegramChatID int64

	OTELCollectorURL string
	LogBufferLines   int
	LogDevelopment   bool
}

const (
	LedgerCSV      = "csv"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
)

// LoadConfig reads the service settings from the environment, after merging
// a .env file from the working directory when one exists.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		DocumentPath: getEnvString("JOBWATCH_CONFIG", "config.json"),
		HTTPAddr:     getEnvString("HTTP_ADDR", "0.0.0.0:5002"),
		AutoStart:    getEnvBool("SCHEDULER_AUTOSTART", false),

		LedgerBackend: strings.ToLower(getEnvString("LEDGER_BACKEND", LedgerCSV)),
		LedgerPath:    getEnvString("LEDGER_PATH", "sent_jobs.csv"),
		LedgerDSN:     getEnvString("LEDGER_DSN", ""),

		ScraperURL:     getEnvString("SCRAPER_URL", ""),
		ScraperTimeout: getEnvDuration("SCRAPER_TIMEOUT", 3*time.Minute),
		ScraperRPS:     getEnvFloat("SCRAPER_RPS", 0.5),
		ScraperProxied: getEnvBool("SCRAPER_VIA_PROXY", false),
		FeedURLs:       getEnvList("FEED_URLS", nil),
		Sites:          getEnvList("SCRAPER_SITES", []string{"indeed", "linkedin", "zip_recruiter", "glassdoor"}),
		ResultsWanted:  getEnvInt("RESULTS_WANTED", 100),
		HoursOld:       getEnvInt("HOURS_OLD", 72),
		Country:        getEnvString("COUNTRY_INDEED", "USA"),
		FetchCacheTTL:  getEnvDuration("FETCH_CACHE_TTL", 0),

		MaxAttempts:   getEnvInt("MAX_ATTEMPTS", 5),
		RetryDelay:    getEnvDuration("RETRY_DELAY", 60*time.Second),
		CrashCooldown: getEnvDuration("CRASH_COOLDOWN", 60*time.Second),

		NATSURL:         getEnvString("NATS_URL", ""),
		NATSConnTimeout: getEnvDuration("NATS_CONN_TIMEOUT", 10*time.Second),

		RedisAddr:     getEnvString("REDIS_ADDR", ""),
		RedisPassword: getEnvString("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		SMTPHost:       getEnvString("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:       getEnvInt("SMTP_PORT", 587),
		SMTPTimeout:    getEnvDuration("SMTP_TIMEOUT", 30*time.Second),
		SenderEmail:    getEnvString("SENDER_EMAIL", ""),
		SenderPassword: getEnvString("SENDER_PASSWORD", ""),
		RecipientEmail: getEnvString("RECIPIENT_EMAIL", ""),
		KeyringAccount: getEnvString("SMTP_KEYRING_ACCOUNT", ""),

		TelegramToken:  getEnvString("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),

		OTELCollectorURL: getEnvString("OTEL_COLLECTOR_URL", ""),
		LogBufferLines:   getEnvInt("LOG_BUFFER_LINES", 500),
		LogDevelopment:   getEnvBool("LOG_DEV", false),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	var problems []string

	switch c.LedgerBackend {
	case LedgerCSV, LedgerSQLite:
		if c.LedgerPath == "" {
			problems = append(problems, "LEDGER_PATH is required for the "+c.LedgerBackend+" ledger")
		}
	case LedgerPostgres:
		if c.LedgerDSN == "" {
			problems = append(problems, "LEDGER_DSN is required for the postgres ledger")
		}
	case LedgerRedis:
		if c.RedisAddr == "" {
			problems = append(problems, "REDIS_ADDR is required for the redis ledger")
		}
	default:
		problems = append(problems, "unknown LEDGER_BACKEND "+strconv.Quote(c.LedgerBackend))
	}

	if c.MaxAttempts < 1 {
		problems = append(problems, "MAX_ATTEMPTS must be >= 1")
	}
	if c.RetryDelay < 0 {
		problems = append(problems, "RETRY_DELAY must be >= 0")
	}
	if c.DocumentPath == "" {
		problems = append(problems, "JOBWATCH_CONFIG must not be empty")
	}

	if len(problems) > 0 {
		return errors.Config("invalid service configuration: "+strings.Join(problems, "; "), nil)
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

func getEnvList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	return SplitList(value)
}

// SplitList splits a comma separated list, dropping blank items.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
