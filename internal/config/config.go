package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment        string
	AppName            string
	Port               string
	LogLevel           slog.Level
	SQLitePath         string
	MigrationsPath     string
	SeedDefaultData    bool
	SchedulerEnabled   bool
	YAMLConnectorsPath string

	NotifyWebhookURL string
	RedisURL         string
	RedisChannel     string
	MaintenanceCron  string

	ScrapeParallelism  int
	PolitenessMinDelay time.Duration
	PolitenessMaxDelay time.Duration
	TitleBatchMin      int
	TitleBatchMax      int
	RequestTimeout     time.Duration
	FallbackWake       time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:        getEnv("APP_ENV", "development"),
		AppName:            getEnv("APP_NAME", "chapter-tracker"),
		Port:               getEnv("APP_PORT", "8080"),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/app.sqlite"),
		MigrationsPath:     getEnv("MIGRATIONS_PATH", ""),
		SeedDefaultData:    getEnvAsBool("SEED_DEFAULT_DATA", true),
		SchedulerEnabled:   getEnvAsBool("SCHEDULER_ENABLED", true),
		YAMLConnectorsPath: getEnv("YAML_CONNECTORS_PATH", "./connectors"),
		NotifyWebhookURL:   getEnv("NOTIFY_WEBHOOK_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		RedisChannel:       getEnv("REDIS_CHANNEL", "chapter-tracker:releases"),
		MaintenanceCron:    getEnv("MAINTENANCE_CRON", "@daily"),
		ScrapeParallelism:  getEnvAsInt("SCRAPE_PARALLELISM", 1),
		PolitenessMinDelay: getEnvAsDuration("POLITENESS_MIN_DELAY", 5*time.Second),
		PolitenessMaxDelay: getEnvAsDuration("POLITENESS_MAX_DELAY", 10*time.Second),
		TitleBatchMin:      getEnvAsInt("TITLE_BATCH_MIN", 3),
		TitleBatchMax:      getEnvAsInt("TITLE_BATCH_MAX", 6),
		RequestTimeout:     getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		FallbackWake:       getEnvAsDuration("FALLBACK_WAKE", time.Hour),
	}

	if cfg.ScrapeParallelism <= 0 {
		cfg.ScrapeParallelism = 1
	}
	if cfg.TitleBatchMax < cfg.TitleBatchMin {
		return Config{}, fmt.Errorf("TITLE_BATCH_MAX (%d) is below TITLE_BATCH_MIN (%d)", cfg.TitleBatchMax, cfg.TitleBatchMin)
	}
	if cfg.PolitenessMaxDelay < cfg.PolitenessMinDelay {
		return Config{}, fmt.Errorf("POLITENESS_MAX_DELAY is below POLITENESS_MIN_DELAY")
	}
	// A wake must never be more than an hour away.
	if cfg.FallbackWake <= 0 || cfg.FallbackWake > time.Hour {
		cfg.FallbackWake = time.Hour
	}

	level, err := ParseLogLevel(getEnv("LOG_LEVEL", "INFO"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	return cfg, nil
}

func ParseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q, expected DEBUG|INFO|WARN|ERROR", raw)
	}
}

func getEnv(key string, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
