package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/daily-engagement/internal/logging"
)

// Config captures environment driven configuration values for the engagement service.
type Config struct {
	HTTPPort        int
	SQLitePath      string
	LogLevel        slog.Level
	LogFormat       string
	AdminKeyHash    string
	ScheduleFile    string
	ReminderCron    string
	KafkaBrokers    []string
	KafkaTopic      string
	TelegramToken   string
	TelegramChatID  int64
	MaxRetries      int
	ShutdownTimeout time.Duration
}

const envPrefix = "ENGAGEMENT_"

// Load parses configuration values from the process environment after
// loading a .env file from the working directory when one exists. Variables
// already present in the environment take precedence over the file.
//
// The loader applies defaults for optional fields and reports every missing
// or invalid variable in a single error. A .env file that exists but cannot
// be parsed is reported with the invalid variables.
func Load() (Config, error) {
	return load(".env")
}

func load(envFile string) (Config, error) {
	invalid := make([]string, 0, 2)
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		invalid = append(invalid, fmt.Sprintf("%s (%v)", envFile, err))
	}

	cfg := Config{
		HTTPPort:        8080,
		SQLitePath:      "engagement.db",
		LogLevel:        slog.LevelInfo,
		LogFormat:       "json",
		ReminderCron:    "*/5 * * * *",
		KafkaTopic:      "engagement.events",
		MaxRetries:      5,
		ShutdownTimeout: 10 * time.Second,
	}

	missing := make([]string, 0, 1)

	if value := lookup("HTTP_PORT"); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 || port > 65535 {
			invalid = append(invalid, envPrefix+"HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if value := lookup("SQLITE_PATH"); value != "" {
		cfg.SQLitePath = value
	}

	if value := lookup("LOG_LEVEL"); value != "" {
		level, err := logging.ParseLevel(value)
		if err != nil {
			invalid = append(invalid, envPrefix+"LOG_LEVEL")
		} else {
			cfg.LogLevel = level
		}
	}

	if value := lookup("LOG_FORMAT"); value != "" {
		switch strings.ToLower(value) {
		case "json", "text":
			cfg.LogFormat = strings.ToLower(value)
		default:
			invalid = append(invalid, envPrefix+"LOG_FORMAT")
		}
	}

	if value := lookup("ADMIN_KEY_HASH"); value == "" {
		missing = append(missing, envPrefix+"ADMIN_KEY_HASH")
	} else {
		cfg.AdminKeyHash = value
	}

	cfg.ScheduleFile = lookup("SCHEDULE_FILE")

	if value := lookup("REMINDER_CRON"); value != "" {
		cfg.ReminderCron = value
	}

	if value := lookup("KAFKA_BROKERS"); value != "" {
		for _, broker := range strings.Split(value, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, broker)
			}
		}
	}
	if value := lookup("KAFKA_TOPIC"); value != "" {
		cfg.KafkaTopic = value
	}

	cfg.TelegramToken = lookup("TELEGRAM_TOKEN")
	if value := lookup("TELEGRAM_CHAT_ID"); value != "" {
		chatID, err := strconv.ParseInt(value, 10, 64)
		if err != nil || chatID == 0 {
			invalid = append(invalid, envPrefix+"TELEGRAM_CHAT_ID")
		} else {
			cfg.TelegramChatID = chatID
		}
	} else if cfg.TelegramToken != "" {
		missing = append(missing, envPrefix+"TELEGRAM_CHAT_ID")
	}

	if value := lookup("TRANSITION_RETRIES"); value != "" {
		retries, err := strconv.Atoi(value)
		if err != nil || retries <= 0 {
			invalid = append(invalid, envPrefix+"TRANSITION_RETRIES")
		} else {
			cfg.MaxRetries = retries
		}
	}

	if value := lookup("SHUTDOWN_TIMEOUT"); value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil || timeout <= 0 {
			invalid = append(invalid, envPrefix+"SHUTDOWN_TIMEOUT")
		} else {
			cfg.ShutdownTimeout = timeout
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("environment variables have invalid values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func lookup(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}
