// Package config содержит логику чтения конфигурации сервиса семейных баллов.
package config

import (
	"errors"
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Поддерживаемые хранилища.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config содержит параметры конфигурации сервиса семейных баллов.
type Config struct {
	RunAddress          string `env:"RUN_ADDRESS"`
	DatabaseURI         string `env:"DATABASE_URI"`
	Storage             string `env:"STORAGE"`
	NotificationAddress string `env:"NOTIFICATION_ADDRESS"`
	AuthSecret          string `env:"AUTH_SECRET"`
	TelegramToken       string `env:"TELEGRAM_TOKEN"`
	TelegramChatID      int64  `env:"TELEGRAM_CHAT_ID"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	fromEnv := *cfg

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.Storage, "s", "", "storage backend: postgres or memory")
	flag.StringVar(&cfg.NotificationAddress, "n", "", "notification webhook address")
	flag.StringVar(&cfg.AuthSecret, "k", "", "secret key for identity tokens")
	flag.StringVar(&cfg.TelegramToken, "t", "", "telegram bot token for family chat notifications")
	flag.Int64Var(&cfg.TelegramChatID, "c", 0, "telegram chat id for family chat notifications")

	flag.Parse()

	override(&cfg.RunAddress, fromEnv.RunAddress)
	override(&cfg.DatabaseURI, fromEnv.DatabaseURI)
	override(&cfg.Storage, fromEnv.Storage)
	override(&cfg.NotificationAddress, fromEnv.NotificationAddress)
	override(&cfg.AuthSecret, fromEnv.AuthSecret)
	override(&cfg.TelegramToken, fromEnv.TelegramToken)
	if fromEnv.TelegramChatID != 0 {
		cfg.TelegramChatID = fromEnv.TelegramChatID
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.resolveStorage(); err != nil {
		return nil, err
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID == 0 {
		return nil, errors.New("telegram token requires chat id")
	}
	return cfg, nil
}

func override(dst *string, envValue string) {
	if envValue != "" {
		*dst = envValue
	}
}

func (c *Config) resolveStorage() error {
	switch c.Storage {
	case "":
		if c.DatabaseURI != "" {
			c.Storage = StoragePostgres
		} else {
			c.Storage = StorageMemory
		}
	case StoragePostgres:
		if c.DatabaseURI == "" {
			return errors.New("postgres storage requires database URI")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	return nil
}
