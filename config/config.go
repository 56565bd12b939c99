// Package config loads process configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// Config is the runtime configuration of the API process. DatabaseURL is
// optional; without it events are kept in memory only.
type Config struct {
	DatabaseURL             string `env:"DATABASE_URL"`
	ListenAddr              string `env:"LISTEN_ADDR" envDefault:":8080"`
	AuthorityAddress        string `env:"AUTHORITY_ADDRESS,notEmpty"`
	AuthorityPassphraseHash string `env:"AUTHORITY_PASSPHRASE_HASH"`
	JWTSecret               string `env:"JWT_SECRET,notEmpty"`
	ServiceFeeRatio         uint8  `env:"SERVICE_FEE_RATIO" envDefault:"0"`
	RegistryAddress         string `env:"REGISTRY_ADDRESS" envDefault:"rentflow-registry"`
	ReceiptCollection       string `env:"RECEIPT_COLLECTION" envDefault:"rentflow-receipts"`
	AssetCollection         string `env:"ASSET_COLLECTION" envDefault:"assets"`
	LogLevel                string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses Config from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ServiceFeeRatio >= 100 {
		return fmt.Errorf("config: SERVICE_FEE_RATIO must be below 100, got %d", c.ServiceFeeRatio)
	}
	if c.RegistryAddress == c.AuthorityAddress {
		return fmt.Errorf("config: REGISTRY_ADDRESS must differ from AUTHORITY_ADDRESS")
	}
	if c.ReceiptCollection == c.AssetCollection {
		return fmt.Errorf("config: RECEIPT_COLLECTION must differ from ASSET_COLLECTION")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return nil
}

// Logger builds the process logger at the configured level.
func (c Config) Logger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
