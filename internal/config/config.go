// Package config содержит логику чтения конфигурации кассового сервиса.
package config

import (
	"errors"
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

var (
	// ErrStorageNotConfigured возвращается, если не задан ни адрес бэкенда, ни адрес базы данных.
	ErrStorageNotConfigured = errors.New("either backend address or database URI must be set")
	// ErrInvalidTaxRate возвращается для ставки налога вне диапазона [0, 1].
	ErrInvalidTaxRate = errors.New("tax rate must be a decimal within [0, 1]")
)

// Config содержит параметры конфигурации кассового сервиса.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	BackendAddress string `env:"BACKEND_ADDRESS"`
	TaxRateRaw     string `env:"TAX_RATE"`
	TenantID       string `env:"TENANT_ID"`

	taxRate decimal.Decimal
}

// TaxRate возвращает ставку налога, разобранную при чтении конфигурации.
func (c *Config) TaxRate() decimal.Decimal {
	return c.taxRate
}

// UseBackend сообщает, что справочники и продажи обслуживает внешний HTTP-бэкенд.
func (c *Config) UseBackend() bool {
	return c.BackendAddress != ""
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envBackendAddress := cfg.BackendAddress
	envTaxRate := cfg.TaxRateRaw
	envTenantID := cfg.TenantID

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BackendAddress, "b", "", "backend API address")
	flag.StringVar(&cfg.TaxRateRaw, "t", "0", "tax rate as a decimal fraction, e.g. 0.15")
	flag.StringVar(&cfg.TenantID, "n", "", "tenant id")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envBackendAddress != "" {
		cfg.BackendAddress = envBackendAddress
	}
	if envTaxRate != "" {
		cfg.TaxRateRaw = envTaxRate
	}
	if envTenantID != "" {
		cfg.TenantID = envTenantID
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.TaxRateRaw == "" {
		cfg.TaxRateRaw = "0"
	}

	rate, err := decimal.NewFromString(cfg.TaxRateRaw)
	if err != nil || rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTaxRate, cfg.TaxRateRaw)
	}
	cfg.taxRate = rate

	if cfg.BackendAddress == "" && cfg.DatabaseURI == "" {
		return nil, ErrStorageNotConfigured
	}

	return cfg, nil
}
