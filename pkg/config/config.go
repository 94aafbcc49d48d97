package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mcclellann/fredFund/pkg/ledger"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration of the fund service.
type Config struct {
	HTTPAddr string
	DBPath   string
	LogLevel string
	Policy   ledger.Policy
}

// configFile mirrors the YAML schema. Money and rates are strings so they are
// parsed by decimal and never pass through a float.
type configFile struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Lending struct {
		DefaultMonthlyRate string `yaml:"default_monthly_rate"`
		MinPrincipal       string `yaml:"min_principal"`
		MaxPrincipal       string `yaml:"max_principal"`
		MaxInstallments    int    `yaml:"max_installments"`
	} `yaml:"lending"`
}

// Load resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error. Each envFile that exists is loaded into the
// process environment first; variables already set are left alone.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Config{
		HTTPAddr: ":8080",
		DBPath:   "fredfund.db",
		LogLevel: "info",
		Policy:   ledger.DefaultPolicy(),
	}

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	for _, envFile := range envFiles {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg.HTTPAddr = envOrDefault("FUND_HTTP_ADDR", cfg.HTTPAddr)
	cfg.DBPath = envOrDefault("FUND_DB_PATH", cfg.DBPath)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(envOrDefault("FUND_LOG_LEVEL", cfg.LogLevel)))
	cfg.Policy.MaxInstallments = envInt("FUND_MAX_INSTALLMENTS", cfg.Policy.MaxInstallments)

	var err error
	if cfg.Policy.DefaultMonthlyRate, err = envDecimal("FUND_DEFAULT_MONTHLY_RATE", cfg.Policy.DefaultMonthlyRate); err != nil {
		return Config{}, err
	}
	if cfg.Policy.MinPrincipal, err = envDecimal("FUND_MIN_PRINCIPAL", cfg.Policy.MinPrincipal); err != nil {
		return Config{}, err
	}
	if cfg.Policy.MaxPrincipal, err = envDecimal("FUND_MAX_PRINCIPAL", cfg.Policy.MaxPrincipal); err != nil {
		return Config{}, err
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if f.Server.Addr != "" {
		cfg.HTTPAddr = f.Server.Addr
	}
	if f.Database.Path != "" {
		cfg.DBPath = f.Database.Path
	}
	if f.Logging.Level != "" {
		cfg.LogLevel = f.Logging.Level
	}
	if f.Lending.MaxInstallments > 0 {
		cfg.Policy.MaxInstallments = f.Lending.MaxInstallments
	}

	amounts := []struct {
		key string
		raw string
		dst *decimal.Decimal
	}{
		{"lending.default_monthly_rate", f.Lending.DefaultMonthlyRate, &cfg.Policy.DefaultMonthlyRate},
		{"lending.min_principal", f.Lending.MinPrincipal, &cfg.Policy.MinPrincipal},
		{"lending.max_principal", f.Lending.MaxPrincipal, &cfg.Policy.MaxPrincipal},
	}
	for _, a := range amounts {
		if a.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(a.raw)
		if err != nil {
			return fmt.Errorf("parse config file: %s: %w", a.key, err)
		}
		*a.dst = d
	}
	return nil
}

func validate(cfg Config) error {
	p := cfg.Policy
	if p.DefaultMonthlyRate.IsNegative() {
		return fmt.Errorf("default monthly rate must not be negative, got %s", p.DefaultMonthlyRate)
	}
	if !p.MinPrincipal.IsPositive() {
		return fmt.Errorf("min principal must be positive, got %s", p.MinPrincipal)
	}
	if p.MaxPrincipal.LessThan(p.MinPrincipal) {
		return fmt.Errorf("max principal %s is below min principal %s", p.MaxPrincipal, p.MinPrincipal)
	}
	if p.MaxInstallments < 1 {
		return fmt.Errorf("max installments must be at least 1, got %d", p.MaxInstallments)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	return nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envDecimal parses a money or rate env var. Unlike envInt a malformed value is an error.
func envDecimal(name string, fallback decimal.Decimal) (decimal.Decimal, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}
