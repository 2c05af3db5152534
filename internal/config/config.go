// Package config loads server settings from defaults, an optional yaml file
// and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Env  string
	Port string

	DBDriver string
	DBDSN    string

	JWTSecret string
	// Operators maps API keys to secrets allowed to request tokens.
	Operators map[string]string

	PlatformFeeRate decimal.Decimal

	KafkaBrokers               []string
	KafkaGroupID               string
	KafkaTopicFundingSucceeded string

	ProcessorInterval  time.Duration
	SimulateGateway    bool
	GatewaySuccessRate float64
}

type configFile struct {
	Service struct {
		Env  string `yaml:"env"`
		Port string `yaml:"port"`
	} `yaml:"service"`
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret string            `yaml:"jwt_secret"`
		Operators map[string]string `yaml:"operators"`
	} `yaml:"auth"`
	Settlement struct {
		PlatformFeeRate    string  `yaml:"platform_fee_rate"`
		ProcessorInterval  int     `yaml:"processor_interval_seconds"`
		SimulateGateway    *bool   `yaml:"simulate_gateway"`
		GatewaySuccessRate float64 `yaml:"gateway_success_rate"`
	} `yaml:"settlement"`
	Kafka struct {
		Brokers               []string `yaml:"brokers"`
		GroupID               string   `yaml:"group_id"`
		TopicFundingSucceeded string   `yaml:"topic_funding_succeeded"`
	} `yaml:"kafka"`
}

// LoadConfig reads path if it exists, then applies environment overrides. A
// missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		Env:                        "development",
		Port:                       "8080",
		DBDriver:                   DriverSQLite,
		DBDSN:                      "funding.db?_txlock=immediate&_busy_timeout=5000",
		JWTSecret:                  "klear-secret-key",
		Operators:                  map[string]string{},
		PlatformFeeRate:            decimal.RequireFromString("0.05"),
		KafkaGroupID:               "settlement-engine",
		KafkaTopicFundingSucceeded: "funding.succeeded",
		ProcessorInterval:          5 * time.Minute,
		SimulateGateway:            true,
		GatewaySuccessRate:         0.95,
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if f.Service.Env != "" {
		cfg.Env = f.Service.Env
	}
	if f.Service.Port != "" {
		cfg.Port = f.Service.Port
	}
	if f.Database.Driver != "" {
		cfg.DBDriver = f.Database.Driver
	}
	if f.Database.DSN != "" {
		cfg.DBDSN = f.Database.DSN
	}
	if f.Auth.JWTSecret != "" {
		cfg.JWTSecret = f.Auth.JWTSecret
	}
	for key, secret := range f.Auth.Operators {
		cfg.Operators[key] = secret
	}
	if f.Settlement.PlatformFeeRate != "" {
		rate, err := decimal.NewFromString(f.Settlement.PlatformFeeRate)
		if err != nil {
			return fmt.Errorf("parse platform_fee_rate: %w", err)
		}
		cfg.PlatformFeeRate = rate
	}
	if f.Settlement.ProcessorInterval > 0 {
		cfg.ProcessorInterval = time.Duration(f.Settlement.ProcessorInterval) * time.Second
	}
	if f.Settlement.SimulateGateway != nil {
		cfg.SimulateGateway = *f.Settlement.SimulateGateway
	}
	if f.Settlement.GatewaySuccessRate > 0 {
		cfg.GatewaySuccessRate = f.Settlement.GatewaySuccessRate
	}
	if len(f.Kafka.Brokers) > 0 {
		cfg.KafkaBrokers = trimNonEmpty(f.Kafka.Brokers)
	}
	if f.Kafka.GroupID != "" {
		cfg.KafkaGroupID = f.Kafka.GroupID
	}
	if f.Kafka.TopicFundingSucceeded != "" {
		cfg.KafkaTopicFundingSucceeded = f.Kafka.TopicFundingSucceeded
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Env = envOrDefault("ENV", cfg.Env)
	cfg.Port = envOrDefault("PORT", cfg.Port)
	cfg.DBDriver = envOrDefault("DB_DRIVER", cfg.DBDriver)
	cfg.DBDSN = envOrDefault("DB_DSN", cfg.DBDSN)
	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaGroupID = envOrDefault("KAFKA_GROUP_ID", cfg.KafkaGroupID)
	cfg.KafkaTopicFundingSucceeded = envOrDefault("KAFKA_TOPIC_FUNDING_SUCCEEDED", cfg.KafkaTopicFundingSucceeded)
	cfg.ProcessorInterval = time.Duration(envInt("PROCESSOR_INTERVAL_SECONDS", int(cfg.ProcessorInterval.Seconds()))) * time.Second
	cfg.SimulateGateway = envBool("SIMULATE_GATEWAY", cfg.SimulateGateway)
	cfg.GatewaySuccessRate = envFloat("GATEWAY_SUCCESS_RATE", cfg.GatewaySuccessRate)

	if raw := os.Getenv("PLATFORM_FEE_RATE"); raw != "" {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("parse PLATFORM_FEE_RATE: %w", err)
		}
		cfg.PlatformFeeRate = rate
	}
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.PlatformFeeRate.IsNegative() || c.PlatformFeeRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("platform fee rate %s outside [0,1]", c.PlatformFeeRate)
	}
	if c.DBDriver != DriverSQLite && c.DBDriver != DriverPostgres {
		return fmt.Errorf("unsupported database driver %q", c.DBDriver)
	}
	if c.GatewaySuccessRate < 0 || c.GatewaySuccessRate > 1 {
		return fmt.Errorf("gateway success rate %v outside [0,1]", c.GatewaySuccessRate)
	}
	if c.JWTSecret == "" {
		return errors.New("jwt secret is required")
	}
	return nil
}

// KafkaEnabled reports whether funding events go through a broker.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

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

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return trimNonEmpty(strings.Split(raw, ","))
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
