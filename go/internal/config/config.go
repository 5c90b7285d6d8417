// Package config loads process settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/buzzer/go/internal/dbconfig"
	"github.com/mcdev12/buzzer/go/internal/game/timer"
)

// Transport backends.
const (
	TransportNATS  = "nats"
	TransportRedis = "redis"
)

type Config struct {
	LogLevel string `yaml:"log_level"`

	Transport struct {
		Backend  string `yaml:"backend"`
		NATSURL  string `yaml:"nats_url"`
		RedisURL string `yaml:"redis_url"`
	} `yaml:"transport"`

	HTTP struct {
		ControllerPort string `yaml:"controller_port"`
		GatewayPort    string `yaml:"gateway_port"`
	} `yaml:"http"`

	Timings struct {
		Judging        time.Duration `yaml:"judging"`
		FinalResponse  time.Duration `yaml:"final_response"`
		ResyncInterval time.Duration `yaml:"resync_interval"`
	} `yaml:"timings"`

	ContentPack string `yaml:"content_pack"`

	Database dbconfig.Config `yaml:"-"`
}

// Default returns the settings used when neither file nor environment set them.
func Default() *Config {
	cfg := &Config{LogLevel: "info"}
	cfg.Transport.Backend = TransportNATS
	cfg.Transport.NATSURL = "nats://localhost:4222"
	cfg.Transport.RedisURL = "redis://localhost:6379/0"
	cfg.HTTP.ControllerPort = "8080"
	cfg.HTTP.GatewayPort = "8081"
	cfg.Timings.Judging = timer.Judging
	cfg.Timings.FinalResponse = timer.FinalResponse
	cfg.Timings.ResyncInterval = 30 * time.Second
	return cfg
}

// Load reads .env, then the YAML file at path if it exists, then the
// environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Debug().Str("path", path).Msg("no config file, using defaults")
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Transport.Backend = getEnv("TRANSPORT", cfg.Transport.Backend)
	cfg.Transport.NATSURL = getEnv("NATS_URL", cfg.Transport.NATSURL)
	cfg.Transport.RedisURL = getEnv("REDIS_URL", cfg.Transport.RedisURL)
	cfg.HTTP.ControllerPort = getEnv("PORT", cfg.HTTP.ControllerPort)
	cfg.HTTP.GatewayPort = getEnv("GATEWAY_PORT", cfg.HTTP.GatewayPort)
	cfg.Timings.Judging = getEnvAsDuration("JUDGING_TIMEOUT", cfg.Timings.Judging)
	cfg.Timings.FinalResponse = getEnvAsDuration("FINAL_TIMEOUT", cfg.Timings.FinalResponse)
	cfg.Timings.ResyncInterval = getEnvAsDuration("RESYNC_INTERVAL", cfg.Timings.ResyncInterval)
	cfg.ContentPack = getEnv("CONTENT_PACK", cfg.ContentPack)
	cfg.Database = dbconfig.NewConfigFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values a process cannot start without.
func (c *Config) Validate() error {
	switch c.Transport.Backend {
	case TransportNATS, TransportRedis:
	default:
		return fmt.Errorf("unknown transport backend %q", c.Transport.Backend)
	}
	if c.Timings.Judging <= 0 || c.Timings.FinalResponse <= 0 {
		return errors.New("timer durations must be positive")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// SetupLogging points the global logger at a console writer on stderr at
// the configured level.
func (c *Config) SetupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs := getEnvAsInt(key, -1); secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
