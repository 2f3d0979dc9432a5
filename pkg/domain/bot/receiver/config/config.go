package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/napryag/salon_bot/pkg/repository/api"
	"github.com/napryag/salon_bot/pkg/repository/cache"
	"github.com/napryag/salon_bot/pkg/utils/errs"
)

const (
	PathEnv        = "APP_CONFIG"
	defaultPath    = "cmd/bot/etc/app.yml"
	defaultDays    = 7
	defaultIdleTTL = 30 * time.Minute
	defaultSweep   = 5 * time.Minute
)

type SessionConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type Config struct {
	LogLevel     string        `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	Timezone     string        `yaml:"timezone" validate:"required,timezone"`
	BookingDays  int           `yaml:"booking_days" validate:"gte=0,lte=30"`
	API          api.Config    `yaml:"api"`
	PostgresAddr string        `yaml:"postgres_addr" validate:"required"`
	Redis        cache.Config  `yaml:"redis"`
	Session      SessionConfig `yaml:"session"`

	BotToken  string `yaml:"-" validate:"required"`
	ChannelID string `yaml:"-"`

	Location *time.Location `yaml:"-"`
}

// LoadConfig reads the YAML file named by APP_CONFIG (cmd/bot/etc/app.yml by
// default), then TG_TOKEN and TG_CHANNEL_ID from the environment or .env.
func LoadConfig() (*Config, error) {
	path := os.Getenv(PathEnv)
	if path == "" {
		path = filepath.FromSlash(defaultPath)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New("failed to read config file").Arg("path", path).Wrap(err)
	}

	if err = godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errs.New("failed to load .env").Wrap(err)
	}
	return Parse(data, os.Getenv)
}

// Parse decodes and validates a config; getenv supplies the secrets.
func Parse(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.New("failed to unmarshal YAML").Wrap(err)
	}
	cfg.BotToken = getenv("TG_TOKEN")
	cfg.ChannelID = getenv("TG_CHANNEL_ID")
	cfg.applyDefaults()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, errs.New("config validation failed").Wrap(err)
	}
	if cfg.ChannelID != "" {
		if _, err := strconv.ParseInt(cfg.ChannelID, 10, 64); err != nil && cfg.ChannelID[0] != '@' {
			return nil, errs.New("TG_CHANNEL_ID must be a chat id or @channel").Arg("value", cfg.ChannelID)
		}
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, errs.New("unknown timezone").Arg("timezone", cfg.Timezone).Wrap(err)
	}
	cfg.Location = loc
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.BookingDays == 0 {
		c.BookingDays = defaultDays
	}
	if c.Session.IdleTTL <= 0 {
		c.Session.IdleTTL = defaultIdleTTL
	}
	if c.Session.SweepInterval <= 0 {
		c.Session.SweepInterval = defaultSweep
	}
}
