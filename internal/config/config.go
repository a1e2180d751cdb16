package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	Relay  RelayConfig  `mapstructure:"relay"`
	Signal SignalConfig `mapstructure:"signaling"`
}

// RelayConfig bounds what a single connection may push through the relay.
type RelayConfig struct {
	URL        string        `mapstructure:"url"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

// SignalConfig tunes the interaction state machines and registries.
type SignalConfig struct {
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	RetryLimit      int           `mapstructure:"retry_limit"`
	ExpiredTTL      time.Duration `mapstructure:"expired_ttl"`
	ExpiredCapacity int           `mapstructure:"expired_capacity"`
	StageCapacity   int           `mapstructure:"stage_capacity"`
	OutboxSize      int           `mapstructure:"outbox_size"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		fileName = fmt.Sprintf("%s/config.%s.yaml", dir, env)
	}

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "classroom-dev-secret")
	v.SetDefault("log_level", "info")

	v.SetDefault("relay.url", "ws://localhost:8080/api/ws/relay")
	v.SetDefault("relay.rate_limit", 50)
	v.SetDefault("relay.rate_window", "1s")

	v.SetDefault("signaling.retry_interval", "5s")
	v.SetDefault("signaling.retry_limit", 11)
	v.SetDefault("signaling.expired_ttl", "10m")
	v.SetDefault("signaling.expired_capacity", 4096)
	v.SetDefault("signaling.stage_capacity", 6)
	v.SetDefault("signaling.outbox_size", 64)

	v.SetEnvPrefix("CLASSROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}
