// Package config loads service settings from app.env and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"skillbarter/notify"
)

// Config holds every setting the binaries read.
type Config struct {
	ServerAddress      string        `mapstructure:"SERVER_ADDRESS"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	MigrationURL       string        `mapstructure:"MIGRATION_URL"`
	JWTSecret          string        `mapstructure:"JWT_SECRET"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	RedisChannelPrefix string        `mapstructure:"REDIS_CHANNEL_PREFIX"`
	KafkaBrokers       string        `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic         string        `mapstructure:"KAFKA_TOPIC"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	ExpireAfter        time.Duration `mapstructure:"EXPIRE_AFTER"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
}

var keys = []string{
	"SERVER_ADDRESS", "DATABASE_URL", "MIGRATION_URL", "JWT_SECRET",
	"REDIS_URL", "REDIS_CHANNEL_PREFIX", "KAFKA_BROKERS", "KAFKA_TOPIC",
	"REQUEST_TIMEOUT", "LOG_LEVEL", "EXPIRE_AFTER", "DB_MAX_CONNS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_ADDRESS", ":8080")
	v.SetDefault("MIGRATION_URL", "file://migrations")
	v.SetDefault("REDIS_CHANNEL_PREFIX", "exchange")
	v.SetDefault("KAFKA_TOPIC", "exchange-events")
	v.SetDefault("REQUEST_TIMEOUT", 10*time.Second)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("EXPIRE_AFTER", 30*24*time.Hour)
	v.SetDefault("DB_MAX_CONNS", 10)
}

// LoadConfig reads app.env from path when present; environment variables
// override the file.
func LoadConfig(path string) (cfg Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)
	// Unmarshal only sees keys viper knows about
	for _, k := range keys {
		if err = v.BindEnv(k); err != nil {
			return cfg, fmt.Errorf("config: bind %s: %w", k, err)
		}
	}

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("config: read: %w", err)
		}
	}
	if err = v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Brokers splits KAFKA_BROKERS on commas.
func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NotifyOptions selects the notification sinks both binaries publish to.
func (c Config) NotifyOptions() notify.Options {
	return notify.Options{
		RedisURL:      c.RedisURL,
		ChannelPrefix: c.RedisChannelPrefix,
		KafkaBrokers:  c.Brokers(),
		KafkaTopic:    c.KafkaTopic,
	}
}
