// Package config loads the service configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/minhvt/candlecast/model/candle"
)

type Config struct {
	Symbols   []string `mapstructure:"symbols"`
	Intervals []string `mapstructure:"intervals"`

	Binance  BinanceConfig  `mapstructure:"binance"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Server   ServerConfig   `mapstructure:"server"`
	Backfill BackfillConfig `mapstructure:"backfill"`

	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

type BinanceConfig struct {
	StreamBaseURL string `mapstructure:"stream_base_url"`
	RESTBaseURL   string `mapstructure:"rest_base_url"`
}

type StorageConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type RedisConfig struct {
	// Enabled selects redis for the broadcast bus and durable log;
	// when false the service runs on the in-process bus (dev mode).
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type BackfillConfig struct {
	Limit   int `mapstructure:"limit"`
	Workers int `mapstructure:"workers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("intervals", []string{"1m", "1h"})
	v.SetDefault("binance.stream_base_url", "wss://stream.binance.com:9443/stream")
	v.SetDefault("binance.rest_base_url", "https://api.binance.com")
	v.SetDefault("storage.base_url", "http://localhost:8080")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("server.addr", ":8081")
	v.SetDefault("backfill.limit", 1000)
	v.SetDefault("backfill.workers", 4)
	v.SetDefault("http_timeout", 10*time.Second)
}

// Load reads the config file at path, or the defaults plus environment
// when path is empty. Environment keys use the CANDLECAST_ prefix with
// dots replaced by underscores.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CANDLECAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: at least one symbol is required")
	}
	if len(c.Intervals) == 0 {
		return fmt.Errorf("config: at least one interval is required")
	}
	for _, iv := range c.Intervals {
		if _, err := candle.ParseInterval(iv); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// Pairs expands the symbol and interval lists into every tracked
// (symbol, interval) combination.
func (c *Config) Pairs() []candle.Pair {
	out := make([]candle.Pair, 0, len(c.Symbols)*len(c.Intervals))
	for _, s := range c.Symbols {
		for _, iv := range c.Intervals {
			out = append(out, candle.Pair{
				Symbol:   strings.ToUpper(s),
				Interval: candle.Interval(iv),
			})
		}
	}
	return out
}
