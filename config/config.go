// Package config loads server configuration from an optional YAML file,
// FULFILLMENT_* environment variables, and defaults, in that precedence
// (environment wins over the file).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/fulfillment-engine/core"
)

const envPrefix = "FULFILLMENT"

// MemoryDatabase selects the in-memory store instead of SQLite.
const MemoryDatabase = "memory"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Tax      TaxConfig      `mapstructure:"tax"`
	Replay   ReplayConfig   `mapstructure:"replay"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type TaxConfig struct {
	CalcScale       int32         `mapstructure:"calc_scale"`
	FinalScale      int32         `mapstructure:"final_scale"`
	Rounding        string        `mapstructure:"rounding"`
	ServiceURL      string        `mapstructure:"service_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	DefaultRate     string        `mapstructure:"default_rate"`
}

type ReplayConfig struct {
	// Interval triggers a periodic replay; zero disables it.
	Interval time.Duration `mapstructure:"interval"`
}

type RedisConfig struct {
	Addr    string        `mapstructure:"addr"`
	LockKey string        `mapstructure:"lock_key"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// LockWait bounds how long a replay waits for another process to release
	// the lock; zero fails at once with a conflict.
	LockWait time.Duration `mapstructure:"lock_wait"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("database.path", "fulfillment.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("tax.calc_scale", 3)
	v.SetDefault("tax.final_scale", 2)
	v.SetDefault("tax.rounding", string(core.RoundHalfUp))
	v.SetDefault("tax.service_url", "")
	v.SetDefault("tax.timeout", 5*time.Second)
	v.SetDefault("tax.breaker_failures", 5)
	v.SetDefault("tax.default_rate", "0")
	v.SetDefault("replay.interval", time.Duration(0))
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.lock_key", "lock:fulfillment:replay")
	v.SetDefault("redis.lock_ttl", 10*time.Minute)
	v.SetDefault("redis.lock_wait", time.Duration(0))
}

// Load reads path when non-empty. A missing path is an error; an empty path
// uses environment and defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if err := c.Rounding().Validate(); err != nil {
		return fmt.Errorf("tax rounding: %w", err)
	}
	if _, err := c.DefaultTaxRate(); err != nil {
		return err
	}
	if c.Redis.LockWait < 0 {
		return fmt.Errorf("redis.lock_wait %s is negative", c.Redis.LockWait)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	return nil
}

func (c *Config) Rounding() core.RoundingPolicy {
	return core.RoundingPolicy{
		CalcScale:  c.Tax.CalcScale,
		FinalScale: c.Tax.FinalScale,
		Mode:       core.RoundingMode(c.Tax.Rounding),
	}
}

// DefaultTaxRate is the flat rate used when no tax service URL is set.
func (c *Config) DefaultTaxRate() (decimal.Decimal, error) {
	d, err := parseDecimal(c.Tax.DefaultRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("tax.default_rate: %w", err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("tax.default_rate %s is negative", d)
	}
	return d, nil
}

func (c *Config) InMemory() bool { return c.Database.Path == MemoryDatabase }
