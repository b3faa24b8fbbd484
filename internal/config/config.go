// Package config loads axql's own runtime configuration (pool sizing,
// DSN, logging) the way the teacher's internal/domain.Config is shaped
// for viper: a flat struct with parallel toml/mapstructure tags, read
// through viper.
package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/axql/axql"
	"github.com/axql/axql/internal/dsn"
)

// Config is axql's runtime configuration.
type Config struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`

	PoolMinSize            int  `toml:"poolMinSize" mapstructure:"poolMinSize"`
	PoolMaxSize            int  `toml:"poolMaxSize" mapstructure:"poolMaxSize"`
	AcquireTimeoutSeconds  int  `toml:"acquireTimeoutSeconds" mapstructure:"acquireTimeoutSeconds"`
	IdleTimeoutSeconds     int  `toml:"idleTimeoutSeconds" mapstructure:"idleTimeoutSeconds"`
	MaxLifetimeSeconds     int  `toml:"maxLifetimeSeconds" mapstructure:"maxLifetimeSeconds"`
	TestOnAcquire          bool `toml:"testOnAcquire" mapstructure:"testOnAcquire"`
	Fair                   bool `toml:"fair" mapstructure:"fair"`
	StatementCacheCapacity int  `toml:"statementCacheCapacity" mapstructure:"statementCacheCapacity"`

	LogLevel       string `toml:"logLevel" mapstructure:"logLevel"`
	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("poolMinSize", 2)
	v.SetDefault("poolMaxSize", 10)
	v.SetDefault("acquireTimeoutSeconds", 30)
	v.SetDefault("idleTimeoutSeconds", 300)
	v.SetDefault("maxLifetimeSeconds", 0)
	v.SetDefault("testOnAcquire", false)
	v.SetDefault("fair", true)
	v.SetDefault("statementCacheCapacity", 100)
	v.SetDefault("logLevel", "info")
	v.SetDefault("metricsEnabled", false)
	v.SetDefault("metricsHost", "127.0.0.1")
	v.SetDefault("metricsPort", 9939)
}

// Load reads a TOML config file at path. AXQL_* environment variables
// override values from the file, and the defaults above fill in anything
// still unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("AXQL")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// ConfigureLogging sets the global zerolog level from cfg.LogLevel.
func (c *Config) ConfigureLogging() error {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("config: invalid logLevel %q: %w", c.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

// OpenPool resolves c.DSN and constructs a Pool sized per c's fields.
// hooks may be nil.
func (c *Config) OpenPool(hooks axql.Hooks) (*axql.Pool, error) {
	target, err := dsn.Resolve(c.DSN, dsn.Explicit{StatementCacheCapacity: c.StatementCacheCapacity})
	if err != nil {
		return nil, err
	}

	log.Info().Str("dsn", target.Redacted()).Str("dialect", string(target.Dialect)).Msg("opening axql connection pool")

	cacheCapacity := c.StatementCacheCapacity
	if cacheCapacity == 0 {
		cacheCapacity = target.StatementCacheCapacity
	}

	return axql.NewPool(axql.PoolConfig{
		Dialect:                string(target.Dialect),
		Options:                target.Options,
		MinSize:                c.PoolMinSize,
		MaxSize:                c.PoolMaxSize,
		AcquireTimeout:         secondsToDuration(c.AcquireTimeoutSeconds),
		IdleTimeout:            secondsToDuration(c.IdleTimeoutSeconds),
		MaxLifetime:            secondsToDuration(c.MaxLifetimeSeconds),
		TestOnAcquire:          c.TestOnAcquire,
		Unfair:                 !c.Fair,
		StatementCacheCapacity: cacheCapacity,
		Hooks:                  hooks,
	}), nil
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// MetricsAddr returns the configured metrics listen address and whether
// metrics serving is enabled at all.
func (c *Config) MetricsAddr() (string, bool) {
	if !c.MetricsEnabled {
		return "", false
	}
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort), true
}
