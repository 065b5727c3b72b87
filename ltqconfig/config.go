// Package ltqconfig loads broker URL, concurrency, log level, and drain
// deadline from environment variables and an optional YAML file, using
// viper the way madcok-co/unicorn's config layer does. Missing values fall
// back to sane defaults rather than failing Load.
package ltqconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Config is the ambient configuration every LTQ CLI command reads before
// building a broker or worker.
type Config struct {
	BrokerURL     string        `mapstructure:"broker_url"`
	Concurrency   int           `mapstructure:"concurrency"`
	LogLevel      string        `mapstructure:"log_level"`
	DrainDeadline time.Duration `mapstructure:"drain_deadline"`
	RecoverGrace  time.Duration `mapstructure:"recover_grace"`
}

// defaults mirror the Worker package's own defaults so a Config loaded with
// nothing set behaves exactly like constructing a Worker with no options.
func defaults() Config {
	return Config{
		BrokerURL:     "memory://",
		Concurrency:   100,
		LogLevel:      "info",
		DrainDeadline: 30 * time.Second,
		RecoverGrace:  5 * time.Minute,
	}
}

// Load reads configuration from environment variables (prefixed LTQ_, e.g.
// LTQ_BROKER_URL, LTQ_CONCURRENCY) and, if configFile is non-empty, from a
// YAML file, with environment variables taking precedence. A missing file
// is not an error; an unparseable one is.
func Load(configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LTQ")
	v.AutomaticEnv()

	d := defaults()
	v.SetDefault("broker_url", d.BrokerURL)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("drain_deadline", d.DrainDeadline)
	v.SetDefault("recover_grace", d.RecoverGrace)

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("ltqconfig: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("ltqconfig: unmarshal: %w", err)
	}
	return cfg, nil
}
