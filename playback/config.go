package playback

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds pacing settings loaded from the environment or a YAML file.
type Config struct {
	Delay       time.Duration `env:"PLAYBACK_DELAY" envDefault:"250ms" yaml:"delay"`
	MinDelay    time.Duration `env:"PLAYBACK_MIN_DELAY" envDefault:"0s" yaml:"min_delay"`
	MaxDelay    time.Duration `env:"PLAYBACK_MAX_DELAY" envDefault:"5s" yaml:"max_delay"`
	PullTimeout time.Duration `env:"PLAYBACK_PULL_TIMEOUT" envDefault:"0s" yaml:"pull_timeout"`
}

// LoadConfig parses Config from the process environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML config file on top of LoadConfig. Keys present
// in the file win over the environment; absent keys keep their env value.
//
//	delay: 100ms
//	max_delay: 2s
func LoadConfigFile(path string) (Config, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Options converts the config into Controller options.
func (c Config) Options() []Option {
	return []Option{
		WithOptions(Options{
			Delay:       c.Delay,
			MinDelay:    c.MinDelay,
			MaxDelay:    c.MaxDelay,
			PullTimeout: c.PullTimeout,
		}),
	}
}
