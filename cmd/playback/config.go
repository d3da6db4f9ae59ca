package main

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/dshills/playback-go/internal/algo"
	"github.com/dshills/playback-go/playback"
	"github.com/dshills/playback-go/playback/store"
)

// cliConfig is the CLI configuration. Values come from defaults, then the
// environment, then the YAML file named by --config:
//
//	playback:
//	  delay: 100ms
//	  max_delay: 2s
//	store:
//	  driver: mysql
//	  dsn: user:pass@tcp(localhost:3306)/playback
//	serve:
//	  addr: ":8080"
//	size: 32
type cliConfig struct {
	Playback playback.Config `yaml:"playback"`
	Store    storeConfig     `yaml:"store" envPrefix:"PLAYBACK_STORE_"`
	Serve    serveConfig     `yaml:"serve"`
	Size     int             `yaml:"size" env:"PLAYBACK_SIZE" envDefault:"24"`
}

type storeConfig struct {
	Driver string `yaml:"driver" env:"DRIVER" envDefault:"sqlite"`
	DSN    string `yaml:"dsn" env:"DSN" envDefault:"playback.db"`
}

type serveConfig struct {
	Addr string `yaml:"addr" env:"PLAYBACK_ADDR" envDefault:":8080"`
}

func loadConfig(path string) (cliConfig, error) {
	var cfg cliConfig
	if err := env.Parse(&cfg); err != nil {
		return cliConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cliConfig{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c cliConfig) validate() error {
	if c.Size < 2 {
		return fmt.Errorf("size must be at least 2, got %d", c.Size)
	}
	switch c.Store.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unknown store driver %q (want sqlite or mysql)", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store dsn is empty")
	}
	return nil
}

// openStore opens the configured run history store.
func openStore(c storeConfig) (store.Store[algo.Frame], error) {
	switch c.Driver {
	case "mysql":
		st, err := store.NewMySQLStore[algo.Frame](c.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		st, err := store.NewSQLiteStore[algo.Frame](c.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}
