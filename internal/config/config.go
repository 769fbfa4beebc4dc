// Package config loads runtime configuration from a JSON file backend
// with environment-variable overrides (PENGEPLAN_*).
package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Planner PlannerConfig
	Ingest  IngestConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type PlannerConfig struct {
	MetricsWindowDays int
}

type IngestConfig struct {
	PollIntervalMs int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Planner: PlannerConfig{
			MetricsWindowDays: 7,
		},
		Ingest: IngestConfig{
			PollIntervalMs: 500,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "pengeplan-data"
		}
	}
	return filepath.Join(dir, "pengeplan")
}

// Load reads configuration from the file backend at
// $XDG_CONFIG_HOME/pengeplan/config.json, then applies PENGEPLAN_*
// environment overrides on top.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}
