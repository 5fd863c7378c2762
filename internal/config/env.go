package config

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variable names for overrides.
const (
	EnvConfig     = "DIRSYNC_CONFIG"
	EnvWorkers    = "DIRSYNC_WORKERS"
	EnvControlDir = "DIRSYNC_CONTROL_DIR"
)

// EnvOverrides holds values read from environment variables.
type EnvOverrides struct {
	ConfigPath string // DIRSYNC_CONFIG: config file path
	Workers    string // DIRSYNC_WORKERS: worker_limit
	ControlDir string // DIRSYNC_CONTROL_DIR: control_dir
}

// ReadEnvOverrides reads the override variables.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Workers:    os.Getenv(EnvWorkers),
		ControlDir: os.Getenv(EnvControlDir),
	}
}

func (e EnvOverrides) apply(cfg *Config) error {
	if e.Workers != "" {
		n, err := strconv.Atoi(e.Workers)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorkers, err)
		}

		cfg.WorkerLimit = n
	}

	if e.ControlDir != "" {
		cfg.ControlDir = e.ControlDir
	}

	return nil
}
