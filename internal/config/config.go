// Package config loads the daemon's TOML configuration and resolves the
// override chain: defaults -> config file -> environment -> CLI flags.
package config

import (
	"fmt"
	"time"
)

// Config is the daemon configuration. Sub-structs are embedded so their
// keys sit flat at the top level of the TOML file.
type Config struct {
	DaemonConfig
	ExecutorConfig
	StateConfig
	LoggingConfig
}

// DaemonConfig controls the pool, control channel and event loop.
type DaemonConfig struct {
	WorkerLimit    int    `toml:"worker_limit"`
	PairsFile      string `toml:"pairs_file"`
	ControlDir     string `toml:"control_dir"`
	PollInterval   string `toml:"poll_interval"`
	MonitorBackend string `toml:"monitor_backend"`
}

// ExecutorConfig controls the worker subprocess. An empty ExecutorPath
// makes the daemon re-execute its own binary.
type ExecutorConfig struct {
	ExecutorPath    string `toml:"executor_path"`
	CopyConcurrency int    `toml:"copy_concurrency"`
}

// StateConfig locates files the daemon keeps between runs.
type StateConfig struct {
	HistoryDB string `toml:"history_db"`
	LockFile  string `toml:"lock_file"`
}

// LoggingConfig controls the stderr logger and the message log file.
type LoggingConfig struct {
	LogLevel      string `toml:"log_level"`
	LogFile       string `toml:"log_file"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups"`
}

// PollDuration returns PollInterval parsed. Validate guarantees it parses.
func (c *Config) PollDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return defaultPollDuration
	}

	return d
}

// CLIOverrides holds flag values. Pointer fields distinguish "not passed"
// from an explicit zero value.
type CLIOverrides struct {
	ConfigPath  string
	LogFile     *string
	PairsFile   *string
	WorkerLimit *int
}

// Resolve loads configuration and applies environment and CLI overrides,
// then validates the result.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if err := env.apply(cfg); err != nil {
		return nil, err
	}

	if cli.LogFile != nil {
		cfg.LogFile = *cli.LogFile
	}

	if cli.PairsFile != nil {
		cfg.PairsFile = *cli.PairsFile
	}

	if cli.WorkerLimit != nil {
		cfg.WorkerLimit = *cli.WorkerLimit
	}

	expandPaths(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func expandPaths(cfg *Config) {
	for _, p := range []*string{
		&cfg.PairsFile, &cfg.ControlDir, &cfg.ExecutorPath,
		&cfg.HistoryDB, &cfg.LockFile, &cfg.LogFile,
	} {
		*p = expandTilde(*p)
	}
}
