package config

import (
	"errors"
	"fmt"
	"time"
)

// Validation ranges.
const (
	minWorkerLimit     = 1
	maxWorkerLimit     = 256
	minCopyConcurrency = 1
	maxCopyConcurrency = 64
	minPollInterval    = 10 * time.Millisecond
	maxPollInterval    = 10 * time.Second
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"auto":     true,
	"inotify":  true,
	"fsnotify": true,
}

// Validate checks every value and returns all problems joined.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateDaemon(&cfg.DaemonConfig)...)
	errs = append(errs, validateExecutor(&cfg.ExecutorConfig)...)
	errs = append(errs, validateState(&cfg.StateConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)

	return errors.Join(errs...)
}

func validateDaemon(d *DaemonConfig) []error {
	var errs []error

	if d.WorkerLimit < minWorkerLimit || d.WorkerLimit > maxWorkerLimit {
		errs = append(errs, fmt.Errorf("worker_limit: must be between %d and %d, got %d",
			minWorkerLimit, maxWorkerLimit, d.WorkerLimit))
	}

	if d.PairsFile == "" {
		errs = append(errs, errors.New("pairs_file: must not be empty"))
	}

	if d.ControlDir == "" {
		errs = append(errs, errors.New("control_dir: must not be empty"))
	}

	interval, err := time.ParseDuration(d.PollInterval)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("poll_interval: %w", err))
	case interval < minPollInterval || interval > maxPollInterval:
		errs = append(errs, fmt.Errorf("poll_interval: must be between %s and %s, got %s",
			minPollInterval, maxPollInterval, interval))
	}

	if !validBackends[d.MonitorBackend] {
		errs = append(errs, fmt.Errorf("monitor_backend: must be one of auto, inotify, fsnotify; got %q",
			d.MonitorBackend))
	}

	return errs
}

func validateExecutor(e *ExecutorConfig) []error {
	if e.CopyConcurrency < minCopyConcurrency || e.CopyConcurrency > maxCopyConcurrency {
		return []error{fmt.Errorf("copy_concurrency: must be between %d and %d, got %d",
			minCopyConcurrency, maxCopyConcurrency, e.CopyConcurrency)}
	}

	return nil
}

func validateState(s *StateConfig) []error {
	var errs []error

	if s.HistoryDB == "" {
		errs = append(errs, errors.New("history_db: must not be empty"))
	}

	if s.LockFile == "" {
		errs = append(errs, errors.New("lock_file: must not be empty"))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if l.LogFile == "" {
		errs = append(errs, errors.New("log_file: must not be empty"))
	}

	if l.LogMaxSizeMB < 0 {
		errs = append(errs, fmt.Errorf("log_max_size_mb: must be >= 0, got %d", l.LogMaxSizeMB))
	}

	if l.LogMaxBackups < 0 {
		errs = append(errs, fmt.Errorf("log_max_backups: must be >= 0, got %d", l.LogMaxBackups))
	}

	return errs
}
