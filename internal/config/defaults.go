package config

import (
	"path/filepath"
	"time"
)

// Default values for configuration options.
const (
	defaultWorkerLimit     = 4
	defaultControlDir      = "."
	defaultPollInterval    = "100ms"
	defaultPollDuration    = 100 * time.Millisecond
	defaultMonitorBackend  = "auto"
	defaultCopyConcurrency = 4
	defaultLogLevel        = "info"
	defaultLogMaxSizeMB    = 50
	defaultLogMaxBackups   = 3

	pairsFileName   = "pairs.conf"
	historyFileName = "history.db"
	lockFileName    = "dirsync.lock"
	logFileName     = "manager.log"
)

// DefaultConfig returns a Config populated with all default values. Paths
// are derived from the platform config and data directories.
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()

	return &Config{
		DaemonConfig: DaemonConfig{
			WorkerLimit:    defaultWorkerLimit,
			PairsFile:      joinIfSet(DefaultConfigDir(), pairsFileName),
			ControlDir:     defaultControlDir,
			PollInterval:   defaultPollInterval,
			MonitorBackend: defaultMonitorBackend,
		},
		ExecutorConfig: ExecutorConfig{
			CopyConcurrency: defaultCopyConcurrency,
		},
		StateConfig: StateConfig{
			HistoryDB: joinIfSet(dataDir, historyFileName),
			LockFile:  joinIfSet(dataDir, lockFileName),
		},
		LoggingConfig: LoggingConfig{
			LogLevel:      defaultLogLevel,
			LogFile:       joinIfSet(dataDir, logFileName),
			LogMaxSizeMB:  defaultLogMaxSizeMB,
			LogMaxBackups: defaultLogMaxBackups,
		},
	}
}

func joinIfSet(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}
