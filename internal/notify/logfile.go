package notify

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileOptions configures the rotating log-file sink.
type LogFileOptions struct {
	Path       string
	MaxSizeMB  int // 0 disables size-based rotation
	MaxBackups int
}

// OpenLogFile opens the append-only log file. The parent directory is
// created if missing.
func OpenLogFile(opts LogFileOptions) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("notify: creating log directory: %w", err)
	}

	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		// lumberjack treats 0 as its 100MB default; use a size that never rotates.
		maxSize = 1 << 20
	}

	l := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
	}

	// Open eagerly so a bad path fails at startup, not on the first message.
	if _, err := l.Write(nil); err != nil {
		return nil, fmt.Errorf("notify: opening log file %s: %w", opts.Path, err)
	}

	return l, nil
}
