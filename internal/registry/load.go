package registry

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ErrNotDirectory is wrapped by ConfigError when a listed path is not a directory.
var ErrNotDirectory = errors.New("registry: not a directory")

// ConfigError reports a directory-pairs line naming a path that does not
// exist or cannot be used. Loading stops at the first ConfigError; entries
// loaded before it are kept.
type ConfigError struct {
	File string
	Line int
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("registry: %s:%d: directory %s: %v", e.File, e.Line, e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadFile reads directory pairs from path. A missing file is not an error:
// the registry simply starts empty. Returns the number of entries added.
func (r *Registry) LoadFile(path string) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		r.logger.Info("directory pairs file not found, starting empty", slog.String("path", path))
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("registry: opening %s: %w", path, err)
	}
	defer f.Close()

	return r.Load(f, path)
}

// Load reads "<source> <target>" lines from rd. Empty lines and lines
// starting with '#' are ignored. Lines with fewer than two fields are
// skipped with a warning, as are sources already present.
func (r *Registry) Load(rd io.Reader, name string) (int, error) {
	scanner := bufio.NewScanner(rd)
	added := 0
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			r.logger.Warn("skipping malformed directory pair",
				slog.String("file", name),
				slog.Int("line", lineNo),
			)

			continue
		}

		source, target := fields[0], fields[1]

		for _, dir := range []string{source, target} {
			if err := checkDir(dir); err != nil {
				return added, &ConfigError{File: name, Line: lineNo, Path: dir, Err: err}
			}
		}

		if _, ok := r.entries[source]; ok {
			r.logger.Warn("skipping duplicate source directory",
				slog.String("file", name),
				slog.Int("line", lineNo),
				slog.String("source", source),
			)

			continue
		}

		if _, err := r.Add(source, target); err != nil {
			return added, err
		}

		added++
	}

	if err := scanner.Err(); err != nil {
		return added, fmt.Errorf("registry: reading %s: %w", name, err)
	}

	return added, nil
}

func checkDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	return nil
}
