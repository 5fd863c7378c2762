//go:build !linux

package monitor

import "log/slog"

func newInotifySource(*slog.Logger) (Source, error) {
	return nil, ErrUnsupported
}
