// Package control implements the daemon's control channel: a pair of
// named pipes in a directory. Commands arrive one per line on the inbound
// pipe; replies and notifications go out on the outbound pipe.
package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Pipe names inside the control directory.
const (
	InboundName  = "fss_in"
	OutboundName = "fss_out"
)

// DefaultWriteTimeout bounds a single outbound write.
const DefaultWriteTimeout = 200 * time.Millisecond

// ErrNoReader is wrapped by ChannelError when nobody has the outbound pipe open.
var ErrNoReader = errors.New("control: no reader on outbound pipe")

// ChannelError reports a failed control-channel operation.
type ChannelError struct {
	Op   string
	Path string
	Err  error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("control: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Channel is the daemon end of the control channel. Write implements the
// interactive sink; Listen feeds inbound lines to the event loop.
type Channel struct {
	inPath       string
	outPath      string
	in           *os.File
	writeTimeout time.Duration
	logger       *slog.Logger

	mu  sync.Mutex // guards out
	out *os.File
}

// Open creates both pipes in dir, replacing stale ones, and opens the
// inbound pipe. The inbound pipe is opened read-write so it never reports
// EOF while no client is connected.
func Open(dir string, logger *slog.Logger) (*Channel, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &ChannelError{Op: "create", Path: dir, Err: err}
	}

	c := &Channel{
		inPath:       filepath.Join(dir, InboundName),
		outPath:      filepath.Join(dir, OutboundName),
		writeTimeout: DefaultWriteTimeout,
		logger:       logger,
	}

	for _, p := range []string{c.inPath, c.outPath} {
		if err := makeFifo(p); err != nil {
			return nil, err
		}
	}

	in, err := os.OpenFile(c.inPath, os.O_RDWR, 0)
	if err != nil {
		return nil, &ChannelError{Op: "open", Path: c.inPath, Err: err}
	}

	c.in = in
	logger.Debug("control channel open", slog.String("in", c.inPath), slog.String("out", c.outPath))

	return c, nil
}

func makeFifo(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &ChannelError{Op: "remove", Path: path, Err: err}
	}

	if err := unix.Mkfifo(path, 0o600); err != nil {
		return &ChannelError{Op: "mkfifo", Path: path, Err: err}
	}

	return nil
}

// SetWriteTimeout changes the per-write deadline on the outbound pipe.
func (c *Channel) SetWriteTimeout(d time.Duration) {
	c.writeTimeout = d
}

// Listen sends each inbound line to lines until ctx is done or the
// channel is closed. It closes lines on return.
func (c *Channel) Listen(ctx context.Context, lines chan<- string) error {
	defer close(lines)

	stop := context.AfterFunc(ctx, func() {
		// Unblocks the pending read.
		_ = c.in.SetReadDeadline(time.Now())
	})
	defer stop()

	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return nil
		}
	}

	err := scanner.Err()
	if err == nil || ctx.Err() != nil || errors.Is(err, os.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
		return nil
	}

	return &ChannelError{Op: "read", Path: c.inPath, Err: err}
}

// Write sends p on the outbound pipe. The pipe is opened lazily and
// without blocking; with no reader attached the write fails fast with
// ErrNoReader and the message is dropped.
func (c *Channel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.out == nil {
		f, err := os.OpenFile(c.outPath, os.O_WRONLY|unix.O_NONBLOCK, 0)
		if err != nil {
			if errors.Is(err, unix.ENXIO) {
				err = ErrNoReader
			}

			return 0, &ChannelError{Op: "open", Path: c.outPath, Err: err}
		}

		c.out = f
	}

	_ = c.out.SetWriteDeadline(time.Now().Add(c.writeTimeout))

	n, err := c.out.Write(p)
	if err != nil {
		// The reader went away or stalled; reopen on the next write.
		c.out.Close()
		c.out = nil

		if errors.Is(err, unix.EPIPE) {
			err = ErrNoReader
		}

		return n, &ChannelError{Op: "write", Path: c.outPath, Err: err}
	}

	return n, nil
}

// Close closes both pipes and removes them from the control directory.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error

	if c.out != nil {
		errs = append(errs, c.out.Close())
		c.out = nil
	}

	errs = append(errs, c.in.Close())

	for _, p := range []string{c.inPath, c.outPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
