package control

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// ErrNotRunning is returned by Dial when no daemon holds the inbound pipe.
var ErrNotRunning = errors.New("control: daemon is not running")

// readPause is how long Receive sleeps while the daemon has not yet
// opened its end of the outbound pipe.
const readPause = 10 * time.Millisecond

// Client is the command-sending end of the control channel.
type Client struct {
	in  *os.File
	out *os.File
}

// Dial opens both pipes in dir. The outbound pipe is opened first so the
// daemon's next reply has a reader.
func Dial(dir string) (*Client, error) {
	outPath := filepath.Join(dir, OutboundName)
	inPath := filepath.Join(dir, InboundName)

	out, err := os.OpenFile(outPath, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s missing", ErrNotRunning, outPath)
		}

		return nil, &ChannelError{Op: "open", Path: outPath, Err: err}
	}

	in, err := os.OpenFile(inPath, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		out.Close()

		if errors.Is(err, unix.ENXIO) || errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotRunning
		}

		return nil, &ChannelError{Op: "open", Path: inPath, Err: err}
	}

	return &Client{in: in, out: out}, nil
}

// Send writes one command line.
func (c *Client) Send(command string) error {
	if _, err := io.WriteString(c.in, command+"\n"); err != nil {
		return &ChannelError{Op: "write", Path: c.in.Name(), Err: err}
	}

	return nil
}

// Receive copies daemon output to w until nothing has arrived for idle.
func (c *Client) Receive(w io.Writer, idle time.Duration) error {
	buf := make([]byte, 4096)
	last := time.Now()

	for time.Since(last) < idle {
		_ = c.out.SetReadDeadline(last.Add(idle))

		n, err := c.out.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}

			last = time.Now()
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			// No writer attached yet.
			time.Sleep(readPause)
		case errors.Is(err, os.ErrDeadlineExceeded):
			return nil
		default:
			return &ChannelError{Op: "read", Path: c.out.Name(), Err: err}
		}
	}

	return nil
}

// Close closes both pipe ends.
func (c *Client) Close() error {
	return errors.Join(c.in.Close(), c.out.Close())
}
