package scheduler

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Process is a running worker as seen by the scheduler.
type Process interface {
	Pid() int
	// Output is the read end of the worker's stdout. If it supports
	// SetReadDeadline, Collect reads it without blocking.
	Output() io.Reader
	// Poll reports whether the worker has exited, without blocking.
	Poll() (exited bool, exitCode int, err error)
	// Close releases the output stream and process handle.
	Close() error
}

// Spawner starts workers.
type Spawner interface {
	Spawn(task Task) (Process, error)
}

// ExecSpawner starts Path with Args followed by the task argv. Stdin is
// /dev/null, stdout is a pipe back to the scheduler, stderr is inherited.
type ExecSpawner struct {
	Path string
	Args []string
	Env  []string // nil inherits the daemon's environment
}

// Spawn creates the output pipe and starts the worker.
func (s *ExecSpawner) Spawn(task Task) (Process, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}

	devnull, err := os.Open(os.DevNull)
	if err != nil {
		r.Close()
		w.Close()

		return nil, fmt.Errorf("opening %s: %w", os.DevNull, err)
	}
	defer devnull.Close()

	argv := make([]string, 0, 1+len(s.Args)+4)
	argv = append(argv, s.Path)
	argv = append(argv, s.Args...)
	argv = append(argv, task.Args()...)

	p, err := os.StartProcess(s.Path, argv, &os.ProcAttr{
		Env:   s.Env,
		Files: []*os.File{devnull, w, os.Stderr},
	})

	// The worker holds its own copy of the write end; ours must go so the
	// reader sees EOF when the worker exits.
	w.Close()

	if err != nil {
		r.Close()
		return nil, err
	}

	return &osProcess{p: p, out: r}, nil
}

type osProcess struct {
	p   *os.Process
	out *os.File
}

func (o *osProcess) Pid() int          { return o.p.Pid }
func (o *osProcess) Output() io.Reader { return o.out }

func (o *osProcess) Poll() (bool, int, error) {
	var ws unix.WaitStatus

	for {
		pid, err := unix.Wait4(o.p.Pid, &ws, unix.WNOHANG, nil)

		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ECHILD):
			return true, -1, fmt.Errorf("waiting for pid %d: %w", o.p.Pid, err)
		case err != nil:
			return false, 0, fmt.Errorf("waiting for pid %d: %w", o.p.Pid, err)
		case pid == 0:
			return false, 0, nil
		}

		return true, exitCode(ws), nil
	}
}

func exitCode(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return -1
	}
}

func (o *osProcess) Close() error {
	return errors.Join(o.out.Close(), o.p.Release())
}
