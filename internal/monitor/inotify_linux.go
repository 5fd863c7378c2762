//go:build linux

package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// readBufferSize holds many records per read; the decoder copes with any size.
const readBufferSize = 64 * (unix.SizeofInotifyEvent + unix.NAME_MAX + 1)

// inotifySource reads raw records from an inotify descriptor. A reader
// goroutine moves bytes to a channel; decoding happens on the caller's
// goroutine in Read.
type inotifySource struct {
	fd     int
	file   *os.File
	chunks chan []byte
	ready  chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	dec    Decoder
	logger *slog.Logger
}

func newInotifySource(logger *slog.Logger) (Source, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}

	s := &inotifySource{
		fd:     fd,
		file:   os.NewFile(uintptr(fd), "inotify"),
		chunks: make(chan []byte, 64),
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}

	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

func (s *inotifySource) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, readBufferSize)

	for {
		n, err := s.file.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}

			select {
			case s.ready <- struct{}{}:
			default:
			}
		}

		if err != nil {
			if !errors.Is(err, os.ErrClosed) {
				s.logger.Warn("inotify read failed", slog.String("error", err.Error()))
			}

			return
		}
	}
}

func (s *inotifySource) Add(dir string) (int, error) {
	wd, err := unix.InotifyAddWatch(s.fd, dir, rawWatchMask)
	if err != nil {
		return -1, err
	}

	return wd, nil
}

func (s *inotifySource) Remove(handle int) error {
	_, err := unix.InotifyRmWatch(s.fd, uint32(handle))

	// EINVAL: the kernel already dropped the watch (directory removed).
	if errors.Is(err, unix.EINVAL) {
		return nil
	}

	return err
}

func (s *inotifySource) Ready() <-chan struct{} {
	return s.ready
}

func (s *inotifySource) Read() ([]Record, error) {
	var out []Record

	for {
		select {
		case chunk := <-s.chunks:
			out = append(out, s.dec.Feed(chunk)...)
		default:
			if n := s.dec.Overflows(); n > 0 {
				s.logger.Warn("inotify queue overflowed, events were lost", slog.Int("count", n))
			}

			return out, nil
		}
	}
}

func (s *inotifySource) Close() error {
	close(s.done)
	err := s.file.Close()
	s.wg.Wait()

	return err
}
