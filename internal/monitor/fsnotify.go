package monitor

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// fsnotifySource adapts fsnotify.Watcher to Source. fsnotify has no watch
// descriptors, so handles are allocated here per watched directory.
type fsnotifySource struct {
	w      *fsnotify.Watcher
	logger *slog.Logger
	ready  chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	dirs    map[string]int
	paths   map[int]string
	next    int
	pending []Record
}

func newFsnotifySource(logger *slog.Logger) (Source, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	s := &fsnotifySource{
		w:      w,
		logger: logger,
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
		dirs:   make(map[string]int),
		paths:  make(map[int]string),
		next:   1,
	}

	s.wg.Add(1)
	go s.forward()

	return s, nil
}

func (s *fsnotifySource) forward() {
	defer s.wg.Done()

	for {
		select {
		case ev, ok := <-s.w.Events:
			if !ok {
				return
			}

			s.handle(ev)
		case err, ok := <-s.w.Errors:
			if !ok {
				return
			}

			if errors.Is(err, fsnotify.ErrEventOverflow) {
				s.logger.Warn("fsnotify queue overflowed, events were lost")
				continue
			}

			s.logger.Warn("fsnotify error", slog.String("error", err.Error()))
		case <-s.done:
			return
		}
	}
}

func (s *fsnotifySource) handle(ev fsnotify.Event) {
	var op Op

	if ev.Has(fsnotify.Create) {
		op |= OpCreate
	}

	if ev.Has(fsnotify.Write) {
		op |= OpModify
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		op |= OpDelete
	}

	if op == 0 {
		return
	}

	if op&(OpCreate|OpModify) != 0 {
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			op |= OpIsDir
		}
	}

	dir, name := filepath.Split(ev.Name)

	s.mu.Lock()
	h, ok := s.dirs[filepath.Clean(dir)]
	if ok {
		s.pending = append(s.pending, Record{Handle: h, Op: op, Name: name})
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *fsnotifySource) Add(dir string) (int, error) {
	clean := filepath.Clean(dir)

	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.dirs[clean]; ok {
		return h, nil
	}

	if err := s.w.Add(clean); err != nil {
		return -1, err
	}

	h := s.next
	s.next++
	s.dirs[clean] = h
	s.paths[h] = clean

	return h, nil
}

func (s *fsnotifySource) Remove(handle int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, ok := s.paths[handle]
	if !ok {
		return nil
	}

	delete(s.paths, handle)
	delete(s.dirs, dir)

	err := s.w.Remove(dir)
	if errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return nil
	}

	return err
}

func (s *fsnotifySource) Ready() <-chan struct{} {
	return s.ready
}

func (s *fsnotifySource) Read() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.pending
	s.pending = nil

	return out, nil
}

func (s *fsnotifySource) Close() error {
	close(s.done)
	err := s.w.Close()
	s.wg.Wait()

	return err
}
