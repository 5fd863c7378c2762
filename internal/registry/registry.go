// Package registry holds the set of monitored directory pairs, keyed by the
// exact source path string. It is owned by a single goroutine and does no
// locking.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// NoWatch marks an entry without a watch handle (Inactive).
const NoWatch = -1

// Sentinel errors. Use errors.Is to check.
var (
	ErrNotFound = errors.New("registry: directory not found")
	ErrExists   = errors.New("registry: directory already registered")
	ErrActive   = errors.New("registry: directory is active")
)

// Entry is one monitored directory pair. Watch holds the monitor handle
// while the entry is Active; LastSync is zero until the first completed
// worker.
type Entry struct {
	Source     string
	Target     string
	Watch      int
	LastSync   time.Time
	ErrorCount int
}

// Active reports whether the entry currently has a watch handle.
func (e *Entry) Active() bool {
	return e.Watch != NoWatch
}

// Describe renders the status block shown by the status command.
func (e *Entry) Describe() string {
	lastSync := "(Never)"
	if !e.LastSync.IsZero() {
		lastSync = e.LastSync.Format("2006-01-02 15:04:05")
	}

	status := "Inactive"
	if e.Active() {
		status = "Active"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s\n", e.Source)
	fmt.Fprintf(&b, "Target: %s\n", e.Target)
	fmt.Fprintf(&b, "Last Sync: %s\n", lastSync)
	fmt.Fprintf(&b, "Error Count: %d\n", e.ErrorCount)
	fmt.Fprintf(&b, "Status: %s\n", status)

	return b.String()
}

// Registry maps source paths to entries and remembers insertion order.
type Registry struct {
	entries map[string]*Entry
	order   []string
	logger  *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		logger:  logger,
	}
}

// Add creates an Inactive entry. Fails with ErrExists if source is known.
func (r *Registry) Add(source, target string) (*Entry, error) {
	if _, ok := r.entries[source]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, source)
	}

	e := &Entry{Source: source, Target: target, Watch: NoWatch}
	r.entries[source] = e
	r.order = append(r.order, source)

	return e, nil
}

// Lookup returns the entry for source.
func (r *Registry) Lookup(source string) (*Entry, bool) {
	e, ok := r.entries[source]
	return e, ok
}

// Remove deletes an Inactive entry.
func (r *Registry) Remove(source string) error {
	e, ok := r.entries[source]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, source)
	}

	if e.Active() {
		return fmt.Errorf("%w: %s", ErrActive, source)
	}

	delete(r.entries, source)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == source })

	return nil
}

// All returns every entry in insertion order.
func (r *Registry) All() []*Entry {
	out := make([]*Entry, 0, len(r.order))
	for _, s := range r.order {
		out = append(out, r.entries[s])
	}

	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.order)
}

// FindByWatch returns the first entry, in insertion order, holding handle.
func (r *Registry) FindByWatch(handle int) (*Entry, bool) {
	if handle == NoWatch {
		return nil, false
	}

	for _, s := range r.order {
		if e := r.entries[s]; e.Watch == handle {
			return e, true
		}
	}

	return nil, false
}

// SetWatch marks the entry Active with the given handle.
func (r *Registry) SetWatch(source string, handle int) error {
	e, err := r.get(source)
	if err != nil {
		return err
	}

	e.Watch = handle

	return nil
}

// ClearWatch marks the entry Inactive.
func (r *Registry) ClearWatch(source string) error {
	return r.SetWatch(source, NoWatch)
}

// UpdateLastSync records the completion time of a worker.
func (r *Registry) UpdateLastSync(source string, t time.Time) error {
	e, err := r.get(source)
	if err != nil {
		return err
	}

	e.LastSync = t

	return nil
}

// AccumulateErrors adds delta to the entry's error count. Negative deltas
// are ignored; the count never decreases.
func (r *Registry) AccumulateErrors(source string, delta int) error {
	e, err := r.get(source)
	if err != nil {
		return err
	}

	if delta > 0 {
		e.ErrorCount += delta
	}

	return nil
}

// RecordCompletion applies UpdateLastSync and AccumulateErrors together.
func (r *Registry) RecordCompletion(source string, t time.Time, errorDelta int) error {
	if err := r.UpdateLastSync(source, t); err != nil {
		return err
	}

	return r.AccumulateErrors(source, errorDelta)
}

func (r *Registry) get(source string) (*Entry, error) {
	e, ok := r.entries[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, source)
	}

	return e, nil
}
