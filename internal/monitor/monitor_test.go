package monitor

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/dirsync/internal/registry"
	"github.com/tonimelisma/dirsync/internal/report"
	"github.com/tonimelisma/dirsync/internal/scheduler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource is an in-memory Source.
type fakeSource struct {
	next    int
	watched map[int]string
	addErr  error
	records []Record
	ready   chan struct{}
	closed  bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{next: 1, watched: make(map[int]string), ready: make(chan struct{}, 1)}
}

func (f *fakeSource) Add(dir string) (int, error) {
	if f.addErr != nil {
		return -1, f.addErr
	}

	h := f.next
	f.next++
	f.watched[h] = dir

	return h, nil
}

func (f *fakeSource) Remove(h int) error {
	delete(f.watched, h)
	return nil
}

func (f *fakeSource) Ready() <-chan struct{} { return f.ready }

func (f *fakeSource) Read() ([]Record, error) {
	out := f.records
	f.records = nil

	return out, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

type taskRecorder struct {
	tasks []scheduler.Task
}

func (r *taskRecorder) Enqueue(t scheduler.Task, dedupe bool) bool {
	if dedupe {
		panic("monitor tasks must not be deduped")
	}

	r.tasks = append(r.tasks, t)

	return true
}

func watchedRegistry(t *testing.T, m *Monitor, pairs ...string) *registry.Registry {
	t.Helper()

	reg := registry.New(testLogger())
	for i := 0; i+1 < len(pairs); i += 2 {
		_, err := reg.Add(pairs[i], pairs[i+1])
		require.NoError(t, err)

		h, err := m.Watch(pairs[i])
		require.NoError(t, err)
		require.NoError(t, reg.SetWatch(pairs[i], h))
	}

	return reg
}

func TestClassify_Priority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		op   Op
		want report.Op
		ok   bool
	}{
		{OpCreate, report.OpCreated, true},
		{OpCreate | OpModify | OpDelete, report.OpCreated, true},
		{OpModify | OpDelete, report.OpModified, true},
		{OpDelete, report.OpDeleted, true},
		{0, 0, false},
	}

	for _, tt := range tests {
		got, ok := Classify(tt.op)
		assert.Equal(t, tt.ok, ok)
		assert.Equal(t, tt.want, got)
	}
}

func TestDrain_OneTaskPerRecordNoDedup(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	m := New(src, testLogger())
	reg := watchedRegistry(t, m, "/a", "/a-dst", "/b", "/b-dst")

	src.records = []Record{
		{Handle: 1, Op: OpCreate, Name: "f"},
		{Handle: 1, Op: OpModify, Name: "f"},
		{Handle: 1, Op: OpModify, Name: "f"},
		{Handle: 2, Op: OpDelete, Name: "g"},
		{Handle: 2, Op: OpCreate | OpIsDir, Name: "dir"},
		{Handle: 99, Op: OpCreate, Name: "stray"},
	}

	q := &taskRecorder{}
	assert.Equal(t, 4, m.Drain(reg, q))

	assert.Equal(t, []scheduler.Task{
		{Source: "/a", Target: "/a-dst", Filename: "f", Op: report.OpCreated},
		{Source: "/a", Target: "/a-dst", Filename: "f", Op: report.OpModified},
		{Source: "/a", Target: "/a-dst", Filename: "f", Op: report.OpModified},
		{Source: "/b", Target: "/b-dst", Filename: "g", Op: report.OpDeleted},
	}, q.tasks)
}

func TestDrain_InactiveEntryIgnored(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	m := New(src, testLogger())
	reg := watchedRegistry(t, m, "/a", "/a-dst")
	require.NoError(t, reg.ClearWatch("/a"))

	src.records = []Record{{Handle: 1, Op: OpCreate, Name: "f"}}

	q := &taskRecorder{}
	assert.Zero(t, m.Drain(reg, q))
}

func TestWatch_ErrorMapping(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	m := New(src, testLogger())

	src.addErr = syscall.ENOSPC
	h, err := m.Watch("/x")
	assert.Equal(t, registry.NoWatch, h)

	var we *WatchError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "/x", we.Dir)
	assert.ErrorIs(t, err, ErrWatchLimit)

	src.addErr = syscall.ENOENT
	_, err = m.Watch("/missing")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NotErrorIs(t, err, ErrWatchLimit)
}

func TestStop_UnwatchesAll(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	m := New(src, testLogger())
	reg := watchedRegistry(t, m, "/a", "/a-dst", "/b", "/b-dst")

	require.NoError(t, m.Stop(reg))

	assert.Empty(t, src.watched)
	assert.True(t, src.closed)

	for _, e := range reg.All() {
		assert.False(t, e.Active())
	}
}

func TestStart_UnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := Start("kqueue-please", testLogger())
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

// ---------------------------------------------------------------------------
// Real backends
// ---------------------------------------------------------------------------

func waitReady(t *testing.T, m *Monitor, reg *registry.Registry, q *taskRecorder, want int) {
	t.Helper()

	deadline := time.After(5 * time.Second)

	for len(q.tasks) < want {
		select {
		case <-m.Ready():
			m.Drain(reg, q)
		case <-deadline:
			t.Fatalf("timed out waiting for %d tasks, got %v", want, q.tasks)
		}
	}
}

func exerciseBackend(t *testing.T, backend string) {
	t.Helper()

	dir := t.TempDir()

	m, err := Start(backend, testLogger())
	require.NoError(t, err)

	reg := registry.New(testLogger())
	_, err = reg.Add(dir, "/unused")
	require.NoError(t, err)

	h, err := m.Watch(dir)
	require.NoError(t, err)
	require.NoError(t, reg.SetWatch(dir, h))

	q := &taskRecorder{}

	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644))
	waitReady(t, m, reg, q, 1)

	assert.Equal(t, "new.txt", q.tasks[0].Filename)
	assert.Equal(t, report.OpCreated, q.tasks[0].Op)

	require.NoError(t, os.Remove(filepath.Join(dir, "new.txt")))
	for {
		waitReady(t, m, reg, q, len(q.tasks)+1)
		if last := q.tasks[len(q.tasks)-1]; last.Op == report.OpDeleted {
			assert.Equal(t, "new.txt", last.Filename)
			break
		}
	}

	for _, task := range q.tasks {
		assert.NotEqual(t, "sub", task.Filename, "directory records are skipped")
	}

	require.NoError(t, m.Stop(reg))
}

func TestInotifyBackend(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("inotify is linux-only")
	}

	exerciseBackend(t, BackendInotify)
}

func TestFsnotifyBackend(t *testing.T) {
	exerciseBackend(t, BackendFsnotify)
}

func TestInotifyBackend_MissingDirectory(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("inotify is linux-only")
	}

	m, err := Start(BackendInotify, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { m.Stop(registry.New(testLogger())) })

	_, err = m.Watch(filepath.Join(t.TempDir(), "gone"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
