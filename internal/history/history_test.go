package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "state", "history.db")
	s, err := Open(context.Background(), path, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s, path
}

func TestRecordAndRecent(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, Record{
		Source: "/a", Target: "/a2", Op: "FULL", Pid: 10, Status: "SUCCESS",
		Details: "2 files copied", FinishedAt: base,
	}))
	require.NoError(t, s.Record(ctx, Record{
		Source: "/b", Target: "/b2", Filename: "x", Op: "ADDED", Pid: 11, ExitCode: 1,
		Status: "ERROR", Details: "File: x", Errors: []string{"File 'x': missing"},
		FinishedAt: base.Add(time.Second),
	}))
	require.NoError(t, s.Record(ctx, Record{
		Source: "/a", Target: "/a2", Filename: "y", Op: "DELETED", Pid: 12, Status: "SUCCESS",
		FinishedAt: base.Add(2 * time.Second),
	}))

	all, err := s.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 12, all[0].Pid, "newest first")
	assert.Equal(t, []string{"File 'x': missing"}, all[1].Errors)
	assert.Equal(t, s.Session(), all[1].Session)
	assert.True(t, base.Equal(all[2].FinishedAt))

	onlyA, err := s.Recent(ctx, "/a", 1)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, "DELETED", onlyA[0].Op)
	assert.Empty(t, onlyA[0].Errors)
}

func TestOpen_ReopenKeepsRowsNewSession(t *testing.T) {
	t.Parallel()

	s, path := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, Record{Source: "/a", Op: "SYNC", Status: "SUCCESS", FinishedAt: time.Now()}))
	first := s.Session()
	require.NoError(t, s.Close())

	s2, err := Open(ctx, path, testLogger())
	require.NoError(t, err)
	defer s2.Close()

	assert.NotEqual(t, first, s2.Session())

	rows, err := s2.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, first, rows[0].Session)
}
