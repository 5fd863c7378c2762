package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/dirsync/internal/config"
	"github.com/tonimelisma/dirsync/internal/history"
)

func sampleRecords() []history.Record {
	finished := time.Date(2026, 8, 14, 10, 0, 5, 0, time.UTC)

	return []history.Record{
		{
			Session: "s1", Source: "/data/src", Target: "/backup/src",
			Filename: "notes.txt", Op: "MODIFIED", Pid: 4242,
			Status: "SUCCESS", Details: "File copied", FinishedAt: finished,
		},
		{
			Session: "s1", Source: "/data/src", Target: "/backup/src",
			Op: "FULL", Pid: 4241, ExitCode: 1, Status: "ERROR",
			Details: "2 files copied", Errors: []string{"copy a: denied"},
			FinishedAt: finished.Add(-time.Second),
		},
	}
}

func TestPrintHistoryTable(t *testing.T) {
	var buf bytes.Buffer
	printHistoryTable(&buf, sampleRecords())

	out := buf.String()
	assert.Contains(t, out, "FINISHED")
	assert.Contains(t, out, "2026-08-14 10:00:05")
	assert.Contains(t, out, "notes.txt")
	assert.Contains(t, out, "ALL", "whole-directory rows show ALL as the file")
	assert.Contains(t, out, "4242")
}

func TestPrintHistoryTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	printHistoryTable(&buf, nil)

	assert.Equal(t, "No completions recorded.\n", buf.String())
}

func TestPrintHistoryJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printHistoryJSON(&buf, sampleRecords()))

	var got []historyJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)

	assert.Equal(t, "MODIFIED", got[0].Operation)
	assert.Equal(t, []string{}, got[0].Errors, "no errors encode as an empty list")
	assert.Equal(t, "2026-08-14T10:00:05Z", got[0].FinishedAt)
	assert.Equal(t, []string{"copy a: denied"}, got[1].Errors)
	assert.Empty(t, got[1].Filename)
}

func TestHistoryCmd_ReadsStore(t *testing.T) {
	saveGlobals(t)

	dbPath := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	store, err := history.Open(ctx, dbPath, buildLogger())
	require.NoError(t, err)

	for _, r := range sampleRecords() {
		require.NoError(t, store.Record(ctx, r))
	}

	require.NoError(t, store.Close())

	cmd := newHistoryCmd()
	resolvedCfg = config.DefaultConfig()
	resolvedCfg.HistoryDB = dbPath
	flagJSON = true

	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"/data/src", "--limit", "1"})
	cmd.SetContext(ctx)

	require.NoError(t, cmd.Execute())

	var got []historyJSON
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "notes.txt", got[0].Filename, "newest completion first")
}
