package control

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openChannel(t *testing.T) (*Channel, string) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "ctl")
	ch, err := Open(dir, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })

	return ch, dir
}

func TestOpen_CreatesFifos(t *testing.T) {
	t.Parallel()

	_, dir := openChannel(t)

	for _, name := range []string{InboundName, OutboundName} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, os.ModeNamedPipe, info.Mode().Type(), name)
	}
}

func TestOpen_ReplacesStaleFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, InboundName), []byte("stale"), 0o600))

	ch, err := Open(dir, testLogger())
	require.NoError(t, err)
	defer ch.Close()

	info, err := os.Stat(filepath.Join(dir, InboundName))
	require.NoError(t, err)
	assert.Equal(t, os.ModeNamedPipe, info.Mode().Type())
}

func TestWrite_NoReaderFailsFast(t *testing.T) {
	t.Parallel()

	ch, _ := openChannel(t)

	start := time.Now()
	_, err := ch.Write([]byte("hello\n"))

	var ce *ChannelError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "open", ce.Op)
	assert.ErrorIs(t, err, ErrNoReader)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	ch, dir := openChannel(t)

	ctx, cancel := context.WithCancel(context.Background())
	lines := make(chan string, 4)
	done := make(chan error, 1)

	go func() { done <- ch.Listen(ctx, lines) }()

	client, err := Dial(dir)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send("add ./a ./b"))
	require.NoError(t, client.Send("status all"))

	for _, want := range []string{"add ./a ./b", "status all"} {
		select {
		case got := <-lines:
			assert.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for command")
		}
	}

	_, err = ch.Write([]byte("[2026-01-01 00:00:00] Added directory: ./a -> ./b\n"))
	require.NoError(t, err)

	var got bytes.Buffer
	require.NoError(t, client.Receive(&got, 200*time.Millisecond))
	assert.Equal(t, "[2026-01-01 00:00:00] Added directory: ./a -> ./b\n", got.String())

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not stop on cancel")
	}

	_, open := <-lines
	assert.False(t, open, "lines is closed when Listen returns")
}

func TestWrite_ReaderGoneReopens(t *testing.T) {
	t.Parallel()

	ch, dir := openChannel(t)

	client, err := Dial(dir)
	require.NoError(t, err)

	_, err = ch.Write([]byte("first\n"))
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = ch.Write([]byte("lost\n"))
	assert.ErrorIs(t, err, ErrNoReader)

	client, err = Dial(dir)
	require.NoError(t, err)
	defer client.Close()

	_, err = ch.Write([]byte("second\n"))
	require.NoError(t, err)

	var got bytes.Buffer
	require.NoError(t, client.Receive(&got, 200*time.Millisecond))
	assert.Equal(t, "second\n", got.String())
}

func TestDial_NotRunning(t *testing.T) {
	t.Parallel()

	_, err := Dial(t.TempDir())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestClose_RemovesFifos(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ch, err := Open(dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, ch.Close())

	_, err = os.Stat(filepath.Join(dir, InboundName))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
