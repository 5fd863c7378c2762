package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	valid := []struct {
		line string
		want Command
	}{
		{"add /a /b", Command{Name: CmdAdd, Args: []string{"/a", "/b"}}},
		{"  cancel\t/a  ", Command{Name: CmdCancel, Args: []string{"/a"}}},
		{"status all", Command{Name: CmdStatus, Args: []string{"all"}}},
		{"sync ./src", Command{Name: CmdSync, Args: []string{"./src"}}},
		{"delete /a", Command{Name: CmdDelete, Args: []string{"/a"}}},
		{"shutdown", Command{Name: CmdShutdown, Args: []string{}}},
	}

	for _, tc := range valid {
		got, err := ParseCommand(tc.line)
		require.NoError(t, err, tc.line)
		assert.Equal(t, tc.want, got, tc.line)
	}

	invalid := []string{
		"",
		"   ",
		"sync",
		"add /a",
		"add /a /b /c",
		"cancel /a /b",
		"shutdown now",
		"ADD /a /b",
		"list",
	}

	for _, line := range invalid {
		_, err := ParseCommand(line)

		var perr *ProtocolError
		assert.ErrorAs(t, err, &perr, "%q", line)
	}
}

func TestDispatch_MalformedLineRepliesOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1)

	stop, err := h.o.Dispatch(context.Background(), "sync")

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.False(t, stop)
	assert.Equal(t, stamp+InvalidReply+"\n", h.console.String())
	assert.Empty(t, h.logBuf.String())
	assert.Zero(t, h.reg.Len())
	assert.Zero(t, h.sched.Stats().Queued)
}

func TestDispatch_RoutesCommands(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1)

	for _, line := range []string{"add /a /b", "status /a", "sync /a", "cancel /a", "delete /a"} {
		stop, err := h.o.Dispatch(context.Background(), line)
		require.NoError(t, err, line)
		assert.False(t, stop, line)
	}

	out := h.console.String()
	assert.Contains(t, out, "Added directory: /a -> /b")
	assert.Contains(t, out, "Status requested for /a")
	assert.Contains(t, out, "Sync already in progress /a")
	assert.Contains(t, out, "Directory is currently being synced: /a")
	assert.Contains(t, out, "Active directory cannot be deleted: /a")
	assert.NotContains(t, out, InvalidReply)
	assert.Equal(t, StateActive, h.o.State("/a"))
}

func TestDispatch_Shutdown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1)
	h.spawner.exitOnSpawn = true
	require.NoError(t, h.o.Add("/a", "/b"))

	stop, err := h.o.Dispatch(context.Background(), "shutdown")
	require.NoError(t, err)
	assert.True(t, stop)
	assert.Len(t, h.spawner.tasks, 1)

	stop, err = h.o.Dispatch(context.Background(), "status all")
	assert.True(t, stop)
	assert.ErrorIs(t, err, ErrShutdown)
}
