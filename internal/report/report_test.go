package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() Report {
	return Report{
		Status:  StatusPartial,
		Details: "3 files copied, 1 files skipped",
		Errors:  []string{"File: a.txt - permission denied"},
	}
}

func TestWriteTo_Format(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	_, err := sampleReport().WriteTo(&buf)
	require.NoError(t, err)

	want := "EXEC_REPORT_START\n" +
		"STATUS: PARTIAL\n" +
		"DETAILS: 3 files copied, 1 files skipped\n" +
		"ERRORS:\n" +
		"- File: a.txt - permission denied\n" +
		"EXEC_REPORT_END\n"
	assert.Equal(t, want, buf.String())
}

func TestParse_IgnoresNoiseAroundBlock(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.WriteString("warming up\n")
	_, err := sampleReport().WriteTo(&buf)
	require.NoError(t, err)
	buf.WriteString("trailing noise\n- not an error\n")

	got, ok := Parse(buf.Bytes())
	require.True(t, ok)
	assert.Equal(t, sampleReport(), got)
}

// The parser must tolerate the report arriving in any number of reads,
// including splits in the middle of a marker.
func TestParser_EveryChunkSize(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	_, err := sampleReport().WriteTo(&buf)
	require.NoError(t, err)

	data := buf.Bytes()

	for size := 1; size <= len(data); size++ {
		var p Parser

		for off := 0; off < len(data); off += size {
			end := min(off+size, len(data))
			_, _ = p.Write(data[off:end])
		}

		got, ok := p.Result()
		require.True(t, ok, "chunk size %d", size)
		assert.Equal(t, sampleReport(), got, "chunk size %d", size)
	}
}

func TestParse_NoReport(t *testing.T) {
	t.Parallel()

	_, ok := Parse([]byte("panic: boom\n"))
	assert.False(t, ok)
}

func TestParse_UnterminatedFinalLine(t *testing.T) {
	t.Parallel()

	got, ok := Parse([]byte("EXEC_REPORT_START\nSTATUS: ERROR\nDETAILS: x\nERRORS:\n- last"))
	require.True(t, ok)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, []string{"last"}, got.Errors)
}

func TestParse_CRLF(t *testing.T) {
	t.Parallel()

	got, ok := Parse([]byte("EXEC_REPORT_START\r\nSTATUS: SUCCESS\r\nDETAILS: File: a\r\nERRORS:\r\nEXEC_REPORT_END\r\n"))
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, "File: a", got.Details)
	assert.Empty(t, got.Errors)
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, Report{Status: StatusSuccess}.ExitCode())
	assert.Equal(t, 1, Report{Status: StatusPartial}.ExitCode())
	assert.Equal(t, 1, Report{Status: StatusError}.ExitCode())
}

func TestParseOp(t *testing.T) {
	t.Parallel()

	for _, op := range []Op{OpCreated, OpModified, OpDeleted, OpFullSync, OpSyncRequest} {
		got, err := ParseOp(op.String())
		require.NoError(t, err)
		assert.Equal(t, op, got)
	}

	_, err := ParseOp("RENAMED")
	assert.ErrorIs(t, err, ErrUnknownOp)

	assert.True(t, OpFullSync.WholeDirectory())
	assert.True(t, OpSyncRequest.WholeDirectory())
	assert.False(t, OpCreated.WholeDirectory())
}
