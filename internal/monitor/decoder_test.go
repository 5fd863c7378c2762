package monitor

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawRecord encodes one record the way the kernel does, padding the name
// with NULs to padTo bytes.
func rawRecord(wd int32, mask uint32, name string, padTo int) []byte {
	nameLen := 0
	if name != "" {
		nameLen = max(padTo, len(name)+1)
	}

	b := make([]byte, rawHeaderSize+nameLen)
	binary.NativeEndian.PutUint32(b[0:4], uint32(wd))
	binary.NativeEndian.PutUint32(b[4:8], mask)
	binary.NativeEndian.PutUint32(b[12:16], uint32(nameLen))
	copy(b[rawHeaderSize:], name)

	return b
}

func sampleStream() []byte {
	var s []byte
	s = append(s, rawRecord(1, rawCreate, "a.txt", 16)...)
	s = append(s, rawRecord(2, rawModify, "longer-name.dat", 32)...)
	s = append(s, rawRecord(1, rawDelete|rawIsDir, "sub", 16)...)
	s = append(s, rawRecord(3, rawDelete, "z", 0)...)

	return s
}

var sampleRecords = []Record{
	{Handle: 1, Op: OpCreate, Name: "a.txt"},
	{Handle: 2, Op: OpModify, Name: "longer-name.dat"},
	{Handle: 1, Op: OpDelete | OpIsDir, Name: "sub"},
	{Handle: 3, Op: OpDelete, Name: "z"},
}

func TestDecoder_WholeStream(t *testing.T) {
	t.Parallel()

	var d Decoder
	assert.Equal(t, sampleRecords, d.Feed(sampleStream()))
	assert.Zero(t, d.Pending())
}

// A record split across reads, including inside its 16-byte header, must
// decode exactly once.
func TestDecoder_SplitAtEveryOffset(t *testing.T) {
	t.Parallel()

	stream := sampleStream()

	for cut := 0; cut <= len(stream); cut++ {
		var d Decoder

		got := d.Feed(stream[:cut])
		got = append(got, d.Feed(stream[cut:])...)

		require.Equal(t, sampleRecords, got, "cut at %d", cut)
		assert.Zero(t, d.Pending(), "cut at %d", cut)
	}
}

func TestDecoder_ByteAtATime(t *testing.T) {
	t.Parallel()

	var (
		d   Decoder
		got []Record
	)

	for _, b := range sampleStream() {
		got = append(got, d.Feed([]byte{b})...)
	}

	assert.Equal(t, sampleRecords, got)
}

func TestDecoder_PartialHeaderPending(t *testing.T) {
	t.Parallel()

	var d Decoder
	assert.Empty(t, d.Feed(rawRecord(1, rawCreate, "x", 16)[:10]))
	assert.Equal(t, 10, d.Pending())
}

func TestDecoder_OverflowAndIgnoredDropped(t *testing.T) {
	t.Parallel()

	var s []byte
	s = append(s, rawRecord(-1, rawOverflow, "", 0)...)
	s = append(s, rawRecord(4, rawIgnored, "", 0)...)
	s = append(s, rawRecord(4, rawCreate, "f", 16)...)

	var d Decoder
	assert.Equal(t, []Record{{Handle: 4, Op: OpCreate, Name: "f"}}, d.Feed(s))
	assert.Equal(t, 1, d.Overflows())
	assert.Zero(t, d.Overflows())
}
