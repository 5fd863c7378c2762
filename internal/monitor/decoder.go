package monitor

import (
	"bytes"
	"encoding/binary"
)

// Raw inotify record layout: wd int32, mask uint32, cookie uint32, len
// uint32, then len bytes of NUL-padded name.
const rawHeaderSize = 16

// Mask bits from <sys/inotify.h>. Declared here so the decoder builds and
// tests on every platform.
const (
	rawModify    = 0x00000002
	rawCreate    = 0x00000100
	rawDelete    = 0x00000200
	rawOverflow  = 0x00004000
	rawIgnored   = 0x00008000
	rawIsDir     = 0x40000000
	rawWatchMask = rawCreate | rawModify | rawDelete
)

// Decoder turns a byte stream of raw inotify records into Records. Reads
// may end anywhere, including inside a header; the remainder is kept for
// the next Feed.
type Decoder struct {
	buf        []byte
	overflowed int
}

// Feed appends chunk and returns every complete record now available.
func (d *Decoder) Feed(chunk []byte) []Record {
	d.buf = append(d.buf, chunk...)

	var out []Record

	off := 0
	for len(d.buf)-off >= rawHeaderSize {
		hdr := d.buf[off : off+rawHeaderSize]
		wd := int32(binary.NativeEndian.Uint32(hdr[0:4]))
		mask := binary.NativeEndian.Uint32(hdr[4:8])
		nameLen := int(binary.NativeEndian.Uint32(hdr[12:16]))

		if len(d.buf)-off < rawHeaderSize+nameLen {
			break
		}

		name := d.buf[off+rawHeaderSize : off+rawHeaderSize+nameLen]
		off += rawHeaderSize + nameLen

		if mask&rawOverflow != 0 {
			d.overflowed++
			continue
		}

		if mask&rawIgnored != 0 {
			continue
		}

		out = append(out, Record{
			Handle: int(wd),
			Op:     rawToOp(mask),
			Name:   string(bytes.TrimRight(name, "\x00")),
		})
	}

	// Compact so the buffer does not grow without bound.
	d.buf = append(d.buf[:0], d.buf[off:]...)

	return out
}

// Pending returns the number of buffered bytes not yet decoded.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// Overflows returns and resets the number of queue-overflow records seen.
func (d *Decoder) Overflows() int {
	n := d.overflowed
	d.overflowed = 0

	return n
}

func rawToOp(mask uint32) Op {
	var op Op
	if mask&rawCreate != 0 {
		op |= OpCreate
	}

	if mask&rawModify != 0 {
		op |= OpModify
	}

	if mask&rawDelete != 0 {
		op |= OpDelete
	}

	if mask&rawIsDir != 0 {
		op |= OpIsDir
	}

	return op
}
