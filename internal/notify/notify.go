// Package notify formats and delivers daemon messages to the log file and
// to the interactive sink (the outbound control channel).
package notify

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// TimestampLayout is the layout of the "[...]" prefix on every message.
const TimestampLayout = "2006-01-02 15:04:05"

// Stamp formats t the way message prefixes do.
func Stamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Dest selects which sinks receive a message.
type Dest uint8

const (
	Log Dest = 1 << iota
	Console
	Both = Log | Console
)

// Buffer accumulates timestamped lines so that one state transition is
// written to each sink with a single Write.
type Buffer struct {
	buf bytes.Buffer
	now func() time.Time
}

// Linef appends one line prefixed with the current timestamp.
func (b *Buffer) Linef(format string, args ...any) {
	b.LineAt(b.now(), format, args...)
}

// LineAt appends one line prefixed with the given timestamp.
func (b *Buffer) LineAt(t time.Time, format string, args ...any) {
	fmt.Fprintf(&b.buf, "[%s] ", Stamp(t))
	fmt.Fprintf(&b.buf, format, args...)
	b.buf.WriteByte('\n')
}

// WriteString appends text verbatim.
func (b *Buffer) WriteString(s string) {
	b.buf.WriteString(s)
}

func (b *Buffer) String() string { return b.buf.String() }
func (b *Buffer) Len() int       { return b.buf.Len() }

// Sink delivers messages. Either writer may be nil. Write failures are
// logged and otherwise ignored.
type Sink struct {
	log     io.Writer
	console io.Writer
	logger  *slog.Logger
	nowFunc func() time.Time

	// consoleDown is set after an interactive write fails and cleared by
	// the next successful one.
	consoleDown bool
}

// NewSink creates a Sink writing log lines to logW and interactive replies
// to consoleW.
func NewSink(logW, consoleW io.Writer, logger *slog.Logger) *Sink {
	return &Sink{
		log:     logW,
		console: consoleW,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// SetClock replaces the time source. Tests use it for stable prefixes.
func (s *Sink) SetClock(now func() time.Time) {
	s.nowFunc = now
}

// Now returns the sink's current time.
func (s *Sink) Now() time.Time {
	return s.nowFunc()
}

// NewBuffer returns an empty Buffer using the sink's clock.
func (s *Sink) NewBuffer() *Buffer {
	return &Buffer{now: s.nowFunc}
}

// Notify writes one timestamped line to dest.
func (s *Sink) Notify(dest Dest, format string, args ...any) {
	b := s.NewBuffer()
	b.Linef(format, args...)
	s.Forward(dest, b)
}

// Forward writes the buffer contents to dest.
func (s *Sink) Forward(dest Dest, b *Buffer) {
	if b.Len() == 0 {
		return
	}

	s.write(dest, b.String())
}

// Raw writes text without a prefix.
func (s *Sink) Raw(dest Dest, text string) {
	s.write(dest, text)
}

func (s *Sink) write(dest Dest, text string) {
	if dest&Log != 0 && s.log != nil {
		if _, err := io.WriteString(s.log, text); err != nil {
			s.logger.Warn("log file write failed", slog.String("error", err.Error()))
		}
	}

	if dest&Console != 0 && s.console != nil {
		s.writeConsole(text)
	}
}

func (s *Sink) writeConsole(text string) {
	if _, err := io.WriteString(s.console, text); err != nil {
		if !s.consoleDown {
			s.logger.Warn("interactive sink unreachable", slog.String("error", err.Error()))
		} else {
			s.logger.Debug("interactive sink write failed", slog.String("error", err.Error()))
		}

		s.consoleDown = true

		return
	}

	if s.consoleDown {
		s.logger.Info("interactive sink reachable again")
	}

	s.consoleDown = false
}
