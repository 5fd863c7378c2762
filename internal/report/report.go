package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Report framing lines.
const (
	startMarker   = "EXEC_REPORT_START"
	endMarker     = "EXEC_REPORT_END"
	statusPrefix  = "STATUS: "
	detailsPrefix = "DETAILS: "
	errorsHeader  = "ERRORS:"
	errorPrefix   = "- "
)

// Status is the outcome of one executor run.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusPartial Status = "PARTIAL"
	StatusError   Status = "ERROR"
)

// Report is the parsed result of one executor run. Errors holds one entry
// per error line with the "- " prefix removed.
type Report struct {
	Status  Status
	Details string
	Errors  []string
}

// ExitCode returns the executor process exit code for the report.
func (r Report) ExitCode() int {
	if r.Status == StatusSuccess {
		return 0
	}

	return 1
}

// WriteTo renders the report block.
func (r Report) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder

	b.WriteString(startMarker + "\n")
	b.WriteString(statusPrefix + string(r.Status) + "\n")
	b.WriteString(detailsPrefix + r.Details + "\n")
	b.WriteString(errorsHeader + "\n")

	for _, e := range r.Errors {
		b.WriteString(errorPrefix + e + "\n")
	}

	b.WriteString(endMarker + "\n")

	n, err := io.WriteString(w, b.String())
	if err != nil {
		return int64(n), fmt.Errorf("report: writing report: %w", err)
	}

	return int64(n), nil
}

// Parser extracts a report from executor output fed in arbitrary chunks.
// Lines outside the report block are ignored. Only the first complete or
// partial block is kept.
type Parser struct {
	partial  []byte
	inReport bool
	inErrors bool
	seen     bool
	done     bool
	report   Report
}

// Write feeds output bytes to the parser. It never fails.
func (p *Parser) Write(b []byte) (int, error) {
	p.partial = append(p.partial, b...)

	for {
		i := bytes.IndexByte(p.partial, '\n')
		if i < 0 {
			break
		}

		p.line(string(p.partial[:i]))
		p.partial = p.partial[i+1:]
	}

	return len(b), nil
}

// Result flushes any unterminated trailing line and returns the report.
// The boolean is false when no EXEC_REPORT_START line was seen.
func (p *Parser) Result() (Report, bool) {
	if len(p.partial) > 0 {
		p.line(string(p.partial))
		p.partial = nil
	}

	return p.report, p.seen
}

func (p *Parser) line(raw string) {
	if p.done {
		return
	}

	line := strings.TrimSuffix(raw, "\r")

	switch {
	case line == startMarker:
		p.inReport = true
		p.seen = true
	case !p.inReport:
		return
	case line == endMarker:
		p.inReport = false
		p.inErrors = false
		p.done = true
	case strings.HasPrefix(line, statusPrefix):
		p.report.Status = Status(strings.TrimPrefix(line, statusPrefix))
	case strings.HasPrefix(line, detailsPrefix):
		p.report.Details = strings.TrimPrefix(line, detailsPrefix)
	case line == errorsHeader:
		p.inErrors = true
	case p.inErrors:
		p.report.Errors = append(p.report.Errors, strings.TrimPrefix(line, errorPrefix))
	}
}

// Parse extracts the report from a complete output buffer.
func Parse(output []byte) (Report, bool) {
	var p Parser
	_, _ = p.Write(output)

	return p.Result()
}
