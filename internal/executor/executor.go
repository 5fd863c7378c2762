// Package executor performs the file operations of one sync task and
// describes the outcome as a report.Report. It runs inside a short-lived
// worker process started by the scheduler.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/dirsync/internal/report"
)

// DefaultCopyConcurrency bounds parallel copies during a full sync.
const DefaultCopyConcurrency = 4

// ErrInvalidFilename is reported for filenames that would escape the
// directory pair.
var ErrInvalidFilename = errors.New("executor: invalid filename")

// Options tunes an executor run.
type Options struct {
	CopyConcurrency int
}

// stats counts outcomes of one run.
type stats struct {
	mu      sync.Mutex
	copied  int
	skipped int
	deleted int
	errs    []string
}

func (s *stats) fail(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.skipped++
	s.errs = append(s.errs, fmt.Sprintf(format, args...))
}

func (s *stats) copiedOne() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.copied++
}

// Run performs op for the pair and returns the report. It never fails;
// every problem is described in the report.
func Run(ctx context.Context, source, target, filename string, op report.Op, opts Options) report.Report {
	switch op {
	case report.OpFullSync, report.OpSyncRequest:
		return fullSync(ctx, source, target, opts)
	case report.OpCreated, report.OpModified:
		return writeFile(source, target, filename)
	case report.OpDeleted:
		return deleteFile(target, filename)
	default:
		return report.Report{
			Status: report.StatusError,
			Errors: []string{fmt.Sprintf("unsupported operation %s", op)},
		}
	}
}

// Main is the entry point of a worker process: args are
// <source> <target> <filename> <op>. It writes exactly one report to
// stdout and returns the process exit code.
func Main(ctx context.Context, args []string, stdout, stderr io.Writer, opts Options) int {
	if len(args) != 4 {
		fmt.Fprintln(stderr, "usage: exec <source_dir> <target_dir> <filename> <operation>")
		return 1
	}

	op, err := report.ParseOp(args[3])
	if err != nil {
		fmt.Fprintf(stderr, "Unknown operation: %s\n", args[3])
		return 1
	}

	rep := Run(ctx, args[0], args[1], args[2], op, opts)

	if _, err := rep.WriteTo(stdout); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	return rep.ExitCode()
}

func fullSync(ctx context.Context, source, target string, opts Options) report.Report {
	if err := checkDir(target); err != nil {
		return errorReport("", "Target directory: %s", errText(err))
	}

	entries, err := os.ReadDir(source)
	if err != nil {
		return errorReport("", "Source directory: %s", errText(err))
	}

	st := &stats{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.CopyConcurrency, 1))

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		name := entry.Name()

		g.Go(func() error {
			if gctx.Err() != nil {
				st.fail("File: %s - %s", name, errText(gctx.Err()))
				return nil
			}

			if err := copyFile(filepath.Join(source, name), filepath.Join(target, name)); err != nil {
				st.fail("File: %s - %s", name, errText(err))
				return nil
			}

			st.copiedOne()

			return nil
		})
	}

	_ = g.Wait()

	// Copies finish in any order; keep their errors stable.
	slices.Sort(st.errs)
	deleteObsolete(source, target, st)

	return report.Report{Status: st.status(), Details: summary(st), Errors: st.errs}
}

// status is SUCCESS with no failures, PARTIAL when something still
// succeeded, ERROR otherwise.
func (s *stats) status() report.Status {
	if s.skipped == 0 {
		return report.StatusSuccess
	}

	if s.copied > 0 || s.deleted > 0 {
		return report.StatusPartial
	}

	return report.StatusError
}

func deleteObsolete(source, target string, st *stats) {
	entries, err := os.ReadDir(target)
	if err != nil {
		st.fail("(Obsolete files deletion) Target directory: %s", errText(err))
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || isTempName(name) {
			continue
		}
		if _, err := os.Lstat(filepath.Join(source, name)); !errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err := os.Remove(filepath.Join(target, name)); err != nil {
			st.fail("(Obsolete files deletion) File: %s - %s", name, errText(err))
			continue
		}

		st.deleted++
	}
}

func summary(st *stats) string {
	var parts []string

	if st.copied > 0 {
		parts = append(parts, fmt.Sprintf("%d files copied", st.copied))
	}

	if st.skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d files skipped", st.skipped))
	}

	if st.deleted > 0 {
		parts = append(parts, fmt.Sprintf("%d obsolete files deleted", st.deleted))
	}

	return strings.Join(parts, ", ")
}

func writeFile(source, target, filename string) report.Report {
	details := "File: " + filename

	if err := checkName(filename); err != nil {
		return errorReport(details, "File '%s': %s", filename, errText(err))
	}

	if err := checkDir(target); err != nil {
		return errorReport(details, "File '%s': %s", filename, errText(err))
	}

	src := filepath.Join(source, filename)
	if _, err := os.Stat(src); err != nil {
		return errorReport(details, "File '%s': %s", filename, errText(err))
	}

	if err := copyFile(src, filepath.Join(target, filename)); err != nil {
		return errorReport(details, "File: %s - %s", filename, errText(err))
	}

	return report.Report{Status: report.StatusSuccess, Details: details}
}

func deleteFile(target, filename string) report.Report {
	details := "File: " + filename

	if err := checkName(filename); err != nil {
		return errorReport(details, "File '%s': %s", filename, errText(err))
	}

	if err := checkDir(target); err != nil {
		return errorReport(details, "File '%s': %s", filename, errText(err))
	}

	path := filepath.Join(target, filename)
	if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
		return report.Report{Status: report.StatusSuccess, Details: details}
	}

	if err := os.Remove(path); err != nil {
		return errorReport(details, "File: %s - %s", filename, errText(err))
	}

	return report.Report{Status: report.StatusSuccess, Details: details}
}

func errorReport(details, format string, args ...any) report.Report {
	return report.Report{
		Status:  report.StatusError,
		Details: details,
		Errors:  []string{fmt.Sprintf(format, args...)},
	}
}

func checkDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", path)
	}

	return nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, filepath.Separator) {
		return ErrInvalidFilename
	}

	return nil
}

// errText strips the path from *PathError so messages stay short.
func errText(err error) string {
	var pe *os.PathError
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}

	return err.Error()
}
