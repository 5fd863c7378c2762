package scheduler

import (
	"fmt"

	"github.com/tonimelisma/dirsync/internal/report"
)

// Task is one unit of sync work. An empty Filename means the whole
// directory.
type Task struct {
	Source   string
	Target   string
	Filename string
	Op       report.Op
}

// Args returns the executor argv for the task, after the executable.
func (t Task) Args() []string {
	name := t.Filename
	if name == "" {
		name = report.WholeDirectory
	}

	return []string{t.Source, t.Target, name, t.Op.String()}
}

// SpawnError reports a worker that could not be started. The task is
// dropped.
type SpawnError struct {
	Task Task
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("scheduler: spawning %s worker for %s: %v", e.Task.Op, e.Task.Source, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
