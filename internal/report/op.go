// Package report defines the contract between the scheduler and the sync
// executor subprocess: the operation names passed on argv and the
// EXEC_REPORT block written to stdout.
package report

import (
	"errors"
	"fmt"
)

// ErrUnknownOp is returned by ParseOp for operation names outside the contract.
var ErrUnknownOp = errors.New("report: unknown operation")

// WholeDirectory is the filename argument passed for tasks without a file.
const WholeDirectory = "ALL"

// Op identifies what a worker is asked to do.
type Op int

const (
	OpCreated Op = iota + 1
	OpModified
	OpDeleted
	OpFullSync
	OpSyncRequest
)

var opNames = map[Op]string{
	OpCreated:     "ADDED",
	OpModified:    "MODIFIED",
	OpDeleted:     "DELETED",
	OpFullSync:    "FULL",
	OpSyncRequest: "SYNC",
}

// String returns the argv name of the operation.
func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}

	return fmt.Sprintf("Op(%d)", int(o))
}

// WholeDirectory reports whether the operation covers the entire source
// directory rather than a single file.
func (o Op) WholeDirectory() bool {
	return o == OpFullSync || o == OpSyncRequest
}

// ParseOp maps an argv operation name back to an Op.
func ParseOp(name string) (Op, error) {
	for op, n := range opNames {
		if n == name {
			return op, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownOp, name)
}
