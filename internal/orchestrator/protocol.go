package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tonimelisma/dirsync/internal/notify"
)

// InvalidReply is the only reply to a line that is not a valid command.
const InvalidReply = "Invalid command!"

// Command names accepted on the control channel.
const (
	CmdAdd      = "add"
	CmdCancel   = "cancel"
	CmdStatus   = "status"
	CmdSync     = "sync"
	CmdDelete   = "delete"
	CmdShutdown = "shutdown"
)

// arity is the number of arguments each command takes.
var arity = map[string]int{
	CmdAdd:      2,
	CmdCancel:   1,
	CmdStatus:   1,
	CmdSync:     1,
	CmdDelete:   1,
	CmdShutdown: 0,
}

// ProtocolError reports an inbound line that is not a valid command. The
// line is rejected and the channel stays open.
type ProtocolError struct {
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("orchestrator: invalid command %q: %s", e.Line, e.Reason)
}

// Command is one parsed control-channel line.
type Command struct {
	Name string
	Args []string
}

// ParseCommand splits line on whitespace and checks the command name and
// argument count.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, &ProtocolError{Line: line, Reason: "empty line"}
	}

	name := fields[0]

	n, ok := arity[name]
	if !ok {
		return Command{}, &ProtocolError{Line: line, Reason: "unknown command"}
	}

	if len(fields)-1 != n {
		return Command{}, &ProtocolError{
			Line:   line,
			Reason: fmt.Sprintf("%s takes %d argument(s), got %d", name, n, len(fields)-1),
		}
	}

	return Command{Name: name, Args: fields[1:]}, nil
}

// Dispatch parses and executes one inbound line. Malformed lines get
// exactly one InvalidReply on the interactive sink. Refusals are reported
// by the commands themselves and are not errors of Dispatch; the returned
// error is non-nil only for a ProtocolError or for a command arriving
// after shutdown. stop is true once the line shut the manager down.
func (o *Orchestrator) Dispatch(ctx context.Context, line string) (stop bool, err error) {
	cmd, err := ParseCommand(line)
	if err != nil {
		o.logger.Debug("rejected command", slog.String("error", err.Error()))
		o.sink.Notify(notify.Console, InvalidReply)

		return false, err
	}

	if o.shutdown {
		return true, ErrShutdown
	}

	o.logger.Debug("command received", slog.String("command", cmd.Name), slog.Any("args", cmd.Args))

	switch cmd.Name {
	case CmdAdd:
		err = o.Add(cmd.Args[0], cmd.Args[1])
	case CmdCancel:
		err = o.Cancel(cmd.Args[0])
	case CmdStatus:
		err = o.Status(cmd.Args[0])
	case CmdSync:
		err = o.Sync(cmd.Args[0])
	case CmdDelete:
		err = o.Delete(cmd.Args[0])
	case CmdShutdown:
		return true, o.Shutdown(ctx)
	}

	if err != nil && !errors.Is(err, ErrShutdown) {
		o.logger.Debug("command refused",
			slog.String("command", cmd.Name),
			slog.String("error", err.Error()),
		)

		return false, nil
	}

	return o.shutdown, err
}
