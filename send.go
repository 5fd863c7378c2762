package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/dirsync/internal/control"
)

// defaultReplyWait is how long send waits for more daemon output after the
// last reply arrived.
const defaultReplyWait = 500 * time.Millisecond

func newSendCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "send [command...]",
		Short: "Send a command to the running daemon",
		Long: `Send one command to the daemon and print its replies, for example:

  dirsync send add /data/src /backup/src
  dirsync send status all
  dirsync send shutdown

Without arguments, commands are read one per line from stdin; a prompt is
shown when stdin is a terminal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := control.Dial(resolvedCfg.ControlDir)
			if err != nil {
				if errors.Is(err, control.ErrNotRunning) {
					return fmt.Errorf("%w (control dir %s)", err, resolvedCfg.ControlDir)
				}

				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()

			if len(args) > 0 {
				return sendOne(client, strings.Join(args, " "), out, wait)
			}

			return sendLines(client, os.Stdin, out, wait)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", defaultReplyWait, "how long to wait for further replies")

	return cmd
}

func sendOne(client *control.Client, line string, out io.Writer, wait time.Duration) error {
	if err := client.Send(line); err != nil {
		return err
	}

	return client.Receive(out, wait)
}

// sendLines sends each line read from in until EOF or "exit".
func sendLines(client *control.Client, in *os.File, out io.Writer, wait time.Duration) error {
	interactive := isatty.IsTerminal(in.Fd()) || isatty.IsCygwinTerminal(in.Fd())
	scanner := bufio.NewScanner(in)

	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}

		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if err := sendOne(client, line, out, wait); err != nil {
			return err
		}
	}
}
