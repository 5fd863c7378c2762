package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/dirsync/internal/executor"
)

func newExecCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "exec <source_dir> <target_dir> <filename> <operation>",
		Short: "Run one sync task and print its report (used by the daemon)",
		Long: `Perform one sync task and write an EXEC_REPORT block to stdout.

Operations: FULL and SYNC mirror the whole source directory, ADDED and
MODIFIED copy one file, DELETED removes one file from the target. The
filename is ALL for whole-directory operations. Exits 0 only when the
report status is SUCCESS.`,
		Hidden: true,
		Args:   cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			code := executor.Main(cmd.Context(), args, cmd.OutOrStdout(), cmd.ErrOrStderr(),
				executor.Options{CopyConcurrency: concurrency})
			if code != 0 {
				return &exitCodeError{code: code}
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "copy-concurrency", executor.DefaultCopyConcurrency,
		"parallel file copies for FULL and SYNC")

	return cmd
}
