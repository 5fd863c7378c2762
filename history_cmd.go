package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/dirsync/internal/history"
	"github.com/tonimelisma/dirsync/internal/notify"
	"github.com/tonimelisma/dirsync/internal/report"
)

const defaultHistoryLimit = 20

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [source_dir]",
		Short: "Show recent worker completions",
		Long: `Show the most recent completed sync tasks recorded by the daemon,
newest first, optionally limited to one source directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := ""
			if len(args) == 1 {
				source = args[0]
			}

			store, err := history.Open(cmd.Context(), resolvedCfg.HistoryDB, buildLogger())
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.Recent(cmd.Context(), source, limit)
			if err != nil {
				return err
			}

			if flagJSON {
				return printHistoryJSON(cmd.OutOrStdout(), recs)
			}

			printHistoryTable(cmd.OutOrStdout(), recs)

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "maximum rows to show")

	return cmd
}

type historyJSON struct {
	Session    string   `json:"session"`
	Source     string   `json:"source"`
	Target     string   `json:"target"`
	Filename   string   `json:"filename,omitempty"`
	Operation  string   `json:"operation"`
	Pid        int      `json:"worker_pid"`
	ExitCode   int      `json:"exit_code"`
	Status     string   `json:"status"`
	Details    string   `json:"details"`
	Errors     []string `json:"errors"`
	FinishedAt string   `json:"finished_at"`
}

func printHistoryJSON(w io.Writer, recs []history.Record) error {
	out := make([]historyJSON, 0, len(recs))
	for _, r := range recs {
		errs := r.Errors
		if errs == nil {
			errs = []string{}
		}

		out = append(out, historyJSON{
			Session:    r.Session,
			Source:     r.Source,
			Target:     r.Target,
			Filename:   r.Filename,
			Operation:  r.Op,
			Pid:        r.Pid,
			ExitCode:   r.ExitCode,
			Status:     r.Status,
			Details:    r.Details,
			Errors:     errs,
			FinishedAt: r.FinishedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}

	return nil
}

func printHistoryTable(w io.Writer, recs []history.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No completions recorded.")
		return
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Finished", "Source", "Target", "Op", "File", "PID", "Status", "Errors", "Details"})

	for _, r := range recs {
		file := r.Filename
		if file == "" {
			file = report.WholeDirectory
		}

		tw.AppendRow(table.Row{
			notify.Stamp(r.FinishedAt), r.Source, r.Target, r.Op, file,
			strconv.Itoa(r.Pid), r.Status, strconv.Itoa(len(r.Errors)), r.Details,
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 6, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
		{Number: 9, WidthMax: 60},
	})

	fmt.Fprintln(w, tw.Render())
}
