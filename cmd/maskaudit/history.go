package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"maskaudit/pkg/history"
	"maskaudit/pkg/report"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "List recorded runs, or the mismatches of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = a.cfg.Output.HistoryDB
			}
			if dbPath == "" {
				return errors.New("no history database: set output.historyDB or pass --db")
			}

			store, err := history.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				run, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("run %s not found", args[0])
				}
				fmt.Fprintln(out, report.RenderSummary(run.RunSummary))

				mismatches, err := store.Mismatches(ctx, run.RunID)
				if err != nil {
					return err
				}
				rows := make([][]string, len(mismatches))
				for i, m := range mismatches {
					rows[i] = []string{m.CaseID, m.MaskName, strconv.Itoa(m.Computed), m.Reference}
				}
				if len(rows) > 0 {
					fmt.Fprintln(out, report.RenderTable(
						[]string{"Case", "Mask", "Computed", "Reference"}, rows,
						[]report.Alignment{report.AlignLeft, report.AlignLeft, report.AlignRight, report.AlignLeft},
					))
				}
				return nil
			}

			runs, err := store.List(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{
					r.RunID,
					r.StartedAt.Local().Format(report.TimeLayout),
					r.ElapsedString(),
					strconv.Itoa(r.Cases),
					strconv.Itoa(r.Failures),
					strconv.Itoa(r.Mismatches),
					strconv.Itoa(r.PatchedCells),
				}
			}
			fmt.Fprintln(out, report.RenderTable(
				[]string{"Run", "Started", "Elapsed", "Cases", "Errors", "Mismatches", "Patched"}, rows,
				[]report.Alignment{report.AlignLeft, report.AlignLeft, report.AlignRight, report.AlignRight, report.AlignRight, report.AlignRight, report.AlignRight},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "history database (default output.historyDB)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list (0 lists all)")
	return cmd
}
