package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"maskaudit/pkg/audit"
	"maskaudit/pkg/checker"
	"maskaudit/pkg/logging"
	"maskaudit/pkg/report"
)

type runOptions struct {
	imageDir    string
	maskDir     string
	reference   string
	outputDir   string
	masks       []string
	workers     int
	slabDepth   int
	tolerance   float64
	caseTimeout time.Duration
	parquet     bool
	historyDB   string
	noProgress  bool
	showLimit   int
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Audit every case and reconcile the results with the reference workbook",
		Long: `Run checks every image volume in the image directory against the masks in its case
directory, reconciles mask presence with the reference workbook and writes:

  - a patched copy of the reference with disagreeing cells overwritten and highlighted
  - a report workbook (and optionally Parquet files) with every result table

Flags override the values from the config file.`,
		Example: `  maskaudit run --images ./images --masks ./masks --reference ./data.xlsx
  maskaudit run -c study.yaml --workers 4 --case-timeout 2m --parquet`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyRunFlags(cmd, a, opts)
			if err := a.validate(); err != nil {
				return err
			}
			return runAudit(cmd, a, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.imageDir, "images", "", "directory with one image volume per case")
	flags.StringVar(&opts.maskDir, "masks", "", "directory with one mask subdirectory per case")
	flags.StringVar(&opts.reference, "reference", "", "reference .xlsx workbook")
	flags.StringVarP(&opts.outputDir, "output", "o", "", "output directory")
	flags.StringSliceVar(&opts.masks, "mask", nil, "mask names to audit (default: taken from the first case)")
	flags.IntVar(&opts.workers, "workers", 0, "number of cases processed concurrently")
	flags.IntVar(&opts.slabDepth, "slab-depth", 0, "z-planes read per emptiness check step")
	flags.Float64Var(&opts.tolerance, "tolerance", 0, "absolute tolerance for affine comparison")
	flags.DurationVar(&opts.caseTimeout, "case-timeout", 0, "time limit per case (0 disables)")
	flags.BoolVar(&opts.parquet, "parquet", false, "also write report tables as Parquet files")
	flags.StringVar(&opts.historyDB, "history", "", "record the run in this SQLite database")
	flags.BoolVar(&opts.noProgress, "no-progress", false, "disable the progress bar")
	flags.IntVar(&opts.showLimit, "show", 20, "mismatches to print (0 prints all)")

	return cmd
}

// applyRunFlags copies explicitly set flags over the loaded config
func applyRunFlags(cmd *cobra.Command, a *app, opts *runOptions) {
	flags := cmd.Flags()
	cfg := a.cfg
	if flags.Changed("images") {
		cfg.Input.ImageDir = opts.imageDir
	}
	if flags.Changed("masks") {
		cfg.Input.MaskDir = opts.maskDir
	}
	if flags.Changed("reference") {
		cfg.Input.Reference = opts.reference
	}
	if flags.Changed("output") {
		cfg.Output.Dir = opts.outputDir
	}
	if flags.Changed("mask") {
		cfg.Input.Masks = opts.masks
	}
	if flags.Changed("workers") {
		cfg.Processing.Workers = opts.workers
	}
	if flags.Changed("slab-depth") {
		cfg.Processing.SlabDepth = opts.slabDepth
	}
	if flags.Changed("tolerance") {
		cfg.Processing.OriginTolerance = opts.tolerance
	}
	if flags.Changed("case-timeout") {
		cfg.Processing.CaseTimeout = opts.caseTimeout
	}
	if flags.Changed("parquet") {
		cfg.Output.Parquet = opts.parquet
	}
	if flags.Changed("history") {
		cfg.Output.HistoryDB = opts.historyDB
	}
}

func runAudit(cmd *cobra.Command, a *app, opts *runOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	params := checker.ParamsFromConfig(a.cfg)
	params.Logger = logging.FromContext(ctx)

	var bar *progressbar.ProgressBar
	if !opts.noProgress && isatty.IsTerminal(os.Stderr.Fd()) {
		params.OnStart = func(cases int) {
			bar = progressbar.NewOptions(cases,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("Checking cases"),
				progressbar.OptionShowCount(),
				progressbar.OptionSetElapsedTime(true),
				progressbar.OptionClearOnFinish(),
			)
		}
		params.OnCaseDone = func(c audit.Case, err error) {
			if bar != nil {
				_ = bar.Add(1)
			}
		}
	}

	outcome, err := checker.New(params).Process(ctx)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}

	printOutcome(out, outcome, opts.showLimit)

	if outcome.Interrupted {
		return fmt.Errorf("run interrupted: %d of %d cases skipped", outcome.Summary.Skipped, outcome.Summary.Cases)
	}
	return nil
}

func printOutcome(w io.Writer, outcome *checker.Outcome, limit int) {
	fmt.Fprintln(w, report.RenderSummary(outcome.Summary))

	if missing := outcome.Schema.Unresolved(outcome.MaskNames); len(missing) > 0 {
		fmt.Fprintf(w, "\nMasks without a reference column: %v\n", missing)
	}

	if table := report.RenderMismatches(outcome.Entries, limit); table != "" {
		fmt.Fprintln(w, "\nMismatches:")
		fmt.Fprintln(w, table)
	}

	if len(outcome.Results.Failures) > 0 || len(outcome.Results.Skipped) > 0 {
		sheet := report.LoadErrors(report.Data{Failures: outcome.Results.Failures, Skipped: outcome.Results.Skipped})
		fmt.Fprintln(w, "\nLoad errors:")
		fmt.Fprintln(w, report.RenderSheet(sheet))
	}

	fmt.Fprintf(w, "\nReport:            %s\n", outcome.ReportPath)
	fmt.Fprintf(w, "Patched reference: %s (%d cells)\n", outcome.PatchedPath, len(outcome.Patched.Changes))
	for _, path := range outcome.ParquetPaths {
		fmt.Fprintf(w, "Parquet:           %s\n", path)
	}
}
