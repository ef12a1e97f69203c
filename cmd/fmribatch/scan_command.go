package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/surveybott/fmribatch/internal/catalog"
	"github.com/surveybott/fmribatch/internal/config"
	"github.com/surveybott/fmribatch/internal/models"
	"github.com/surveybott/fmribatch/internal/readiness"
)

// selection holds the flags shared by scan and run that narrow or redirect
// the configured batch.
type selection struct {
	derivatives string
	working     string
	subjects    []string
	exclude     []string
	space       string
	cores       int
}

func (s *selection) register(flags *pflag.FlagSet) {
	flags.StringVar(&s.derivatives, "derivatives-dir", "", "fmriprep derivatives directory")
	flags.StringVar(&s.working, "working-dir", "", "Working directory for the resampling workflow")
	flags.StringSliceVar(&s.subjects, "sub", nil, "Subjects to process (with or without sub-)")
	flags.StringSliceVar(&s.exclude, "exclude", nil, "Subjects to skip")
	flags.StringVar(&s.space, "space", "", "Standard space of the resampled output")
	flags.IntVar(&s.cores, "cores", 0, "Runs processed at once")
}

func (s *selection) apply(ctx *commandContext, cfg *models.BatchConfig) {
	if s.derivatives != "" {
		cfg.DerivativesDir = config.AbsPath(ctx.env.ExpandPath(s.derivatives))
	}
	if s.working != "" {
		cfg.WorkingDir = config.AbsPath(ctx.env.ExpandPath(s.working))
	}
	if len(s.subjects) > 0 {
		cfg.Subjects = s.subjects
		cfg.Include = nil
	}
	if len(s.exclude) > 0 {
		cfg.Exclude = append(cfg.Exclude, s.exclude...)
	}
	if s.space != "" {
		cfg.Resample.Space = s.space
	}
	if s.cores > 0 {
		cfg.Parallel = s.cores
	}
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var sel selection

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Catalog the derivatives tree and show which runs are ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sel.apply(ctx, &cfg)
			return runScan(cmd, cfg)
		},
	}
	sel.register(cmd.Flags())
	return cmd
}

func runScan(cmd *cobra.Command, cfg models.BatchConfig) error {
	p, err := newPipeline(cfg, false)
	if err != nil {
		return err
	}
	cat, err := p.catalog(cmd.Context())
	if err != nil {
		return err
	}

	headers := []string{"Run", "Echoes", "Space"}
	var denoise, resample []models.ReadinessRecord
	if cfg.Denoise.Enabled {
		denoise = p.denoiseMatcher().MatchAll(cat.Runs)
		headers = append(headers, "Denoise")
	}
	if cfg.Resample.Enabled {
		m, err := p.resampleMatcher()
		if err != nil {
			return err
		}
		resample = m.MatchAll(cat.Runs)
		headers = append(headers, "Resample")
	}

	rows := make([][]string, 0, len(cat.Runs))
	for i, run := range cat.Runs {
		space := run.Space
		if space == "" {
			space = "-"
		}
		row := []string{run.Prefix, strconv.Itoa(len(run.Images)), space}
		if denoise != nil {
			row = append(row, readinessCell(denoise[i]))
		}
		if resample != nil {
			row = append(row, readinessCell(resample[i]))
		}
		rows = append(rows, row)
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, renderTable(out, headers, rows, []columnAlignment{alignLeft, alignRight}))
	fmt.Fprintln(out, catalogSummary(cat))
	var empty []string
	for _, s := range cat.Subjects {
		if len(cat.RunsFor(s.ID)) == 0 {
			empty = append(empty, s.Label())
		}
	}
	if len(empty) > 0 {
		fmt.Fprintf(out, "no multi-echo runs: %s\n", strings.Join(empty, ", "))
	}
	if denoise != nil {
		fmt.Fprintf(out, "denoise: %s\n", readiness.Summarize(denoise))
	}
	if resample != nil {
		fmt.Fprintf(out, "resample: %s\n", readiness.Summarize(resample))
	}
	return nil
}

// catalogSummary reports sessions only for datasets that have them.
func catalogSummary(cat *catalog.Catalog) string {
	var sessions int
	for _, s := range cat.Subjects {
		sessions += len(s.Sessions)
	}
	line := fmt.Sprintf("%d subject(s)", len(cat.Subjects))
	if sessions > 0 {
		line += fmt.Sprintf(", %d session(s)", sessions)
	}
	return line + fmt.Sprintf(", %d run(s) in %s", len(cat.Runs), cat.Root)
}

func readinessCell(rec models.ReadinessRecord) string {
	if rec.Ready() {
		return "ready"
	}
	missing := make([]string, len(rec.Missing))
	for i, r := range rec.Missing {
		missing[i] = string(r)
	}
	return "missing " + strings.Join(missing, ", ")
}
