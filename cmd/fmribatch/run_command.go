package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/surveybott/fmribatch/internal/dispatch"
	"github.com/surveybott/fmribatch/internal/environment"
	"github.com/surveybott/fmribatch/internal/ledger"
	"github.com/surveybott/fmribatch/internal/models"
	"github.com/surveybott/fmribatch/internal/readiness"
	"github.com/surveybott/fmribatch/internal/steps"
)

var _ dispatch.Recorder = (*ledger.Ledger)(nil)

type runOptions struct {
	selection
	skipTedana  bool
	skipCifti   bool
	fittype     string
	tedpca      string
	gscontrol   []string
	unitTimeout time.Duration
	dryRun      bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Denoise multi-echo runs with tedana, then resample them to CIFTI",
		Long: `Build the artifact catalog of the derivatives tree, decide which runs are
ready for each step and dispatch the ready ones to a bounded worker pool.
Runs missing an input are reported and skipped; a failing run does not stop
the others. Every batch is recorded in the ledger.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts.apply(ctx, &cfg)
			if opts.skipTedana {
				cfg.Denoise.Enabled = false
			}
			if opts.skipCifti {
				cfg.Resample.Enabled = false
			}
			if opts.fittype != "" {
				cfg.Denoise.FitType = opts.fittype
			}
			if opts.tedpca != "" {
				cfg.Denoise.TedPCA = opts.tedpca
			}
			if len(opts.gscontrol) > 0 {
				cfg.Denoise.GSControl = opts.gscontrol
			}
			if opts.unitTimeout > 0 {
				cfg.UnitTimeoutSec = opts.unitTimeout.Seconds()
			}

			if opts.dryRun {
				return runBatch(cmd, cfg, nil, true)
			}
			return ctx.withLedger(func(l *ledger.Ledger) error {
				return runBatch(cmd, cfg, l, false)
			})
		},
	}

	opts.register(cmd.Flags())
	flags := cmd.Flags()
	flags.BoolVar(&opts.skipTedana, "skip-tedana", false, "Don't run tedana")
	flags.BoolVar(&opts.skipCifti, "skip-cifti", false, "Don't transform tedana outputs to CIFTI")
	flags.StringVar(&opts.fittype, "fittype", "", "tedana --fittype")
	flags.StringVar(&opts.tedpca, "tedpca", "", "tedana --tedpca")
	flags.StringSliceVar(&opts.gscontrol, "gscontrol", nil, "tedana --gscontrol")
	flags.DurationVar(&opts.unitTimeout, "unit-timeout", 0, "Limit on each run's step (e.g. 6h)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Print what would be dispatched without running anything")

	return cmd
}

func runBatch(cmd *cobra.Command, cfg models.BatchConfig, rec dispatch.Recorder, dryRun bool) error {
	if !cfg.Denoise.Enabled && !cfg.Resample.Enabled {
		return errors.New("both steps are disabled; nothing to do")
	}
	p, err := newPipeline(cfg, !dryRun)
	if err != nil {
		return err
	}
	cat, err := p.catalog(cmd.Context())
	if err != nil {
		return err
	}

	var provider environment.Provider
	if !dryRun {
		if provider, err = p.provider(); err != nil {
			return err
		}
	}

	var errs []error
	if cfg.Denoise.Enabled {
		rt, err := p.runtime(provider, cfg.Denoise.Image)
		if err != nil {
			return err
		}
		records := p.denoiseMatcher().MatchAll(cat.Runs)
		if err := p.execute(cmd, p.denoiseStep(rt), rt, records, rec, dryRun); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			errs = append(errs, err)
		}
	}

	if cfg.Resample.Enabled {
		rt, err := p.runtime(provider, cfg.Resample.Image)
		if err != nil {
			return err
		}
		m, err := p.resampleMatcher()
		if err != nil {
			return err
		}
		records := m.MatchAll(cat.Runs)
		if !dryRun && slices.Contains(m.Required, models.RoleDenoised) && !anyResolved(records, models.RoleDenoised) {
			errs = append(errs, fmt.Errorf("%w: no tedana outputs found in %s", models.ErrNoDataFound,
				filepath.Join(cfg.DerivativesDir, "tedana")))
			return errors.Join(errs...)
		}
		if err := p.execute(cmd, p.resampleStep(rt), rt, records, rec, dryRun); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// execute reports the records that are not ready, prints the plan and, unless
// this is a dry run, dispatches it.
func (p *pipeline) execute(cmd *cobra.Command, step dispatch.Step, rt steps.Runtime, records []models.ReadinessRecord, rec dispatch.Recorder, dryRun bool) error {
	out := cmd.OutOrStdout()

	_, incomplete := readiness.Partition(records)
	if err := readiness.Report(cmd.ErrOrStderr(), incomplete); err != nil {
		return err
	}
	plan, err := dispatch.NewPlan(step, records)
	if err != nil {
		return err
	}
	if err := plan.Write(out); err != nil {
		return err
	}
	if dryRun || len(plan.Units) == 0 {
		return nil
	}

	if err := p.prepareImage(cmd.Context(), rt.Provider, rt.Image); err != nil {
		return fmt.Errorf("%s: %w", step.Name(), err)
	}
	batch, err := p.dispatcher(rec).Run(cmd.Context(), plan)
	if batch != nil {
		canceled := ""
		if batch.Canceled > 0 {
			canceled = fmt.Sprintf(", %d canceled", batch.Canceled)
		}
		fmt.Fprintf(out, "%s: %d succeeded, %d failed, %d skipped%s in %.1fs (batch %s)\n",
			batch.Step, batch.Succeeded, batch.Failed, batch.Skipped, canceled, batch.TotalDurationSec, batch.BatchID)
	}
	return err
}

func anyResolved(records []models.ReadinessRecord, role models.Role) bool {
	for _, r := range records {
		if _, ok := r.Resolved[role]; ok {
			return true
		}
	}
	return false
}
