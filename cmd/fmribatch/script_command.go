package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/surveybott/fmribatch/internal/config"
	"github.com/surveybott/fmribatch/internal/ledger"
	"github.com/surveybott/fmribatch/internal/models"
	"github.com/surveybott/fmribatch/internal/scheduler"
	"github.com/surveybott/fmribatch/internal/subject"
)

type scriptOptions struct {
	scheduler   string
	profile     string
	ncpu        int
	mem         int
	queue       string
	limit       int
	hours       int
	maxWalltime int
	container   string
	image       string
	cmdPre      string
	fmriprep    string
	include     []string
	exclude     []string
	output      string
	submit      bool
	remote      string
}

func newScriptCommand(ctx *commandContext) *cobra.Command {
	var opts scriptOptions

	cmd := &cobra.Command{
		Use:   "script <bids_dir> <out_dir>",
		Short: "Render an fmriprep job-array script for every subject",
		Long: `Render a PBS or SLURM job-array script running fmriprep once per subject
directory found under bids_dir. The script is written to <out_dir>/<scheduler>/
unless --output is given, and submitted when --submit is set.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(cmd, ctx, opts, args[0], args[1])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.scheduler, "scheduler", "slurm", "Scheduler: slurm or pbs")
	flags.StringVar(&opts.profile, "profile", "", "Scheduler profile (TOML)")
	flags.IntVar(&opts.ncpu, "ncpu", 8, "Number of cpus per subject")
	flags.IntVar(&opts.mem, "mem", 10000, "Memory per subject in MB")
	flags.StringVar(&opts.queue, "queue", "", "PBS queue name")
	flags.StringVar(&opts.queue, "partition", "", "SLURM partition")
	flags.IntVar(&opts.limit, "limit", 0, "Max number of subjects to run concurrently")
	flags.IntVar(&opts.hours, "hrs-per-sub", 24, "Hours to devote to each subject for walltime purposes")
	flags.IntVar(&opts.maxWalltime, "max-walltime", 0, "Cap on the walltime in hours")
	flags.StringVar(&opts.container, "container", "singularity", "Container executable")
	flags.StringVar(&opts.image, "container-img", "", "fmriprep container image (default $HOME/local/simg/fmriprep-latest.simg)")
	flags.StringVar(&opts.cmdPre, "cmd-pre", "", "Setup command run before the container call")
	flags.StringVar(&opts.fmriprep, "fmriprep", "", "fmriprep arguments, quoted as one string")
	flags.StringSliceVar(&opts.include, "include", nil, "Subjects to include")
	flags.StringSliceVar(&opts.exclude, "exclude", nil, "Subjects to exclude")
	flags.StringVarP(&opts.output, "output", "o", "", "Script path")
	flags.BoolVar(&opts.submit, "submit", false, "Submit the script after writing it")
	flags.StringVar(&opts.remote, "remote", "", "Submit through ssh to this host")

	return cmd
}

// scriptProfile layers the profile file, or the scheduler defaults, under the
// flags the user actually set.
func scriptProfile(cmd *cobra.Command, ctx *commandContext, opts scriptOptions) (models.SchedulerProfile, error) {
	var profile models.SchedulerProfile
	if opts.profile != "" {
		path := ctx.env.ExpandPath(opts.profile)
		var err error
		profile, err = config.LoadSchedulerProfile(os.DirFS(filepath.Dir(path)), filepath.Base(path))
		if err != nil {
			return profile, err
		}
	} else {
		kind, err := scheduler.ParseKind(opts.scheduler)
		if err != nil {
			return profile, err
		}
		profile = config.ProfileForKind(kind)
	}

	flags := cmd.Flags()
	if flags.Changed("scheduler") {
		profile.Scheduler = opts.scheduler
	}
	if flags.Changed("ncpu") {
		profile.NCPU = opts.ncpu
	}
	if flags.Changed("mem") {
		profile.MemMB = opts.mem
	}
	if flags.Changed("queue") || flags.Changed("partition") {
		profile.Queue = opts.queue
	}
	if flags.Changed("limit") {
		profile.Limit = opts.limit
	}
	if flags.Changed("hrs-per-sub") {
		profile.HoursPerSubject = opts.hours
	}
	if flags.Changed("max-walltime") {
		profile.MaxWalltimeHours = opts.maxWalltime
	}
	if flags.Changed("container") {
		profile.Container = opts.container
	}
	if flags.Changed("container-img") {
		profile.Image = opts.image
	}
	if flags.Changed("cmd-pre") {
		profile.CmdPre = opts.cmdPre
	}
	if flags.Changed("fmriprep") {
		profile.FmriprepArgs = strings.Fields(opts.fmriprep)
	}
	if flags.Changed("remote") {
		profile.Remote = opts.remote
	}

	if profile.Image == "" {
		profile.Image = ctx.env.DefaultImage()
	}
	profile.Image = ctx.env.ExpandPath(profile.Image)
	return profile, config.ValidateSchedulerProfile(profile)
}

func runScript(cmd *cobra.Command, ctx *commandContext, opts scriptOptions, bidsArg, outArg string) error {
	profile, err := scriptProfile(cmd, ctx, opts)
	if err != nil {
		return err
	}
	kind, err := scheduler.ParseKind(profile.Scheduler)
	if err != nil {
		return err
	}

	bidsDir, err := ctx.absDir(bidsArg)
	if err != nil {
		return err
	}
	outDir, err := filepath.Abs(ctx.env.ExpandPath(outArg))
	if err != nil {
		return err
	}

	subjects, err := subject.Enumerate(os.DirFS(bidsDir), bidsDir, subject.Filter{
		Include: opts.include,
		Exclude: opts.exclude,
	})
	if err != nil {
		return err
	}

	logDir := filepath.Join(outDir, string(kind))
	params := scheduler.Params{
		Kind:             kind,
		Queue:            profile.Queue,
		NCPU:             profile.NCPU,
		MemMB:            profile.MemMB,
		HoursPerSubject:  profile.HoursPerSubject,
		MaxWalltimeHours: profile.MaxWalltimeHours,
		Limit:            profile.Limit,
		JobName:          profile.JobName,
		Container:        profile.Container,
		Image:            profile.Image,
		CmdPre:           profile.CmdPre,
		LogDir:           logDir,
		BIDSDir:          bidsDir,
		OutDir:           outDir,
		FmriprepArgs:     profile.FmriprepArgs,
		Subjects:         subject.IDs(subjects),
	}

	var buf bytes.Buffer
	if err := scheduler.Render(&buf, params); err != nil {
		return err
	}

	scriptPath := opts.output
	if scriptPath == "" {
		scriptPath = filepath.Join(logDir, "fmriprep.sh")
	}
	scriptPath = ctx.env.ExpandPath(scriptPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", logDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(scriptPath), 0755); err != nil {
		return fmt.Errorf("creating script directory: %w", err)
	}
	if err := os.WriteFile(scriptPath, buf.Bytes(), 0755); err != nil {
		return fmt.Errorf("writing script: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %s (%d subject(s))\n", scriptPath, len(subjects))
	slog.Info("job script written", "path", scriptPath, "scheduler", kind, "subjects", len(subjects))

	if !opts.submit {
		return nil
	}

	submitter := scheduler.NewSubmitter()
	submitter.Remote = profile.Remote
	jobID, err := submitter.Submit(cmd.Context(), kind, scriptPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Submitted job %s\n", jobID)

	return ctx.withLedger(func(l *ledger.Ledger) error {
		return l.RecordSubmission(cmd.Context(), ledger.Submission{
			Scheduler:  string(kind),
			JobID:      jobID,
			ScriptPath: scriptPath,
			Subjects:   len(subjects),
			Remote:     profile.Remote,
		})
	})
}
