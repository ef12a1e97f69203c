package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/BurntSushi/toml"

	"github.com/surveybott/fmribatch/internal/models"
	"github.com/surveybott/fmribatch/internal/scheduler"
	"github.com/surveybott/fmribatch/internal/util"
)

// DefaultSchedulerProfile returns a SchedulerProfile with default values.
func DefaultSchedulerProfile() models.SchedulerProfile {
	return models.SchedulerProfile{
		Scheduler:       string(scheduler.SLURM),
		Queue:           "general",
		NCPU:            8,
		MemMB:           10000,
		HoursPerSubject: 24,
		JobName:         "fmriprep",
		Container:       "singularity",
	}
}

// pbsCmdPre is what PBS sites typically need before singularity is on PATH.
const pbsCmdPre = "module load singularity"

// LoadSchedulerProfile loads and parses a TOML profile from the given
// filesystem.
func LoadSchedulerProfile(fsys fs.FS, name string) (models.SchedulerProfile, error) {
	cfg := DefaultSchedulerProfile()

	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return cfg, fmt.Errorf("reading %s: %w", name, err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", name, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("parsing %s: unknown keys %v", name, undecoded)
	}

	// Handle legacy 'mem' field if 'mem_mb' is not explicitly set
	if !md.IsDefined("mem_mb") && md.IsDefined("mem") {
		mb, err := util.ParseMemory(cfg.Mem)
		if err != nil {
			return cfg, fmt.Errorf("parsing mem %q: %w", cfg.Mem, err)
		}
		cfg.MemMB = mb
	}

	if cfg.Scheduler == string(scheduler.PBS) {
		if !md.IsDefined("queue") {
			cfg.Queue = ""
		}
		if !md.IsDefined("cmd_pre") {
			cfg.CmdPre = pbsCmdPre
		}
	}
	return cfg, nil
}

// ProfileForKind returns the defaults for a scheduler chosen on the command
// line without a profile file.
func ProfileForKind(kind scheduler.Kind) models.SchedulerProfile {
	cfg := DefaultSchedulerProfile()
	cfg.Scheduler = string(kind)
	if kind == scheduler.PBS {
		cfg.Queue = ""
		cfg.CmdPre = pbsCmdPre
	}
	return cfg
}

// ValidateSchedulerProfile checks a profile before a script is rendered.
func ValidateSchedulerProfile(cfg models.SchedulerProfile) error {
	var errs []error
	if _, err := scheduler.ParseKind(cfg.Scheduler); err != nil {
		errs = append(errs, err)
	}
	if cfg.NCPU < 1 {
		errs = append(errs, fmt.Errorf("ncpu must be at least 1, got %d", cfg.NCPU))
	}
	if cfg.MemMB < 1 {
		errs = append(errs, fmt.Errorf("memory must be positive, got %d MB", cfg.MemMB))
	}
	if cfg.HoursPerSubject < 1 {
		errs = append(errs, fmt.Errorf("hours_per_subject must be at least 1, got %d", cfg.HoursPerSubject))
	}
	if cfg.MaxWalltimeHours < 0 || cfg.Limit < 0 {
		errs = append(errs, errors.New("max_walltime_hours and limit must not be negative"))
	}
	if cfg.Container == "" {
		errs = append(errs, errors.New("container is required"))
	}
	if cfg.Image == "" {
		errs = append(errs, errors.New("image is required"))
	}
	return errors.Join(errs...)
}
