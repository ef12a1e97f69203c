package models

// BatchConfig drives catalog building and post-processing dispatch.
type BatchConfig struct {
	DerivativesDir string            `yaml:"derivatives_dir"`
	WorkingDir     string            `yaml:"working_dir"`
	Subjects       []string          `yaml:"subjects,omitempty"`
	Include        []string          `yaml:"include,omitempty"`
	Exclude        []string          `yaml:"exclude,omitempty"`
	Parallel       int               `yaml:"parallel"`
	UnitTimeoutSec float64           `yaml:"unit_timeout_sec,omitempty"`
	LogLevel       string            `yaml:"log_level"`
	LogFormat      string            `yaml:"log_format"`
	LogFile        string            `yaml:"log_file,omitempty"`
	LedgerPath     string            `yaml:"ledger_path"`
	StateDir       string            `yaml:"state_dir,omitempty"`
	Environment    EnvironmentConfig `yaml:"environment"`
	Denoise        DenoiseConfig     `yaml:"denoise"`
	Resample       ResampleConfig    `yaml:"resample"`
}

// EnvironmentConfig selects how external tools are started.
type EnvironmentConfig struct {
	// Type is one of "singularity", "apptainer", "docker", "native".
	Type       string            `yaml:"type"`
	Executable string            `yaml:"executable,omitempty"`
	Image      string            `yaml:"image,omitempty"`
	Binds      []string          `yaml:"binds,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
	Threads    int               `yaml:"threads,omitempty"`
	Pull       bool              `yaml:"pull,omitempty"` // docker only
}

// DenoiseConfig configures the tedana step.
type DenoiseConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Command   string   `yaml:"command"`
	Image     string   `yaml:"image,omitempty"` // overrides environment.image
	EchoDesc  string   `yaml:"echo_desc"`
	FitType   string   `yaml:"fittype"`
	TedPCA    string   `yaml:"tedpca"`
	GSControl []string `yaml:"gscontrol,omitempty"`
	Desc      string   `yaml:"desc"` // desc label of the denoised output
}

// ResampleConfig configures the CIFTI resampling step.
type ResampleConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Command  string   `yaml:"command"`
	Image    string   `yaml:"image,omitempty"`
	Space    string   `yaml:"space"`
	Density  string   `yaml:"density"`
	Required []string `yaml:"required,omitempty"`
}

// SchedulerProfile holds the site settings for job-array scripts.
type SchedulerProfile struct {
	Scheduler        string   `toml:"scheduler"`
	Queue            string   `toml:"queue"`
	NCPU             int      `toml:"ncpu"`
	Mem              string   `toml:"mem"` // legacy size string, e.g. "10G"
	MemMB            int      `toml:"mem_mb"`
	HoursPerSubject  int      `toml:"hours_per_subject"`
	MaxWalltimeHours int      `toml:"max_walltime_hours"`
	Limit            int      `toml:"limit"`
	JobName          string   `toml:"job_name"`
	Container        string   `toml:"container"`
	Image            string   `toml:"image"`
	CmdPre           string   `toml:"cmd_pre"`
	FmriprepArgs     []string `toml:"fmriprep_args"`
	Remote           string   `toml:"remote"`
}
