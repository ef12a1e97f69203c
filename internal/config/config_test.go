package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/surveybott/fmribatch/internal/config"
	"github.com/surveybott/fmribatch/internal/models"
)

func fakeEnv(vars map[string]string) config.Env {
	return config.Env{Lookup: func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}}
}

func TestLoadSchedulerProfile(t *testing.T) {
	profileToml := `scheduler = "slurm"
queue = "skylake"
ncpu = 16
mem = "32G"
hours_per_subject = 36
max_walltime_hours = 24
limit = 10
container = "apptainer"
image = "~/local/simg/fmriprep-23.2.simg"
fmriprep_args = ["--fs-license-file", "/opt/license.txt"]
`

	fsys := fstest.MapFS{
		"profile.toml": &fstest.MapFile{Data: []byte(profileToml)},
	}

	cfg, err := config.LoadSchedulerProfile(fsys, "profile.toml")
	if err != nil {
		t.Fatalf("LoadSchedulerProfile failed: %v", err)
	}

	if cfg.Queue != "skylake" {
		t.Errorf("expected queue skylake, got %s", cfg.Queue)
	}

	if cfg.NCPU != 16 {
		t.Errorf("expected ncpu 16, got %d", cfg.NCPU)
	}

	if cfg.MemMB != 32768 {
		t.Errorf("expected legacy mem 32G to give 32768 MB, got %d", cfg.MemMB)
	}

	if cfg.JobName != "fmriprep" {
		t.Errorf("expected default job name, got %s", cfg.JobName)
	}

	if len(cfg.FmriprepArgs) != 2 {
		t.Errorf("expected 2 fmriprep args, got %v", cfg.FmriprepArgs)
	}

	if err := config.ValidateSchedulerProfile(cfg); err != nil {
		t.Errorf("profile should validate: %v", err)
	}
}

func TestLoadSchedulerProfileMemMBWins(t *testing.T) {
	fsys := fstest.MapFS{
		"p.toml": &fstest.MapFile{Data: []byte("mem = \"32G\"\nmem_mb = 12000\n")},
	}
	cfg, err := config.LoadSchedulerProfile(fsys, "p.toml")
	if err != nil {
		t.Fatalf("LoadSchedulerProfile failed: %v", err)
	}
	if cfg.MemMB != 12000 {
		t.Errorf("expected mem_mb to take precedence, got %d", cfg.MemMB)
	}
}

func TestLoadSchedulerProfilePBSDefaults(t *testing.T) {
	fsys := fstest.MapFS{
		"pbs.toml":    &fstest.MapFile{Data: []byte("scheduler = \"pbs\"\n")},
		"pbs2.toml":   &fstest.MapFile{Data: []byte("scheduler = \"pbs\"\ncmd_pre = \"\"\nqueue = \"workq\"\n")},
		"typo.toml":   &fstest.MapFile{Data: []byte("ncpus = 4\n")},
		"badmem.toml": &fstest.MapFile{Data: []byte("mem = \"lots\"\n")},
	}

	cfg, err := config.LoadSchedulerProfile(fsys, "pbs.toml")
	if err != nil {
		t.Fatalf("LoadSchedulerProfile failed: %v", err)
	}
	if cfg.CmdPre != "module load singularity" || cfg.Queue != "" {
		t.Errorf("pbs defaults not applied: cmd_pre=%q queue=%q", cfg.CmdPre, cfg.Queue)
	}

	cfg, err = config.LoadSchedulerProfile(fsys, "pbs2.toml")
	if err != nil {
		t.Fatalf("LoadSchedulerProfile failed: %v", err)
	}
	if cfg.CmdPre != "" || cfg.Queue != "workq" {
		t.Errorf("explicit values must win: cmd_pre=%q queue=%q", cfg.CmdPre, cfg.Queue)
	}

	if _, err := config.LoadSchedulerProfile(fsys, "typo.toml"); err == nil || !strings.Contains(err.Error(), "ncpus") {
		t.Errorf("expected unknown key error, got %v", err)
	}
	if _, err := config.LoadSchedulerProfile(fsys, "badmem.toml"); err == nil {
		t.Error("expected memory parse error")
	}
	if _, err := config.LoadSchedulerProfile(fsys, "missing.toml"); err == nil {
		t.Error("expected read error")
	}
}

func TestValidateSchedulerProfile(t *testing.T) {
	cfg := config.DefaultSchedulerProfile()
	if err := config.ValidateSchedulerProfile(cfg); err == nil || !strings.Contains(err.Error(), "image is required") {
		t.Errorf("expected missing image error, got %v", err)
	}

	cfg.Image = "/img.simg"
	cfg.Scheduler = "lsf"
	cfg.NCPU = 0
	err := config.ValidateSchedulerProfile(cfg)
	if err == nil || !strings.Contains(err.Error(), "lsf") || !strings.Contains(err.Error(), "ncpu") {
		t.Errorf("expected scheduler and ncpu errors, got %v", err)
	}
}

func TestLoadBatchConfig(t *testing.T) {
	batchYaml := `derivatives_dir: ~/study/derivatives/fmriprep
working_dir: /scratch/work
parallel: 8
exclude: [sub-07]
environment:
  type: apptainer
  binds:
    - /scratch
  env:
    TEMPLATEFLOW_HOME: /scratch/templateflow
denoise:
  gscontrol: [gsr]
resample:
  enabled: false
`

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "batch.yaml")
	if err := os.WriteFile(tmpFile, []byte(batchYaml), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}

	cfg, err := config.LoadBatchConfig(tmpFile)
	if err != nil {
		t.Fatalf("LoadBatchConfig failed: %v", err)
	}

	if cfg.Parallel != 8 {
		t.Errorf("expected parallel 8, got %d", cfg.Parallel)
	}

	if cfg.Environment.Type != "apptainer" {
		t.Errorf("expected environment type apptainer, got %s", cfg.Environment.Type)
	}

	if cfg.Denoise.FitType != "curvefit" || cfg.Denoise.TedPCA != "kundu" {
		t.Errorf("denoise defaults lost: %+v", cfg.Denoise)
	}

	if !cfg.Denoise.Enabled || cfg.Resample.Enabled {
		t.Errorf("expected denoise on and resample off, got %v/%v", cfg.Denoise.Enabled, cfg.Resample.Enabled)
	}

	config.ResolveBatchPaths(&cfg, fakeEnv(map[string]string{"HOME": "/home/u"}))

	if cfg.DerivativesDir != "/home/u/study/derivatives/fmriprep" {
		t.Errorf("expected ~ expansion, got %s", cfg.DerivativesDir)
	}

	if cfg.Environment.Image != "/home/u/local/simg/fmriprep-latest.simg" {
		t.Errorf("expected default image, got %s", cfg.Environment.Image)
	}

	if cfg.LedgerPath != "/home/u/.local/share/fmribatch/ledger.db" {
		t.Errorf("expected expanded ledger path, got %s", cfg.LedgerPath)
	}

	if err := config.ValidateBatchConfig(cfg); err != nil {
		t.Errorf("config should validate: %v", err)
	}
}

func TestDefaultBatchConfig(t *testing.T) {
	cfg := config.DefaultBatchConfig()

	if cfg.Environment.Type != "singularity" {
		t.Errorf("expected default environment type singularity, got %s", cfg.Environment.Type)
	}

	if cfg.Resample.Space != "MNI152NLin6Asym" || cfg.Resample.Density != "91k" {
		t.Errorf("unexpected resample defaults %+v", cfg.Resample)
	}

	if cfg.Denoise.Desc != "optcomDenoised_bold" {
		t.Errorf("unexpected denoise desc %s", cfg.Denoise.Desc)
	}
}

func TestValidateBatchConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.BatchConfig)
		wantErr string
	}{
		{"valid", func(c *models.BatchConfig) {}, ""},
		{"no derivatives", func(c *models.BatchConfig) { c.DerivativesDir = "" }, "derivatives_dir"},
		{"no working dir", func(c *models.BatchConfig) { c.WorkingDir = "" }, "working_dir"},
		{"bad runtime", func(c *models.BatchConfig) { c.Environment.Type = "podman" }, "podman"},
		{"no image", func(c *models.BatchConfig) { c.Environment.Image = "" }, "image"},
		{"native needs no image", func(c *models.BatchConfig) { c.Environment.Type = "native"; c.Environment.Image = "" }, ""},
		{"bad role", func(c *models.BatchConfig) { c.Resample.Required = []string{"flair"} }, "flair"},
		{"parallel", func(c *models.BatchConfig) { c.Parallel = 0 }, "parallel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultBatchConfig()
			cfg.DerivativesDir = "/deriv"
			cfg.WorkingDir = "/work"
			cfg.Environment.Image = "/img.simg"
			tt.mutate(&cfg)

			err := config.ValidateBatchConfig(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEnvExpandPath(t *testing.T) {
	env := fakeEnv(map[string]string{"HOME": "/home/u"})
	tests := map[string]string{
		"~":        "/home/u",
		"~/bids":   "/home/u/bids",
		"/abs/~/x": "/abs/~/x",
		"relative": "relative",
		"":         "",
	}
	for in, want := range tests {
		if got := env.ExpandPath(in); got != want {
			t.Errorf("ExpandPath(%q) = %q, want %q", in, got, want)
		}
	}

	if got := fakeEnv(nil).ExpandPath("~/bids"); got != "~/bids" {
		t.Errorf("without HOME the path must be left alone, got %q", got)
	}
}

func TestResolveBatchPathsRelative(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg := config.DefaultBatchConfig()
	cfg.DerivativesDir = "derivatives"
	cfg.WorkingDir = "./work"
	cfg.LedgerPath = "state/ledger.db"
	cfg.Environment.Type = "docker"
	cfg.Environment.Image = "nipreps/fmriprep:23.2"

	config.ResolveBatchPaths(&cfg, fakeEnv(map[string]string{"HOME": "/home/u"}))

	for _, tt := range []struct{ got, want string }{
		{cfg.DerivativesDir, filepath.Join(dir, "derivatives")},
		{cfg.WorkingDir, filepath.Join(dir, "work")},
		{cfg.LedgerPath, filepath.Join(dir, "state", "ledger.db")},
	} {
		if tt.got != tt.want {
			t.Errorf("expected %s, got %s", tt.want, tt.got)
		}
	}
	if cfg.StateDir != "" {
		t.Errorf("empty state_dir must stay empty, got %q", cfg.StateDir)
	}
	if cfg.Environment.Image != "nipreps/fmriprep:23.2" {
		t.Errorf("image reference must not be touched, got %s", cfg.Environment.Image)
	}
}
