package steps

import (
	"context"
	"math"
	"path/filepath"
	"strconv"

	"github.com/surveybott/fmribatch/internal/bids"
	"github.com/surveybott/fmribatch/internal/locate"
	"github.com/surveybott/fmribatch/internal/models"
)

// Denoise runs tedana on the echoes of a multi-echo run.
type Denoise struct {
	Runtime
	DerivRoot string
	Command   string // "tedana" by default
	FitType   string
	TedPCA    string
	GSControl []string
}

// Name returns the step name.
func (d *Denoise) Name() string { return "denoise" }

// OutputDir is <deriv>/tedana/sub-<id>/<prefix>.
func (d *Denoise) OutputDir(rec models.ReadinessRecord) string {
	return filepath.Join(d.DerivRoot, filepath.FromSlash(locate.DenoiseDir(rec.Run)))
}

// Args builds the tedana command line. Echo times are passed in
// milliseconds.
func (d *Denoise) Args(rec models.ReadinessRecord) []string {
	cmd := d.Command
	if cmd == "" {
		cmd = "tedana"
	}
	run := rec.Run
	args := []string{cmd, "-d"}
	args = append(args, run.ImagePaths()...)
	args = append(args, "-e")
	for _, te := range run.EchoTimes() {
		ms := math.Round(te*1e6) / 1e3
		args = append(args, strconv.FormatFloat(ms, 'f', -1, 64))
	}
	args = append(args,
		"--out-dir", d.OutputDir(rec),
		"--prefix", run.Prefix+"_space-"+bids.NativeSpace,
	)
	if d.FitType != "" {
		args = append(args, "--fittype", d.FitType)
	}
	if d.TedPCA != "" {
		args = append(args, "--tedpca", d.TedPCA)
	}
	if len(d.GSControl) > 0 {
		args = append(args, "--gscontrol")
		args = append(args, d.GSControl...)
	}
	return append(args, "--verbose")
}

// Run executes tedana for one run.
func (d *Denoise) Run(ctx context.Context, rec models.ReadinessRecord) error {
	out := d.OutputDir(rec)
	spec := d.spec(d.Args(rec), d.DerivRoot)
	spec.WorkDir = out
	return d.run(ctx, "tedana", spec, filepath.Join(out, "logs"))
}
