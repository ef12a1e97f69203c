package steps

import (
	"context"
	"path/filepath"

	"github.com/surveybott/fmribatch/internal/bids"
	"github.com/surveybott/fmribatch/internal/models"
)

// DefaultDensity is the grayordinate density of the CIFTI output.
const DefaultDensity = "91k"

// Resample projects the denoised run onto fsLR grayordinates.
type Resample struct {
	Runtime
	DerivRoot string
	WorkRoot  string
	Command   string
	Space     string // standard volume space, e.g. MNI152NLin6Asym
	Density   string
}

// Name returns the step name.
func (r *Resample) Name() string { return "resample" }

// OutputDir is the per-run working directory
// <work>/tedana_cifti_wf/<prefix>_cifti_wf.
func (r *Resample) OutputDir(rec models.ReadinessRecord) string {
	return filepath.Join(r.WorkRoot, "tedana_cifti_wf", rec.Run.Prefix+"_cifti_wf")
}

// SinkDir is where the CIFTI file lands: the run's func directory in the
// derivatives tree.
func (r *Resample) SinkDir(run models.Run) string {
	dir := filepath.Join(r.DerivRoot, bids.SubjectDir(run.Subject))
	if run.Session != "" {
		dir = filepath.Join(dir, bids.SessionDir(run.Session))
	}
	return filepath.Join(dir, "func")
}

// Output returns the expected CIFTI path for a run.
func (r *Resample) Output(run models.Run) string {
	return filepath.Join(r.SinkDir(run), bids.CiftiName(run.Prefix, r.density()))
}

func (r *Resample) density() string {
	if r.Density == "" {
		return DefaultDensity
	}
	return r.Density
}

var resampleFlags = []struct {
	role models.Role
	flag string
}{
	{models.RoleDenoised, "--bold"},
	{models.RoleT1w, "--t1w"},
	{models.RoleBrainMask, "--t1w-mask"},
	{models.RoleBoldXfm, "--xfm-bold"},
	{models.RoleAnatXfm, "--xfm-std"},
	{models.RoleFsnativeXfm, "--xfm-fsnative"},
}

// Args builds the workflow command line. Roles the run did not need are
// omitted.
func (r *Resample) Args(rec models.ReadinessRecord) []string {
	cmd := r.Command
	if cmd == "" {
		cmd = "tedana-cifti"
	}
	args := []string{cmd}
	for _, f := range resampleFlags {
		if p := rec.Path(f.role); p != "" {
			args = append(args, f.flag, p)
		}
	}
	return append(args,
		"--subject", bids.SubjectDir(rec.Run.Subject),
		"--subjects-dir", filepath.Join(r.DerivRoot, "sourcedata", "freesurfer"),
		"--space", r.Space,
		"--density", r.density(),
		"--work-dir", r.OutputDir(rec),
		"--out-dir", r.SinkDir(rec.Run),
		"--out-name", bids.CiftiName(rec.Run.Prefix, r.density()),
	)
}

// Run executes the resampling workflow for one run.
func (r *Resample) Run(ctx context.Context, rec models.ReadinessRecord) error {
	work := r.OutputDir(rec)
	spec := r.spec(r.Args(rec), r.DerivRoot, r.WorkRoot)
	spec.WorkDir = work
	return r.run(ctx, "cifti", spec, filepath.Join(work, "logs"))
}
