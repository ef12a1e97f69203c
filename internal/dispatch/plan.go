// Package dispatch runs a processing step over ready runs with bounded
// parallelism.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"

	"github.com/surveybott/fmribatch/internal/models"
)

// Step is one external processing stage applied to a run.
type Step interface {
	Name() string
	// OutputDir is the directory the step writes for rec. Distinct runs must
	// map to distinct directories.
	OutputDir(rec models.ReadinessRecord) string
	Run(ctx context.Context, rec models.ReadinessRecord) error
}

// Unit is one run scheduled for a step.
type Unit struct {
	Record    models.ReadinessRecord
	OutputDir string
}

// Plan is the fixed set of units a batch will execute.
type Plan struct {
	Step    Step
	Units   []Unit
	Skipped []models.ReadinessRecord
}

// NewPlan keeps the ready records and rejects two runs sharing an output
// directory.
func NewPlan(step Step, records []models.ReadinessRecord) (*Plan, error) {
	p := &Plan{Step: step}
	owner := make(map[string]string)
	for _, rec := range records {
		if !rec.Ready() {
			p.Skipped = append(p.Skipped, rec)
			continue
		}
		dir := filepath.Clean(step.OutputDir(rec))
		if prev, ok := owner[dir]; ok {
			return nil, fmt.Errorf("%s: runs %s and %s share output directory %s", step.Name(), prev, rec.Run.Prefix, dir)
		}
		owner[dir] = rec.Run.Prefix
		p.Units = append(p.Units, Unit{Record: rec, OutputDir: dir})
	}
	return p, nil
}

// Write prints what the batch is about to do.
func (p *Plan) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s: %d run(s) to dispatch, %d skipped\n", p.Step.Name(), len(p.Units), len(p.Skipped)); err != nil {
		return err
	}
	for _, u := range p.Units {
		if _, err := fmt.Fprintf(w, "  %s -> %s\n", u.Record.Run.Prefix, u.OutputDir); err != nil {
			return err
		}
		roles := make([]models.Role, 0, len(u.Record.Resolved))
		for r := range u.Record.Resolved {
			roles = append(roles, r)
		}
		slices.Sort(roles)
		for _, r := range roles {
			if r == models.RoleEchoImages {
				for _, img := range u.Record.Run.Images {
					if _, err := fmt.Fprintf(w, "      %s: %s\n", r, img.Path); err != nil {
						return err
					}
				}
				continue
			}
			if _, err := fmt.Fprintf(w, "      %s: %s\n", r, u.Record.Path(r)); err != nil {
				return err
			}
		}
	}
	return nil
}
