// Package readiness decides which runs have every input a downstream step
// needs. Decisions are a pure function of the filesystem snapshot, the run and
// the required-role list.
package readiness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/surveybott/fmribatch/internal/bids"
	"github.com/surveybott/fmribatch/internal/locate"
	"github.com/surveybott/fmribatch/internal/models"
)

const (
	DefaultStdSpace    = "MNI152NLin6Asym"
	DefaultDenoiseDesc = "optcomDenoised_bold"
	FsnativeSpace      = "fsnative"
)

// DenoiseRoles are the inputs tedana needs.
var DenoiseRoles = []models.Role{models.RoleEchoImages}

// ResampleRoles are the inputs the CIFTI resampling workflow needs.
var ResampleRoles = []models.Role{
	models.RoleDenoised,
	models.RoleBoldXfm,
	models.RoleAnatXfm,
	models.RoleFsnativeXfm,
	models.RoleT1w,
	models.RoleBrainMask,
}

// ParseRoles validates role names from configuration.
func ParseRoles(names []string) ([]models.Role, error) {
	known := append(slices.Clone(ResampleRoles), DenoiseRoles...)
	roles := make([]models.Role, 0, len(names))
	for _, n := range names {
		r := models.Role(strings.TrimSpace(n))
		if !slices.Contains(known, r) {
			return nil, fmt.Errorf("unknown role %q", n)
		}
		roles = append(roles, r)
	}
	return roles, nil
}

// RolesForSpace drops transforms a run does not need because its images are
// already in the target frame: a T1w-space run needs no bold transform, a
// standard-space run needs neither the bold nor the anatomical transform.
func RolesForSpace(required []models.Role, inputSpace, stdSpace string) []models.Role {
	drop := map[models.Role]bool{}
	switch inputSpace {
	case "", bids.NativeSpace, bids.ScannerSpace:
	case bids.SubjectSpace:
		drop[models.RoleBoldXfm] = true
	case stdSpace:
		drop[models.RoleBoldXfm] = true
		drop[models.RoleAnatXfm] = true
	}
	out := make([]models.Role, 0, len(required))
	for _, r := range required {
		if !drop[r] {
			out = append(out, r)
		}
	}
	return out
}

// Matcher resolves required roles for runs.
type Matcher struct {
	Locator     *locate.Locator
	Required    []models.Role
	StdSpace    string
	DenoiseDesc string
}

// NewMatcher returns a Matcher with default space and tedana naming.
func NewMatcher(l *locate.Locator, required []models.Role) *Matcher {
	return &Matcher{
		Locator:     l,
		Required:    required,
		StdSpace:    DefaultStdSpace,
		DenoiseDesc: DefaultDenoiseDesc,
	}
}

// Match resolves every required role of run.
func (m *Matcher) Match(run models.Run) models.ReadinessRecord {
	rec := models.ReadinessRecord{
		Run:      run,
		Resolved: make(map[models.Role]models.Artifact),
	}

	var xfms *models.TransformSet
	transforms := func() models.TransformSet {
		if xfms == nil {
			set, err := m.Locator.TransformSet(run.Subject, run.Session)
			if err != nil {
				slog.Debug("no transforms", "prefix", run.Prefix, "error", err)
			}
			xfms = &set
		}
		return *xfms
	}

	for _, role := range RolesForSpace(m.Required, run.Space, m.StdSpace) {
		a, err := m.resolve(run, role, transforms)
		if err != nil {
			slog.Debug("role unresolved", "prefix", run.Prefix, "role", role, "error", err)
			rec.Missing = append(rec.Missing, role)
			continue
		}
		rec.Resolved[role] = a
	}
	return rec
}

func (m *Matcher) resolve(run models.Run, role models.Role, transforms func() models.TransformSet) (models.Artifact, error) {
	switch role {
	case models.RoleEchoImages:
		if !run.MultiEcho() {
			return models.Artifact{}, fmt.Errorf("%s has %d echo image(s): %w", run.Prefix, len(run.Images), models.ErrNotFound)
		}
		if len(run.EchoTimes()) != len(run.Images) {
			return models.Artifact{}, fmt.Errorf("%s echo times incomplete: %w", run.Prefix, models.ErrMalformedMetadata)
		}
		if dups := run.DuplicateEchoes(); len(dups) > 0 {
			return models.Artifact{}, fmt.Errorf("%s has repeated echo images %v: %w", run.Prefix, dups, models.ErrAmbiguousMatch)
		}
		return run.Images[0], nil
	case models.RoleDenoised:
		out := m.Locator.FindDenoised(locate.DenoiseDir(run), run.Prefix, []string{bids.NativeSpace}, m.DenoiseDesc)
		if a, ok := out[bids.NativeSpace]; ok {
			return a, nil
		}
		return models.Artifact{}, fmt.Errorf("denoised %s: %w", run.Prefix, models.ErrNotFound)
	case models.RoleBoldXfm:
		return m.Locator.FindBoldTransform(run, bids.ScannerSpace, bids.SubjectSpace)
	case models.RoleAnatXfm:
		return transformTo(transforms(), m.StdSpace)
	case models.RoleFsnativeXfm:
		return transformTo(transforms(), FsnativeSpace)
	case models.RoleT1w:
		return m.Locator.FindT1w(run.Subject, run.Session)
	case models.RoleBrainMask:
		return m.Locator.FindBrainMask(run.Subject, run.Session)
	default:
		return models.Artifact{}, fmt.Errorf("unknown role %q", role)
	}
}

func transformTo(set models.TransformSet, space string) (models.Artifact, error) {
	p, ok := set.To(space)
	if ok {
		return models.Artifact{Path: p, Kind: models.KindTransform}, nil
	}
	if set.Ambiguous(space) {
		return models.Artifact{}, fmt.Errorf("T1w -> %s: %w", space, models.ErrAmbiguousMatch)
	}
	return models.Artifact{}, fmt.Errorf("T1w -> %s (have %v): %w", space, set.Spaces(), models.ErrNotFound)
}

// MatchAll matches runs in order.
func (m *Matcher) MatchAll(runs []models.Run) []models.ReadinessRecord {
	records := make([]models.ReadinessRecord, len(runs))
	for i, r := range runs {
		records[i] = m.Match(r)
	}
	return records
}

// Partition splits records into ready and incomplete, preserving order.
func Partition(records []models.ReadinessRecord) (ready, incomplete []models.ReadinessRecord) {
	for _, r := range records {
		if r.Ready() {
			ready = append(ready, r)
		} else {
			incomplete = append(incomplete, r)
		}
	}
	return ready, incomplete
}

// Report writes one diagnostic line per incomplete run.
func Report(w io.Writer, incomplete []models.ReadinessRecord) error {
	var errs []error
	for _, r := range incomplete {
		names := make([]string, len(r.Missing))
		for i, role := range r.Missing {
			names[i] = string(role)
		}
		_, err := fmt.Fprintf(w, "ERROR: %s missing required file(s): %s\n", r.Run.Prefix, strings.Join(names, ", "))
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Summary counts a batch of readiness decisions.
type Summary struct {
	Total      int
	Ready      int
	Incomplete int
	Missing    map[models.Role]int
}

// Summarize counts records and missing roles.
func Summarize(records []models.ReadinessRecord) Summary {
	s := Summary{Total: len(records), Missing: make(map[models.Role]int)}
	for _, r := range records {
		if r.Ready() {
			s.Ready++
			continue
		}
		s.Incomplete++
		for _, role := range r.Missing {
			s.Missing[role]++
		}
	}
	return s
}

// String renders the summary on one line.
func (s Summary) String() string {
	var parts []string
	for _, role := range append(slices.Clone(DenoiseRoles), ResampleRoles...) {
		if n := s.Missing[role]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", role, n))
		}
	}
	line := fmt.Sprintf("%d run(s): %d ready, %d incomplete", s.Total, s.Ready, s.Incomplete)
	if len(parts) > 0 {
		line += " (missing " + strings.Join(parts, " ") + ")"
	}
	return line
}
