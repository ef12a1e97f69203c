// Package catalog builds the artifact catalog of a derivatives tree: the
// subjects found there and the runs each of them holds.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/surveybott/fmribatch/internal/group"
	"github.com/surveybott/fmribatch/internal/locate"
	"github.com/surveybott/fmribatch/internal/models"
)

// Catalog is an immutable snapshot. Runs are ordered by subject then prefix.
type Catalog struct {
	Root     string
	Subjects []models.Subject
	Runs     []models.Run
}

// RunsFor returns the runs of one subject.
func (c *Catalog) RunsFor(subject string) []models.Run {
	var out []models.Run
	for _, r := range c.Runs {
		if r.Subject == subject {
			out = append(out, r)
		}
	}
	return out
}

// Builder scans subjects for echo images and groups them into runs.
type Builder struct {
	Locator  *locate.Locator
	Grouper  *group.Grouper
	Parallel int    // concurrent subject scans; <= 0 means GOMAXPROCS
	Desc     string // desc label of the echo images
}

// NewBuilder returns a Builder over the derivatives directory root.
func NewBuilder(root string) *Builder {
	return &Builder{Locator: locate.New(root), Grouper: group.New()}
}

// Build scans every subject. Subjects without echo images are skipped; any
// malformed sidecar fails the whole build so nothing is dispatched from a
// partially understood tree.
func (b *Builder) Build(ctx context.Context, subjects []models.Subject) (*Catalog, error) {
	limit := b.Parallel
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	perSubject := make([][]models.Run, len(subjects))
	scanErrs := make([]error, len(subjects))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, s := range subjects {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			runs, err := b.scan(s)
			perSubject[i] = runs
			scanErrs[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := errors.Join(scanErrs...); err != nil {
		return nil, err
	}

	c := &Catalog{Root: b.Locator.Root, Subjects: subjects}
	for _, runs := range perSubject {
		c.Runs = append(c.Runs, runs...)
	}
	if len(c.Runs) == 0 {
		return c, fmt.Errorf("%w: could not find any multiecho data in %s", models.ErrNoDataFound, b.Locator.Root)
	}
	slog.Info("catalog built", "subjects", len(subjects), "runs", len(c.Runs))
	return c, nil
}

func (b *Builder) scan(s models.Subject) ([]models.Run, error) {
	files, err := b.Locator.FindEchoImages(s.ID, b.Desc)
	if errors.Is(err, models.ErrNotFound) {
		slog.Debug("subject has no derivatives", "subject", s.Label())
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", s.Label(), err)
	}
	if len(files) == 0 {
		slog.Debug("subject has no echo images", "subject", s.Label())
		return nil, nil
	}
	runs, err := b.Grouper.Group(files)
	if err != nil {
		return nil, fmt.Errorf("grouping %s: %w", s.Label(), err)
	}
	return runs, nil
}
