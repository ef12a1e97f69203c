// Package group partitions functional images into logical runs and puts the
// echoes of each multi-echo run into canonical order.
package group

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/mkmik/argsort"

	"github.com/surveybott/fmribatch/internal/bids"
	"github.com/surveybott/fmribatch/internal/models"
)

// Grouper reads sidecar metadata through ReadFile.
type Grouper struct {
	ReadFile func(path string) ([]byte, error)
}

// New returns a Grouper reading from the local filesystem.
func New() *Grouper {
	return &Grouper{ReadFile: os.ReadFile}
}

// NewFS returns a Grouper whose absolute paths under root are served by fsys.
func NewFS(root string, fsys fs.FS) *Grouper {
	return &Grouper{ReadFile: func(p string) ([]byte, error) {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil, err
		}
		return fs.ReadFile(fsys, filepath.ToSlash(rel))
	}}
}

type runKey struct {
	prefix string
	space  string
}

type member struct {
	artifact models.Artifact
	name     bids.Name
}

// Group partitions files by run prefix and space. Runs come back sorted by
// prefix then space. A run whose echoes lack usable EchoTime metadata is not
// returned and its error is joined into the returned error. Files sharing an
// echo index stay in their run; see models.Run.DuplicateEchoes.
func (g *Grouper) Group(files []models.Artifact) ([]models.Run, error) {
	groups := make(map[runKey][]member)
	for _, f := range files {
		n, err := bids.ParseFunctional(filepath.Base(f.Path))
		if err != nil {
			slog.Debug("ignoring non-functional candidate", "path", f.Path, "error", err)
			continue
		}
		key := runKey{prefix: n.RunPrefix(), space: n.Space()}
		groups[key] = append(groups[key], member{artifact: f, name: n})
	}

	keys := make([]runKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].prefix != keys[j].prefix {
			return keys[i].prefix < keys[j].prefix
		}
		return keys[i].space < keys[j].space
	})

	var runs []models.Run
	var errs []error
	for _, k := range keys {
		run, err := g.buildRun(k, groups[k])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		runs = append(runs, run)
	}
	return runs, errors.Join(errs...)
}

func (g *Grouper) buildRun(k runKey, members []member) (models.Run, error) {
	first := members[0].name
	run := models.Run{
		Subject: first.Subject(),
		Session: first.Session(),
		Task:    first.Task(),
		Space:   k.space,
		Prefix:  k.prefix,
	}

	multiEcho := false
	for _, m := range members {
		if _, ok := m.name.Echo(); ok {
			multiEcho = true
			break
		}
	}

	images := make([]models.Artifact, len(members))
	for i, m := range members {
		img := m.artifact
		if echo, ok := m.name.Echo(); ok {
			img.Echo = echo
		}
		te, err := g.echoTime(img.Path)
		switch {
		case err == nil:
			img.EchoTime = &te
		case multiEcho:
			return models.Run{}, fmt.Errorf("run %s: %w", k.prefix, err)
		}
		images[i] = img
	}

	order := argsort.SortSlice(images, func(i, j int) bool {
		ti, tj := echoTimeOf(images[i]), echoTimeOf(images[j])
		if ti != tj {
			return ti < tj
		}
		return images[i].Path < images[j].Path
	})
	run.Images = make([]models.Artifact, len(order))
	for i, idx := range order {
		run.Images[i] = images[idx]
	}
	// Kept so readiness can report the run; it is never dispatched.
	for echo, paths := range run.DuplicateEchoes() {
		slog.Warn("echo index found more than once", "run", k.prefix, "echo", echo, "paths", paths)
	}
	return run, nil
}

func echoTimeOf(a models.Artifact) float64 {
	if a.EchoTime == nil {
		return 0
	}
	return *a.EchoTime
}

type sidecar struct {
	EchoTime *float64 `json:"EchoTime"`
}

// echoTime reads EchoTime from the image's sidecar.
func (g *Grouper) echoTime(imagePath string) (float64, error) {
	sc := bids.SidecarPath(imagePath)
	data, err := g.ReadFile(sc)
	if err != nil {
		return 0, fmt.Errorf("%w: reading sidecar %s: %v", models.ErrMalformedMetadata, sc, err)
	}
	var meta sidecar
	if err := json.Unmarshal(data, &meta); err != nil {
		return 0, fmt.Errorf("%w: parsing sidecar %s: %v", models.ErrMalformedMetadata, sc, err)
	}
	if meta.EchoTime == nil {
		return 0, fmt.Errorf("%w: sidecar %s has no EchoTime", models.ErrMalformedMetadata, sc)
	}
	if *meta.EchoTime <= 0 {
		return 0, fmt.Errorf("%w: sidecar %s has non-positive EchoTime %v", models.ErrMalformedMetadata, sc, *meta.EchoTime)
	}
	return *meta.EchoTime, nil
}
