// Package locate resolves expected derivative files for a subject, session or
// run. Every lookup either returns exactly one artifact or an explicit
// not-found error; it never guesses between candidates.
package locate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/surveybott/fmribatch/internal/bids"
	"github.com/surveybott/fmribatch/internal/models"
)

// DefaultEchoDesc is the desc label of fmriprep's minimally preprocessed echoes.
const DefaultEchoDesc = "preproc"

// Locator searches a derivatives tree. FS is rooted at Root.
type Locator struct {
	Root string
	FS   fs.FS
}

// New returns a Locator over the directory root.
func New(root string) *Locator {
	return &Locator{Root: root, FS: os.DirFS(root)}
}

// NewFS returns a Locator over an arbitrary filesystem that stands for root.
func NewFS(root string, fsys fs.FS) *Locator {
	return &Locator{Root: root, FS: fsys}
}

// Abs converts a slash-separated path relative to the FS into an absolute path.
func (l *Locator) Abs(rel string) string {
	return filepath.Join(l.Root, filepath.FromSlash(rel))
}

func (l *Locator) isDir(rel string) bool {
	info, err := fs.Stat(l.FS, rel)
	return err == nil && info.IsDir()
}

// modalityDirs returns the candidate directories for a modality, session-scoped
// first when a session is known, each paired with the filename prefix used there.
func modalityDirs(subject, session, modality string) []dirCandidate {
	sub := bids.SubjectDir(subject)
	var dirs []dirCandidate
	if session != "" {
		dirs = append(dirs, dirCandidate{
			dir:     path.Join(sub, bids.SessionDir(session), modality),
			session: session,
		})
	}
	dirs = append(dirs, dirCandidate{dir: path.Join(sub, modality)})
	return dirs
}

type dirCandidate struct {
	dir     string
	session string // session encoded in filenames within dir
}

// FindOne returns the single file in dir matching the glob pattern.
func (l *Locator) FindOne(dir, pattern string, kind models.ArtifactKind) (models.Artifact, error) {
	matches, err := fs.Glob(l.FS, path.Join(dir, pattern))
	if err != nil {
		return models.Artifact{}, fmt.Errorf("matching %s: %w", pattern, err)
	}
	switch len(matches) {
	case 0:
		return models.Artifact{}, fmt.Errorf("%s in %s: %w", pattern, l.Abs(dir), models.ErrNotFound)
	case 1:
		return models.Artifact{Path: l.Abs(matches[0]), Kind: kind}, nil
	default:
		return models.Artifact{}, fmt.Errorf("%s in %s matched %d files: %w", pattern, l.Abs(dir), len(matches), models.ErrAmbiguousMatch)
	}
}

// findAnat walks the anat candidates in order. An ambiguous directory fails
// the lookup instead of falling through to the next one.
func (l *Locator) findAnat(subject, session string, kind models.ArtifactKind, name func(sub, ses string) string) (models.Artifact, error) {
	for _, c := range modalityDirs(subject, session, "anat") {
		if !l.isDir(c.dir) {
			continue
		}
		pattern := strings.TrimSuffix(name(subject, c.session), ".gz") + "*"
		a, err := l.FindOne(c.dir, pattern, kind)
		if err == nil || errors.Is(err, models.ErrAmbiguousMatch) {
			return a, err
		}
	}
	return models.Artifact{}, fmt.Errorf("%s for sub-%s: %w", kind, subject, models.ErrNotFound)
}

// FindT1w returns the preprocessed T1w image.
func (l *Locator) FindT1w(subject, session string) (models.Artifact, error) {
	return l.findAnat(subject, session, models.KindAnatomical, bids.AnatImageName)
}

// FindBrainMask returns the T1w brain mask.
func (l *Locator) FindBrainMask(subject, session string) (models.Artifact, error) {
	return l.findAnat(subject, session, models.KindBrainMask, bids.BrainMaskName)
}

// TransformSet scans the first existing anat directory for from-X_to-Y files
// and keys them by the endpoint that is not the subject (T1w) space.
func (l *Locator) TransformSet(subject, session string) (models.TransformSet, error) {
	set := models.NewTransformSet(subject, session)
	for _, c := range modalityDirs(subject, session, "anat") {
		if !l.isDir(c.dir) {
			continue
		}
		filePrefix := bids.SubjectDir(subject)
		if c.session != "" {
			filePrefix += "_" + bids.SessionDir(c.session)
		}
		matches, err := fs.Glob(l.FS, path.Join(c.dir, filePrefix+"_from-*_to-*"))
		if err != nil {
			return set, fmt.Errorf("scanning transforms: %w", err)
		}
		if len(matches) == 0 {
			continue
		}
		for _, m := range matches {
			t, err := bids.ParseTransform(path.Base(m))
			if err != nil || t.Prefix != filePrefix {
				continue
			}
			switch {
			case t.From == bids.SubjectSpace:
				set.Add(t.To, false, l.Abs(m))
			case t.To == bids.SubjectSpace:
				set.Add(t.From, true, l.Abs(m))
			}
		}
		return set, nil
	}
	return set, fmt.Errorf("transforms for sub-%s: %w", subject, models.ErrNotFound)
}

// FindBoldTransform returns the run-level transform between two spaces,
// e.g. scanner -> T1w.
func (l *Locator) FindBoldTransform(run models.Run, from, to string) (models.Artifact, error) {
	pattern := strings.TrimSuffix(bids.FormatTransform(run.Prefix, from, to, ".txt"), ".txt") + ".*"
	for _, c := range modalityDirs(run.Subject, run.Session, "func") {
		if !l.isDir(c.dir) {
			continue
		}
		a, err := l.FindOne(c.dir, pattern, models.KindTransform)
		if err == nil || errors.Is(err, models.ErrAmbiguousMatch) {
			return a, err
		}
	}
	return models.Artifact{}, fmt.Errorf("%s -> %s transform for %s: %w", from, to, run.Prefix, models.ErrNotFound)
}

// Query selects functional images.
type Query struct {
	Desc     string // required desc label; empty means any
	Space    string // required space label; empty means no space entity
	AnySpace bool   // ignore the space entity entirely
	EchoOnly bool   // only images with an echo entity
}

// FindFunctional walks the subject tree and returns matching bold images in
// lexical path order.
func (l *Locator) FindFunctional(subject string, q Query) ([]models.Artifact, error) {
	root := bids.SubjectDir(subject)
	if !l.isDir(root) {
		return nil, fmt.Errorf("%s: %w", l.Abs(root), models.ErrNotFound)
	}
	kind := models.KindFunctional
	if q.EchoOnly {
		kind = models.KindEcho
	}

	var found []models.Artifact
	err := fs.WalkDir(l.FS, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		n, err := bids.ParseFunctional(d.Name())
		if err != nil || n.Ext != ".nii.gz" || n.Subject() != bids.StripSubject(subject) {
			return nil
		}
		if q.Desc != "" && n.Desc() != q.Desc {
			return nil
		}
		if !q.AnySpace && n.Space() != q.Space {
			return nil
		}
		if _, ok := n.Echo(); q.EchoOnly && !ok {
			return nil
		}
		found = append(found, models.Artifact{Path: l.Abs(p), Kind: kind})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", l.Abs(root), err)
	}
	return found, nil
}

// FindEchoImages returns the preprocessed per-echo images of a subject that
// have not been resampled into any space.
func (l *Locator) FindEchoImages(subject, desc string) ([]models.Artifact, error) {
	if desc == "" {
		desc = DefaultEchoDesc
	}
	return l.FindFunctional(subject, Query{Desc: desc, EchoOnly: true})
}

// DenoiseDir returns the tedana output directory of a run, relative to the
// derivatives root. Each run prefix gets its own directory.
func DenoiseDir(run models.Run) string {
	return path.Join("tedana", bids.SubjectDir(run.Subject), run.Prefix)
}

// FindDenoised returns the tedana outputs in dir for each requested space.
// Spaces without exactly one match are absent from the map.
func (l *Locator) FindDenoised(dir, runPrefix string, spaces []string, desc string) map[string]models.Artifact {
	out := make(map[string]models.Artifact, len(spaces))
	for _, s := range spaces {
		a, err := l.FindOne(dir, bids.DenoisedName(runPrefix, s, desc), models.KindFunctional)
		if err == nil {
			out[s] = a
		}
	}
	return out
}
