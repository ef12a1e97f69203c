// Package subject enumerates subject directories under a dataset root.
package subject

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"slices"

	"github.com/surveybott/fmribatch/internal/bids"
	"github.com/surveybott/fmribatch/internal/models"
)

// Filter restricts an enumeration pass. Entries may be given with or without
// the "sub-" prefix.
type Filter struct {
	Include []string
	Exclude []string
}

// Match reports whether the subject directory name passes the filter. Both
// lists are tested against the raw name and the stripped identifier.
func (f Filter) Match(dirName string) bool {
	if len(f.Include) > 0 && !matchesAny(f.Include, dirName) {
		return false
	}
	if len(f.Exclude) > 0 && matchesAny(f.Exclude, dirName) {
		return false
	}
	return true
}

func matchesAny(list []string, dirName string) bool {
	id := bids.StripSubject(dirName)
	return slices.Contains(list, dirName) || slices.Contains(list, id)
}

// Enumerate walks fsys (rooted at root on disk) and returns every subject
// directory that passes the filter, in discovery order.
//
// The walk is level-ordered: every entry of a directory is examined before
// any of its children, so a subject at the dataset root wins over a nested
// derivative copy with the same identifier. Subject directories are leaves.
func Enumerate(fsys fs.FS, root string, f Filter) ([]models.Subject, error) {
	var subjects []models.Subject
	seen := make(map[string]bool)

	queue := []string{"."}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		entries, err := fs.ReadDir(fsys, dir)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", filepath.Join(root, filepath.FromSlash(dir)), err)
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			rel := path.Join(dir, entry.Name())
			if !bids.IsSubjectDir(entry.Name()) {
				queue = append(queue, rel)
				continue
			}
			if !f.Match(entry.Name()) {
				continue
			}
			id := bids.StripSubject(entry.Name())
			if seen[id] {
				slog.Debug("skipping duplicate subject directory", "subject", id, "path", rel)
				continue
			}
			seen[id] = true
			sessions, err := Sessions(fsys, rel)
			if err != nil {
				return nil, err
			}
			subjects = append(subjects, models.Subject{
				ID:       id,
				Sessions: sessions,
				Path:     filepath.Join(root, filepath.FromSlash(rel)),
			})
		}
	}

	if len(subjects) == 0 {
		return nil, fmt.Errorf("%w: no sub- dirs found in %s", models.ErrNoSubjectsFound, root)
	}
	return subjects, nil
}

// IDs returns the subject identifiers in order.
func IDs(subjects []models.Subject) []string {
	ids := make([]string, len(subjects))
	for i, s := range subjects {
		ids[i] = s.ID
	}
	return ids
}

// Sessions lists the session identifiers directly under a subject directory
// (given relative to fsys).
func Sessions(fsys fs.FS, subjectDir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, subjectDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", subjectDir, err)
	}
	var sessions []string
	for _, e := range entries {
		if e.IsDir() && bids.IsSessionDir(e.Name()) {
			sessions = append(sessions, bids.StripSession(e.Name()))
		}
	}
	return sessions, nil
}
