// Package completion works out which subjects of a study list still need
// preprocessing, by comparing raw bold runs with processed outputs.
package completion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/surveybott/fmribatch/internal/bids"
)

// DefaultDesc labels the processed bold outputs counted as done.
const DefaultDesc = "preproc"

// ReadSubjectList reads subject ids from the first column of a CSV file.
// When header is set the first row is skipped.
func ReadSubjectList(r io.Reader, header bool) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var ids []string
	seen := make(map[string]bool)
	first := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading subject list: %w", err)
		}
		if first && header {
			first = false
			continue
		}
		first = false
		if len(rec) == 0 {
			continue
		}
		id := bids.StripSubject(strings.TrimSpace(rec[0]))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// Checker counts files in a BIDS dataset (FS) whose derivatives live at
// DerivDir, a slash path relative to the dataset root. DerivFS, when set,
// holds derivatives kept outside the dataset and DerivDir is read from it.
type Checker struct {
	FS       fs.FS
	DerivFS  fs.FS
	DerivDir string
	Desc     string
}

// NewChecker returns a Checker for bidsDir with derivatives in
// bidsDir/derivatives.
func NewChecker(bidsDir string) *Checker {
	return &Checker{FS: os.DirFS(bidsDir), DerivDir: "derivatives", Desc: DefaultDesc}
}

// Status is the per-subject comparison.
type Status struct {
	Subject   string
	Raw       int
	Processed int
}

// Done reports whether every raw run has a processed counterpart.
func (s Status) Done() bool {
	return s.Raw > 0 && s.Raw == s.Processed
}

// Check counts raw and processed bold images of one subject.
func (c *Checker) Check(subject string) (Status, error) {
	st := Status{Subject: subject}
	sub := bids.SubjectDir(subject)

	var err error
	st.Raw, err = countSuffix(c.FS, sub, "_bold.nii.gz")
	if err != nil {
		return st, err
	}
	desc := c.Desc
	if desc == "" {
		desc = DefaultDesc
	}
	derivFS := c.DerivFS
	if derivFS == nil {
		derivFS = c.FS
	}
	st.Processed, err = countSuffix(derivFS, path.Join(c.DerivDir, sub), "_desc-"+desc+"_bold.nii.gz")
	return st, err
}

// countSuffix counts files below dir whose names end in suffix. A missing
// dir counts zero.
func countSuffix(fsys fs.FS, dir, suffix string) (int, error) {
	n := 0
	err := fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == dir {
				return fs.SkipAll
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting %s in %s: %w", suffix, dir, err)
	}
	return n, nil
}

// Pending returns the listed subjects that are not done, in list order,
// together with every subject's status.
func (c *Checker) Pending(list []string) ([]string, []Status, error) {
	var pending []string
	statuses := make([]Status, 0, len(list))
	for _, id := range list {
		st, err := c.Check(id)
		if err != nil {
			return nil, nil, err
		}
		statuses = append(statuses, st)
		if !st.Done() {
			pending = append(pending, id)
		}
	}
	return pending, statuses, nil
}

// WriteList writes <name>.txt with one subject per line and <name>_n.txt
// with the count, returning the list path.
func WriteList(dir, name string, subjects []string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	listPath := filepath.Join(dir, name+".txt")
	var b strings.Builder
	for _, s := range subjects {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(listPath, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("writing subject list: %w", err)
	}
	countPath := filepath.Join(dir, name+"_n.txt")
	if err := os.WriteFile(countPath, []byte(fmt.Sprintf("%d\n", len(subjects))), 0644); err != nil {
		return "", fmt.Errorf("writing subject count: %w", err)
	}
	return listPath, nil
}
