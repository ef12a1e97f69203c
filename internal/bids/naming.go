// Package bids defines the file naming convention shared by raw BIDS datasets
// and fmriprep/tedana derivatives. Every other package parses and formats names
// through this one.
package bids

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	SubjectPrefix = "sub-"
	SessionPrefix = "ses-"

	// SubjectSpace is the anatomical space transforms are anchored on.
	SubjectSpace = "T1w"
	// ScannerSpace is the native acquisition space of a bold series.
	ScannerSpace = "scanner"
	// NativeSpace is the space label tedana outputs carry before resampling.
	NativeSpace = "Native"
)

// Extensions recognised by ParseFilename, longest first.
var extensions = []string{".dtseries.nii", ".nii.gz", ".nii", ".json", ".txt", ".h5", ".tsv"}

// ErrInvalidName reports a filename that does not follow the convention.
var ErrInvalidName = errors.New("invalid bids filename")

// Entity is one key-value token of a filename.
type Entity struct {
	Key   string
	Value string
}

// Name is a parsed filename: ordered entities, a suffix and an extension.
type Name struct {
	Entities []Entity
	Suffix   string
	Ext      string
}

// SubjectDir returns the directory name for a subject id.
func SubjectDir(id string) string { return SubjectPrefix + StripSubject(id) }

// SessionDir returns the directory name for a session id.
func SessionDir(id string) string { return SessionPrefix + StripSession(id) }

// StripSubject removes a leading "sub-".
func StripSubject(name string) string { return strings.TrimPrefix(name, SubjectPrefix) }

// StripSession removes a leading "ses-".
func StripSession(name string) string { return strings.TrimPrefix(name, SessionPrefix) }

// IsSubjectDir reports whether name is a subject directory name.
func IsSubjectDir(name string) bool {
	return strings.HasPrefix(name, SubjectPrefix) && len(name) > len(SubjectPrefix)
}

// IsSessionDir reports whether name is a session directory name.
func IsSessionDir(name string) bool {
	return strings.HasPrefix(name, SessionPrefix) && len(name) > len(SessionPrefix)
}

// SplitExt splits a filename into stem and a known extension.
func SplitExt(name string) (string, string) {
	for _, ext := range extensions {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext), ext
		}
	}
	return name, ""
}

// ParseFilename parses a base filename such as
// sub-01_ses-1_task-rest_echo-2_desc-preproc_bold.nii.gz.
func ParseFilename(name string) (Name, error) {
	stem, ext := SplitExt(name)
	if ext == "" {
		return Name{}, fmt.Errorf("%w: %q has no known extension", ErrInvalidName, name)
	}
	tokens := strings.Split(stem, "_")
	n := Name{Ext: ext}
	for i, tok := range tokens {
		key, value, ok := strings.Cut(tok, "-")
		if !ok {
			if i != len(tokens)-1 {
				return Name{}, fmt.Errorf("%w: %q has a bare token %q before the suffix", ErrInvalidName, name, tok)
			}
			n.Suffix = tok
			break
		}
		if key == "" || value == "" {
			return Name{}, fmt.Errorf("%w: %q has an empty entity in %q", ErrInvalidName, name, tok)
		}
		n.Entities = append(n.Entities, Entity{Key: key, Value: value})
	}
	if len(n.Entities) == 0 || n.Entities[0].Key != "sub" {
		return Name{}, fmt.Errorf("%w: %q does not start with a subject entity", ErrInvalidName, name)
	}
	return n, nil
}

// Get returns the value of the first entity with key.
func (n Name) Get(key string) (string, bool) {
	for _, e := range n.Entities {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Subject returns the subject id.
func (n Name) Subject() string { v, _ := n.Get("sub"); return v }

// Session returns the session id or "".
func (n Name) Session() string { v, _ := n.Get("ses"); return v }

// Task returns the task name or "".
func (n Name) Task() string { v, _ := n.Get("task"); return v }

// Space returns the space label or "".
func (n Name) Space() string { v, _ := n.Get("space"); return v }

// Desc returns the description label or "".
func (n Name) Desc() string { v, _ := n.Get("desc"); return v }

// Echo returns the echo index if the name carries one.
func (n Name) Echo() (int, bool) {
	v, ok := n.Get("echo")
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

// distinguishing entities separate files of one run from each other.
var distinguishing = map[string]bool{"echo": true, "space": true, "desc": true}

// RunPrefix returns the tokens that precede the first distinguishing token
// (echo, space, desc or the suffix). All files of one run share it.
func (n Name) RunPrefix() string {
	parts := make([]string, 0, len(n.Entities))
	for _, e := range n.Entities {
		if distinguishing[e.Key] {
			break
		}
		parts = append(parts, e.Key+"-"+e.Value)
	}
	return strings.Join(parts, "_")
}

// String formats the name back into a filename.
func (n Name) String() string {
	parts := make([]string, 0, len(n.Entities)+1)
	for _, e := range n.Entities {
		parts = append(parts, e.Key+"-"+e.Value)
	}
	if n.Suffix != "" {
		parts = append(parts, n.Suffix)
	}
	return strings.Join(parts, "_") + n.Ext
}

// ParseFunctional parses a bold image name and checks it is one.
func ParseFunctional(name string) (Name, error) {
	n, err := ParseFilename(name)
	if err != nil {
		return Name{}, err
	}
	if n.Suffix != "bold" {
		return Name{}, fmt.Errorf("%w: %q is not a bold image", ErrInvalidName, name)
	}
	if n.Task() == "" {
		return Name{}, fmt.Errorf("%w: %q has no task entity", ErrInvalidName, name)
	}
	return n, nil
}

// Functional holds the fields of a functional image name.
type Functional struct {
	Subject string
	Session string
	Task    string
	Echo    int // 0 means no echo entity
	Space   string
	Desc    string
	Ext     string // defaults to .nii.gz
}

// FormatFunctional formats
// sub-<id>[_ses-<id>]_task-<name>[_echo-<n>][_space-<space>]_desc-<desc>_bold.nii.gz.
func FormatFunctional(f Functional) string {
	var b strings.Builder
	b.WriteString(prefix(f.Subject, f.Session))
	b.WriteString("_task-" + f.Task)
	if f.Echo > 0 {
		b.WriteString("_echo-" + strconv.Itoa(f.Echo))
	}
	if f.Space != "" {
		b.WriteString("_space-" + f.Space)
	}
	if f.Desc != "" {
		b.WriteString("_desc-" + f.Desc)
	}
	b.WriteString("_bold")
	ext := f.Ext
	if ext == "" {
		ext = ".nii.gz"
	}
	b.WriteString(ext)
	return b.String()
}

// SidecarPath replaces the image extension of path with .json.
func SidecarPath(path string) string {
	for _, ext := range []string{".dtseries.nii", ".nii.gz", ".nii"} {
		if strings.HasSuffix(path, ext) {
			return strings.TrimSuffix(path, ext) + ".json"
		}
	}
	return path + ".json"
}

// AnatImageName returns the preprocessed T1w image name.
func AnatImageName(subject, session string) string {
	return prefix(subject, session) + "_desc-preproc_T1w.nii.gz"
}

// BrainMaskName returns the T1w brain mask name.
func BrainMaskName(subject, session string) string {
	return prefix(subject, session) + "_desc-brain_mask.nii.gz"
}

// DenoisedName returns a tedana output name such as
// sub-01_task-rest_space-Native_desc-optcomDenoised_bold.nii.gz.
func DenoisedName(runPrefix, space, desc string) string {
	return fmt.Sprintf("%s_space-%s_desc-%s.nii.gz", runPrefix, space, desc)
}

// CiftiName returns the grayordinate output name for a run.
func CiftiName(runPrefix, density string) string {
	return fmt.Sprintf("%s_space-fsLR_den-%s_bold.dtseries.nii", runPrefix, density)
}

// Transform is a parsed transform filename.
type Transform struct {
	Prefix string // tokens before from-
	From   string
	To     string
	Mode   string
	Ext    string
}

// ParseTransform parses <prefix>_from-<a>_to-<b>_mode-<m>_xfm.<ext>.
func ParseTransform(name string) (Transform, error) {
	n, err := ParseFilename(name)
	if err != nil {
		return Transform{}, err
	}
	if n.Suffix != "xfm" {
		return Transform{}, fmt.Errorf("%w: %q is not a transform", ErrInvalidName, name)
	}
	var t Transform
	var prefixParts []string
	seenFrom := false
	for _, e := range n.Entities {
		switch e.Key {
		case "from":
			t.From, seenFrom = e.Value, true
		case "to":
			t.To = e.Value
		case "mode":
			t.Mode = e.Value
		default:
			if !seenFrom {
				prefixParts = append(prefixParts, e.Key+"-"+e.Value)
			}
		}
	}
	if t.From == "" || t.To == "" {
		return Transform{}, fmt.Errorf("%w: %q lacks from-/to- entities", ErrInvalidName, name)
	}
	t.Prefix = strings.Join(prefixParts, "_")
	t.Ext = n.Ext
	return t, nil
}

// FormatTransform formats <prefix>_from-<from>_to-<to>_mode-image_xfm<ext>.
func FormatTransform(runPrefix, from, to, ext string) string {
	if ext == "" {
		ext = ".txt"
	}
	return fmt.Sprintf("%s_from-%s_to-%s_mode-image_xfm%s", runPrefix, from, to, ext)
}

func prefix(subject, session string) string {
	p := SubjectDir(subject)
	if session != "" {
		p += "_" + SessionDir(session)
	}
	return p
}
