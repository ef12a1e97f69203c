package models

import "sort"

// ArtifactKind classifies a file on disk by the role it plays in the pipeline.
type ArtifactKind string

const (
	KindFunctional ArtifactKind = "functional"
	KindEcho       ArtifactKind = "echo"
	KindTransform  ArtifactKind = "transform"
	KindAnatomical ArtifactKind = "anatomical"
	KindBrainMask  ArtifactKind = "brain_mask"
)

// Artifact is a reference to a single file. The catalog never copies content.
type Artifact struct {
	Path     string       `json:"path"`
	Kind     ArtifactKind `json:"kind"`
	EchoTime *float64     `json:"echo_time,omitempty"` // seconds, from the sidecar
	Echo     int          `json:"echo,omitempty"`      // echo- entity; 0 when absent
}

// Run is one logical scan acquisition, possibly made of several echoes.
type Run struct {
	Subject string     `json:"subject"`
	Session string     `json:"session,omitempty"`
	Task    string     `json:"task"`
	Space   string     `json:"space,omitempty"`
	Prefix  string     `json:"prefix"`
	Images  []Artifact `json:"images"` // ascending by echo time, ties by path
}

// MultiEcho reports whether the run carries more than one echo image.
func (r Run) MultiEcho() bool {
	return len(r.Images) > 1
}

// DuplicateEchoes maps each echo index carried by more than one image to
// the paths that carry it.
func (r Run) DuplicateEchoes() map[int][]string {
	byEcho := make(map[int][]string)
	for _, img := range r.Images {
		if img.Echo > 0 {
			byEcho[img.Echo] = append(byEcho[img.Echo], img.Path)
		}
	}
	for echo, paths := range byEcho {
		if len(paths) < 2 {
			delete(byEcho, echo)
		}
	}
	return byEcho
}

// ImagePaths returns the image paths in canonical order.
func (r Run) ImagePaths() []string {
	paths := make([]string, len(r.Images))
	for i, img := range r.Images {
		paths[i] = img.Path
	}
	return paths
}

// EchoTimes returns the echo times in canonical order. Images without an echo
// time are skipped.
func (r Run) EchoTimes() []float64 {
	var times []float64
	for _, img := range r.Images {
		if img.EchoTime != nil {
			times = append(times, *img.EchoTime)
		}
	}
	return times
}

// TransformSet maps the non-subject-space endpoint of every transform found for
// one subject/session onto the transform file.
type TransformSet struct {
	Subject string
	Session string

	// Forward holds subject-space -> X transforms keyed by X.
	Forward map[string]string
	// Inverse holds X -> subject-space transforms keyed by X.
	Inverse map[string]string

	ambiguous map[string]bool
}

// NewTransformSet returns an empty set for the subject/session.
func NewTransformSet(subject, session string) TransformSet {
	return TransformSet{
		Subject:   subject,
		Session:   session,
		Forward:   make(map[string]string),
		Inverse:   make(map[string]string),
		ambiguous: make(map[string]bool),
	}
}

// Add records a transform. A second transform for the same key and direction
// marks the key ambiguous.
func (t *TransformSet) Add(space string, inverse bool, path string) {
	m, tag := t.Forward, "fwd:"
	if inverse {
		m, tag = t.Inverse, "inv:"
	}
	if existing, ok := m[space]; ok && existing != path {
		t.ambiguous[tag+space] = true
		return
	}
	m[space] = path
}

// To returns the subject-space -> space transform.
func (t TransformSet) To(space string) (string, bool) {
	if t.ambiguous["fwd:"+space] {
		return "", false
	}
	p, ok := t.Forward[space]
	return p, ok
}

// Ambiguous reports whether any key resolved to more than one file.
func (t TransformSet) Ambiguous(space string) bool {
	return t.ambiguous["fwd:"+space] || t.ambiguous["inv:"+space]
}

// Spaces returns the forward keys in sorted order.
func (t TransformSet) Spaces() []string {
	spaces := make([]string, 0, len(t.Forward))
	for s := range t.Forward {
		spaces = append(spaces, s)
	}
	sort.Strings(spaces)
	return spaces
}
