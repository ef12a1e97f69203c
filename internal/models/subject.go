package models

// Subject is one participant directory found by an enumeration pass.
type Subject struct {
	ID      string // identifier without the "sub-" prefix
	Sessions []string // session identifiers without "ses-", sorted
	Path    string // absolute path of the subject directory
}

// Label returns the directory name of the subject.
func (s Subject) Label() string {
	return "sub-" + s.ID
}
