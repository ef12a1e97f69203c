package subject_test

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"testing/fstest"

	"github.com/surveybott/fmribatch/internal/models"
	"github.com/surveybott/fmribatch/internal/subject"
)

func dataset() fstest.MapFS {
	return fstest.MapFS{
		"dataset_description.json":                               {Data: []byte("{}")},
		"sub-01/anat/sub-01_T1w.nii.gz":                          {},
		"sub-02/func/sub-02_task-rest_bold.nii.gz":               {},
		"sub-10/ses-A/func/sub-10_ses-A_task-rest_bold.nii.gz":   {},
		"sub-10/ses-B/func/sub-10_ses-B_task-rest_bold.nii.gz":   {},
		"derivatives/fmriprep/sub-01/anat/x.nii.gz":              {},
		"derivatives/fmriprep/sub-03/anat/x.nii.gz":              {},
		"derivatives/fmriprep/sub-03/sub-99/nested/should-skip":  {},
		"code/readme.txt":                                        {},
	}
}

func TestEnumerate(t *testing.T) {
	subjects, err := subject.Enumerate(dataset(), "/bids", subject.Filter{})
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}

	got := subject.IDs(subjects)
	want := []string{"01", "02", "10", "03"}
	if !slices.Equal(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}

	if subjects[0].Path != filepath.Join("/bids", "sub-01") {
		t.Errorf("root-level subject should win, got path %s", subjects[0].Path)
	}
	if subjects[3].Path != filepath.Join("/bids", "derivatives", "fmriprep", "sub-03") {
		t.Errorf("unexpected nested path %s", subjects[3].Path)
	}
	if !slices.Equal(subjects[2].Sessions, []string{"A", "B"}) || len(subjects[0].Sessions) != 0 {
		t.Errorf("sessions: sub-10 %v, sub-01 %v", subjects[2].Sessions, subjects[0].Sessions)
	}
	if subjects[2].Label() != "sub-10" {
		t.Errorf("label = %s", subjects[2].Label())
	}
}

func TestEnumerateIdempotent(t *testing.T) {
	fsys := dataset()
	first, err := subject.Enumerate(fsys, "/bids", subject.Filter{})
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := subject.Enumerate(fsys, "/bids", subject.Filter{})
		if err != nil {
			t.Fatalf("Enumerate: %v", err)
		}
		if !slices.Equal(subject.IDs(first), subject.IDs(again)) {
			t.Fatalf("pass %d: %v != %v", i, subject.IDs(again), subject.IDs(first))
		}
	}
}

func TestEnumerateFilter(t *testing.T) {
	all := []string{"01", "02", "10", "03"}

	tests := []struct {
		name   string
		filter subject.Filter
	}{
		{"include raw", subject.Filter{Include: []string{"sub-01", "sub-10"}}},
		{"include stripped", subject.Filter{Include: []string{"02", "03"}}},
		{"exclude raw", subject.Filter{Exclude: []string{"sub-02"}}},
		{"exclude stripped", subject.Filter{Exclude: []string{"10", "03"}}},
		{"include and exclude", subject.Filter{Include: []string{"01", "sub-02"}, Exclude: []string{"sub-01"}}},
		{"include unknown only", subject.Filter{Include: []string{"77"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subjects, err := subject.Enumerate(dataset(), "/bids", tt.filter)

			var want []string
			for _, id := range all {
				raw := "sub-" + id
				inc := len(tt.filter.Include) == 0 || slices.Contains(tt.filter.Include, raw) || slices.Contains(tt.filter.Include, id)
				exc := slices.Contains(tt.filter.Exclude, raw) || slices.Contains(tt.filter.Exclude, id)
				if inc && !exc {
					want = append(want, id)
				}
			}

			if len(want) == 0 {
				if !errors.Is(err, models.ErrNoSubjectsFound) {
					t.Fatalf("expected ErrNoSubjectsFound, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Enumerate: %v", err)
			}
			if got := subject.IDs(subjects); !slices.Equal(got, want) {
				t.Errorf("ids = %v, want %v", got, want)
			}
		})
	}
}

func TestEnumerateNoSubjects(t *testing.T) {
	fsys := fstest.MapFS{
		"derivatives/readme.txt": {},
		"code/run.sh":            {},
	}
	subjects, err := subject.Enumerate(fsys, "/empty", subject.Filter{})
	if !errors.Is(err, models.ErrNoSubjectsFound) {
		t.Fatalf("expected ErrNoSubjectsFound, got %v", err)
	}
	if len(subjects) != 0 {
		t.Errorf("expected no subjects, got %d", len(subjects))
	}
}

func TestSessions(t *testing.T) {
	sessions, err := subject.Sessions(dataset(), "sub-10")
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if !slices.Equal(sessions, []string{"A", "B"}) {
		t.Errorf("sessions = %v", sessions)
	}

	sessions, err = subject.Sessions(dataset(), "sub-02")
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected no sessions, got %v", sessions)
	}
}
