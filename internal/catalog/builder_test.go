package catalog_test

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/surveybott/fmribatch/internal/catalog"
	"github.com/surveybott/fmribatch/internal/group"
	"github.com/surveybott/fmribatch/internal/locate"
	"github.com/surveybott/fmribatch/internal/models"
	"github.com/surveybott/fmribatch/internal/readiness"
	"github.com/surveybott/fmribatch/internal/subject"
)

const root = "/deriv"

func sidecar(te string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(`{"EchoTime": ` + te + `}`)}
}

func builder(fsys fstest.MapFS, parallel int) *catalog.Builder {
	return &catalog.Builder{
		Locator:  locate.NewFS(root, fsys),
		Grouper:  group.NewFS(root, fsys),
		Parallel: parallel,
	}
}

func TestBuild(t *testing.T) {
	fsys := fstest.MapFS{
		"sub-02/func/sub-02_task-rest_echo-1_desc-preproc_bold.nii.gz":        {},
		"sub-02/func/sub-02_task-rest_echo-1_desc-preproc_bold.json":          sidecar("0.012"),
		"sub-02/func/sub-02_task-rest_echo-2_desc-preproc_bold.nii.gz":        {},
		"sub-02/func/sub-02_task-rest_echo-2_desc-preproc_bold.json":          sidecar("0.034"),
		"sub-01/ses-1/func/sub-01_ses-1_task-nback_echo-1_desc-preproc_bold.nii.gz": {},
		"sub-01/ses-1/func/sub-01_ses-1_task-nback_echo-1_desc-preproc_bold.json":   sidecar("0.015"),
		"sub-01/ses-1/func/sub-01_ses-1_task-nback_echo-2_desc-preproc_bold.nii.gz": {},
		"sub-01/ses-1/func/sub-01_ses-1_task-nback_echo-2_desc-preproc_bold.json":   sidecar("0.040"),
		"sub-03/anat/sub-03_desc-preproc_T1w.nii.gz":                                {},
	}

	subjects, err := subject.Enumerate(fsys, ".", subject.Filter{})
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}

	for _, parallel := range []int{1, 4} {
		c, err := builder(fsys, parallel).Build(context.Background(), subjects)
		if err != nil {
			t.Fatalf("Build(parallel=%d): %v", parallel, err)
		}
		if len(c.Subjects) != 3 {
			t.Errorf("subjects = %d", len(c.Subjects))
		}
		if len(c.Runs) != 2 {
			t.Fatalf("runs = %d, want 2", len(c.Runs))
		}
		if c.Runs[0].Prefix != "sub-01_ses-1_task-nback" || c.Runs[1].Prefix != "sub-02_task-rest" {
			t.Errorf("run order = %s, %s", c.Runs[0].Prefix, c.Runs[1].Prefix)
		}
		if got := c.RunsFor("02"); len(got) != 1 || len(got[0].Images) != 2 {
			t.Errorf("RunsFor(02) = %+v", got)
		}
		if got := c.RunsFor("03"); len(got) != 0 {
			t.Errorf("sub-03 has no functional data, got %d runs", len(got))
		}
	}
}

func TestBuildNoData(t *testing.T) {
	fsys := fstest.MapFS{
		"sub-01/anat/sub-01_desc-preproc_T1w.nii.gz": {},
	}
	subjects := []models.Subject{{ID: "01"}, {ID: "02"}}
	_, err := builder(fsys, 2).Build(context.Background(), subjects)
	if !errors.Is(err, models.ErrNoDataFound) {
		t.Fatalf("expected ErrNoDataFound, got %v", err)
	}
}

func TestBuildMalformedIsFatal(t *testing.T) {
	fsys := fstest.MapFS{
		"sub-01/func/sub-01_task-rest_echo-1_desc-preproc_bold.nii.gz": {},
		"sub-01/func/sub-01_task-rest_echo-1_desc-preproc_bold.json":   sidecar("0.012"),
		"sub-01/func/sub-01_task-rest_echo-2_desc-preproc_bold.nii.gz": {},
		"sub-02/func/sub-02_task-rest_echo-1_desc-preproc_bold.nii.gz": {},
		"sub-02/func/sub-02_task-rest_echo-1_desc-preproc_bold.json":   sidecar("0.012"),
		"sub-02/func/sub-02_task-rest_echo-2_desc-preproc_bold.nii.gz": {},
		"sub-02/func/sub-02_task-rest_echo-2_desc-preproc_bold.json":   sidecar("0.030"),
	}
	c, err := builder(fsys, 2).Build(context.Background(), []models.Subject{{ID: "01"}, {ID: "02"}})
	if !errors.Is(err, models.ErrMalformedMetadata) {
		t.Fatalf("expected ErrMalformedMetadata, got %v", err)
	}
	if c != nil {
		t.Error("no catalog should be returned on malformed metadata")
	}
}

func TestBuildCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := builder(fstest.MapFS{}, 1).Build(ctx, []models.Subject{{ID: "01"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBuildStaleEchoCopyIsNotReady(t *testing.T) {
	fsys := fstest.MapFS{
		"sub-01/func/sub-01_task-rest_echo-1_desc-preproc_bold.nii.gz":     {},
		"sub-01/func/sub-01_task-rest_echo-1_desc-preproc_bold.json":       sidecar("0.012"),
		"sub-01/func/sub-01_task-rest_echo-2_desc-preproc_bold.nii.gz":     {},
		"sub-01/func/sub-01_task-rest_echo-2_desc-preproc_bold.json":       sidecar("0.034"),
		"sub-01/func/old/sub-01_task-rest_echo-1_desc-preproc_bold.nii.gz": {},
		"sub-01/func/old/sub-01_task-rest_echo-1_desc-preproc_bold.json":   sidecar("0.013"),
	}
	subjects := []models.Subject{{ID: "01", Path: root + "/sub-01"}}

	c, err := builder(fsys, 1).Build(context.Background(), subjects)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(c.Runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(c.Runs))
	}

	rec := readiness.NewMatcher(locate.NewFS(root, fsys), readiness.DenoiseRoles).Match(c.Runs[0])
	if rec.Ready() {
		t.Fatalf("run with two echo-1 images must not be ready: %v", c.Runs[0].ImagePaths())
	}
	if len(rec.Missing) != 1 || rec.Missing[0] != models.RoleEchoImages {
		t.Errorf("missing = %v", rec.Missing)
	}
}
