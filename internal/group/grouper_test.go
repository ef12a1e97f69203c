package group_test

import (
	"errors"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/surveybott/fmribatch/internal/group"
	"github.com/surveybott/fmribatch/internal/locate"
	"github.com/surveybott/fmribatch/internal/models"
)

const root = "/deriv"

func sidecar(te string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(`{"EchoTime": ` + te + `, "RepetitionTime": 2.0}`)}
}

func TestGroupMultiEchoScenario(t *testing.T) {
	fsys := fstest.MapFS{
		"sub-01/func/sub-01_task-rest_echo-1_desc-preproc_bold.nii.gz": {},
		"sub-01/func/sub-01_task-rest_echo-1_desc-preproc_bold.json":   sidecar("0.012"),
		"sub-01/func/sub-01_task-rest_echo-2_desc-preproc_bold.nii.gz": {},
		"sub-01/func/sub-01_task-rest_echo-2_desc-preproc_bold.json":   sidecar("0.034"),
	}

	files, err := locate.NewFS(root, fsys).FindEchoImages("01", "")
	if err != nil {
		t.Fatalf("FindEchoImages: %v", err)
	}

	runs, err := group.NewFS(root, fsys).Group(files)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}

	run := runs[0]
	if run.Subject != "01" || run.Task != "rest" || run.Prefix != "sub-01_task-rest" || run.Session != "" {
		t.Errorf("unexpected run identity %+v", run)
	}
	if !run.MultiEcho() {
		t.Error("expected multi-echo run")
	}

	wantImages := []string{
		filepath.Join(root, "sub-01", "func", "sub-01_task-rest_echo-1_desc-preproc_bold.nii.gz"),
		filepath.Join(root, "sub-01", "func", "sub-01_task-rest_echo-2_desc-preproc_bold.nii.gz"),
	}
	if !slices.Equal(run.ImagePaths(), wantImages) {
		t.Errorf("images = %v, want %v", run.ImagePaths(), wantImages)
	}
	if !slices.Equal(run.EchoTimes(), []float64{0.012, 0.034}) {
		t.Errorf("echo times = %v", run.EchoTimes())
	}
}

func TestGroupSortsByEchoTimeNotName(t *testing.T) {
	// echo indices deliberately disagree with acquisition order
	fsys := fstest.MapFS{
		"sub-01/func/sub-01_task-rest_echo-1_desc-preproc_bold.json": sidecar("0.040"),
		"sub-01/func/sub-01_task-rest_echo-2_desc-preproc_bold.json": sidecar("0.010"),
		"sub-01/func/sub-01_task-rest_echo-3_desc-preproc_bold.json": sidecar("0.025"),
	}
	files := []models.Artifact{
		{Path: filepath.Join(root, "sub-01/func/sub-01_task-rest_echo-1_desc-preproc_bold.nii.gz")},
		{Path: filepath.Join(root, "sub-01/func/sub-01_task-rest_echo-2_desc-preproc_bold.nii.gz")},
		{Path: filepath.Join(root, "sub-01/func/sub-01_task-rest_echo-3_desc-preproc_bold.nii.gz")},
	}

	runs, err := group.NewFS(root, fsys).Group(files)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	times := runs[0].EchoTimes()
	if !sort.Float64sAreSorted(times) {
		t.Errorf("echo times not ascending: %v", times)
	}
	if !strings.Contains(runs[0].Images[0].Path, "echo-2") {
		t.Errorf("expected echo-2 first, got %s", runs[0].Images[0].Path)
	}
	// each image keeps its own echo time
	for _, img := range runs[0].Images {
		if strings.Contains(img.Path, "echo-1") && *img.EchoTime != 0.040 {
			t.Errorf("echo-1 paired with %v", *img.EchoTime)
		}
	}
}

func TestGroupTieBreakByPath(t *testing.T) {
	fsys := fstest.MapFS{
		"sub-01/func/sub-01_task-rest_echo-2_desc-preproc_bold.json": sidecar("0.02"),
		"sub-01/func/sub-01_task-rest_echo-1_desc-preproc_bold.json": sidecar("0.02"),
	}
	files := []models.Artifact{
		{Path: filepath.Join(root, "sub-01/func/sub-01_task-rest_echo-2_desc-preproc_bold.nii.gz")},
		{Path: filepath.Join(root, "sub-01/func/sub-01_task-rest_echo-1_desc-preproc_bold.nii.gz")},
	}

	runs, err := group.NewFS(root, fsys).Group(files)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	paths := runs[0].ImagePaths()
	if !sort.StringsAreSorted(paths) {
		t.Errorf("equal echo times should fall back to path order: %v", paths)
	}
}

func TestGroupPartitionsRuns(t *testing.T) {
	fsys := fstest.MapFS{
		"sub-01/ses-1/func/sub-01_ses-1_task-rest_echo-1_desc-preproc_bold.json":  sidecar("0.01"),
		"sub-01/ses-1/func/sub-01_ses-1_task-rest_echo-2_desc-preproc_bold.json":  sidecar("0.03"),
		"sub-01/ses-1/func/sub-01_ses-1_task-nback_echo-1_desc-preproc_bold.json": sidecar("0.01"),
		"sub-01/ses-1/func/sub-01_ses-1_task-nback_echo-2_desc-preproc_bold.json": sidecar("0.03"),
		"sub-01/ses-1/func/sub-01_ses-1_task-rest_desc-preproc_bold.json":         sidecar("0.02"),
	}
	var files []models.Artifact
	for name := range fsys {
		files = append(files, models.Artifact{Path: filepath.Join(root, strings.TrimSuffix(name, ".json")+".nii.gz")})
	}
	files = append(files, models.Artifact{Path: filepath.Join(root, "sub-01/ses-1/func/sub-01_ses-1_task-rest_echo-1_space-T1w_desc-preproc_bold.nii.gz")})
	files = append(files, models.Artifact{Path: filepath.Join(root, "sub-01/ses-1/func/notes.txt")})

	g := group.NewFS(root, fsys)
	_, err := g.Group(files)
	if !errors.Is(err, models.ErrMalformedMetadata) {
		t.Fatalf("space-labelled echo without sidecar should be malformed, got %v", err)
	}

	runs, err := g.Group(files[:len(fsys)])
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	var prefixes []string
	for _, r := range runs {
		prefixes = append(prefixes, r.Prefix)
		if r.Session != "1" {
			t.Errorf("run %s session = %q", r.Prefix, r.Session)
		}
	}
	want := []string{"sub-01_ses-1_task-nback", "sub-01_ses-1_task-rest"}
	if len(runs) != 2 || !slices.Equal(prefixes, want) {
		t.Fatalf("prefixes = %v, want %v", prefixes, want)
	}
	// the echo-less file shares the rest prefix and joins that run
	if n := len(runs[1].Images); n != 3 {
		t.Errorf("rest run should hold 3 images, got %d", n)
	}
}

func TestGroupMalformedMetadata(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
	}{
		{"missing sidecar", fstest.MapFS{
			"sub-01/func/sub-01_task-rest_echo-1_desc-preproc_bold.json": sidecar("0.01"),
		}},
		{"missing field", fstest.MapFS{
			"sub-01/func/sub-01_task-rest_echo-1_desc-preproc_bold.json": sidecar("0.01"),
			"sub-01/func/sub-01_task-rest_echo-2_desc-preproc_bold.json": {Data: []byte(`{"RepetitionTime": 2}`)},
		}},
		{"non-numeric", fstest.MapFS{
			"sub-01/func/sub-01_task-rest_echo-1_desc-preproc_bold.json": sidecar("0.01"),
			"sub-01/func/sub-01_task-rest_echo-2_desc-preproc_bold.json": {Data: []byte(`{"EchoTime": "short"}`)},
		}},
		{"invalid json", fstest.MapFS{
			"sub-01/func/sub-01_task-rest_echo-1_desc-preproc_bold.json": sidecar("0.01"),
			"sub-01/func/sub-01_task-rest_echo-2_desc-preproc_bold.json": {Data: []byte(`{`)},
		}},
		{"zero echo time", fstest.MapFS{
			"sub-01/func/sub-01_task-rest_echo-1_desc-preproc_bold.json": sidecar("0.01"),
			"sub-01/func/sub-01_task-rest_echo-2_desc-preproc_bold.json": sidecar("0"),
		}},
	}

	files := []models.Artifact{
		{Path: filepath.Join(root, "sub-01/func/sub-01_task-rest_echo-1_desc-preproc_bold.nii.gz")},
		{Path: filepath.Join(root, "sub-01/func/sub-01_task-rest_echo-2_desc-preproc_bold.nii.gz")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := group.NewFS(root, tt.fsys).Group(files)
			if !errors.Is(err, models.ErrMalformedMetadata) {
				t.Fatalf("expected ErrMalformedMetadata, got %v", err)
			}
			if !strings.Contains(err.Error(), "sub-01_task-rest") {
				t.Errorf("error should name the run: %v", err)
			}
			if len(runs) != 0 {
				t.Errorf("malformed run must not be returned, got %d runs", len(runs))
			}
		})
	}
}

func TestGroupSingleEchoWithoutSidecar(t *testing.T) {
	files := []models.Artifact{
		{Path: filepath.Join(root, "sub-01/func/sub-01_task-rest_desc-preproc_bold.nii.gz")},
	}
	runs, err := group.NewFS(root, fstest.MapFS{}).Group(files)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if len(runs) != 1 || runs[0].MultiEcho() {
		t.Fatalf("expected one single-echo run, got %+v", runs)
	}
	if len(runs[0].EchoTimes()) != 0 {
		t.Errorf("expected no echo times, got %v", runs[0].EchoTimes())
	}
}

func TestGroupKeepsRepeatedEcho(t *testing.T) {
	fsys := fstest.MapFS{
		"sub-01/func/sub-01_task-rest_echo-1_desc-preproc_bold.nii.gz":     {},
		"sub-01/func/sub-01_task-rest_echo-1_desc-preproc_bold.json":       sidecar("0.012"),
		"sub-01/func/sub-01_task-rest_echo-2_desc-preproc_bold.nii.gz":     {},
		"sub-01/func/sub-01_task-rest_echo-2_desc-preproc_bold.json":       sidecar("0.034"),
		"sub-01/func/old/sub-01_task-rest_echo-1_desc-preproc_bold.nii.gz": {},
		"sub-01/func/old/sub-01_task-rest_echo-1_desc-preproc_bold.json":   sidecar("0.013"),
	}

	files, err := locate.NewFS(root, fsys).FindEchoImages("01", "")
	if err != nil {
		t.Fatalf("FindEchoImages: %v", err)
	}
	runs, err := group.NewFS(root, fsys).Group(files)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if len(runs) != 1 || len(runs[0].Images) != 3 {
		t.Fatalf("expected one run of 3 images, got %+v", runs)
	}

	dups := runs[0].DuplicateEchoes()
	want := []string{
		filepath.Join(root, "sub-01", "func", "old", "sub-01_task-rest_echo-1_desc-preproc_bold.nii.gz"),
		filepath.Join(root, "sub-01", "func", "sub-01_task-rest_echo-1_desc-preproc_bold.nii.gz"),
	}
	got := dups[1]
	sort.Strings(got)
	if len(dups) != 1 || !slices.Equal(got, want) {
		t.Errorf("duplicate echoes = %v", dups)
	}
	for _, img := range runs[0].Images {
		if img.Echo == 0 {
			t.Errorf("echo index not recorded for %s", img.Path)
		}
	}
}
