// Package steps holds the external processing stages applied to ready runs:
// multi-echo denoising with tedana and CIFTI resampling of its output.
package steps

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/surveybott/fmribatch/internal/environment"
	"github.com/surveybott/fmribatch/internal/models"
)

// Runtime is the container setup shared by every step.
type Runtime struct {
	Provider environment.Provider
	Image    string
	Binds    []environment.Bind
	Env      map[string]string
	Threads  int
}

func (rt Runtime) spec(args []string, mounts ...string) environment.RunSpec {
	s := environment.RunSpec{
		Image: rt.Image,
		Args:  args,
		Binds: slices.Clone(rt.Binds),
		Env:   make(map[string]string, len(rt.Env)+2),
	}
	for k, v := range rt.Env {
		s.Env[k] = v
	}
	if rt.Threads > 0 {
		s.Env["OMP_NUM_THREADS"] = fmt.Sprint(rt.Threads)
		s.Env["MKL_NUM_THREADS"] = fmt.Sprint(rt.Threads)
	}
	for _, m := range mounts {
		if !covered(s.Binds, m) {
			s.Binds = append(s.Binds, environment.Bind{Host: m, Container: m})
		}
	}
	return s
}

// covered reports whether dir is already visible at the same path.
func covered(binds []environment.Bind, dir string) bool {
	for _, b := range binds {
		if b.Host != b.Container {
			continue
		}
		rel, err := filepath.Rel(b.Host, dir)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, "../") {
			return true
		}
	}
	return false
}

// run executes spec with stdout and stderr captured under logDir.
func (rt Runtime) run(ctx context.Context, name string, spec environment.RunSpec, logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	stdout, err := os.Create(filepath.Join(logDir, name+".stdout.log"))
	if err != nil {
		return fmt.Errorf("creating stdout log: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(logDir, name+".stderr.log"))
	if err != nil {
		return fmt.Errorf("creating stderr log: %w", err)
	}
	defer stderr.Close()

	slog.Debug("executing", "step", name, "provider", rt.Provider.Name(), "args", spec.Args)
	code, err := environment.Exec(ctx, rt.Provider, spec, stdout, stderr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", models.ErrExternalTool, name, err)
	}
	if code != 0 {
		return fmt.Errorf("%w: %s exited with status %d (logs in %s)", models.ErrExternalTool, name, code, logDir)
	}
	return nil
}
