package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/surveybott/fmribatch/internal/catalog"
	"github.com/surveybott/fmribatch/internal/config"
	"github.com/surveybott/fmribatch/internal/dispatch"
	"github.com/surveybott/fmribatch/internal/environment"
	"github.com/surveybott/fmribatch/internal/environment/docker"
	"github.com/surveybott/fmribatch/internal/environment/singularity"
	"github.com/surveybott/fmribatch/internal/locate"
	"github.com/surveybott/fmribatch/internal/models"
	"github.com/surveybott/fmribatch/internal/readiness"
	"github.com/surveybott/fmribatch/internal/steps"
	"github.com/surveybott/fmribatch/internal/subject"
)

// pipeline is the resolved post-processing setup of one invocation.
type pipeline struct {
	cfg     models.BatchConfig
	locator *locate.Locator
}

// newPipeline checks the full configuration when the batch will execute
// steps; a read-only scan only needs the derivatives tree.
func newPipeline(cfg models.BatchConfig, execute bool) (*pipeline, error) {
	if execute {
		if err := config.ValidateBatchConfig(cfg); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	} else if cfg.DerivativesDir == "" {
		return nil, errors.New("derivatives_dir is required (set it in the config or pass --derivatives-dir)")
	}
	return &pipeline{cfg: cfg, locator: locate.New(cfg.DerivativesDir)}, nil
}

// catalog enumerates the configured subjects of the derivatives tree and
// groups their echo images into runs.
func (p *pipeline) catalog(ctx context.Context) (*catalog.Catalog, error) {
	root := p.cfg.DerivativesDir
	include := append(append([]string(nil), p.cfg.Subjects...), p.cfg.Include...)
	subjects, err := subject.Enumerate(os.DirFS(root), root, subject.Filter{
		Include: include,
		Exclude: p.cfg.Exclude,
	})
	if err != nil {
		return nil, err
	}

	b := catalog.NewBuilder(root)
	b.Locator = p.locator
	b.Parallel = p.cfg.Parallel
	b.Desc = p.cfg.Denoise.EchoDesc
	return b.Build(ctx, subjects)
}

func (p *pipeline) denoiseMatcher() *readiness.Matcher {
	m := readiness.NewMatcher(p.locator, readiness.DenoiseRoles)
	m.DenoiseDesc = p.cfg.Denoise.Desc
	return m
}

func (p *pipeline) resampleMatcher() (*readiness.Matcher, error) {
	roles := readiness.ResampleRoles
	if len(p.cfg.Resample.Required) > 0 {
		var err error
		if roles, err = readiness.ParseRoles(p.cfg.Resample.Required); err != nil {
			return nil, err
		}
	}
	m := readiness.NewMatcher(p.locator, roles)
	m.StdSpace = p.cfg.Resample.Space
	m.DenoiseDesc = p.cfg.Denoise.Desc
	return m, nil
}

// provider builds the container runtime named by the environment section.
func (p *pipeline) provider() (environment.Provider, error) {
	env := p.cfg.Environment
	switch env.Type {
	case "singularity", "apptainer":
		exe := env.Executable
		if exe == "" {
			exe = env.Type
		}
		return singularity.NewProvider(exe), nil
	case "docker":
		d := docker.NewProvider()
		if env.Executable != "" {
			d.Executable = env.Executable
		}
		return d, nil
	case "native":
		return environment.NewNative(), nil
	default:
		return nil, fmt.Errorf("unsupported environment type %q", env.Type)
	}
}

func (p *pipeline) runtime(provider environment.Provider, image string) (steps.Runtime, error) {
	env := p.cfg.Environment
	binds := make([]environment.Bind, 0, len(env.Binds))
	for _, s := range env.Binds {
		b, err := environment.ParseBind(s)
		if err != nil {
			return steps.Runtime{}, err
		}
		binds = append(binds, b)
	}
	if image == "" {
		image = env.Image
	}
	return steps.Runtime{
		Provider: provider,
		Image:    image,
		Binds:    binds,
		Env:      env.Env,
		Threads:  env.Threads,
	}, nil
}

// prepareImage makes sure an image is usable before units start: docker
// images are pulled on request, singularity images must exist on disk.
func (p *pipeline) prepareImage(ctx context.Context, provider environment.Provider, image string) error {
	switch prov := provider.(type) {
	case *docker.Provider:
		if p.cfg.Environment.Pull {
			return prov.PullImage(ctx, image)
		}
	case *singularity.Provider:
		return singularity.CheckImage(image)
	}
	return nil
}

func (p *pipeline) denoiseStep(rt steps.Runtime) *steps.Denoise {
	d := p.cfg.Denoise
	return &steps.Denoise{
		Runtime:   rt,
		DerivRoot: p.cfg.DerivativesDir,
		Command:   d.Command,
		FitType:   d.FitType,
		TedPCA:    d.TedPCA,
		GSControl: d.GSControl,
	}
}

func (p *pipeline) resampleStep(rt steps.Runtime) *steps.Resample {
	r := p.cfg.Resample
	return &steps.Resample{
		Runtime:   rt,
		DerivRoot: p.cfg.DerivativesDir,
		WorkRoot:  p.cfg.WorkingDir,
		Command:   r.Command,
		Space:     r.Space,
		Density:   r.Density,
	}
}

func (p *pipeline) dispatcher(rec dispatch.Recorder) *dispatch.Dispatcher {
	return &dispatch.Dispatcher{
		Parallel:    p.cfg.Parallel,
		LockPath:    lockPath(p.cfg.DerivativesDir),
		UnitTimeout: time.Duration(p.cfg.UnitTimeoutSec * float64(time.Second)),
		StateDir:    p.cfg.StateDir,
		Recorder:    rec,
	}
}

func lockPath(derivDir string) string {
	return filepath.Join(derivDir, dispatch.LockName)
}
