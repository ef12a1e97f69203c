// Package singularity runs tools from Singularity or Apptainer images, the
// container runtimes available on most HPC clusters.
package singularity

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/surveybott/fmribatch/internal/environment"
)

// Provider implements the Singularity/Apptainer environment provider.
type Provider struct {
	// Executable is "singularity" or "apptainer", or a path to either.
	Executable string
	// CleanEnv keeps the host environment out of the container.
	CleanEnv bool
}

// NewProvider returns a provider for the given executable name.
func NewProvider(executable string) *Provider {
	if executable == "" {
		executable = "singularity"
	}
	return &Provider{Executable: executable, CleanEnv: true}
}

// Name returns the runtime name without any directory.
func (p *Provider) Name() string {
	return filepath.Base(p.Executable)
}

// envPrefix is how the runtime forwards host variables into the container.
func (p *Provider) envPrefix() string {
	return strings.ToUpper(p.Name()) + "ENV_"
}

// Args returns the exec arguments for spec.
func (p *Provider) Args(spec environment.RunSpec) []string {
	args := []string{"exec"}
	if p.CleanEnv {
		args = append(args, "--cleanenv")
	}
	for _, b := range spec.Binds {
		args = append(args, "-B", b.String())
	}
	if spec.WorkDir != "" {
		args = append(args, "--pwd", spec.WorkDir)
	}
	args = append(args, spec.Image)
	return append(args, spec.Args...)
}

// Command builds a singularity exec. Variables in spec.Env reach the
// container through the runtime's ENV_ prefix, which survives --cleanenv.
func (p *Provider) Command(ctx context.Context, spec environment.RunSpec) *exec.Cmd {
	cmd := exec.CommandContext(ctx, p.Executable, p.Args(spec)...)
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.SortedEnv(p.envPrefix())...)
	}
	return cmd
}

// CheckImage verifies a local image exists. Sandbox directories count.
func CheckImage(image string) error {
	if _, err := os.Stat(image); err != nil {
		return fmt.Errorf("container image: %w", err)
	}
	return nil
}
