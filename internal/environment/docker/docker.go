package docker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/surveybott/fmribatch/internal/environment"
)

// Provider implements the Docker environment provider.
type Provider struct {
	// Executable is the docker CLI, "docker" by default.
	Executable string
	// User is passed to --user so outputs keep host ownership.
	User string
}

// NewProvider creates a new Docker provider.
func NewProvider() *Provider {
	p := &Provider{Executable: "docker"}
	if uid, gid := os.Getuid(), os.Getgid(); uid >= 0 {
		p.User = fmt.Sprintf("%d:%d", uid, gid)
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "docker"
}

// Args returns the docker CLI arguments for spec.
func (p *Provider) Args(spec environment.RunSpec) []string {
	args := []string{"run", "--rm"}
	if p.User != "" {
		args = append(args, "--user", p.User)
	}
	for _, b := range spec.Binds {
		args = append(args, "-v", b.String())
	}
	for _, kv := range spec.SortedEnv("") {
		args = append(args, "-e", kv)
	}
	if spec.WorkDir != "" {
		args = append(args, "-w", spec.WorkDir)
	}
	// Override the image entrypoint so Args[0] names the tool.
	args = append(args, "--entrypoint", spec.Args[0], spec.Image)
	return append(args, spec.Args[1:]...)
}

// Command builds a one-shot docker run.
func (p *Provider) Command(ctx context.Context, spec environment.RunSpec) *exec.Cmd {
	return exec.CommandContext(ctx, p.executable(), p.Args(spec)...)
}

func (p *Provider) executable() string {
	if p.Executable == "" {
		return "docker"
	}
	return p.Executable
}

// PullImage pulls a pre-built image from a registry.
func (p *Provider) PullImage(ctx context.Context, imageRef string) error {
	cmd := exec.CommandContext(ctx, p.executable(), "pull", imageRef)
	var stderr bytes.Buffer
	cmd.Stdout = os.Stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pulling docker image: %w: %s", err, stderr.String())
	}
	return nil
}
