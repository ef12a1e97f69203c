// Package environment builds the command lines that run external tools,
// either inside a container image or directly on the host.
package environment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os/exec"
	"slices"
	"strings"
)

// Bind mounts a host path into the container.
type Bind struct {
	Host      string `yaml:"host"`
	Container string `yaml:"container"`
	ReadOnly  bool   `yaml:"read_only"`
}

// ParseBind parses "host[:container[:ro]]".
func ParseBind(s string) (Bind, error) {
	parts := strings.Split(s, ":")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 3 {
		return Bind{}, fmt.Errorf("invalid bind %q", s)
	}
	b := Bind{Host: parts[0], Container: parts[0]}
	if len(parts) > 1 && parts[1] != "" {
		b.Container = parts[1]
	}
	if len(parts) == 3 {
		if parts[2] != "ro" && parts[2] != "rw" {
			return Bind{}, fmt.Errorf("invalid bind option %q in %q", parts[2], s)
		}
		b.ReadOnly = parts[2] == "ro"
	}
	return b, nil
}

// String formats the bind the way docker -v and singularity -B accept it.
func (b Bind) String() string {
	s := b.Host + ":" + b.Container
	if b.ReadOnly {
		s += ":ro"
	}
	return s
}

// RunSpec describes one tool invocation. Args[0] is the executable inside the
// image (or on the host for the native provider).
type RunSpec struct {
	Image   string
	Args    []string
	Binds   []Bind
	Env     map[string]string
	WorkDir string
}

// SortedEnv returns Env as KEY=VALUE pairs in key order, with each key
// prefixed by prefix.
func (s RunSpec) SortedEnv(prefix string) []string {
	var out []string
	for _, k := range slices.Sorted(maps.Keys(s.Env)) {
		out = append(out, prefix+k+"="+s.Env[k])
	}
	return out
}

// Provider turns a RunSpec into a ready-to-start command.
type Provider interface {
	// Name returns the provider name (e.g., "singularity", "docker", "native").
	Name() string

	// Command builds the command. The caller wires stdio and starts it.
	Command(ctx context.Context, spec RunSpec) *exec.Cmd
}

// Exec runs spec through p, streaming stdout and stderr to the provided
// writers. A non-zero exit is reported through the exit code, not the error.
func Exec(ctx context.Context, p Provider, spec RunSpec, stdout, stderr io.Writer) (int, error) {
	if len(spec.Args) == 0 {
		return -1, errors.New("empty command")
	}
	cmd := p.Command(ctx, spec)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return -1, fmt.Errorf("%s timed out: %w", spec.Args[0], ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("executing %s via %s: %w", spec.Args[0], p.Name(), err)
	}
	return 0, nil
}
