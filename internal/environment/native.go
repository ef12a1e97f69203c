package environment

import (
	"context"
	"os"
	"os/exec"
)

// Native runs tools installed on the host. Image and Binds are ignored.
type Native struct{}

// NewNative returns the host provider.
func NewNative() *Native {
	return &Native{}
}

// Name returns the provider name.
func (n *Native) Name() string {
	return "native"
}

// Command builds the host command.
func (n *Native) Command(ctx context.Context, spec RunSpec) *exec.Cmd {
	cmd := exec.CommandContext(ctx, spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.WorkDir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.SortedEnv("")...)
	}
	return cmd
}
