package scheduler

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Submitter hands a rendered script to the scheduler.
type Submitter struct {
	// Remote, when set, submits through "ssh <Remote>".
	Remote string
	// Run executes a command and returns its combined output.
	Run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewSubmitter returns a Submitter running commands locally.
func NewSubmitter() *Submitter {
	return &Submitter{Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return exec.CommandContext(ctx, name, args...).CombinedOutput()
	}}
}

// Submit submits scriptPath and returns the scheduler's job id.
func (s *Submitter) Submit(ctx context.Context, kind Kind, scriptPath string) (string, error) {
	name, args := kind.SubmitCommand(), []string{scriptPath}
	if s.Remote != "" {
		name, args = "ssh", append([]string{s.Remote, name}, args...)
	}
	out, err := s.Run(ctx, name, args...)
	if err != nil {
		return "", fmt.Errorf("%s failed: %w\nOutput: %s", kind.SubmitCommand(), err, strings.TrimSpace(string(out)))
	}
	return ParseJobID(kind, string(out))
}

var sbatchRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// ParseJobID extracts the job id from sbatch or qsub output, e.g.
// "Submitted batch job 2723147" or "1234[].pbs01".
func ParseJobID(kind Kind, out string) (string, error) {
	if kind == SLURM {
		if m := sbatchRe.FindStringSubmatch(out); m != nil {
			return m[1], nil
		}
		return "", fmt.Errorf("unable to parse sbatch output: %q", out)
	}
	for _, line := range strings.Split(out, "\n") {
		if id := strings.TrimSpace(line); id != "" && id[0] >= '0' && id[0] <= '9' {
			return id, nil
		}
	}
	return "", fmt.Errorf("unable to parse qsub output: %q", out)
}
