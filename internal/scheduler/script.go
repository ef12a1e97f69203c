// Package scheduler renders job-array scripts that run fmriprep once per
// subject and submits them to PBS or SLURM.
package scheduler

import (
	"embed"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/surveybott/fmribatch/internal/models"
)

// Kind selects the batch scheduler dialect.
type Kind string

const (
	PBS   Kind = "pbs"
	SLURM Kind = "slurm"
)

// ParseKind validates a scheduler name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case PBS, SLURM:
		return k, nil
	default:
		return "", fmt.Errorf("unsupported scheduler %q (want pbs or slurm)", s)
	}
}

// TaskIndexVar is the environment variable holding the array index.
func (k Kind) TaskIndexVar() string {
	if k == PBS {
		return "PBS_ARRAY_INDEX"
	}
	return "SLURM_ARRAY_TASK_ID"
}

// SubmitCommand is the scheduler's submission executable.
func (k Kind) SubmitCommand() string {
	if k == PBS {
		return "qsub"
	}
	return "sbatch"
}

// Params configures one job-array script.
type Params struct {
	Kind             Kind
	Queue            string // PBS queue or SLURM partition
	NCPU             int
	MemMB            int
	HoursPerSubject  int
	MaxWalltimeHours int // 0 means uncapped
	Limit            int // max concurrent array tasks; 0 means unlimited
	JobName          string
	Container        string
	Image            string
	CmdPre           string
	LogDir           string
	BIDSDir          string
	OutDir           string
	FmriprepArgs     []string
	Subjects         []string
}

// Walltime formats the per-task wall clock limit.
func Walltime(hoursPerSubject, maxHours int) string {
	h := hoursPerSubject
	if maxHours > 0 && h > maxHours {
		h = maxHours
	}
	return fmt.Sprintf("%02d:00:00", h)
}

// ArrayRange formats the array specification for n subjects.
func ArrayRange(n, limit int) string {
	r := fmt.Sprintf("0-%d", n-1)
	if limit > 0 {
		r += fmt.Sprintf("%%%d", limit)
	}
	return r
}

// FmriprepCommand is the container invocation without the participant label.
func (p Params) FmriprepCommand() string {
	parts := []string{
		p.Container, "run", shellQuote(p.Image),
		shellQuote(p.BIDSDir), shellQuote(p.OutDir), "participant",
		"--nthreads", fmt.Sprint(p.NCPU),
		"--mem-mb", fmt.Sprint(p.MemMB),
	}
	for _, a := range p.FmriprepArgs {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"quote": shellQuote,
}).ParseFS(templateFS, "templates/*.tmpl"))

type scriptData struct {
	Params
	Walltime  string
	Array     string
	TaskIndex string
	Command   string
}

// Render writes the job-array script. It refuses an empty subject list.
func Render(w io.Writer, p Params) error {
	if len(p.Subjects) == 0 {
		return fmt.Errorf("%w: no sub- dirs found in %s", models.ErrNoSubjectsFound, p.BIDSDir)
	}
	if p.JobName == "" {
		p.JobName = "fmriprep"
	}
	name := string(p.Kind) + ".sh.tmpl"
	if templates.Lookup(name) == nil {
		return fmt.Errorf("unsupported scheduler %q", p.Kind)
	}
	data := scriptData{
		Params:    p,
		Walltime:  Walltime(p.HoursPerSubject, p.MaxWalltimeHours),
		Array:     ArrayRange(len(p.Subjects), p.Limit),
		TaskIndex: "${" + p.Kind.TaskIndexVar() + "}",
		Command:   p.FmriprepCommand(),
	}
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		return fmt.Errorf("rendering %s script: %w", p.Kind, err)
	}
	return nil
}

// shellQuote quotes s for bash unless it is made only of safe characters.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,+@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
