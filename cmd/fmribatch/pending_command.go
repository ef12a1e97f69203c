package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/surveybott/fmribatch/internal/bids"
	"github.com/surveybott/fmribatch/internal/completion"
	"github.com/surveybott/fmribatch/internal/models"
)

type pendingOptions struct {
	list        string
	header      bool
	derivatives string
	desc        string
	out         string
	name        string
	verbose     bool
}

func newPendingCommand(ctx *commandContext) *cobra.Command {
	var opts pendingOptions

	cmd := &cobra.Command{
		Use:   "pending <bids_dir>",
		Short: "List subjects whose fmriprep outputs are incomplete",
		Long: `Compare each subject's raw bold runs with the processed bold outputs in the
derivatives tree. A subject is done when both counts are equal and non-zero;
every other subject is pending.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPending(cmd, ctx, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.list, "list", "", "CSV whose first column lists the study's subjects (default: every sub- dir)")
	flags.BoolVar(&opts.header, "header", true, "The subject list starts with a header row")
	flags.StringVar(&opts.derivatives, "derivatives", "", "Derivatives directory (default <bids_dir>/derivatives)")
	flags.StringVar(&opts.desc, "desc", completion.DefaultDesc, "desc label of processed bold outputs")
	flags.StringVar(&opts.out, "out", "", "Directory receiving <name>.txt and <name>_n.txt")
	flags.StringVar(&opts.name, "name", "subjects", "Base name of the written lists")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Print the per-subject counts")

	return cmd
}

func runPending(cmd *cobra.Command, ctx *commandContext, opts pendingOptions, bidsArg string) error {
	bidsDir, err := ctx.absDir(bidsArg)
	if err != nil {
		return err
	}

	checker := completion.NewChecker(bidsDir)
	checker.Desc = opts.desc
	if opts.derivatives != "" {
		derivDir, err := ctx.absDir(opts.derivatives)
		if err != nil {
			return err
		}
		checker.DerivFS = os.DirFS(derivDir)
		checker.DerivDir = "."
	}

	var list []string
	if opts.list != "" {
		f, err := os.Open(ctx.env.ExpandPath(opts.list))
		if err != nil {
			return fmt.Errorf("opening subject list: %w", err)
		}
		defer f.Close()
		if list, err = completion.ReadSubjectList(f, opts.header); err != nil {
			return err
		}
	} else {
		if list, err = topLevelSubjects(checker.FS, bidsDir); err != nil {
			return err
		}
	}

	pending, statuses, err := checker.Pending(list)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.verbose {
		rows := make([][]string, 0, len(statuses))
		for _, st := range statuses {
			rows = append(rows, []string{st.Subject, strconv.Itoa(st.Raw), strconv.Itoa(st.Processed), yesNo(st.Done())})
		}
		fmt.Fprint(out, renderTable(out, []string{"Subject", "Raw", "Processed", "Done"}, rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft}))
	}
	fmt.Fprintf(out, "%d/%d subject(s) completed\n", len(list)-len(pending), len(list))
	fmt.Fprintf(out, "%d subject(s) to run\n", len(pending))

	if opts.out == "" {
		for _, id := range pending {
			fmt.Fprintln(out, id)
		}
		return nil
	}
	path, err := completion.WriteList(ctx.env.ExpandPath(opts.out), opts.name, pending)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved to %s\n", filepath.Clean(path))
	return nil
}

// topLevelSubjects lists the sub- directories directly under the dataset
// root; nested derivative copies are not part of the study list.
func topLevelSubjects(fsys fs.FS, root string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && bids.IsSubjectDir(e.Name()) {
			ids = append(ids, bids.StripSubject(e.Name()))
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no sub- dirs found in %s", models.ErrNoSubjectsFound, root)
	}
	return ids, nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
