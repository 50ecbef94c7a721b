package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"github.com/correlator-io/openlineage-playground/internal/lineage"
	"github.com/correlator-io/openlineage-playground/internal/transport"
)

var errInvalidRuns = errors.New("event log holds invalid run sequences")

type inspectCommand struct {
	fs     afero.Fs
	events bool
	strict bool
}

func newInspectCmd() *cobra.Command {
	inspect := &inspectCommand{fs: afero.NewOsFs()}

	cmd := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Show the run tree of an event log written by the file transport",
		Long: heredoc.Doc(`
			Read a JSON lines file, a single event file or a directory of event
			files, rebuild the flow -> step -> statement hierarchy from the parent
			facets and check every run's START/COMPLETE sequence.
		`),
		Example: heredoc.Doc(`
			$ olplay inspect ./events.jsonl
			$ olplay inspect ./events/ --events
		`),
		Args: cobra.ExactArgs(1),
		RunE: inspect.RunE,
	}

	cmd.Flags().BoolVar(&inspect.events, "events", false, "also print every event in a table")
	cmd.Flags().BoolVar(&inspect.strict, "strict", false, "fail when a run has an invalid event sequence")

	return cmd
}

func (i *inspectCommand) RunE(cmd *cobra.Command, args []string) error {
	events, err := transport.ReadEvents(i.fs, args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()

	if len(events) == 0 {
		_, err := fmt.Fprintln(out, "no events")

		return err
	}

	roots := lineage.BuildRunTree(events)

	invalid := 0
	for _, root := range roots {
		tree, bad := renderRunTree(root)
		invalid += bad

		if _, err := fmt.Fprint(out, tree.String()); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(out, "%d events, %d root runs, %d invalid runs\n", len(events), len(roots), invalid); err != nil {
		return err
	}

	if i.events {
		renderEventTable(out, events)
	}

	if i.strict && invalid > 0 {
		return fmt.Errorf("%w: %d", errInvalidRuns, invalid)
	}

	return nil
}

// renderRunTree returns the tree of root and the number of runs in it whose
// events do not form a valid run cycle.
func renderRunTree(root *lineage.RunNode) (treeprint.Tree, int) {
	tree := treeprint.NewWithRoot(runLabel(root))
	invalid := 0

	branches := map[*lineage.RunNode]treeprint.Tree{root: tree}

	root.Walk(func(node *lineage.RunNode, _ int) {
		if _, _, err := lineage.ValidateEventSequence(node.Events); err != nil {
			invalid++

			branches[node].AddNode("invalid sequence: " + err.Error())
		}

		for _, child := range node.Children {
			branches[child] = branches[node].AddBranch(runLabel(child))
		}
	})

	return tree, invalid
}

func runLabel(node *lineage.RunNode) string {
	label := fmt.Sprintf("%s/%s [%s] %s", node.JobNamespace, node.JobName, node.State(), node.RunID)

	if len(node.Events) > 0 {
		first := node.Events[0].EventTime
		last := node.Events[len(node.Events)-1].EventTime
		label += fmt.Sprintf(" %s (%s)", first.Format(time.RFC3339), last.Sub(first))
	}

	return label
}

func renderEventTable(w io.Writer, events []lineage.RunEvent) {
	table := tablewriter.NewWriter(w)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"Event Time", "Type", "Job", "Run ID", "Inputs", "Outputs"})

	for _, e := range lineage.SortEventsByTime(events) {
		table.Append([]string{
			e.EventTime.Format(time.RFC3339Nano),
			string(e.EventType),
			e.Job.Namespace + "/" + e.Job.Name,
			e.Run.ID,
			strconv.Itoa(len(e.Inputs)),
			strconv.Itoa(len(e.Outputs)),
		})
	}

	table.Render()
}
