package lineage

import (
	"cmp"
	"slices"
	"time"
)

// RunNode is one run in a reconstructed job-run tree.
type RunNode struct {
	RunID        string
	JobNamespace string
	JobName      string

	// ParentRunID is the parent reference carried by the run's events, even if
	// that parent was not among the events the tree was built from.
	ParentRunID string

	// Events of this run ordered by eventTime.
	Events   []RunEvent
	Children []*RunNode
}

// State returns the last non-OTHER event type of the run.
func (n *RunNode) State() EventType {
	for i := len(n.Events) - 1; i >= 0; i-- {
		if n.Events[i].EventType != EventTypeOther {
			return n.Events[i].EventType
		}
	}

	return EventTypeOther
}

// StartedAt returns the time of the run's earliest event.
func (n *RunNode) StartedAt() time.Time {
	if len(n.Events) == 0 {
		return time.Time{}
	}

	return n.Events[0].EventTime
}

// Walk visits n and its descendants depth first, children in start order.
func (n *RunNode) Walk(fn func(node *RunNode, depth int)) {
	n.walk(fn, 0)
}

func (n *RunNode) walk(fn func(*RunNode, int), depth int) {
	fn(n, depth)

	for _, child := range n.Children {
		child.walk(fn, depth+1)
	}
}

// BuildRunTree reconstructs the flow -> step -> statement hierarchy from
// events linked through parent facets. A run whose parent is missing from
// events is a root. Runs caught in a parent cycle are also returned as roots
// so that no event is dropped.
func BuildRunTree(events []RunEvent) []*RunNode {
	runIDs, byRun := GroupByRun(events)

	nodes := make(map[string]*RunNode, len(runIDs))

	for _, id := range runIDs {
		sorted := SortEventsByTime(byRun[id])
		node := &RunNode{
			RunID:        id,
			JobNamespace: sorted[0].Job.Namespace,
			JobName:      sorted[0].Job.Name,
			Events:       sorted,
		}

		for i := range sorted {
			if parentID, ok := sorted[i].ParentRunID(); ok {
				node.ParentRunID = parentID

				break
			}
		}

		nodes[id] = node
	}

	var roots []*RunNode

	for _, id := range runIDs {
		node := nodes[id]

		parent, ok := nodes[node.ParentRunID]
		if !ok || node.ParentRunID == id {
			roots = append(roots, node)

			continue
		}

		parent.Children = append(parent.Children, node)
	}

	reachable := make(map[string]bool, len(nodes))
	for _, root := range roots {
		root.Walk(func(n *RunNode, _ int) { reachable[n.RunID] = true })
	}

	for _, id := range runIDs {
		if reachable[id] {
			continue
		}

		// Cut the cycle at this node.
		node := nodes[id]
		parent := nodes[node.ParentRunID]
		parent.Children = slices.DeleteFunc(parent.Children, func(c *RunNode) bool { return c == node })
		roots = append(roots, node)

		node.Walk(func(n *RunNode, _ int) { reachable[n.RunID] = true })
	}

	for _, node := range nodes {
		slices.SortFunc(node.Children, compareByTime)
	}

	slices.SortFunc(roots, compareByTime)

	return roots
}

func compareByTime(a, b *RunNode) int {
	return cmp.Or(a.StartedAt().Compare(b.StartedAt()), cmp.Compare(a.RunID, b.RunID))
}
