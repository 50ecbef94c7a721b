package emitter

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// FlowFunc drives one independent flow.
type FlowFunc func(ctx context.Context) error

// RunFlows runs independent flows concurrently and returns the first error.
// The context passed to the flows is cancelled once any of them fails.
// Flows must not share Flow values; sharing an Emitter is fine.
func RunFlows(ctx context.Context, flows ...FlowFunc) error {
	return RunFlowsLimit(ctx, -1, flows...)
}

// RunFlowsLimit is RunFlows with at most limit flows in flight. A limit below 1 means no limit.
func RunFlowsLimit(ctx context.Context, limit int, flows ...FlowFunc) error {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for _, run := range flows {
		g.Go(func() error {
			return run(ctx)
		})
	}

	return g.Wait()
}
