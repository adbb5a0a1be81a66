package sim

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// RunFleet runs independent scenarios concurrently, one executor each.
// newRunner is called once per scenario so metrics are never shared.
// The first error cancels the remaining runs.
func RunFleet(ctx context.Context, scenarios []Scenario, newRunner func() *Runner) ([]*Result, error) {
	results := make([]*Result, len(scenarios))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, sc := range scenarios {
		i, sc := i, sc
		g.Go(func() error {
			res, err := newRunner().Run(ctx, sc)
			results[i] = res
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
