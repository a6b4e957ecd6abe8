package crawler

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/disclosure-monitor/internal/metrics"
)

// detailResult is what a worker hands back for one candidate. Workers never
// write; the engine persists results after the pool drains.
type detailResult struct {
	candidate  Candidate
	disclosure Disclosure
	raw        []byte
	outcome    string
	err        error
}

// fetchDetails runs process over candidates with at most workers in flight
// and waits for all of them. A blocked response cancels the remaining
// workers and is returned as the pool error; queued candidates are not
// started once the group is canceled.
func fetchDetails(
	ctx context.Context,
	workers int,
	candidates []Candidate,
	process func(context.Context, Candidate) detailResult,
) ([]detailResult, error) {
	results := make([]detailResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, c := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = detailResult{candidate: c, outcome: "canceled", err: err}
				return nil
			}
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			results[i] = safeProcess(gctx, c, process)
			if errors.Is(results[i].err, ErrBlocked) {
				return results[i].err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func safeProcess(
	ctx context.Context,
	c Candidate,
	process func(context.Context, Candidate) detailResult,
) (res detailResult) {
	defer func() {
		if r := recover(); r != nil {
			res = detailResult{candidate: c, outcome: "panic", err: fmt.Errorf("detail worker panic: %v", r)}
		}
	}()
	return process(ctx, c)
}
