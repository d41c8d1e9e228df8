package pipeline

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// BatchItem is the outcome of one request in a batch.
type BatchItem struct {
	Result *Result
	Err    error
}

// RunBatch runs reqs with at most limit in flight and returns outcomes in
// input order. One request failing does not stop the others.
func (o *Orchestrator) RunBatch(ctx context.Context, reqs []Request, limit int) []BatchItem {
	if limit < 1 {
		limit = 1
	}
	out := make([]BatchItem, len(reqs))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := o.Run(ctx, req)
			out[i] = BatchItem{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, item := range out {
		if item.Err != nil {
			failed++
		}
	}
	log.Info().Int("requests", len(reqs)).Int("failed", failed).Int("concurrency", limit).Msg("Batch complete")
	return out
}
