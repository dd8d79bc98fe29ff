package dialer

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// BatchResult summarizes a DialBatch run.
type BatchResult struct {
	Placed  int
	Failed  int
	Skipped int
}

// DialBatch runs up to n dial cycles for one campaign with at most workers
// in flight. It stops early once the queue is empty or the campaign is no
// longer dialable.
func (d *Dialer) DialBatch(ctx context.Context, sig Signal, n, workers int) (BatchResult, error) {
	if n <= 0 {
		return BatchResult{}, nil
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	var (
		mu   sync.Mutex
		out  BatchResult
		stop bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		mu.Lock()
		done := stop
		mu.Unlock()
		if done || gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := d.DialNext(gctx, sig)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				return err
			}
			switch {
			case res.Placed():
				out.Placed++
			case res.Reason == ReasonProvider:
				out.Failed++
			default:
				out.Skipped++
				if res.Reason == ReasonEmpty || res.Reason == ReasonInactive || res.Reason == ReasonCapacity {
					stop = true
				}
			}
			return nil
		})
	}
	err := g.Wait()
	return out, err
}
