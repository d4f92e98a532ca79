package harvest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/isamplesorg/igsn-lib/internal/oai"
)

// SetCounter is the slice of the protocol needed to enumerate sets and count
// the records in each.
type SetCounter interface {
	ListSets(ctx context.Context) ([]oai.Set, error)
	RecordCount(ctx context.Context, args oai.ListArgs) (int, error)
}

// SetCount pairs a provider set with its record count.
type SetCount struct {
	Set   oai.Set `json:"set"`
	Count int     `json:"count"`
	Err   error   `json:"-"`
}

// CountSets enumerates the provider's sets and counts the records in each,
// fanning the counts out over at most workers concurrent requests. Results
// come back in the provider's set order. A failed count is recorded on its
// entry instead of failing the whole listing.
func CountSets(ctx context.Context, counter SetCounter, workers int, logger *slog.Logger) ([]SetCount, error) {
	sets, err := counter.ListSets(ctx)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = 1
	}

	results := make([]SetCount, len(sets))
	sem := make(chan struct{}, workers)

	var wg sync.WaitGroup
	for i, set := range sets {
		results[i].Set = set

		wg.Add(1)
		go func(i int, set oai.Set) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			count, err := counter.RecordCount(ctx, oai.ListArgs{Set: set.Spec})
			if err != nil {
				logger.Warn("set count failed",
					slog.String("set_spec", set.Spec),
					slog.String("error", err.Error()),
				)
				results[i].Err = err
				return
			}
			results[i].Count = count
		}(i, set)
	}
	wg.Wait()

	return results, nil
}
