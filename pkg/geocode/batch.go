package geocode

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// batchConcurrency caps parallel provider calls during a batch. The shared
// rate limiter still paces the actual requests.
const batchConcurrency = 4

// BatchGeocode implements Client. Results are returned in input order. A
// single failed lookup fails the batch.
func (g *geocoder) BatchGeocode(ctx context.Context, locations []string) ([]Result, error) {
	if len(locations) == 0 {
		return nil, nil
	}

	results := make([]Result, len(locations))
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(batchConcurrency)

	for i, loc := range locations {
		grp.Go(func() error {
			r, err := g.Geocode(ctx, loc)
			if err != nil {
				return eris.Wrapf(err, "geocode: batch item %d (%s)", i, loc)
			}
			results[i] = *r
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
