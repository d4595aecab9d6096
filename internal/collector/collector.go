// Package collector implements the Rate Collector: a bounded-parallelism
// fan-out across every venue adapter that gathers funding-rate snapshots
// once per cycle.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ybangaru/fundingarb/internal/domain"
	"github.com/ybangaru/fundingarb/internal/exchange"
)

// Collector fans out GetFundingRates across every registered adapter.
type Collector struct {
	adapters []exchange.Adapter
	timeout  time.Duration
}

func New(adapters []exchange.Adapter, perVenueTimeout time.Duration) *Collector {
	return &Collector{adapters: adapters, timeout: perVenueTimeout}
}

// Collect gathers funding rates across all venues concurrently. A venue
// that errors or times out contributes nothing and never aborts the
// cycle for the others — failure isolation is per-venue, by design.
func (c *Collector) Collect(ctx context.Context) []domain.FundingRate {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []domain.FundingRate
	)

	for _, a := range c.adapters {
		wg.Add(1)
		go func(a exchange.Adapter) {
			defer wg.Done()

			venueCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			rates, err := a.GetFundingRates(venueCtx, "")
			if err != nil {
				log.Warn().Str("venue", a.Venue().String()).Err(err).Msg("funding rate fetch failed, skipping venue this cycle")
				return
			}

			mu.Lock()
			results = append(results, rates...)
			mu.Unlock()
		}(a)
	}

	wg.Wait()
	return results
}

// ByAsset buckets rates by their canonical asset, the grouping the Spread
// Engine operates on.
func ByAsset(rates []domain.FundingRate) map[domain.CanonicalAsset][]domain.FundingRate {
	buckets := make(map[domain.CanonicalAsset][]domain.FundingRate)
	for _, r := range rates {
		buckets[r.Asset] = append(buckets[r.Asset], r)
	}
	return buckets
}
