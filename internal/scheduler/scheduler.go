// Package scheduler runs the two clocks the strategy lives on: an 8-hour
// entry ticker that looks for a new cross-venue spread whenever no
// position is currently owned, and a 15-minute monitor ticker that
// decides whether an owned position should be closed.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ybangaru/fundingarb/internal/collector"
	"github.com/ybangaru/fundingarb/internal/coordinator"
	"github.com/ybangaru/fundingarb/internal/domain"
	"github.com/ybangaru/fundingarb/internal/exchange"
	"github.com/ybangaru/fundingarb/internal/notify"
	"github.com/ybangaru/fundingarb/internal/spread"
	"github.com/ybangaru/fundingarb/internal/state"
	"github.com/ybangaru/fundingarb/internal/venue"
)

const (
	entryInterval   = 8 * time.Hour
	monitorInterval = 15 * time.Minute
	// tradeTimeOffsetSec shifts the entry ticker 30 minutes earlier than
	// each funding epoch boundary, so the opening legs are resting and
	// filled before the funding payment is assessed.
	tradeTimeOffsetSec = -1800
	perVenueTimeout    = 10 * time.Second
)

// Scheduler owns both clocks and the components they drive.
type Scheduler struct {
	adapters             map[venue.Venue]exchange.Adapter
	collector            *collector.Collector
	store                *state.Store
	notifier             notify.Notifier
	accountValueFraction float64
}

func New(adapters map[venue.Venue]exchange.Adapter, store *state.Store, notifier notify.Notifier, accountValueFraction float64) *Scheduler {
	adapterList := make([]exchange.Adapter, 0, len(adapters))
	for _, a := range adapters {
		adapterList = append(adapterList, a)
	}
	return &Scheduler{
		adapters:             adapters,
		collector:            collector.New(adapterList, perVenueTimeout),
		store:                store,
		notifier:             notifier,
		accountValueFraction: accountValueFraction,
	}
}

// Run drives both clocks concurrently until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	entryTimer := time.NewTimer(durationToNextEpoch(time.Now()))
	defer entryTimer.Stop()

	monitorTicker := time.NewTicker(monitorInterval)
	defer monitorTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-entryTimer.C:
			s.runEntryCycle(ctx)
			entryTimer.Reset(entryInterval)
		case <-monitorTicker.C:
			s.runMonitorCycle(ctx)
		}
	}
}

// durationToNextEpoch returns the wait until the next funding-epoch
// boundary (00:00, 08:00, 16:00 UTC), offset tradeTimeOffsetSec seconds
// earlier. If now is already past all three for today, it rolls to
// tomorrow's first boundary.
func durationToNextEpoch(now time.Time) time.Duration {
	now = now.UTC()
	offsets := []int{0, 8, 16}
	var best time.Duration = -1

	for _, hour := range offsets {
		boundary := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC).
			Add(time.Duration(tradeTimeOffsetSec) * time.Second)
		d := boundary.Sub(now)
		if d > 0 && (best < 0 || d < best) {
			best = d
		}
	}
	if best < 0 {
		tomorrow := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC).
			Add(time.Duration(tradeTimeOffsetSec) * time.Second)
		best = tomorrow.Sub(now)
		// Within the last tradeTimeOffsetSec window of the day (23:30-00:00
		// UTC), even tomorrow's first boundary has already passed; step
		// forward by entryInterval until the next one is in the future.
		for best <= 0 {
			best += entryInterval
		}
	}
	return best
}

// runEntryCycle looks for a new cross-venue spread and opens a trade for
// it if no position is currently owned and the best spread clears the
// entry threshold.
func (s *Scheduler) runEntryCycle(ctx context.Context) {
	cycleLog := log.With().Str("cycle_id", uuid.NewString()).Logger()

	if _, owned, err := s.store.LoadTrade(); err != nil {
		cycleLog.Error().Err(err).Msg("entry cycle: failed to check resume token")
		return
	} else if owned {
		cycleLog.Info().Msg("entry cycle: position already open, skipping")
		return
	}

	balances := s.collectBalances(ctx)

	rates := s.collector.Collect(ctx)
	byAsset := collector.ByAsset(rates)
	ranked := spread.CalculateAll(byAsset)
	if len(ranked) == 0 {
		cycleLog.Warn().Msg("entry cycle: no tradable spreads observed this cycle")
		return
	}

	best := ranked[0]
	if !spread.MeetsThreshold(best) {
		s.notifier.Notify(ctx, "No Trades", fmt.Sprintf("Criteria not met for trade. Best spread: %s net_half=%.4f", best.Asset, best.NetHalf))
		return
	}

	s.notifier.Notify(ctx, "Taking Trades", fmt.Sprintf("%s: buy %s / sell %s, net_half=%.4f", best.Asset, best.BuyVenue, best.SellVenue, best.NetHalf))

	trade, err := spread.BuildTrade(ctx, best, balances, spread.Adapters(s.adapters), s.accountValueFraction)
	if err != nil {
		cycleLog.Error().Err(err).Msg("entry cycle: failed to build trade")
		return
	}
	if err := trade.Validate(); err != nil {
		cycleLog.Error().Err(err).Msg("entry cycle: built trade failed validation")
		return
	}
	if err := s.store.SaveTrade(trade); err != nil {
		cycleLog.Error().Err(err).Msg("entry cycle: failed to persist resume token")
		return
	}

	coord := coordinator.New(s.adapters, s.notifier)
	if err := coord.Run(ctx, trade, false); err != nil {
		cycleLog.Error().Err(err).Msg("entry cycle: coordinator run ended with error")
	}

	if err := s.store.ClearOkexContractSpec(); err != nil {
		cycleLog.Warn().Err(err).Msg("entry cycle: failed to clear okex contract spec cache")
	}
}

// runMonitorCycle checks an owned position's live funding-rate spread and
// closes it once the close condition for its venue pair is met.
func (s *Scheduler) runMonitorCycle(ctx context.Context) {
	cycleLog := log.With().Str("cycle_id", uuid.NewString()).Logger()

	trade, owned, err := s.store.LoadTrade()
	if err != nil {
		cycleLog.Error().Err(err).Msg("monitor cycle: failed to load resume token")
		return
	}
	if !owned {
		return
	}

	currentSpread, err := s.currentSpreadFor(ctx, trade)
	if err != nil {
		cycleLog.Warn().Err(err).Msg("monitor cycle: failed to compute current spread")
		s.notifier.Notify(ctx, "Periodic Report", fmt.Sprintf(
			"%s: long=%s short=%s, current spread unavailable: %v",
			trade.Long.Asset, trade.Long.Venue, trade.Short.Venue, err))
		return
	}

	shouldClose := currentSpread < 0 && closeWindowOpen(trade)

	s.notifier.Notify(ctx, "Periodic Report", fmt.Sprintf(
		"%s: long=%s short=%s, current_spread=%.4f, closing=%v",
		trade.Long.Asset, trade.Long.Venue, trade.Short.Venue, currentSpread, shouldClose))

	if !shouldClose {
		return
	}

	cycleLog.Info().Str("asset", string(trade.Long.Asset)).Msg("closing position")

	coord := coordinator.New(s.adapters, s.notifier)
	if err := coord.RefreshAvgPrices(ctx, trade); err != nil {
		cycleLog.Warn().Err(err).Msg("monitor cycle: failed to refresh average entry prices")
	}
	if err := coord.Run(ctx, trade.ClosingTrade(), true); err != nil {
		cycleLog.Error().Err(err).Msg("monitor cycle: coordinator run ended with error")
		return
	}

	if err := s.store.ClearTrade(); err != nil {
		cycleLog.Error().Err(err).Msg("monitor cycle: failed to clear resume token")
	}
}

// closeWindowOpen reports whether trade is inside the window where a close
// is allowed to execute: for FTX legs, past the 45th minute of the hour
// (FTX settles funding continuously, not on the 8h epoch boundary); for
// every other venue pair, within 15 minutes of the next funding epoch
// (00:00, 08:00, 16:00 UTC).
func closeWindowOpen(trade domain.SpreadTrade) bool {
	if trade.InvolvesVenue(venue.FTX) {
		return time.Now().UTC().Minute() > 45
	}
	now := time.Now().UTC()
	nextEpoch := now.Truncate(entryInterval).Add(entryInterval)
	return nextEpoch.Sub(now) < 15*time.Minute
}

// currentSpreadFor returns short-venue rate minus long-venue rate, in
// percent, the sign convention the close gate checks against zero: it is
// positive while the short leg's rate exceeds the long leg's, and goes
// negative once the spread inverts.
func (s *Scheduler) currentSpreadFor(ctx context.Context, trade domain.SpreadTrade) (float64, error) {
	longAdapter, ok := s.adapters[trade.Long.Venue]
	if !ok {
		return 0, fmt.Errorf("no adapter for %s", trade.Long.Venue)
	}
	shortAdapter, ok := s.adapters[trade.Short.Venue]
	if !ok {
		return 0, fmt.Errorf("no adapter for %s", trade.Short.Venue)
	}

	longRate, err := longAdapter.GetSingleFundingRate(ctx, trade.Long.VenueSymbol)
	if err != nil {
		return 0, err
	}
	shortRate, err := shortAdapter.GetSingleFundingRate(ctx, trade.Short.VenueSymbol)
	if err != nil {
		return 0, err
	}
	return (shortRate - longRate) * 100, nil
}

func (s *Scheduler) collectBalances(ctx context.Context) map[venue.Venue]float64 {
	out := make(map[venue.Venue]float64, len(s.adapters))
	for v, a := range s.adapters {
		bal, err := a.GetBalance(ctx)
		if err != nil {
			log.Warn().Str("venue", v.String()).Err(err).Msg("balance fetch failed this cycle")
			continue
		}
		out[v] = bal.Available
	}
	return out
}
