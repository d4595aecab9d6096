// Package spread implements the Spread Engine: it buckets funding-rate
// observations by asset, picks the best cross-venue pair for each, ranks
// them, and builds the balanced entry directives for the winning pair.
package spread

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ybangaru/fundingarb/internal/domain"
	"github.com/ybangaru/fundingarb/internal/exchange"
	"github.com/ybangaru/fundingarb/internal/venue"
)

// EntryThresholdPct is the minimum net_half (in percent) a spread must
// clear, strictly, before a trade is taken.
const EntryThresholdPct = 0.02

// DefaultAccountValueFraction is the portion of each venue's free
// collateral that config.DefaultConfig sizes into a single trade.
// BuildTrade does not fall back to it; callers pass
// `config.Strategy.AccountValueFraction` explicitly.
const DefaultAccountValueFraction = 0.8

// Calculate picks the best (lowest-rate, highest-rate) pair from the rates
// observed for one asset, returning nil if fewer than two distinct venues
// reported a rate. Venue enum order breaks ties deterministically when
// two observations share the same ScaledRateInt: the earliest tied venue
// wins on either side.
func Calculate(rates []domain.FundingRate) *domain.Spread {
	if len(rates) < 2 {
		return nil
	}

	sorted := append([]domain.FundingRate(nil), rates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ScaledRateInt != sorted[j].ScaledRateInt {
			return sorted[i].ScaledRateInt < sorted[j].ScaledRateInt
		}
		return sorted[i].Venue < sorted[j].Venue
	})

	lowest := sorted[0]
	// Step back over venues tied at the top rate so the earliest of them
	// takes the sell side; index 0 is kept for the buy side.
	hi := len(sorted) - 1
	for hi > 1 && sorted[hi-1].ScaledRateInt == sorted[hi].ScaledRateInt {
		hi--
	}
	highest := sorted[hi]
	if lowest.Venue == highest.Venue {
		return nil
	}

	makerFees := lowest.Venue.Fee(venue.Maker) + highest.Venue.Fee(venue.Maker)
	takerFees := lowest.Venue.Fee(venue.Taker) + highest.Venue.Fee(venue.Taker)
	grossSpread := highest.RatePct - lowest.RatePct

	worstTaker := maxF(lowest.Venue.Fee(venue.Taker), highest.Venue.Fee(venue.Taker))
	worstMaker := maxF(lowest.Venue.Fee(venue.Maker), highest.Venue.Fee(venue.Maker))
	netHalf := grossSpread - (worstTaker + worstMaker)

	deadline := lowest.NextFundingEpochMs
	if highest.NextFundingEpochMs > deadline {
		deadline = highest.NextFundingEpochMs
	}

	return &domain.Spread{
		Asset:           lowest.Asset,
		BuyVenue:        lowest.Venue,
		BuySymbol:       lowest.VenueSymbol,
		BuyRatePct:      lowest.RatePct,
		SellVenue:       highest.Venue,
		SellSymbol:      highest.VenueSymbol,
		SellRatePct:     highest.RatePct,
		Gross:           grossSpread,
		NetTaker:        grossSpread - takerFees,
		NetMaker:        grossSpread - makerFees,
		NetHalf:         netHalf,
		NetHalfScaled:   int64(netHalf * domain.SCALE),
		DeadlineEpochMs: deadline,
	}
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// CalculateAll runs Calculate over every asset bucket and returns the
// results ranked by NetHalfScaled descending — the best opportunity first.
func CalculateAll(byAsset map[domain.CanonicalAsset][]domain.FundingRate) []domain.Spread {
	out := make([]domain.Spread, 0, len(byAsset))
	for _, rates := range byAsset {
		if s := Calculate(rates); s != nil {
			out = append(out, *s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NetHalfScaled > out[j].NetHalfScaled
	})
	return out
}

// MeetsThreshold reports whether a spread's net_half strictly clears
// EntryThresholdPct — the entry gate is a strict inequality, not >=.
func MeetsThreshold(s domain.Spread) bool {
	return s.NetHalf > EntryThresholdPct
}

// Adapters is the subset of the venue registry the directive builder needs
// to size and price both legs of a trade.
type Adapters map[venue.Venue]exchange.Adapter

// BuildTrade sizes both legs of s against accountValueFraction of the
// smaller of the two venues' usable balances and returns the open
// SpreadTrade. accountValueFraction is the caller's configured
// strategy.account_value_fraction (see internal/config); BuildTrade has
// no default of its own and does not range-check the value.
//
// Coin-equivalent leg equalization: the non-contract leg opposite an
// Okex contract-count leg is sized directly in coin terms
// (contractQty * contractSize * contractLegPrice / otherLegPrice), not by
// writing a dollar notional string into its quantity field. SPEC_FULL.md
// §7 records this sizing-unit decision.
func BuildTrade(ctx context.Context, s domain.Spread, balances map[venue.Venue]float64, adapters Adapters, accountValueFraction float64) (domain.SpreadTrade, error) {
	buyUsable := balances[s.BuyVenue] * accountValueFraction
	sellUsable := balances[s.SellVenue] * accountValueFraction
	smaller := buyUsable
	if sellUsable < smaller {
		smaller = sellUsable
	}

	buyAdapter, ok := adapters[s.BuyVenue]
	if !ok {
		return domain.SpreadTrade{}, fmt.Errorf("spread: no adapter for buy venue %s", s.BuyVenue)
	}
	sellAdapter, ok := adapters[s.SellVenue]
	if !ok {
		return domain.SpreadTrade{}, fmt.Errorf("spread: no adapter for sell venue %s", s.SellVenue)
	}

	long, longNotional, err := buildLeg(ctx, buyAdapter, s.Asset, s.BuySymbol, domain.Buy, smaller)
	if err != nil {
		return domain.SpreadTrade{}, fmt.Errorf("build long leg: %w", err)
	}
	short, shortNotional, err := buildLeg(ctx, sellAdapter, s.Asset, s.SellSymbol, domain.Sell, smaller)
	if err != nil {
		return domain.SpreadTrade{}, fmt.Errorf("build short leg: %w", err)
	}

	// If one leg is contract-denominated, re-derive the other leg's coin
	// quantity from that leg's realized notional so both legs represent
	// the same dollar exposure before the final min-of-two equalization.
	if s.BuyVenue.ContractCount() && !s.SellVenue.ContractCount() {
		quote, err := sellAdapter.GetPrice(ctx, s.SellSymbol)
		if err == nil && quote.Bid > 0 {
			short.Quantity = formatQty(longNotional / quote.Bid)
		}
	}
	if s.SellVenue.ContractCount() && !s.BuyVenue.ContractCount() {
		quote, err := buyAdapter.GetPrice(ctx, s.BuySymbol)
		if err == nil && quote.Ask > 0 {
			long.Quantity = formatQty(shortNotional / quote.Ask)
		}
	}

	equalizeQuantities(&long, &short)

	return domain.SpreadTrade{
		Long:  long,
		Short: short,
	}, nil
}

// buildLeg prices and sizes one leg, returning its directive along with
// the realized dollar notional (qty * price, or contracts * contractSize *
// price for contract-count venues) for use by the opposite leg's
// coin-equivalent re-derivation.
func buildLeg(ctx context.Context, a exchange.Adapter, asset domain.CanonicalAsset, symbol string, side domain.Side, usable float64) (domain.Directive, float64, error) {
	quote, err := a.GetPrice(ctx, symbol)
	if err != nil {
		return domain.Directive{}, 0, err
	}
	price := quote.Ask
	if side == domain.Sell {
		price = quote.Bid
	}
	if price <= 0 {
		return domain.Directive{}, 0, fmt.Errorf("%s %s: non-positive price", a.Venue(), symbol)
	}

	if a.Venue().ContractCount() {
		contractSize, err := a.ContractSize(ctx, symbol)
		if err != nil {
			return domain.Directive{}, 0, err
		}
		contractDollarValue := price * contractSize
		contracts := int64(usable / contractDollarValue)
		if contracts < 1 {
			return domain.Directive{}, 0, fmt.Errorf("%s %s: usable balance %.2f insufficient for one contract at %.2f", a.Venue(), symbol, usable, contractDollarValue)
		}
		notional := float64(contracts) * contractDollarValue
		return domain.Directive{
			Venue:       a.Venue(),
			Asset:       asset,
			VenueSymbol: symbol,
			Side:        side,
			Quantity:    fmt.Sprintf("%d", contracts),
		}, notional, nil
	}

	digits, err := a.PrecisionDigits(ctx, symbol)
	if err != nil {
		digits = 3
	}
	qty := usable / price
	return domain.Directive{
		Venue:       a.Venue(),
		Asset:       asset,
		VenueSymbol: symbol,
		Side:        side,
		Quantity:    formatQtyDigits(qty, digits),
	}, usable, nil
}

func formatQty(qty float64) string {
	return formatQtyDigits(qty, 6)
}

func formatQtyDigits(qty float64, digits int) string {
	return decimal.NewFromFloat(qty).Round(int32(digits)).String()
}

// equalizeQuantities applies the final literal min-of-two equalization,
// but only when both legs share the same sizing convention (coin
// quantity on both sides). When either leg is contract-denominated, its
// Quantity is a contract count, not a coin amount — writing the smaller
// of the two raw numbers into both fields would compare contracts
// against coins and collapse the integer contract leg to a fractional
// one. In that case the coin-equivalent re-derivation above has already
// equalized notional exposure between the legs, so nothing further is
// done here.
func equalizeQuantities(long, short *domain.Directive) {
	if long.Venue.ContractCount() || short.Venue.ContractCount() {
		return
	}

	longQty, err1 := decimal.NewFromString(long.Quantity)
	shortQty, err2 := decimal.NewFromString(short.Quantity)
	if err1 != nil || err2 != nil {
		return
	}
	min := longQty
	if shortQty.LessThan(min) {
		min = shortQty
	}
	long.Quantity = min.String()
	short.Quantity = min.String()
}
