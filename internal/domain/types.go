// Package domain holds the data model shared by every component of the
// funding-rate arbitrage engine: rates, quotes, directives and the
// persisted trade record.
package domain

import (
	"fmt"

	"github.com/ybangaru/fundingarb/internal/venue"
)

// SCALE is the fixed power of ten used to turn a percent-valued rate into a
// stable sortable/hashable integer.
const SCALE = 1_000_000_000

// CanonicalAsset is an interned identifier for an underlying instrument,
// independent of any venue-specific ticker spelling.
type CanonicalAsset string

// FundingRate is one venue's funding rate observation for one asset.
// Immutable after construction.
type FundingRate struct {
	Venue             venue.Venue
	Asset             CanonicalAsset
	VenueSymbol       string
	RatePct           float64 // signed, already scaled ×100 from the raw fraction
	NextFundingEpochMs int64
	ScaledRateInt     int64 // RatePct * SCALE truncated toward zero, for stable integer ordering
}

// NewFundingRate constructs a FundingRate and computes its scaled integer
// key in one step so the two never drift apart.
func NewFundingRate(v venue.Venue, asset CanonicalAsset, symbol string, ratePct float64, nextEpochMs int64) FundingRate {
	return FundingRate{
		Venue:             v,
		Asset:             asset,
		VenueSymbol:       symbol,
		RatePct:           ratePct,
		NextFundingEpochMs: nextEpochMs,
		ScaledRateInt:     int64(ratePct * SCALE),
	}
}

// Quote is a top-of-book snapshot. Bid must not exceed Ask.
type Quote struct {
	Venue venue.Venue
	Bid   float64
	Ask   float64
}

// Valid reports whether the quote satisfies bid <= ask.
func (q Quote) Valid() bool { return q.Bid <= q.Ask }

// Balance is a venue's free collateral available to size new trades.
type Balance struct {
	Venue     venue.Venue
	Available float64
}

// Side is the direction of one leg of a trade.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the closing side for this side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Directive is one leg of a trade. Quantity stays a venue-native string —
// it may be a fractional coin amount or an integer contract count —
// the rest of the system never reparses it except to compare magnitudes
// when equalizing legs.
type Directive struct {
	Venue       venue.Venue
	Asset       CanonicalAsset
	VenueSymbol string
	Side        Side
	Quantity    string
	OrderID     string // empty means "no resting order"
	Filled      bool
	FillPrice   *float64
}

// ClosingDirective returns the inverse of this directive: same venue,
// symbol and quantity, opposite side, reset order/fill tracking.
func (d Directive) ClosingDirective() Directive {
	closed := d
	closed.Side = d.Side.Opposite()
	closed.OrderID = ""
	closed.Filled = false
	closed.FillPrice = nil
	return closed
}

func (d Directive) String() string {
	return fmt.Sprintf("%s %s %s qty=%s", d.Venue, d.Side, d.VenueSymbol, d.Quantity)
}

// Spread is a ranked cross-venue funding-rate gap for one asset.
type Spread struct {
	Asset          CanonicalAsset
	BuyVenue       venue.Venue
	BuySymbol      string
	BuyRatePct     float64
	SellVenue      venue.Venue
	SellSymbol     string
	SellRatePct    float64
	Gross          float64
	NetTaker       float64
	NetMaker       float64
	NetHalf        float64
	NetHalfScaled  int64
	DeadlineEpochMs int64
}

// SpreadTrade is the persisted open-position record. Its presence on disk
// is the resume/ownership token between the entry task and the monitor
// task (see internal/persistence).
type SpreadTrade struct {
	OpenTS int64 `json:"open_ts"`
	Long   Directive `json:"long_directive"`
	Short  Directive `json:"short_directive"`
}

// InvolvesVenue reports whether either leg trades on v.
func (t SpreadTrade) InvolvesVenue(v venue.Venue) bool {
	return t.Long.Venue == v || t.Short.Venue == v
}

// ClosingTrade returns the inverse SpreadTrade used to unwind a position:
// both legs flip side, open timestamp is preserved for payment lookups.
func (t SpreadTrade) ClosingTrade() SpreadTrade {
	return SpreadTrade{
		OpenTS: t.OpenTS,
		Long:   t.Long.ClosingDirective(),
		Short:  t.Short.ClosingDirective(),
	}
}

// Validate checks the two structural invariants every persisted SpreadTrade
// must satisfy: the legs sit on different venues and share an asset.
func (t SpreadTrade) Validate() error {
	if t.Long.Venue == t.Short.Venue {
		return fmt.Errorf("long and short legs are both on %s", t.Long.Venue)
	}
	if t.Long.Asset != t.Short.Asset {
		return fmt.Errorf("leg asset mismatch: long=%s short=%s", t.Long.Asset, t.Short.Asset)
	}
	return nil
}

// Position is one venue's live position for a symbol, as reported by
// get_positions. A symbol with no open position is not an error: depending
// on the venue it is either absent from the returned slice or listed with
// zero Size.
type Position struct {
	Symbol     string
	EntryPrice float64
	Size       float64
}
