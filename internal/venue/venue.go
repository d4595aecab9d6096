// Package venue defines the closed set of perpetual-futures venues this
// engine trades, their fee schedules, and capability flags.
package venue

import "fmt"

// Venue is a closed enumeration of the four supported derivatives exchanges.
type Venue int

const (
	Binance Venue = iota
	Bybit
	Okex
	FTX
)

var names = [...]string{"binance", "bybit", "okex", "ftx"}

func (v Venue) String() string {
	if int(v) < 0 || int(v) >= len(names) {
		return "unknown"
	}
	return names[v]
}

// All returns the venues in enumeration order, used as the tie-break order
// when two rates are equal during spread selection.
func All() []Venue {
	return []Venue{Binance, Bybit, Okex, FTX}
}

// feeTable holds maker/taker fees in percent, straight from the venue fee
// schedule. Fees are constants, not live, per scope.
type fees struct {
	maker float64
	taker float64
}

var feeTable = map[Venue]fees{
	Binance: {maker: 0.018, taker: 0.036},
	Bybit:   {maker: 0.025, taker: 0.07},
	Okex:    {maker: 0.02, taker: 0.05},
	FTX:     {maker: 0.02, taker: 0.07},
}

// FillType distinguishes a maker fill (posted, resting) from a taker fill
// (crossed the book immediately).
type FillType int

const (
	Maker FillType = iota
	Taker
)

// Fee returns the round-trip (open+close) fee in percent for a fill type on
// this venue, matching the ×2 convention of the historical implementation.
func (v Venue) Fee(ft FillType) float64 {
	f := feeTable[v]
	switch ft {
	case Maker:
		return 2.0 * f.maker
	default:
		return 2.0 * f.taker
	}
}

// MakerFee and TakerFee return the single-sided fee in percent, used by
// contract-size and adapter code that needs the unscaled schedule value.
func (v Venue) MakerFee() float64 { return feeTable[v].maker }
func (v Venue) TakerFee() float64 { return feeTable[v].taker }

// ContinuousFunding reports whether this venue settles funding continuously
// rather than at a hard epoch boundary. Only FTX does among the four.
func (v Venue) ContinuousFunding() bool {
	return v == FTX
}

// ContractCount reports whether quantities on this venue are denominated in
// integer contract counts rather than fractional coin amounts. Okex is the
// only contract-count venue among the four; Binance, Bybit and FTX all
// quote fractional coin quantities.
func (v Venue) ContractCount() bool {
	return v == Okex
}

// ParseVenue maps a lowercase venue name back to its enum value.
func ParseVenue(s string) (Venue, error) {
	for _, v := range All() {
		if v.String() == s {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown venue: %s", s)
}
