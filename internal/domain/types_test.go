package domain

import (
	"testing"

	"github.com/ybangaru/fundingarb/internal/venue"
)

func TestNewFundingRateScaling(t *testing.T) {
	fr := NewFundingRate(venue.Binance, "BTC", "BTCUSDT", 0.015, 1000)
	want := int64(0.015 * SCALE)
	if fr.ScaledRateInt != want {
		t.Errorf("ScaledRateInt = %d, want %d", fr.ScaledRateInt, want)
	}
	if fr.RatePct != 0.015 {
		t.Errorf("RatePct = %v, want 0.015", fr.RatePct)
	}
}

func TestQuoteValid(t *testing.T) {
	if !(Quote{Bid: 100, Ask: 101}).Valid() {
		t.Error("bid <= ask should be valid")
	}
	if (Quote{Bid: 101, Ask: 100}).Valid() {
		t.Error("bid > ask should be invalid")
	}
}

func TestSideOpposite(t *testing.T) {
	if Buy.Opposite() != Sell {
		t.Error("Buy.Opposite() should be Sell")
	}
	if Sell.Opposite() != Buy {
		t.Error("Sell.Opposite() should be Buy")
	}
	if Buy.String() != "buy" || Sell.String() != "sell" {
		t.Error("Side.String() mismatch")
	}
}

func TestDirectiveClosingDirective(t *testing.T) {
	price := 50000.0
	d := Directive{
		Venue: venue.Binance, Asset: "BTC", VenueSymbol: "BTCUSDT",
		Side: Buy, Quantity: "0.5", OrderID: "abc", Filled: true, FillPrice: &price,
	}
	closed := d.ClosingDirective()
	if closed.Side != Sell {
		t.Errorf("closing side = %v, want Sell", closed.Side)
	}
	if closed.OrderID != "" || closed.Filled || closed.FillPrice != nil {
		t.Error("closing directive should reset order/fill tracking")
	}
	if closed.Venue != d.Venue || closed.VenueSymbol != d.VenueSymbol || closed.Quantity != d.Quantity {
		t.Error("closing directive should preserve venue/symbol/quantity")
	}
	// original must not mutate
	if d.Side != Buy {
		t.Error("ClosingDirective mutated the receiver")
	}
}

func TestSpreadTradeValidate(t *testing.T) {
	valid := SpreadTrade{
		Long:  Directive{Venue: venue.Binance, Asset: "BTC"},
		Short: Directive{Venue: venue.Bybit, Asset: "BTC"},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid trade, got error: %v", err)
	}

	sameVenue := SpreadTrade{
		Long:  Directive{Venue: venue.Binance, Asset: "BTC"},
		Short: Directive{Venue: venue.Binance, Asset: "BTC"},
	}
	if err := sameVenue.Validate(); err == nil {
		t.Error("expected error for same-venue legs")
	}

	assetMismatch := SpreadTrade{
		Long:  Directive{Venue: venue.Binance, Asset: "BTC"},
		Short: Directive{Venue: venue.Bybit, Asset: "ETH"},
	}
	if err := assetMismatch.Validate(); err == nil {
		t.Error("expected error for asset mismatch")
	}
}

func TestSpreadTradeInvolvesVenue(t *testing.T) {
	trade := SpreadTrade{
		Long:  Directive{Venue: venue.Binance},
		Short: Directive{Venue: venue.Okex},
	}
	if !trade.InvolvesVenue(venue.Binance) || !trade.InvolvesVenue(venue.Okex) {
		t.Error("InvolvesVenue should report true for either leg's venue")
	}
	if trade.InvolvesVenue(venue.FTX) {
		t.Error("InvolvesVenue should report false for an uninvolved venue")
	}
}

func TestSpreadTradeClosingTrade(t *testing.T) {
	trade := SpreadTrade{
		OpenTS: 12345,
		Long:   Directive{Venue: venue.Binance, Side: Buy, Quantity: "1.0"},
		Short:  Directive{Venue: venue.Bybit, Side: Sell, Quantity: "1.0"},
	}
	closing := trade.ClosingTrade()
	if closing.OpenTS != trade.OpenTS {
		t.Error("ClosingTrade should preserve OpenTS")
	}
	if closing.Long.Side != Sell || closing.Short.Side != Buy {
		t.Error("ClosingTrade should flip both legs' sides")
	}
}
