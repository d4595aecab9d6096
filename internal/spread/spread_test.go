package spread

import (
	"context"
	"testing"

	"github.com/ybangaru/fundingarb/internal/domain"
	"github.com/ybangaru/fundingarb/internal/venue"
)

// fakeAdapter is a minimal in-memory exchange.Adapter for directive-builder
// tests; only the methods BuildTrade actually calls are meaningful.
type fakeAdapter struct {
	venue        venue.Venue
	bid, ask     float64
	contractSize float64
	digits       int
}

func (f *fakeAdapter) Venue() venue.Venue { return f.venue }
func (f *fakeAdapter) GetBalance(ctx context.Context) (domain.Balance, error) {
	return domain.Balance{}, nil
}
func (f *fakeAdapter) GetFundingRates(ctx context.Context, symbol string) ([]domain.FundingRate, error) {
	return nil, nil
}
func (f *fakeAdapter) GetSingleFundingRate(ctx context.Context, symbol string) (float64, error) {
	return 0, nil
}
func (f *fakeAdapter) GetPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	return domain.Quote{Venue: f.venue, Bid: f.bid, Ask: f.ask}, nil
}
func (f *fakeAdapter) GetPositions(ctx context.Context) ([]domain.Position, error) { return nil, nil }
func (f *fakeAdapter) SendLimitOrder(ctx context.Context, symbol string, side domain.Side, price float64, qty string) (string, error) {
	return "order-1", nil
}
func (f *fakeAdapter) SendMarketOrder(ctx context.Context, symbol string, side domain.Side, qty string) error {
	return nil
}
func (f *fakeAdapter) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	return true, nil
}
func (f *fakeAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) (bool, error) {
	return true, nil
}
func (f *fakeAdapter) GetPaymentsSoFar(ctx context.Context, symbol string, sinceEpochMs int64) (float64, error) {
	return 0, nil
}
func (f *fakeAdapter) ContractSize(ctx context.Context, symbol string) (float64, error) {
	return f.contractSize, nil
}
func (f *fakeAdapter) PrecisionDigits(ctx context.Context, symbol string) (int, error) {
	return f.digits, nil
}
func (f *fakeAdapter) SubscribePublicQuote(ctx context.Context, symbol string, onQuote func(domain.Quote)) error {
	return nil
}
func (f *fakeAdapter) SubscribePrivateOrders(ctx context.Context, symbol, orderID string, onFill func(bool)) error {
	return nil
}

func TestCalculatePicksLowestAndHighest(t *testing.T) {
	rates := []domain.FundingRate{
		domain.NewFundingRate(venue.Binance, "BTC", "BTCUSDT", 0.01, 1000),
		domain.NewFundingRate(venue.Bybit, "BTC", "BTCUSDT", 0.05, 1000),
		domain.NewFundingRate(venue.Okex, "BTC", "BTC-USDT-SWAP", 0.03, 1000),
	}
	s := Calculate(rates)
	if s == nil {
		t.Fatal("expected a spread, got nil")
	}
	if s.BuyVenue != venue.Binance {
		t.Errorf("BuyVenue = %v, want Binance (lowest rate)", s.BuyVenue)
	}
	if s.SellVenue != venue.Bybit {
		t.Errorf("SellVenue = %v, want Bybit (highest rate)", s.SellVenue)
	}
	wantGross := 0.05 - 0.01
	if diff := s.Gross - wantGross; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Gross = %v, want %v", s.Gross, wantGross)
	}
}

func TestCalculateTieBreaksByVenueOrder(t *testing.T) {
	// Okex and FTX both report the exact same rate; venue enum order
	// (Okex < FTX) must deterministically pick Okex as the tie-break winner
	// for whichever side it lands on.
	rates := []domain.FundingRate{
		domain.NewFundingRate(venue.Binance, "BTC", "BTCUSDT", 0.0, 1000),
		domain.NewFundingRate(venue.Okex, "BTC", "BTC-USDT-SWAP", 0.05, 1000),
		domain.NewFundingRate(venue.FTX, "BTC", "BTC-PERP", 0.05, 1000),
	}
	s := Calculate(rates)
	if s == nil {
		t.Fatal("expected a spread, got nil")
	}
	if s.SellVenue != venue.Okex {
		t.Errorf("SellVenue = %v, want Okex (enum tie-break winner)", s.SellVenue)
	}
}

func TestCalculateRequiresTwoDistinctVenues(t *testing.T) {
	if Calculate(nil) != nil {
		t.Error("Calculate(nil) should return nil")
	}
	single := []domain.FundingRate{domain.NewFundingRate(venue.Binance, "BTC", "BTCUSDT", 0.01, 1000)}
	if Calculate(single) != nil {
		t.Error("Calculate with one rate should return nil")
	}
}

func TestMeetsThresholdIsStrict(t *testing.T) {
	exactlyAtThreshold := domain.Spread{NetHalf: EntryThresholdPct}
	if MeetsThreshold(exactlyAtThreshold) {
		t.Error("net_half exactly at threshold must not pass (strict >)")
	}
	above := domain.Spread{NetHalf: EntryThresholdPct + 0.0001}
	if !MeetsThreshold(above) {
		t.Error("net_half above threshold must pass")
	}
}

func TestCalculateAllRanksDescending(t *testing.T) {
	byAsset := map[domain.CanonicalAsset][]domain.FundingRate{
		"BTC": {
			domain.NewFundingRate(venue.Binance, "BTC", "BTCUSDT", 0.0, 1000),
			domain.NewFundingRate(venue.Bybit, "BTC", "BTCUSDT", 0.03, 1000),
		},
		"ETH": {
			domain.NewFundingRate(venue.Binance, "ETH", "ETHUSDT", 0.0, 1000),
			domain.NewFundingRate(venue.Bybit, "ETH", "ETHUSDT", 0.10, 1000),
		},
	}
	ranked := CalculateAll(byAsset)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 ranked spreads, got %d", len(ranked))
	}
	if ranked[0].Asset != "ETH" {
		t.Errorf("best ranked spread = %s, want ETH (larger gross spread)", ranked[0].Asset)
	}
}

func TestEqualizeQuantitiesTakesMinimum(t *testing.T) {
	long := domain.Directive{Quantity: "1.5"}
	short := domain.Directive{Quantity: "1.2"}
	equalizeQuantities(&long, &short)
	if long.Quantity != "1.2" || short.Quantity != "1.2" {
		t.Errorf("both legs should equalize to the smaller quantity, got long=%s short=%s", long.Quantity, short.Quantity)
	}
}

func TestEqualizeQuantitiesSkipsContractLeg(t *testing.T) {
	long := domain.Directive{Venue: venue.Okex, Quantity: "4"}
	short := domain.Directive{Venue: venue.Binance, Quantity: "0.04"}
	equalizeQuantities(&long, &short)
	if long.Quantity != "4" || short.Quantity != "0.04" {
		t.Errorf("contract leg present: quantities must be left alone, got long=%s short=%s", long.Quantity, short.Quantity)
	}
}

func TestBuildTradeFractionalBothLegs(t *testing.T) {
	s := domain.Spread{
		Asset: "BTC", BuyVenue: venue.Binance, BuySymbol: "BTCUSDT", SellVenue: venue.Bybit, SellSymbol: "BTCUSDT",
	}
	balances := map[venue.Venue]float64{venue.Binance: 1000, venue.Bybit: 1000}
	adapters := Adapters{
		venue.Binance: &fakeAdapter{venue: venue.Binance, bid: 99, ask: 100, digits: 3},
		venue.Bybit:   &fakeAdapter{venue: venue.Bybit, bid: 99, ask: 100, digits: 3},
	}

	trade, err := BuildTrade(context.Background(), s, balances, adapters, DefaultAccountValueFraction)
	if err != nil {
		t.Fatalf("BuildTrade returned error: %v", err)
	}
	if trade.Long.Side != domain.Buy || trade.Short.Side != domain.Sell {
		t.Error("long leg should buy, short leg should sell")
	}
	if trade.Long.Quantity != trade.Short.Quantity {
		t.Errorf("legs should equalize to the same quantity: long=%s short=%s", trade.Long.Quantity, trade.Short.Quantity)
	}
}

func TestBuildTradeContractLegDerivesOtherLegInCoin(t *testing.T) {
	s := domain.Spread{
		Asset: "BTC", BuyVenue: venue.Okex, BuySymbol: "BTC-USDT-SWAP", SellVenue: venue.Binance, SellSymbol: "BTCUSDT",
	}
	// Okex usable balance of 4.5 at a $1 contract dollar value (price 100 *
	// contractSize 0.01) truncates to exactly 4 contracts.
	balances := map[venue.Venue]float64{venue.Okex: 4.5, venue.Binance: 1000}
	adapters := Adapters{
		venue.Okex:    &fakeAdapter{venue: venue.Okex, bid: 100, ask: 100, contractSize: 0.01},
		venue.Binance: &fakeAdapter{venue: venue.Binance, bid: 100, ask: 100, digits: 3},
	}

	trade, err := BuildTrade(context.Background(), s, balances, adapters, 1.0)
	if err != nil {
		t.Fatalf("BuildTrade returned error: %v", err)
	}
	if trade.Long.Venue != venue.Okex {
		t.Fatalf("expected long leg on Okex")
	}
	// The contract leg must stay an integer contract count: the final
	// min-of-two equalization must not collapse it to the other leg's
	// fractional coin quantity.
	if trade.Long.Quantity != "4" {
		t.Errorf("Okex leg quantity = %s, want \"4\" contracts (unaffected by equalization)", trade.Long.Quantity)
	}
	// 4 contracts * 0.01 contractSize = 0.04 BTC notional; the coin leg must
	// match that, not the raw "4".
	if trade.Short.Quantity != "0.04" {
		t.Errorf("Binance leg quantity = %s, want \"0.04\" coin (4 contracts * 0.01 contractSize)", trade.Short.Quantity)
	}
	if trade.Long.Quantity == trade.Short.Quantity {
		t.Error("contract leg and coin leg must not share the same literal quantity string")
	}
}
