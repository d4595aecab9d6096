package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ybangaru/fundingarb/internal/domain"
	"github.com/ybangaru/fundingarb/internal/exchange"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a := New(exchange.Credentials{APIKey: "key", APISecret: "secret"})
	a.rest.HTTP.SetBaseURL(srv.URL)
	return a
}

func TestSignIsDeterministicHMAC(t *testing.T) {
	a := New(exchange.Credentials{APISecret: "secret"})
	got := a.sign("timestamp=1")
	want := a.sign("timestamp=1")
	if got != want {
		t.Error("sign should be deterministic for identical input")
	}
	if a.sign("timestamp=1") == a.sign("timestamp=2") {
		t.Error("sign should differ for different query strings")
	}
}

func TestGetFundingRatesSingleSymbol(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "symbol=BTCUSDT") {
			t.Errorf("expected symbol query param, got %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"symbol":"BTCUSDT","lastFundingRate":"0.0001","nextFundingTime":1700000000000}`))
	})

	rates, err := a.GetFundingRates(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetFundingRates: %v", err)
	}
	if len(rates) != 1 || rates[0].Asset != "BTC" {
		t.Fatalf("rates = %+v, want single BTC entry", rates)
	}
	if rates[0].RatePct <= 0 {
		t.Errorf("RatePct = %v, want positive", rates[0].RatePct)
	}
}

func TestGetFundingRatesSkipsUnknownAssets(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"SHIBONK9000USDT","lastFundingRate":"0.0001","nextFundingTime":1}]`))
	})

	rates, err := a.GetFundingRates(context.Background(), "")
	if err != nil {
		t.Fatalf("GetFundingRates: %v", err)
	}
	if len(rates) != 0 {
		t.Errorf("expected unrecognized base asset to be skipped, got %+v", rates)
	}
}

func TestGetPriceParsesBidAsk(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bidPrice":"100.5","askPrice":"100.6"}`))
	})

	q, err := a.GetPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if q.Bid != 100.5 || q.Ask != 100.6 {
		t.Errorf("q = %+v, want bid=100.5 ask=100.6", q)
	}
}

func TestSendLimitOrderRejectionReturnsEmptyNoError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"insufficient balance"}`))
	})

	id, err := a.SendLimitOrder(context.Background(), "BTCUSDT", domain.Buy, 100, "0.01")
	if err != nil {
		t.Fatalf("rejection should not surface as an error, got %v", err)
	}
	if id != "" {
		t.Errorf("orderID = %q, want empty on rejection", id)
	}
}

func TestSendLimitOrderSuccessReturnsOrderID(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"orderId":123456}`))
	})

	id, err := a.SendLimitOrder(context.Background(), "BTCUSDT", domain.Buy, 100, "0.01")
	if err != nil {
		t.Fatalf("SendLimitOrder: %v", err)
	}
	if id != "123456" {
		t.Errorf("orderID = %q, want 123456", id)
	}
}

func TestContractSizeIsAlwaysOne(t *testing.T) {
	a := New(exchange.Credentials{})
	sz, err := a.ContractSize(context.Background(), "BTCUSDT")
	if err != nil || sz != 1 {
		t.Errorf("ContractSize = (%v, %v), want (1, nil)", sz, err)
	}
}

func TestVenueIsBinance(t *testing.T) {
	a := New(exchange.Credentials{})
	if a.Venue().String() != "binance" {
		t.Errorf("Venue() = %v, want binance", a.Venue())
	}
}
