package ftx

import (
	"context"
	"net/http"
	"net/http/httptest"
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

func TestPerpSymbolRoundTrip(t *testing.T) {
	if perpSymbol("BTC") != "BTC-PERP" {
		t.Errorf("perpSymbol(BTC) = %q, want BTC-PERP", perpSymbol("BTC"))
	}
	if baseFromPerp("BTC-PERP") != "BTC" {
		t.Errorf("baseFromPerp(BTC-PERP) = %q, want BTC", baseFromPerp("BTC-PERP"))
	}
}

func TestSignIsDeterministicHex(t *testing.T) {
	a := New(exchange.Credentials{APISecret: "secret"})
	got := a.sign("1700000000000", "GET", "/wallet/balances", "")
	want := a.sign("1700000000000", "GET", "/wallet/balances", "")
	if got != want {
		t.Error("sign should be deterministic for identical input")
	}
	if a.sign("ts", "GET", "/a", "") == a.sign("ts", "GET", "/b", "") {
		t.Error("sign should differ when the path differs")
	}
}

func TestGetFundingRatesFiltersNonPerpFutures(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":[
			{"future":"BTC-PERP","rate":0.0001,"time":"2023-01-01T00:00:00+00:00"},
			{"future":"BTC-0329","rate":0.0002,"time":"2023-01-01T00:00:00+00:00"}
		]}`))
	})

	rates, err := a.GetFundingRates(context.Background(), "")
	if err != nil {
		t.Fatalf("GetFundingRates: %v", err)
	}
	if len(rates) != 1 || rates[0].VenueSymbol != "BTC-PERP" {
		t.Fatalf("rates = %+v, want only the BTC-PERP entry", rates)
	}
}

func TestSendOrderRejectionReturnsEmptyNoError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"error":"Not enough margin"}`))
	})

	id, err := a.SendLimitOrder(context.Background(), "BTC-PERP", domain.Buy, 100, "0.01")
	if err != nil {
		t.Fatalf("rejection should not surface as an error, got %v", err)
	}
	if id != "" {
		t.Errorf("orderID = %q, want empty on rejection", id)
	}
}

func TestSendOrderSuccessReturnsID(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"id":99887766}}`))
	})

	id, err := a.SendLimitOrder(context.Background(), "BTC-PERP", domain.Buy, 100, "0.01")
	if err != nil {
		t.Fatalf("SendLimitOrder: %v", err)
	}
	if id != "99887766" {
		t.Errorf("orderID = %q, want 99887766", id)
	}
}

func TestSendOrderRejectsMalformedQuantity(t *testing.T) {
	a := New(exchange.Credentials{})
	_, err := a.SendLimitOrder(context.Background(), "BTC-PERP", domain.Buy, 100, "not-a-number")
	if err == nil {
		t.Error("expected an error for a non-numeric quantity")
	}
}

func TestSetLeverageIsInformationalNoop(t *testing.T) {
	a := New(exchange.Credentials{})
	ok, err := a.SetLeverage(context.Background(), "BTC-PERP", 5)
	if ok || err != nil {
		t.Errorf("SetLeverage = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestPrecisionDigitsDerivesFromSizeIncrement(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"sizeIncrement":0.001}}`))
	})

	digits, err := a.PrecisionDigits(context.Background(), "BTC-PERP")
	if err != nil {
		t.Fatalf("PrecisionDigits: %v", err)
	}
	if digits != 3 {
		t.Errorf("digits = %d, want 3", digits)
	}
}

func TestVenueIsFTX(t *testing.T) {
	a := New(exchange.Credentials{})
	if a.Venue().String() != "ftx" {
		t.Errorf("Venue() = %v, want ftx", a.Venue())
	}
}
