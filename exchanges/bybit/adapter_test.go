package bybit

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

func TestSignIsDeterministicAndParamSensitive(t *testing.T) {
	a := New(exchange.Credentials{APIKey: "k", APISecret: "s"})
	got := a.sign("1700000000000", `{"symbol":"BTCUSDT"}`)
	want := a.sign("1700000000000", `{"symbol":"BTCUSDT"}`)
	if got != want {
		t.Error("sign should be deterministic for identical input")
	}
	if a.sign("1700000000000", "a") == a.sign("1700000000000", "b") {
		t.Error("sign should differ for different params")
	}
}

func TestSignedHeadersCarriesAPIKey(t *testing.T) {
	a := New(exchange.Credentials{APIKey: "k", APISecret: "s"})
	headers := a.signedHeaders("123", "deadbeef")
	if headers["X-BAPI-API-KEY"] != "k" || headers["X-BAPI-SIGN"] != "deadbeef" || headers["X-BAPI-RECV-WINDOW"] != "5000" {
		t.Errorf("headers = %+v, missing expected fields", headers)
	}
}

func TestGetFundingRatesParsesList(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"list":[{"symbol":"ETHUSDT","fundingRate":"0.0002","nextFundingTime":"1700000000000"}]}}`))
	})

	rates, err := a.GetFundingRates(context.Background(), "")
	if err != nil {
		t.Fatalf("GetFundingRates: %v", err)
	}
	if len(rates) != 1 || rates[0].Asset != "ETH" {
		t.Fatalf("rates = %+v, want single ETH entry", rates)
	}
}

func TestGetPriceRequiresNonEmptyList(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"list":[]}}`))
	})

	_, err := a.GetPrice(context.Background(), "BTCUSDT")
	if err == nil {
		t.Error("expected an error for an empty ticker list")
	}
}

func TestSendOrderRejectionReturnsEmptyNoError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"retCode":10001,"retMsg":"params error"}`))
	})

	id, err := a.SendLimitOrder(context.Background(), "BTCUSDT", domain.Buy, 100, "0.01")
	if err != nil {
		t.Fatalf("rejection should not surface as an error, got %v", err)
	}
	if id != "" {
		t.Errorf("orderID = %q, want empty on rejection", id)
	}
}

func TestSendOrderSuccessReturnsOrderID(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"orderId":"abc123"}}`))
	})

	id, err := a.SendLimitOrder(context.Background(), "BTCUSDT", domain.Buy, 100, "0.01")
	if err != nil {
		t.Fatalf("SendLimitOrder: %v", err)
	}
	if id != "abc123" {
		t.Errorf("orderID = %q, want abc123", id)
	}
}

func TestVenueIsBybit(t *testing.T) {
	a := New(exchange.Credentials{})
	if a.Venue().String() != "bybit" {
		t.Errorf("Venue() = %v, want bybit", a.Venue())
	}
}
