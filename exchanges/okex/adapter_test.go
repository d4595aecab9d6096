package okex

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

	a := New(exchange.Credentials{APIKey: "key", APISecret: "secret", Passphrase: "pass"})
	a.rest.HTTP.SetBaseURL(srv.URL)
	return a
}

func TestSignIsDeterministicAndMethodSensitive(t *testing.T) {
	a := New(exchange.Credentials{APISecret: "secret"})
	got := a.sign("2023-01-01T00:00:00.000Z", "GET", "/api/v5/account/balance", "")
	want := a.sign("2023-01-01T00:00:00.000Z", "GET", "/api/v5/account/balance", "")
	if got != want {
		t.Error("sign should be deterministic for identical input")
	}
	if a.sign("ts", "GET", "/a", "") == a.sign("ts", "POST", "/a", "") {
		t.Error("sign should differ when the method differs")
	}
}

func TestAuthHeadersCarriesPassphrase(t *testing.T) {
	a := New(exchange.Credentials{APIKey: "k", APISecret: "s", Passphrase: "p"})
	headers := a.authHeaders("GET", "/api/v5/account/balance", "")
	if headers["OK-ACCESS-KEY"] != "k" || headers["OK-ACCESS-PASSPHRASE"] != "p" {
		t.Errorf("headers = %+v, missing expected fields", headers)
	}
}

func TestSwapInstrumentsFiltersAndCachesContractSize(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"instId":"BTC-USDT-SWAP","ctVal":"0.01"},
			{"instId":"BTC-USDT","ctVal":"1"}
		]}`))
	})

	ids, err := a.swapInstruments(context.Background())
	if err != nil {
		t.Fatalf("swapInstruments: %v", err)
	}
	if len(ids) != 1 || ids[0] != "BTC-USDT-SWAP" {
		t.Fatalf("ids = %v, want only the SWAP instrument", ids)
	}

	sz, err := a.ContractSize(context.Background(), "BTC-USDT-SWAP")
	if err != nil || sz != 0.01 {
		t.Errorf("ContractSize = (%v, %v), want (0.01, nil)", sz, err)
	}
}

func TestContractSizeRefetchesOnCacheMiss(t *testing.T) {
	calls := 0
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"data":[{"instId":"ETH-USDT-SWAP","ctVal":"0.1"}]}`))
	})

	sz, err := a.ContractSize(context.Background(), "ETH-USDT-SWAP")
	if err != nil || sz != 0.1 {
		t.Fatalf("ContractSize = (%v, %v), want (0.1, nil)", sz, err)
	}
	if calls != 1 {
		t.Errorf("expected exactly one refresh fetch, got %d", calls)
	}
}

func TestSendOrderRejectsOnNonZeroSCode(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"ordId":"","sCode":"51008"}]}`))
	})

	id, err := a.SendLimitOrder(context.Background(), "BTC-USDT-SWAP", domain.Buy, 100, "1")
	if err != nil {
		t.Fatalf("rejection should not surface as an error, got %v", err)
	}
	if id != "" {
		t.Errorf("orderID = %q, want empty on a non-zero sCode", id)
	}
}

func TestSendOrderSuccessReturnsOrdID(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"ordId":"778899","sCode":"0"}]}`))
	})

	id, err := a.SendLimitOrder(context.Background(), "BTC-USDT-SWAP", domain.Buy, 100, "1")
	if err != nil {
		t.Fatalf("SendLimitOrder: %v", err)
	}
	if id != "778899" {
		t.Errorf("orderID = %q, want 778899", id)
	}
}

func TestPrecisionDigitsIsZero(t *testing.T) {
	a := New(exchange.Credentials{})
	d, err := a.PrecisionDigits(context.Background(), "BTC-USDT-SWAP")
	if err != nil || d != 0 {
		t.Errorf("PrecisionDigits = (%v, %v), want (0, nil)", d, err)
	}
}

func TestVenueIsOkex(t *testing.T) {
	a := New(exchange.Credentials{})
	if a.Venue().String() != "okex" {
		t.Errorf("Venue() = %v, want okex", a.Venue())
	}
}
