// Package ftx implements the funding-rate-arbitrage exchange.Adapter for
// FTX USD perpetual futures.
//
// FTX is the sole venue.ContinuousFunding() venue: its funding settles
// continuously rather than on the shared 8h cycle, which is why the Epoch
// Scheduler's close decision branches on this venue specially (minute>45
// rather than time-to-funding<900s).
package ftx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	resty "github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"github.com/ybangaru/fundingarb/internal/domain"
	"github.com/ybangaru/fundingarb/internal/exchange"
	"github.com/ybangaru/fundingarb/internal/venue"
)

const (
	restBaseURL = "https://ftx.com/api"
	publicWSURL = "wss://ftx.com/ws/"
)

// Adapter is the FTX implementation of exchange.Adapter.
type Adapter struct {
	rest  *exchange.RestClient
	creds exchange.Credentials
}

func New(creds exchange.Credentials) *Adapter {
	return &Adapter{
		rest:  exchange.NewRestClient("ftx", restBaseURL, 10*time.Second),
		creds: creds,
	}
}

func (a *Adapter) Venue() venue.Venue { return venue.FTX }

func perpSymbol(base string) string { return base + "-PERP" }

func baseFromPerp(symbol string) string { return strings.TrimSuffix(symbol, "-PERP") }

func (a *Adapter) sign(ts, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(a.creds.APISecret))
	mac.Write([]byte(ts + method + path + body))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) authHeaders(method, path, body string) map[string]string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return map[string]string{
		"FTX-KEY":  a.creds.APIKey,
		"FTX-TS":   ts,
		"FTX-SIGN": a.sign(ts, method, path, body),
	}
}

func (a *Adapter) GetBalance(ctx context.Context) (domain.Balance, error) {
	path := "/wallet/balances"
	resp, err := a.rest.Do(ctx, "get_balance", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).SetHeaders(a.authHeaders("GET", path, "")).Get(path)
	})
	if err != nil {
		return domain.Balance{}, err
	}
	var body struct {
		Result []struct {
			Coin  string  `json:"coin"`
			Total float64 `json:"total"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return domain.Balance{}, fmt.Errorf("ftx balance decode: %w", err)
	}
	for _, b := range body.Result {
		if b.Coin == "USD" {
			return domain.Balance{Venue: venue.FTX, Available: b.Total}, nil
		}
	}
	return domain.Balance{Venue: venue.FTX}, nil
}

func (a *Adapter) GetFundingRates(ctx context.Context, symbol string) ([]domain.FundingRate, error) {
	resp, err := a.rest.Do(ctx, "get_funding_rates", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).Get("/funding_rates")
	})
	if err != nil {
		return nil, err
	}
	var body struct {
		Result []struct {
			Future string  `json:"future"`
			Rate   float64 `json:"rate"`
			Time   string  `json:"time"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("ftx funding rates decode: %w", err)
	}
	out := make([]domain.FundingRate, 0, len(body.Result))
	for _, r := range body.Result {
		if !strings.HasSuffix(r.Future, "-PERP") {
			continue
		}
		if symbol != "" && r.Future != symbol {
			continue
		}
		asset, ok := exchange.CanonicalAssetFor(baseFromPerp(r.Future))
		if !ok {
			continue
		}
		t, _ := time.Parse(time.RFC3339, r.Time)
		out = append(out, domain.NewFundingRate(venue.FTX, asset, r.Future, r.Rate*100, t.UnixMilli()))
	}
	return out, nil
}

func (a *Adapter) GetSingleFundingRate(ctx context.Context, symbol string) (float64, error) {
	rates, err := a.GetFundingRates(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if len(rates) == 0 {
		return 0, fmt.Errorf("ftx: no funding rate for %s", symbol)
	}
	return rates[0].RatePct / 100, nil
}

func (a *Adapter) GetPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	resp, err := a.rest.Do(ctx, "get_price", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).Get("/markets/" + symbol)
	})
	if err != nil {
		return domain.Quote{}, err
	}
	var body struct {
		Result struct {
			Bid float64 `json:"bid"`
			Ask float64 `json:"ask"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return domain.Quote{}, fmt.Errorf("ftx price decode: %w", err)
	}
	return domain.Quote{Venue: venue.FTX, Bid: body.Result.Bid, Ask: body.Result.Ask}, nil
}

func (a *Adapter) GetPositions(ctx context.Context) ([]domain.Position, error) {
	path := "/positions"
	resp, err := a.rest.Do(ctx, "get_positions", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).SetHeaders(a.authHeaders("GET", path, "")).Get(path)
	})
	if err != nil {
		return nil, err
	}
	var body struct {
		Result []struct {
			Future           string  `json:"future"`
			Size             float64 `json:"size"`
			RecentAverageOpenPrice float64 `json:"recentAverageOpenPrice"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("ftx positions decode: %w", err)
	}
	out := make([]domain.Position, 0, len(body.Result))
	for _, p := range body.Result {
		if p.Size == 0 {
			continue
		}
		out = append(out, domain.Position{Symbol: p.Future, EntryPrice: p.RecentAverageOpenPrice, Size: p.Size})
	}
	return out, nil
}

func (a *Adapter) SendLimitOrder(ctx context.Context, symbol string, side domain.Side, price float64, qty string) (string, error) {
	return a.sendOrder(ctx, symbol, side, "limit", fmt.Sprintf("%.8f", price), qty)
}

func (a *Adapter) SendMarketOrder(ctx context.Context, symbol string, side domain.Side, qty string) error {
	_, err := a.sendOrder(ctx, symbol, side, "market", "", qty)
	return err
}

func (a *Adapter) sendOrder(ctx context.Context, symbol string, side domain.Side, orderType, price, qty string) (string, error) {
	sizeF, err := strconv.ParseFloat(qty, 64)
	if err != nil {
		return "", fmt.Errorf("ftx: bad quantity %q: %w", qty, err)
	}
	sideStr := "buy"
	if side == domain.Sell {
		sideStr = "sell"
	}
	body := map[string]interface{}{
		"market": symbol,
		"side":   sideStr,
		"type":   orderType,
		"size":   sizeF,
	}
	if orderType == "limit" {
		priceF, _ := strconv.ParseFloat(price, 64)
		body["price"] = priceF
	} else {
		body["price"] = nil
	}
	payload, _ := json.Marshal(body)
	path := "/orders"

	resp, err := a.rest.Do(ctx, "send_order", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeaders(a.authHeaders("POST", path, string(payload))).
			SetBody(payload).
			Post(path)
	})
	if err != nil {
		return "", nil
	}
	var out struct {
		Result struct {
			ID int64 `json:"id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil || out.Result.ID == 0 {
		return "", nil
	}
	return strconv.FormatInt(out.Result.ID, 10), nil
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	path := "/orders/" + orderID
	_, err := a.rest.Do(ctx, "cancel_order", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).SetHeaders(a.authHeaders("DELETE", path, "")).Delete(path)
	})
	return err == nil, nil
}

// SetLeverage is informational for FTX: leverage is account-wide, not
// per-symbol, so there is nothing for a single adapter call to set here.
func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) (bool, error) {
	return false, nil
}

func (a *Adapter) GetPaymentsSoFar(ctx context.Context, symbol string, sinceEpochMs int64) (float64, error) {
	path := "/funding_payments"
	resp, err := a.rest.Do(ctx, "get_payments_so_far", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeaders(a.authHeaders("GET", path, "")).
			SetQueryParam("future", symbol).
			SetQueryParam("startTime", time.UnixMilli(sinceEpochMs).UTC().Format(time.RFC3339)).
			Get(path)
	})
	if err != nil {
		return 0, err
	}
	var body struct {
		Result []struct {
			Payment float64 `json:"payment"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return 0, fmt.Errorf("ftx payments decode: %w", err)
	}
	total := 0.0
	for _, p := range body.Result {
		total += p.Payment
	}
	return total, nil
}

// ContractSize is 1 for FTX: quantities are fractional-coin, not contract
// counts, so this venue never drives the directive builder's contract
// sizing branch (see venue.Okex.ContractCount).
func (a *Adapter) ContractSize(ctx context.Context, symbol string) (float64, error) {
	return 1, nil
}

func (a *Adapter) PrecisionDigits(ctx context.Context, symbol string) (int, error) {
	resp, err := a.rest.Do(ctx, "get_market", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).Get("/markets/" + symbol)
	})
	if err != nil {
		return 3, err
	}
	var body struct {
		Result struct {
			SizeIncrement float64 `json:"sizeIncrement"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return 3, nil
	}
	digits := 0
	inc := body.Result.SizeIncrement
	for inc > 0 && inc < 1 {
		inc *= 10
		digits++
	}
	return digits, nil
}

func (a *Adapter) SubscribePublicQuote(ctx context.Context, symbol string, onQuote func(domain.Quote)) error {
	subscribe := func(c *websocket.Conn) error {
		return c.WriteJSON(map[string]interface{}{
			"op":      "subscribe",
			"channel": "ticker",
			"market":  symbol,
		})
	}
	return exchange.RunWSLoop(ctx, "ftx", publicWSURL, subscribe, func(raw []byte) {
		var evt struct {
			Channel string `json:"channel"`
			Type    string `json:"type"`
			Market  string `json:"market"`
			Data    struct {
				Bid float64 `json:"bid"`
				Ask float64 `json:"ask"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &evt); err != nil {
			return
		}
		if evt.Channel != "ticker" || evt.Type != "update" {
			return
		}
		onQuote(domain.Quote{Venue: venue.FTX, Bid: evt.Data.Bid, Ask: evt.Data.Ask})
	})
}

func (a *Adapter) SubscribePrivateOrders(ctx context.Context, symbol, orderID string, onFill func(filled bool)) error {
	subscribe := func(c *websocket.Conn) error {
		ts := time.Now().UnixMilli()
		// FTX's websocket login signs "{ts}websocket_login" verbatim, not the
		// method/path/body triple the REST signer uses.
		mac := hmac.New(sha256.New, []byte(a.creds.APISecret))
		mac.Write([]byte(fmt.Sprintf("%dwebsocket_login", ts)))
		sig := hex.EncodeToString(mac.Sum(nil))
		if err := c.WriteJSON(map[string]interface{}{
			"op": "login",
			"args": map[string]interface{}{
				"key":  a.creds.APIKey,
				"sign": sig,
				"time": ts,
			},
		}); err != nil {
			return err
		}
		return c.WriteJSON(map[string]interface{}{
			"op":      "subscribe",
			"channel": "orders",
		})
	}
	return exchange.RunWSLoop(ctx, "ftx-private", publicWSURL, subscribe, func(raw []byte) {
		var evt struct {
			Channel string `json:"channel"`
			Type    string `json:"type"`
			Data    struct {
				ID     int64  `json:"id"`
				Status string `json:"status"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &evt); err != nil || evt.Channel != "orders" || evt.Type != "update" {
			return
		}
		if strconv.FormatInt(evt.Data.ID, 10) == orderID && evt.Data.Status == "closed" {
			onFill(true)
		}
	})
}
