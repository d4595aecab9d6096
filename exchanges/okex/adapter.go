// Package okex implements the funding-rate-arbitrage exchange.Adapter for
// OKX (Okex) USDT-margined perpetual swaps.
//
// Okex is the one venue in this system whose quantities are integer
// contract counts rather than fractional coin amounts; ContractSize backs
// the directive builder's contract-count sizing branch (see
// internal/spread).
package okex

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	resty "github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"github.com/ybangaru/fundingarb/internal/domain"
	"github.com/ybangaru/fundingarb/internal/exchange"
	"github.com/ybangaru/fundingarb/internal/venue"
)

const (
	restBaseURL  = "https://aws.okex.com"
	publicWSURL  = "wss://wsaws.okex.com:8443/ws/v5/public"
	privateWSURL = "wss://wsaws.okex.com:8443/ws/v5/private"
)

// Adapter is the Okex implementation of exchange.Adapter.
type Adapter struct {
	rest  *exchange.RestClient
	creds exchange.Credentials

	mu            sync.Mutex
	contractSizes map[string]float64 // cached from the instruments endpoint
}

func New(creds exchange.Credentials) *Adapter {
	return &Adapter{
		rest:          exchange.NewRestClient("okex", restBaseURL, 10*time.Second),
		creds:         creds,
		contractSizes: make(map[string]float64),
	}
}

func (a *Adapter) Venue() venue.Venue { return venue.Okex }

// sign produces the OK-ACCESS-SIGN header value for a REST request.
func (a *Adapter) sign(timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(a.creds.APISecret))
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) authHeaders(method, path, body string) map[string]string {
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	return map[string]string{
		"OK-ACCESS-KEY":        a.creds.APIKey,
		"OK-ACCESS-SIGN":       a.sign(ts, method, path, body),
		"OK-ACCESS-TIMESTAMP":  ts,
		"OK-ACCESS-PASSPHRASE": a.creds.Passphrase,
	}
}

func (a *Adapter) GetBalance(ctx context.Context) (domain.Balance, error) {
	path := "/api/v5/account/balance"
	resp, err := a.rest.Do(ctx, "get_balance", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).SetHeaders(a.authHeaders("GET", path, "")).Get(path)
	})
	if err != nil {
		return domain.Balance{}, err
	}
	var body struct {
		Data []struct {
			TotalEq string `json:"totalEq"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil || len(body.Data) == 0 {
		return domain.Balance{}, fmt.Errorf("okex balance decode: %w", err)
	}
	avail, _ := strconv.ParseFloat(body.Data[0].TotalEq, 64)
	return domain.Balance{Venue: venue.Okex, Available: avail}, nil
}

func (a *Adapter) GetFundingRates(ctx context.Context, symbol string) ([]domain.FundingRate, error) {
	instruments, err := a.swapInstruments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.FundingRate, 0, len(instruments))
	for _, instID := range instruments {
		if symbol != "" && instID != symbol {
			continue
		}
		rate, nextMs, err := a.fetchFundingRate(ctx, instID)
		if err != nil {
			continue
		}
		base := strings.TrimSuffix(instID, "-USDT-SWAP")
		asset, ok := exchange.CanonicalAssetFor(base)
		if !ok {
			continue
		}
		out = append(out, domain.NewFundingRate(venue.Okex, asset, instID, rate*100, nextMs))
	}
	return out, nil
}

func (a *Adapter) fetchFundingRate(ctx context.Context, instID string) (rate float64, nextMs int64, err error) {
	resp, err := a.rest.Do(ctx, "get_funding_rate", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).SetQueryParam("instId", instID).Get("/api/v5/public/funding-rate")
	})
	if err != nil {
		return 0, 0, err
	}
	var body struct {
		Data []struct {
			FundingRate string `json:"fundingRate"`
			FundingTime string `json:"fundingTime"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil || len(body.Data) == 0 {
		return 0, 0, fmt.Errorf("okex funding rate decode: %w", err)
	}
	rate, err = strconv.ParseFloat(body.Data[0].FundingRate, 64)
	if err != nil {
		return 0, 0, err
	}
	nextMs, _ = strconv.ParseInt(body.Data[0].FundingTime, 10, 64)
	return rate, nextMs, nil
}

func (a *Adapter) swapInstruments(ctx context.Context) ([]string, error) {
	resp, err := a.rest.Do(ctx, "get_instruments", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).SetQueryParam("instType", "SWAP").Get("/api/v5/public/instruments")
	})
	if err != nil {
		return nil, err
	}
	var body struct {
		Data []struct {
			InstID  string `json:"instId"`
			CtVal   string `json:"ctVal"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("okex instruments decode: %w", err)
	}
	ids := make([]string, 0, len(body.Data))
	a.mu.Lock()
	for _, d := range body.Data {
		if !strings.HasSuffix(d.InstID, "-USDT-SWAP") {
			continue
		}
		ids = append(ids, d.InstID)
		if sz, err := strconv.ParseFloat(d.CtVal, 64); err == nil {
			a.contractSizes[d.InstID] = sz
		}
	}
	a.mu.Unlock()
	return ids, nil
}

func (a *Adapter) GetSingleFundingRate(ctx context.Context, symbol string) (float64, error) {
	rate, _, err := a.fetchFundingRate(ctx, symbol)
	return rate, err
}

func (a *Adapter) GetPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	resp, err := a.rest.Do(ctx, "get_price", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).SetQueryParam("instId", symbol).Get("/api/v5/market/ticker")
	})
	if err != nil {
		return domain.Quote{}, err
	}
	var body struct {
		Data []struct {
			BidPx string `json:"bidPx"`
			AskPx string `json:"askPx"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil || len(body.Data) == 0 {
		return domain.Quote{}, fmt.Errorf("okex price decode: %w", err)
	}
	bid, _ := strconv.ParseFloat(body.Data[0].BidPx, 64)
	ask, _ := strconv.ParseFloat(body.Data[0].AskPx, 64)
	return domain.Quote{Venue: venue.Okex, Bid: bid, Ask: ask}, nil
}

func (a *Adapter) GetPositions(ctx context.Context) ([]domain.Position, error) {
	path := "/api/v5/account/positions"
	resp, err := a.rest.Do(ctx, "get_positions", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).SetHeaders(a.authHeaders("GET", path, "")).Get(path)
	})
	if err != nil {
		return nil, err
	}
	var body struct {
		Data []struct {
			InstID string `json:"instId"`
			AvgPx  string `json:"avgPx"`
			Pos    string `json:"pos"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("okex positions decode: %w", err)
	}
	out := make([]domain.Position, 0, len(body.Data))
	for _, p := range body.Data {
		entry, _ := strconv.ParseFloat(p.AvgPx, 64)
		size, _ := strconv.ParseFloat(p.Pos, 64)
		out = append(out, domain.Position{Symbol: p.InstID, EntryPrice: entry, Size: size})
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

func (a *Adapter) sendOrder(ctx context.Context, symbol string, side domain.Side, ordType, price, qty string) (string, error) {
	sideStr := "buy"
	if side == domain.Sell {
		sideStr = "sell"
	}
	body := map[string]string{
		"instId":  symbol,
		"tdMode":  "cross",
		"side":    sideStr,
		"ordType": ordType,
		"sz":      qty,
	}
	if ordType == "limit" {
		body["px"] = price
	}
	payload, _ := json.Marshal(body)
	path := "/api/v5/trade/order"

	resp, err := a.rest.Do(ctx, "send_order", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeaders(a.authHeaders("POST", path, string(payload))).
			SetBody(payload).
			Post(path)
	})
	if err != nil {
		return "", nil // rejection is an expected outcome; caller checks for empty order id
	}
	var out struct {
		Data []struct {
			OrdID string `json:"ordId"`
			SCode string `json:"sCode"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil || len(out.Data) == 0 || out.Data[0].SCode != "0" {
		return "", nil
	}
	return out.Data[0].OrdID, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	body, _ := json.Marshal(map[string]string{"instId": symbol, "ordId": orderID})
	path := "/api/v5/trade/cancel-order"

	_, err := a.rest.Do(ctx, "cancel_order", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeaders(a.authHeaders("POST", path, string(body))).
			SetBody(body).
			Post(path)
	})
	return err == nil, nil
}

func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) (bool, error) {
	body, _ := json.Marshal(map[string]string{
		"instId":  symbol,
		"lever":   strconv.Itoa(leverage),
		"mgnMode": "cross",
	})
	path := "/api/v5/account/set-leverage"

	_, err := a.rest.Do(ctx, "set_leverage", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeaders(a.authHeaders("POST", path, string(body))).
			SetBody(body).
			Post(path)
	})
	return err == nil, nil
}

func (a *Adapter) GetPaymentsSoFar(ctx context.Context, symbol string, sinceEpochMs int64) (float64, error) {
	path := "/api/v5/account/bills"
	resp, err := a.rest.Do(ctx, "get_payments_so_far", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeaders(a.authHeaders("GET", path, "")).
			SetQueryParam("instId", symbol).
			SetQueryParam("type", "8"). // 8 = funding fee
			SetQueryParam("after", strconv.FormatInt(sinceEpochMs, 10)).
			Get(path)
	})
	if err != nil {
		return 0, err
	}
	var body struct {
		Data []struct {
			Pnl string `json:"pnl"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return 0, fmt.Errorf("okex payments decode: %w", err)
	}
	total := 0.0
	for _, b := range body.Data {
		v, _ := strconv.ParseFloat(b.Pnl, 64)
		total += v
	}
	return total, nil
}

// ContractSize returns the notional-per-contract from the cached
// instruments lookup, refreshing it if this symbol hasn't been seen yet.
// This is the source of truth the directive builder's contract-count
// sizing branch depends on.
func (a *Adapter) ContractSize(ctx context.Context, symbol string) (float64, error) {
	a.mu.Lock()
	sz, ok := a.contractSizes[symbol]
	a.mu.Unlock()
	if ok {
		return sz, nil
	}
	if _, err := a.swapInstruments(ctx); err != nil {
		return 0, err
	}
	a.mu.Lock()
	sz, ok = a.contractSizes[symbol]
	a.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("okex: no contract size for %s", symbol)
	}
	return sz, nil
}

func (a *Adapter) PrecisionDigits(ctx context.Context, symbol string) (int, error) {
	return 0, nil // Okex quantities are integer contract counts.
}

func (a *Adapter) SubscribePublicQuote(ctx context.Context, symbol string, onQuote func(domain.Quote)) error {
	subscribe := func(c *websocket.Conn) error {
		msg := map[string]interface{}{
			"op":   "subscribe",
			"args": []map[string]string{{"channel": "books5", "instId": symbol}},
		}
		return c.WriteJSON(msg)
	}
	return exchange.RunWSLoop(ctx, "okex", publicWSURL, subscribe, func(raw []byte) {
		var evt struct {
			Arg struct {
				Channel string `json:"channel"`
			} `json:"arg"`
			Event string `json:"event"`
			Data  []struct {
				Bids [][]string `json:"bids"`
				Asks [][]string `json:"asks"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &evt); err != nil {
			return
		}
		if evt.Arg.Channel != "books5" || evt.Event != "" || len(evt.Data) == 0 {
			return
		}
		d := evt.Data[0]
		if len(d.Bids) == 0 || len(d.Asks) == 0 {
			return
		}
		bid, errB := strconv.ParseFloat(d.Bids[0][0], 64)
		ask, errA := strconv.ParseFloat(d.Asks[0][0], 64)
		if errB != nil || errA != nil {
			return
		}
		onQuote(domain.Quote{Venue: venue.Okex, Bid: bid, Ask: ask})
	})
}

func (a *Adapter) SubscribePrivateOrders(ctx context.Context, symbol, orderID string, onFill func(filled bool)) error {
	subscribe := func(c *websocket.Conn) error {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		sign := a.sign(ts, "GET", "/users/self/verify", "")
		loginMsg := map[string]interface{}{
			"op": "login",
			"args": []map[string]string{{
				"apiKey":     a.creds.APIKey,
				"passphrase": a.creds.Passphrase,
				"timestamp":  ts,
				"sign":       sign,
			}},
		}
		if err := c.WriteJSON(loginMsg); err != nil {
			return err
		}
		return c.WriteJSON(map[string]interface{}{
			"op":   "subscribe",
			"args": []map[string]string{{"channel": "orders", "instType": "SWAP"}},
		})
	}
	return exchange.RunWSLoop(ctx, "okex-private", privateWSURL, subscribe, func(raw []byte) {
		var evt struct {
			Arg struct {
				Channel string `json:"channel"`
			} `json:"arg"`
			Data []struct {
				OrdID string `json:"ordId"`
				State string `json:"state"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &evt); err != nil || evt.Arg.Channel != "orders" {
			return
		}
		for _, d := range evt.Data {
			if d.OrdID == orderID && d.State == "filled" {
				onFill(true)
			}
		}
	})
}
