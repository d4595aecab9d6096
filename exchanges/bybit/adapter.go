// Package bybit implements the funding-rate-arbitrage exchange.Adapter for
// Bybit USDT perpetual futures.
package bybit

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
	restBaseURL = "https://api.bybit.com"
	publicWSURL = "wss://stream.bybit.com/v5/public/linear"
)

// Adapter is the Bybit implementation of exchange.Adapter.
type Adapter struct {
	rest  *exchange.RestClient
	creds exchange.Credentials
}

func New(creds exchange.Credentials) *Adapter {
	return &Adapter{
		rest:  exchange.NewRestClient("bybit", restBaseURL, 10*time.Second),
		creds: creds,
	}
}

func (a *Adapter) Venue() venue.Venue { return venue.Bybit }

func (a *Adapter) sign(timestamp, params string) string {
	payload := timestamp + a.creds.APIKey + "5000" + params
	mac := hmac.New(sha256.New, []byte(a.creds.APISecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) signedHeaders(ts, signature string) map[string]string {
	return map[string]string{
		"X-BAPI-API-KEY":     a.creds.APIKey,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": "5000",
		"X-BAPI-SIGN":        signature,
	}
}

func (a *Adapter) GetBalance(ctx context.Context) (domain.Balance, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	params := "accountType=UNIFIED"
	sig := a.sign(ts, params)

	resp, err := a.rest.Do(ctx, "get_balance", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeaders(a.signedHeaders(ts, sig)).
			SetQueryParam("accountType", "UNIFIED").
			Get("/v5/account/wallet-balance")
	})
	if err != nil {
		return domain.Balance{}, err
	}

	var body struct {
		Result struct {
			List []struct {
				TotalAvailableBalance string `json:"totalAvailableBalance"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return domain.Balance{}, fmt.Errorf("bybit balance decode: %w", err)
	}
	if len(body.Result.List) == 0 {
		return domain.Balance{Venue: venue.Bybit}, nil
	}
	avail, _ := strconv.ParseFloat(body.Result.List[0].TotalAvailableBalance, 64)
	return domain.Balance{Venue: venue.Bybit, Available: avail}, nil
}

func (a *Adapter) GetFundingRates(ctx context.Context, symbol string) ([]domain.FundingRate, error) {
	req := a.rest.HTTP.R().SetContext(ctx).SetQueryParam("category", "linear")
	if symbol != "" {
		req.SetQueryParam("symbol", symbol)
	}
	resp, err := a.rest.Do(ctx, "get_funding_rates", func() (*resty.Response, error) {
		return req.Get("/v5/market/tickers")
	})
	if err != nil {
		return nil, err
	}

	var body struct {
		Result struct {
			List []struct {
				Symbol          string `json:"symbol"`
				FundingRate     string `json:"fundingRate"`
				NextFundingTime string `json:"nextFundingTime"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("bybit funding rates decode: %w", err)
	}

	out := make([]domain.FundingRate, 0, len(body.Result.List))
	for _, r := range body.Result.List {
		base := strings.TrimSuffix(r.Symbol, "USDT")
		asset, ok := exchange.CanonicalAssetFor(base)
		if !ok {
			continue
		}
		rate, err := strconv.ParseFloat(r.FundingRate, 64)
		if err != nil {
			continue
		}
		nextMs, _ := strconv.ParseInt(r.NextFundingTime, 10, 64)
		out = append(out, domain.NewFundingRate(venue.Bybit, asset, r.Symbol, rate*100, nextMs))
	}
	return out, nil
}

func (a *Adapter) GetSingleFundingRate(ctx context.Context, symbol string) (float64, error) {
	rates, err := a.GetFundingRates(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if len(rates) == 0 {
		return 0, fmt.Errorf("bybit: no funding rate for %s", symbol)
	}
	return rates[0].RatePct / 100, nil
}

func (a *Adapter) GetPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	resp, err := a.rest.Do(ctx, "get_price", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetQueryParam("category", "linear").
			SetQueryParam("symbol", symbol).
			Get("/v5/market/tickers")
	})
	if err != nil {
		return domain.Quote{}, err
	}
	var body struct {
		Result struct {
			List []struct {
				Bid1Price string `json:"bid1Price"`
				Ask1Price string `json:"ask1Price"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil || len(body.Result.List) == 0 {
		return domain.Quote{}, fmt.Errorf("bybit price decode: %w", err)
	}
	bid, _ := strconv.ParseFloat(body.Result.List[0].Bid1Price, 64)
	ask, _ := strconv.ParseFloat(body.Result.List[0].Ask1Price, 64)
	return domain.Quote{Venue: venue.Bybit, Bid: bid, Ask: ask}, nil
}

func (a *Adapter) GetPositions(ctx context.Context) ([]domain.Position, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	params := "category=linear&settleCoin=USDT"
	sig := a.sign(ts, params)

	resp, err := a.rest.Do(ctx, "get_positions", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeaders(a.signedHeaders(ts, sig)).
			SetQueryParam("category", "linear").
			SetQueryParam("settleCoin", "USDT").
			Get("/v5/position/list")
	})
	if err != nil {
		return nil, err
	}
	var body struct {
		Result struct {
			List []struct {
				Symbol     string `json:"symbol"`
				EntryPrice string `json:"entryPrice"`
				Size       string `json:"size"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("bybit positions decode: %w", err)
	}
	out := make([]domain.Position, 0, len(body.Result.List))
	for _, p := range body.Result.List {
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		size, _ := strconv.ParseFloat(p.Size, 64)
		out = append(out, domain.Position{Symbol: p.Symbol, EntryPrice: entry, Size: size})
	}
	return out, nil
}

func (a *Adapter) SendLimitOrder(ctx context.Context, symbol string, side domain.Side, price float64, qty string) (string, error) {
	return a.sendOrder(ctx, symbol, side, "Limit", fmt.Sprintf("%.8f", price), qty)
}

func (a *Adapter) SendMarketOrder(ctx context.Context, symbol string, side domain.Side, qty string) error {
	_, err := a.sendOrder(ctx, symbol, side, "Market", "", qty)
	return err
}

func (a *Adapter) sendOrder(ctx context.Context, symbol string, side domain.Side, orderType, price, qty string) (string, error) {
	sideStr := "Buy"
	if side == domain.Sell {
		sideStr = "Sell"
	}
	body := map[string]string{
		"category":  "linear",
		"symbol":    symbol,
		"side":      sideStr,
		"orderType": orderType,
		"qty":       qty,
	}
	if orderType == "Limit" {
		body["price"] = price
		body["timeInForce"] = "GTC"
	}
	payload, _ := json.Marshal(body)
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sig := a.sign(ts, string(payload))

	resp, err := a.rest.Do(ctx, "send_order", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeaders(a.signedHeaders(ts, sig)).
			SetBody(payload).
			Post("/v5/order/create")
	})
	if err != nil {
		return "", nil // rejection is an expected outcome; caller checks for empty order id
	}
	var out struct {
		Result struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", nil
	}
	return out.Result.OrderID, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	body, _ := json.Marshal(map[string]string{"category": "linear", "symbol": symbol, "orderId": orderID})
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sig := a.sign(ts, string(body))

	_, err := a.rest.Do(ctx, "cancel_order", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeaders(a.signedHeaders(ts, sig)).
			SetBody(body).
			Post("/v5/order/cancel")
	})
	return err == nil, nil
}

func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) (bool, error) {
	body, _ := json.Marshal(map[string]string{
		"category":     "linear",
		"symbol":       symbol,
		"buyLeverage":  strconv.Itoa(leverage),
		"sellLeverage": strconv.Itoa(leverage),
	})
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sig := a.sign(ts, string(body))

	_, err := a.rest.Do(ctx, "set_leverage", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeaders(a.signedHeaders(ts, sig)).
			SetBody(body).
			Post("/v5/position/set-leverage")
	})
	return err == nil, nil
}

func (a *Adapter) GetPaymentsSoFar(ctx context.Context, symbol string, sinceEpochMs int64) (float64, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	params := fmt.Sprintf("category=linear&symbol=%s&startTime=%d", symbol, sinceEpochMs)
	sig := a.sign(ts, params)

	resp, err := a.rest.Do(ctx, "get_payments_so_far", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeaders(a.signedHeaders(ts, sig)).
			SetQueryParam("category", "linear").
			SetQueryParam("symbol", symbol).
			SetQueryParam("startTime", strconv.FormatInt(sinceEpochMs, 10)).
			Get("/v5/execution/list")
	})
	if err != nil {
		return 0, err
	}
	var body struct {
		Result struct {
			List []struct {
				ExecFee string `json:"execFee"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return 0, fmt.Errorf("bybit payments decode: %w", err)
	}
	total := 0.0
	for _, e := range body.Result.List {
		v, _ := strconv.ParseFloat(e.ExecFee, 64)
		total += v
	}
	return total, nil
}

func (a *Adapter) ContractSize(ctx context.Context, symbol string) (float64, error) {
	return 1, nil // Bybit linear perpetuals quote fractional coin quantities.
}

func (a *Adapter) PrecisionDigits(ctx context.Context, symbol string) (int, error) {
	return 2, nil
}

func (a *Adapter) SubscribePublicQuote(ctx context.Context, symbol string, onQuote func(domain.Quote)) error {
	subscribe := func(c *websocket.Conn) error {
		msg := map[string]interface{}{"op": "subscribe", "args": []string{"tickers." + symbol}}
		return c.WriteJSON(msg)
	}
	return exchange.RunWSLoop(ctx, "bybit", publicWSURL, subscribe, func(raw []byte) {
		var evt struct {
			Topic string `json:"topic"`
			Data  struct {
				Bid1Price string `json:"bid1Price"`
				Ask1Price string `json:"ask1Price"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &evt); err != nil || evt.Data.Bid1Price == "" || evt.Data.Ask1Price == "" {
			return
		}
		bid, errB := strconv.ParseFloat(evt.Data.Bid1Price, 64)
		ask, errA := strconv.ParseFloat(evt.Data.Ask1Price, 64)
		if errB != nil || errA != nil {
			return
		}
		onQuote(domain.Quote{Venue: venue.Bybit, Bid: bid, Ask: ask})
	})
}

func (a *Adapter) SubscribePrivateOrders(ctx context.Context, symbol, orderID string, onFill func(filled bool)) error {
	privateURL := "wss://stream.bybit.com/v5/private"
	subscribe := func(c *websocket.Conn) error {
		expires := strconv.FormatInt(time.Now().UnixMilli()+1000, 10)
		mac := hmac.New(sha256.New, []byte(a.creds.APISecret))
		mac.Write([]byte("GET/realtime" + expires))
		sig := hex.EncodeToString(mac.Sum(nil))
		if err := c.WriteJSON(map[string]interface{}{
			"op":   "auth",
			"args": []string{a.creds.APIKey, expires, sig},
		}); err != nil {
			return err
		}
		return c.WriteJSON(map[string]interface{}{"op": "subscribe", "args": []string{"order"}})
	}
	return exchange.RunWSLoop(ctx, "bybit-private", privateURL, subscribe, func(raw []byte) {
		var evt struct {
			Topic string `json:"topic"`
			Data  []struct {
				OrderID     string `json:"orderId"`
				Symbol      string `json:"symbol"`
				OrderStatus string `json:"orderStatus"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &evt); err != nil {
			return
		}
		for _, d := range evt.Data {
			if d.OrderID == orderID && d.OrderStatus == "Filled" {
				onFill(true)
			}
		}
	})
}
