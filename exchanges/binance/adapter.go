// Package binance implements the funding-rate-arbitrage exchange.Adapter
// for Binance USDT-margined perpetual futures.
package binance

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

	"github.com/ybangaru/fundingarb/internal/domain"
	"github.com/ybangaru/fundingarb/internal/exchange"
	"github.com/ybangaru/fundingarb/internal/venue"
)

const (
	restBaseURL = "https://fapi.binance.com"
	publicWSURL = "wss://fstream.binance.com"
)

// Adapter is the Binance implementation of exchange.Adapter.
type Adapter struct {
	rest  *exchange.RestClient
	creds exchange.Credentials
}

// New builds a Binance adapter. creds may be zero-valued for read-only
// (funding rate / quote) use in the Rate Collector.
func New(creds exchange.Credentials) *Adapter {
	return &Adapter{
		rest:  exchange.NewRestClient("binance", restBaseURL, 10*time.Second),
		creds: creds,
	}
}

func (a *Adapter) Venue() venue.Venue { return venue.Binance }

func (a *Adapter) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(a.creds.APISecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) GetBalance(ctx context.Context) (domain.Balance, error) {
	ts := time.Now().UnixMilli()
	query := fmt.Sprintf("timestamp=%d", ts)
	sig := a.sign(query)

	resp, err := a.rest.Do(ctx, "get_balance", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeader("X-MBX-APIKEY", a.creds.APIKey).
			SetQueryString(query + "&signature=" + sig).
			Get("/fapi/v2/balance")
	})
	if err != nil {
		return domain.Balance{}, err
	}

	var rows []struct {
		Asset              string `json:"asset"`
		AvailableBalance   string `json:"availableBalance"`
	}
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return domain.Balance{}, fmt.Errorf("binance balance decode: %w", err)
	}
	for _, r := range rows {
		if r.Asset == "USDT" {
			avail, _ := strconv.ParseFloat(r.AvailableBalance, 64)
			return domain.Balance{Venue: venue.Binance, Available: avail}, nil
		}
	}
	return domain.Balance{Venue: venue.Binance, Available: 0}, nil
}

func (a *Adapter) GetFundingRates(ctx context.Context, symbol string) ([]domain.FundingRate, error) {
	req := a.rest.HTTP.R().SetContext(ctx)
	path := "/fapi/v1/premiumIndex"
	if symbol != "" {
		req.SetQueryParam("symbol", symbol)
	}
	resp, err := a.rest.Do(ctx, "get_funding_rates", func() (*resty.Response, error) {
		return req.Get(path)
	})
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Symbol             string `json:"symbol"`
		LastFundingRate    string `json:"lastFundingRate"`
		NextFundingTime    int64  `json:"nextFundingTime"`
	}
	// The single-symbol endpoint responds with one object; normalize to a slice.
	if symbol != "" {
		var one struct {
			Symbol          string `json:"symbol"`
			LastFundingRate string `json:"lastFundingRate"`
			NextFundingTime int64  `json:"nextFundingTime"`
		}
		if err := json.Unmarshal(resp.Body(), &one); err != nil {
			return nil, fmt.Errorf("binance funding rate decode: %w", err)
		}
		rows = append(rows, one)
	} else if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("binance funding rates decode: %w", err)
	}

	out := make([]domain.FundingRate, 0, len(rows))
	for _, r := range rows {
		base := strings.TrimSuffix(r.Symbol, "USDT")
		asset, ok := exchange.CanonicalAssetFor(base)
		if !ok {
			continue
		}
		rawRate, err := strconv.ParseFloat(r.LastFundingRate, 64)
		if err != nil {
			continue
		}
		out = append(out, domain.NewFundingRate(venue.Binance, asset, r.Symbol, rawRate*100, r.NextFundingTime))
	}
	return out, nil
}

func (a *Adapter) GetSingleFundingRate(ctx context.Context, symbol string) (float64, error) {
	rates, err := a.GetFundingRates(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if len(rates) == 0 {
		return 0, fmt.Errorf("binance: no funding rate for %s", symbol)
	}
	return rates[0].RatePct / 100, nil
}

func (a *Adapter) GetPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	resp, err := a.rest.Do(ctx, "get_price", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).SetQueryParam("symbol", symbol).Get("/fapi/v1/ticker/bookTicker")
	})
	if err != nil {
		return domain.Quote{}, err
	}
	var row struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := json.Unmarshal(resp.Body(), &row); err != nil {
		return domain.Quote{}, fmt.Errorf("binance price decode: %w", err)
	}
	bid, _ := strconv.ParseFloat(row.BidPrice, 64)
	ask, _ := strconv.ParseFloat(row.AskPrice, 64)
	return domain.Quote{Venue: venue.Binance, Bid: bid, Ask: ask}, nil
}

func (a *Adapter) GetPositions(ctx context.Context) ([]domain.Position, error) {
	ts := time.Now().UnixMilli()
	query := fmt.Sprintf("timestamp=%d", ts)
	sig := a.sign(query)

	resp, err := a.rest.Do(ctx, "get_positions", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeader("X-MBX-APIKEY", a.creds.APIKey).
			SetQueryString(query + "&signature=" + sig).
			Get("/fapi/v2/positionRisk")
	})
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Symbol           string `json:"symbol"`
		EntryPrice       string `json:"entryPrice"`
		PositionAmt      string `json:"positionAmt"`
	}
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("binance positions decode: %w", err)
	}
	out := make([]domain.Position, 0, len(rows))
	for _, r := range rows {
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		size, _ := strconv.ParseFloat(r.PositionAmt, 64)
		out = append(out, domain.Position{Symbol: r.Symbol, EntryPrice: entry, Size: size})
	}
	return out, nil
}

func (a *Adapter) SendLimitOrder(ctx context.Context, symbol string, side domain.Side, price float64, qty string) (string, error) {
	sideStr := "BUY"
	if side == domain.Sell {
		sideStr = "SELL"
	}
	ts := time.Now().UnixMilli()
	query := fmt.Sprintf("symbol=%s&side=%s&type=LIMIT&timeInForce=GTC&quantity=%s&price=%.8f&timestamp=%d",
		symbol, sideStr, qty, price, ts)
	sig := a.sign(query)

	resp, err := a.rest.Do(ctx, "send_limit_order", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeader("X-MBX-APIKEY", a.creds.APIKey).
			Post("/fapi/v1/order?" + query + "&signature=" + sig)
	})
	if err != nil {
		// Rejection is an expected outcome, not a fatal error: caller checks
		// for an empty order id, so surface it that way rather than erroring.
		return "", nil
	}
	var row struct {
		OrderID int64 `json:"orderId"`
	}
	if err := json.Unmarshal(resp.Body(), &row); err != nil || row.OrderID == 0 {
		return "", nil
	}
	return strconv.FormatInt(row.OrderID, 10), nil
}

func (a *Adapter) SendMarketOrder(ctx context.Context, symbol string, side domain.Side, qty string) error {
	sideStr := "BUY"
	if side == domain.Sell {
		sideStr = "SELL"
	}
	ts := time.Now().UnixMilli()
	query := fmt.Sprintf("symbol=%s&side=%s&type=MARKET&quantity=%s&timestamp=%d", symbol, sideStr, qty, ts)
	sig := a.sign(query)

	_, err := a.rest.Do(ctx, "send_market_order", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeader("X-MBX-APIKEY", a.creds.APIKey).
			Post("/fapi/v1/order?" + query + "&signature=" + sig)
	})
	return err
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	ts := time.Now().UnixMilli()
	query := fmt.Sprintf("symbol=%s&orderId=%s&timestamp=%d", symbol, orderID, ts)
	sig := a.sign(query)

	_, err := a.rest.Do(ctx, "cancel_order", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeader("X-MBX-APIKEY", a.creds.APIKey).
			Delete("/fapi/v1/order?" + query + "&signature=" + sig)
	})
	return err == nil, nil
}

func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) (bool, error) {
	ts := time.Now().UnixMilli()
	query := fmt.Sprintf("symbol=%s&leverage=%d&timestamp=%d", symbol, leverage, ts)
	sig := a.sign(query)

	_, err := a.rest.Do(ctx, "set_leverage", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeader("X-MBX-APIKEY", a.creds.APIKey).
			Post("/fapi/v1/leverage?" + query + "&signature=" + sig)
	})
	return err == nil, nil
}

func (a *Adapter) GetPaymentsSoFar(ctx context.Context, symbol string, sinceEpochMs int64) (float64, error) {
	ts := time.Now().UnixMilli()
	query := fmt.Sprintf("symbol=%s&incomeType=FUNDING_FEE&startTime=%d&timestamp=%d", symbol, sinceEpochMs, ts)
	sig := a.sign(query)

	resp, err := a.rest.Do(ctx, "get_payments_so_far", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeader("X-MBX-APIKEY", a.creds.APIKey).
			SetQueryString(query + "&signature=" + sig).
			Get("/fapi/v1/income")
	})
	if err != nil {
		return 0, err
	}
	var rows []struct {
		Income string `json:"income"`
	}
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return 0, fmt.Errorf("binance payments decode: %w", err)
	}
	total := 0.0
	for _, r := range rows {
		v, _ := strconv.ParseFloat(r.Income, 64)
		total += v
	}
	return total, nil
}

func (a *Adapter) ContractSize(ctx context.Context, symbol string) (float64, error) {
	return 1, nil // Binance quantities are fractional coin amounts, not contracts.
}

func (a *Adapter) PrecisionDigits(ctx context.Context, symbol string) (int, error) {
	resp, err := a.rest.Do(ctx, "exchange_info", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).Get("/fapi/v1/exchangeInfo")
	})
	if err != nil {
		return 3, err // sane default so sizing can still proceed
	}
	var info struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			QuantityPrecision int    `json:"quantityPrecision"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(resp.Body(), &info); err != nil {
		return 3, nil
	}
	for _, s := range info.Symbols {
		if s.Symbol == symbol {
			return s.QuantityPrecision, nil
		}
	}
	return 3, nil
}

func (a *Adapter) SubscribePublicQuote(ctx context.Context, symbol string, onQuote func(domain.Quote)) error {
	url := fmt.Sprintf("%s/ws/%s@bookTicker", publicWSURL, strings.ToLower(symbol))
	return exchange.RunWSLoop(ctx, "binance", url, nil, func(msg []byte) {
		var row struct {
			Bid string `json:"b"`
			Ask string `json:"a"`
		}
		if err := json.Unmarshal(msg, &row); err != nil || row.Bid == "" || row.Ask == "" {
			return
		}
		bid, errB := strconv.ParseFloat(row.Bid, 64)
		ask, errA := strconv.ParseFloat(row.Ask, 64)
		if errB != nil || errA != nil {
			return
		}
		onQuote(domain.Quote{Venue: venue.Binance, Bid: bid, Ask: ask})
	})
}

func (a *Adapter) SubscribePrivateOrders(ctx context.Context, symbol, orderID string, onFill func(filled bool)) error {
	listenKey, err := a.requestListenKey(ctx)
	if err != nil {
		return err
	}
	go a.keepAliveListenKey(ctx, listenKey)

	url := fmt.Sprintf("%s/ws/%s", publicWSURL, listenKey)
	return exchange.RunWSLoop(ctx, "binance-private", url, nil, func(msg []byte) {
		var evt struct {
			Order struct {
				OrderID           int64  `json:"i"`
				ExecutionType     string `json:"x"`
				OrderStatus       string `json:"X"`
			} `json:"o"`
		}
		if err := json.Unmarshal(msg, &evt); err != nil {
			return
		}
		if strconv.FormatInt(evt.Order.OrderID, 10) != orderID {
			return
		}
		if evt.Order.OrderStatus == "FILLED" {
			onFill(true)
		}
	})
}

func (a *Adapter) requestListenKey(ctx context.Context) (string, error) {
	resp, err := a.rest.Do(ctx, "request_listen_key", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeader("X-MBX-APIKEY", a.creds.APIKey).
			Post("/fapi/v1/listenKey")
	})
	if err != nil {
		return "", err
	}
	var row struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(resp.Body(), &row); err != nil {
		return "", fmt.Errorf("binance listen key decode: %w", err)
	}
	return row.ListenKey, nil
}

// keepAliveListenKey refreshes the listen key every 55 minutes and
// deletes it once ctx ends.
func (a *Adapter) keepAliveListenKey(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(55 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.deleteListenKey(context.Background(), listenKey)
			return
		case <-ticker.C:
			a.rest.Do(ctx, "keep_alive_listen_key", func() (*resty.Response, error) {
				return a.rest.HTTP.R().SetContext(ctx).
					SetHeader("X-MBX-APIKEY", a.creds.APIKey).
					SetQueryParam("listenKey", listenKey).
					Put("/fapi/v1/listenKey")
			})
		}
	}
}

func (a *Adapter) deleteListenKey(ctx context.Context, listenKey string) {
	a.rest.Do(ctx, "delete_listen_key", func() (*resty.Response, error) {
		return a.rest.HTTP.R().SetContext(ctx).
			SetHeader("X-MBX-APIKEY", a.creds.APIKey).
			SetQueryParam("listenKey", listenKey).
			Delete("/fapi/v1/listenKey")
	})
}
