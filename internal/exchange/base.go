package exchange

import (
	"context"
	"fmt"
	"time"

	resty "github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// restRateLimit caps outbound REST calls per venue well under every
// venue's published limit (the tightest, Okex's, allows 20 req/2s);
// tripping a venue's own rate limiter risks a ban, which is worse than
// briefly queuing locally.
const restRateLimit = 8 // requests per second, steady-state

// Credentials holds the API key/secret/passphrase triplet for one venue.
// Passphrase is only used by Okex; others leave it empty.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// RestClient wraps resty with a gobreaker circuit breaker so a degrading
// venue trips after repeated failures instead of stalling the Rate
// Collector's fan-out indefinitely. Exported so per-venue adapter packages
// can hold one as a field.
type RestClient struct {
	HTTP    *resty.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	venue   string
}

// NewRestClient builds a circuit-breaker-guarded resty client for venueName.
func NewRestClient(venueName, baseURL string, timeout time.Duration) *RestClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(250 * time.Millisecond)

	settings := gobreaker.Settings{
		Name:        venueName,
		Interval:    60 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: tripOnRepeatedFailure,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("venue", name).Str("from", from.String()).Str("to", to.String()).Msg("venue circuit breaker state change")
		},
	}

	return &RestClient{
		HTTP:    c,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(restRateLimit), restRateLimit),
		venue:   venueName,
	}
}

func tripOnRepeatedFailure(counts gobreaker.Counts) bool {
	failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
	return counts.ConsecutiveFailures >= 3 || (counts.Requests >= 20 && failureRatio > 0.05)
}

// Do executes fn through the circuit breaker, logging and returning a
// wrapped error on failure. Callers treat any returned error as a
// transient per-venue failure: the Rate Collector logs it and contributes
// nothing for this venue, never aborting the cycle.
func (c *RestClient) Do(ctx context.Context, op string, fn func() (*resty.Response, error)) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s %s: rate limiter: %w", c.venue, op, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := fn()
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("%s %s: status %d: %s", c.venue, op, resp.StatusCode(), resp.String())
		}
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.venue, op, err)
	}
	return result.(*resty.Response), nil
}

// RunWSLoop dials url repeatedly until ctx is cancelled, invoking onMessage
// for every frame and sending a ping every 15 seconds, matching the
// heartbeat cadence every venue stream task keeps per the coordinator's
// liveness contract. subscribe (if non-nil) sends one or more handshake
// frames right after connecting, before entering the read loop.
func RunWSLoop(ctx context.Context, venueName, url string, subscribe func(*websocket.Conn) error, onMessage func([]byte)) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			log.Warn().Str("venue", venueName).Err(err).Msg("websocket dial failed, retrying")
			if sleepOrDone(ctx, 2*time.Second) {
				return ctx.Err()
			}
			continue
		}

		if subscribe != nil {
			if err := subscribe(conn); err != nil {
				log.Warn().Str("venue", venueName).Err(err).Msg("websocket subscribe failed")
				conn.Close()
				if sleepOrDone(ctx, 2*time.Second) {
					return ctx.Err()
				}
				continue
			}
		}

		done := make(chan struct{})
		go pingLoop(ctx, conn, done)

		readLoop(ctx, venueName, conn, onMessage)
		close(done)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if sleepOrDone(ctx, 1*time.Second) {
			return ctx.Err()
		}
	}
}

func readLoop(ctx context.Context, venueName string, conn *websocket.Conn, onMessage func([]byte)) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Str("venue", venueName).Err(err).Msg("websocket read ended")
			return
		}
		onMessage(msg)
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
