// Package exchange defines the uniform venue-adapter façade the strategy
// core depends on, plus the shared REST/WebSocket plumbing that the
// per-venue implementations under exchanges/ build on.
//
// The hard engineering of this system is not here: every Adapter is a
// signed HTTP/WS client with no decision-making of its own. The core never
// branches on venue inside itself except through the venue package's
// capability flags; all venue-specific quirks live behind this interface.
package exchange

import (
	"context"

	"github.com/ybangaru/fundingarb/internal/domain"
	"github.com/ybangaru/fundingarb/internal/venue"
)

// Adapter is what the strategy core consumes from each venue. One
// implementation exists per venue.Venue.
type Adapter interface {
	Venue() venue.Venue

	// GetBalance returns the venue's free collateral available to size trades.
	GetBalance(ctx context.Context) (domain.Balance, error)

	// GetFundingRates returns normalized funding-rate records for all
	// listed perpetuals, or for a single symbol when symbol != "".
	GetFundingRates(ctx context.Context, symbol string) ([]domain.FundingRate, error)

	// GetSingleFundingRate returns the raw percent-fraction rate for one symbol.
	GetSingleFundingRate(ctx context.Context, symbol string) (float64, error)

	// GetPrice returns the current top-of-book quote for symbol.
	GetPrice(ctx context.Context, symbol string) (domain.Quote, error)

	// GetPositions lists all open positions on this venue.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// SendLimitOrder places a resting limit order. An empty orderID return
	// means the exchange rejected the order (no panic, no error wrapping
	// needed by callers for this case — it is an expected outcome).
	SendLimitOrder(ctx context.Context, symbol string, side domain.Side, price float64, qty string) (orderID string, err error)

	// SendMarketOrder sends an immediate market order, used by the
	// cancel-and-replace path and by ABORTING-state cleanup.
	SendMarketOrder(ctx context.Context, symbol string, side domain.Side, qty string) error

	// CancelOrder cancels a resting order; returns false if the cancel
	// itself could not be confirmed. The coordinator's cancel-and-replace
	// path logs a failed or unconfirmed cancel and still sends the market
	// replacement.
	CancelOrder(ctx context.Context, symbol, orderID string) (bool, error)

	// SetLeverage sets per-symbol leverage before the first order on a
	// cycle. Not all venues support this; a false return with nil error
	// means "not applicable" and is informational only — callers never
	// abort a cycle because of it.
	SetLeverage(ctx context.Context, symbol string, leverage int) (bool, error)

	// GetPaymentsSoFar sums funding payments received since sinceEpochMs.
	GetPaymentsSoFar(ctx context.Context, symbol string, sinceEpochMs int64) (float64, error)

	// ContractSize returns the notional-per-contract for contract-count
	// venues (Okex). Fractional-coin venues return 1.
	ContractSize(ctx context.Context, symbol string) (float64, error)

	// PrecisionDigits returns the number of decimal digits to format
	// quantities with on this venue.
	PrecisionDigits(ctx context.Context, symbol string) (int, error)

	Streams
}

// Streams is the public/private WebSocket surface an Adapter exposes to
// the Execution Coordinator. Each method describes the venue-specific
// handshake; Subscribe drives the actual connection loop.
type Streams interface {
	// SubscribePublicQuote streams top-of-book updates for symbol into
	// onQuote until ctx is cancelled or the connection is closed. It
	// reconnects on transient errors and never returns except on ctx
	// cancellation.
	SubscribePublicQuote(ctx context.Context, symbol string, onQuote func(domain.Quote)) error

	// SubscribePrivateOrders streams private order-update messages,
	// invoking onFill(true) exactly when this venue's terminal "fully
	// filled" status is observed for orderID.
	SubscribePrivateOrders(ctx context.Context, symbol, orderID string, onFill func(filled bool)) error
}
