// Package coordinator implements the Execution Coordinator: the state
// machine that places both legs of a trade, watches quotes and fills over
// venue WebSocket streams, and repairs a lopsided fill via
// cancel-and-replace.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ybangaru/fundingarb/internal/domain"
	"github.com/ybangaru/fundingarb/internal/exchange"
	"github.com/ybangaru/fundingarb/internal/notify"
	"github.com/ybangaru/fundingarb/internal/venue"
)

// Phase names the coordinator's state machine positions.
type Phase int

const (
	Idle Phase = iota
	Ready
	Working
	Done
	Repairing
	Aborting
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Working:
		return "working"
	case Done:
		return "done"
	case Repairing:
		return "repairing"
	case Aborting:
		return "aborting"
	default:
		return "unknown"
	}
}

// state is the single-writer-at-a-time shared view both legs' stream
// handlers and the coordinator loop observe. Every field access goes
// through the RWMutex; there is never more than one writer active because
// each leg's quote/fill callback locks for the duration of its update.
type state struct {
	mu sync.RWMutex

	buyQuote, sellQuote   *domain.Quote
	buyFilled, sellFilled bool
	longAvgPrice          float64
	shortAvgPrice         float64
	ordersSent            bool
	orderCancelSent       bool
	longOrderID           string
	shortOrderID          string
}

// Coordinator drives one trade (entry or exit) through its full lifecycle.
type Coordinator struct {
	adapters map[venue.Venue]exchange.Adapter
	notifier notify.Notifier

	state state
	phase Phase
}

func New(adapters map[venue.Venue]exchange.Adapter, notifier notify.Notifier) *Coordinator {
	return &Coordinator{adapters: adapters, notifier: notifier, phase: Idle}
}

func (c *Coordinator) Phase() Phase { return c.phase }

// Run drives trade through the coordinator's state machine until both
// legs are filled, a lopsided fill has been cancelled and replaced at
// market, or one leg is rejected and the other unwound, then returns. exit selects the closing-trade profit-gated entry path instead
// of the immediate-entry path.
func (c *Coordinator) Run(ctx context.Context, trade domain.SpreadTrade, exit bool) error {
	c.phase = Ready

	streamCtx, cancelStreams := context.WithCancel(ctx)
	defer cancelStreams()

	if err := c.startQuoteStreams(streamCtx, trade); err != nil {
		return fmt.Errorf("coordinator: start quote streams: %w", err)
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			done, err := c.tick(ctx, trade, exit)
			if err != nil {
				log.Error().Err(err).Msg("coordinator tick failed")
			}
			if done {
				return nil
			}
		}
	}
}

// tick evaluates one iteration of the state machine and reports whether
// the trade has reached a terminal state.
func (c *Coordinator) tick(ctx context.Context, trade domain.SpreadTrade, exit bool) (bool, error) {
	c.state.mu.RLock()
	haveQuotes := c.state.buyQuote != nil && c.state.sellQuote != nil
	ordersSent := c.state.ordersSent
	buyFilled := c.state.buyFilled
	sellFilled := c.state.sellFilled
	cancelSent := c.state.orderCancelSent
	c.state.mu.RUnlock()

	if !haveQuotes {
		return false, nil
	}

	if ordersSent {
		if c.phase == Aborting {
			// openBothLegs has already market-closed the accepted leg.
			c.phase = Done
			return true, nil
		}
		switch {
		case buyFilled && sellFilled:
			c.phase = Done
			c.notifier.Notify(ctx, "Orders Filled", "Both Orders Filled")
			return true, nil
		case buyFilled && !sellFilled && !cancelSent:
			c.phase = Repairing
			return false, c.repairLeg(ctx, trade.Short)
		case !buyFilled && sellFilled && !cancelSent:
			c.phase = Repairing
			return false, c.repairLeg(ctx, trade.Long)
		}
		if cancelSent {
			// A cancel-and-replace has already been issued; the market
			// replacement completes the lopsided leg, so nothing more to drive.
			c.phase = Done
			return true, nil
		}
		return false, nil
	}

	if exit {
		c.state.mu.RLock()
		longProfit := c.state.buyQuote.Bid - c.state.longAvgPrice
		shortProfit := c.state.shortAvgPrice - c.state.sellQuote.Ask
		c.state.mu.RUnlock()
		if longProfit+shortProfit < 0 {
			return false, nil
		}
	}

	c.phase = Working
	return false, c.openBothLegs(ctx, trade)
}

// openBothLegs places both legs concurrently and, on a lopsided rejection,
// immediately unwinds whichever leg landed.
func (c *Coordinator) openBothLegs(ctx context.Context, trade domain.SpreadTrade) error {
	c.state.mu.Lock()
	c.state.ordersSent = true
	c.state.mu.Unlock()
	c.notifier.Notify(ctx, "Funding Rate Algo", "Orders Sent")

	var wg sync.WaitGroup
	var longID, shortID string
	var longErr, shortErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		longID, longErr = c.executeLimit(ctx, trade.Long)
	}()
	go func() {
		defer wg.Done()
		shortID, shortErr = c.executeLimit(ctx, trade.Short)
	}()
	wg.Wait()

	c.state.mu.Lock()
	c.state.longOrderID = longID
	c.state.shortOrderID = shortID
	c.state.mu.Unlock()

	if longErr != nil {
		log.Warn().Err(longErr).Msg("long leg order placement failed")
	}
	if shortErr != nil {
		log.Warn().Err(shortErr).Msg("short leg order placement failed")
	}
	c.watchFill(ctx, trade.Long, longID)
	c.watchFill(ctx, trade.Short, shortID)

	switch {
	case longID == "" && shortID != "":
		c.phase = Aborting
		return c.unwind(ctx, trade.Short)
	case longID != "" && shortID == "":
		c.phase = Aborting
		return c.unwind(ctx, trade.Long)
	}
	return nil
}

// unwind immediately market-closes the accepted leg after the other leg
// was rejected at open.
func (c *Coordinator) unwind(ctx context.Context, accepted domain.Directive) error {
	closing := accepted.ClosingDirective()
	a, ok := c.adapters[closing.Venue]
	if !ok {
		return fmt.Errorf("no adapter for %s", closing.Venue)
	}
	if err := a.SendMarketOrder(ctx, closing.VenueSymbol, closing.Side, closing.Quantity); err != nil {
		return fmt.Errorf("unwind %s: %w", closing.Venue, err)
	}
	c.notifier.Notify(ctx, "Order Issue", "order rejected, and other order cancelled")
	return nil
}

// executeLimit sets leverage (best-effort) and places the resting limit
// order for one leg at its current top-of-book price on the entry side.
func (c *Coordinator) executeLimit(ctx context.Context, d domain.Directive) (string, error) {
	a, ok := c.adapters[d.Venue]
	if !ok {
		return "", fmt.Errorf("no adapter for %s", d.Venue)
	}

	if ok, err := a.SetLeverage(ctx, d.VenueSymbol, 1); err != nil {
		log.Warn().Str("venue", d.Venue.String()).Err(err).Msg("set leverage failed")
	} else if !ok {
		log.Debug().Str("venue", d.Venue.String()).Msg("leverage adjustment not applicable on this venue")
	}

	quote, err := a.GetPrice(ctx, d.VenueSymbol)
	if err != nil {
		return "", fmt.Errorf("price lookup for %s: %w", d.Venue, err)
	}
	// Buy legs rest at the bid, sell legs rest at the ask: posting on the
	// maker side of the book, never crossing the spread into a taker fill.
	price := quote.Bid
	if d.Side == domain.Sell {
		price = quote.Ask
	}

	return a.SendLimitOrder(ctx, d.VenueSymbol, d.Side, price, d.Quantity)
}

// repairLeg cancels the unfilled leg's resting order and replaces it with
// a market order, matching the lopsided-fill repair path.
func (c *Coordinator) repairLeg(ctx context.Context, unfilled domain.Directive) error {
	a, ok := c.adapters[unfilled.Venue]
	if !ok {
		return fmt.Errorf("no adapter for %s", unfilled.Venue)
	}

	oid := c.orderIDFor(unfilled)
	if oid != "" {
		if cancelled, err := a.CancelOrder(ctx, unfilled.VenueSymbol, oid); err != nil || !cancelled {
			log.Warn().Str("venue", unfilled.Venue.String()).Err(err).Msg("cancel failed before replace")
		}
	}
	if err := a.SendMarketOrder(ctx, unfilled.VenueSymbol, unfilled.Side, unfilled.Quantity); err != nil {
		return fmt.Errorf("cancel-and-replace market order on %s: %w", unfilled.Venue, err)
	}

	c.state.mu.Lock()
	c.state.orderCancelSent = true
	c.state.mu.Unlock()

	c.notifier.Notify(ctx, "Order Replaced", fmt.Sprintf("%s cancelled and replaced at market", unfilled))
	return nil
}

func (c *Coordinator) orderIDFor(d domain.Directive) string {
	c.state.mu.RLock()
	defer c.state.mu.RUnlock()
	if d.Side == domain.Buy {
		return c.state.longOrderID
	}
	return c.state.shortOrderID
}

// startQuoteStreams subscribes each leg's own public-quote stream, routing
// every update to that leg's own slot regardless of which venue it is on.
// A prior revision of this logic mis-routed one venue's sell-side quote
// updates into the buy slot; every leg here is wired independently by
// reference to its own Directive, so no such cross-wiring is possible.
func (c *Coordinator) startQuoteStreams(ctx context.Context, trade domain.SpreadTrade) error {
	longAdapter, ok := c.adapters[trade.Long.Venue]
	if !ok {
		return fmt.Errorf("no adapter for %s", trade.Long.Venue)
	}
	shortAdapter, ok := c.adapters[trade.Short.Venue]
	if !ok {
		return fmt.Errorf("no adapter for %s", trade.Short.Venue)
	}

	go func() {
		err := longAdapter.SubscribePublicQuote(ctx, trade.Long.VenueSymbol, func(q domain.Quote) {
			c.state.mu.Lock()
			c.state.buyQuote = &q
			c.state.mu.Unlock()
		})
		if err != nil && ctx.Err() == nil {
			log.Warn().Str("venue", trade.Long.Venue.String()).Err(err).Msg("long leg quote stream ended")
		}
	}()
	go func() {
		err := shortAdapter.SubscribePublicQuote(ctx, trade.Short.VenueSymbol, func(q domain.Quote) {
			c.state.mu.Lock()
			c.state.sellQuote = &q
			c.state.mu.Unlock()
		})
		if err != nil && ctx.Err() == nil {
			log.Warn().Str("venue", trade.Short.Venue.String()).Err(err).Msg("short leg quote stream ended")
		}
	}()

	return nil
}

// watchFill starts the private-order-fill stream for a leg once its
// order ID is known, routing terminal-fill notifications to that leg's
// own filled flag.
func (c *Coordinator) watchFill(ctx context.Context, leg domain.Directive, orderID string) {
	a, ok := c.adapters[leg.Venue]
	if !ok || orderID == "" {
		return
	}
	go func() {
		err := a.SubscribePrivateOrders(ctx, leg.VenueSymbol, orderID, func(filled bool) {
			c.state.mu.Lock()
			if leg.Side == domain.Buy {
				c.state.buyFilled = filled
			} else {
				c.state.sellFilled = filled
			}
			c.state.mu.Unlock()
		})
		if err != nil && ctx.Err() == nil {
			log.Warn().Str("venue", leg.Venue.String()).Err(err).Msg("order fill stream ended")
		}
	}()
}

// RefreshAvgPrices pulls each leg's live position entry price from its
// venue, used by the monitor before computing the exit profit gate.
func (c *Coordinator) RefreshAvgPrices(ctx context.Context, trade domain.SpreadTrade) error {
	for _, leg := range []domain.Directive{trade.Long, trade.Short} {
		a, ok := c.adapters[leg.Venue]
		if !ok {
			continue
		}
		positions, err := a.GetPositions(ctx)
		if err != nil {
			log.Warn().Str("venue", leg.Venue.String()).Err(err).Msg("get positions failed during avg-price refresh")
			continue
		}
		for _, p := range positions {
			if p.Symbol != leg.VenueSymbol {
				continue
			}
			c.state.mu.Lock()
			if leg.Side == domain.Buy {
				c.state.longAvgPrice = p.EntryPrice
			} else {
				c.state.shortAvgPrice = p.EntryPrice
			}
			c.state.mu.Unlock()
		}
	}
	return nil
}
