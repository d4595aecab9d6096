// Package persistence defines the optional audit-trail storage contract.
// The funding-rate engine's actual resume/ownership state lives in plain
// JSON files (see internal/state); this package defines a secondary,
// disabled-by-default store for leg-fill records. When enabled, the engine
// opens its connection at startup; no component writes records to it.
package persistence

import (
	"context"
	"time"
)

// TimeRange represents a time window for data queries.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Trade represents a single leg fill recorded for audit purposes.
type Trade struct {
	ID         int64                  `json:"id" db:"id"`
	Timestamp  time.Time              `json:"ts" db:"ts"`
	Symbol     string                 `json:"symbol" db:"symbol"`
	Venue      string                 `json:"venue" db:"venue"`
	Side       string                 `json:"side" db:"side"`
	Price      float64                `json:"price" db:"price"`
	Qty        float64                `json:"qty" db:"qty"`
	OrderID    *string                `json:"order_id,omitempty" db:"order_id"`
	Attributes map[string]interface{} `json:"attributes" db:"attributes"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

// TradesRepo persists and queries fill records.
type TradesRepo interface {
	// Insert adds a new trade record with venue validation.
	Insert(ctx context.Context, trade Trade) error

	// InsertBatch adds multiple trades atomically.
	InsertBatch(ctx context.Context, trades []Trade) error

	// ListBySymbol retrieves trades for a symbol within a time range, newest first.
	ListBySymbol(ctx context.Context, symbol string, tr TimeRange, limit int) ([]Trade, error)

	// ListByVenue retrieves trades for a venue within a time range.
	ListByVenue(ctx context.Context, venue string, tr TimeRange, limit int) ([]Trade, error)

	// GetByOrderID finds a trade by its exchange order ID, for reconciliation.
	GetByOrderID(ctx context.Context, orderID string) (*Trade, error)

	// GetLatest returns the most recent trades across all symbols/venues.
	GetLatest(ctx context.Context, limit int) ([]Trade, error)

	// Count returns the total trade count in a time range.
	Count(ctx context.Context, tr TimeRange) (int64, error)

	// CountByVenue returns trade counts grouped by venue.
	CountByVenue(ctx context.Context, tr TimeRange) (map[string]int64, error)
}

// Repository aggregates the persistence interfaces the engine depends on.
type Repository struct {
	Trades TradesRepo
}

// HealthCheck reports the audit repository's connectivity state.
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer.
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
	Stats(ctx context.Context) map[string]interface{}
}
