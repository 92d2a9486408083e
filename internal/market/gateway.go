package market

import (
	"context"

	"github.com/perpsight/perpsight/internal/pairs"
)

// Gateway is the read-only market data contract consumed by the analytical
// pipeline. Implementations own their own retries, auth and reconnection;
// the pipeline only sees typed data or a categorized error. Every call is
// expected to honor the context deadline.
type Gateway interface {
	// Candles returns up to limit chronological candles, oldest first.
	Candles(ctx context.Context, pair string, tf pairs.Timeframe, limit int) ([]Candle, error)

	// Trades returns the most recent trades, oldest first.
	Trades(ctx context.Context, pair string, limit int) ([]Trade, error)

	// OrderBook returns the current book snapshot.
	OrderBook(ctx context.Context, pair string) (*OrderBook, error)

	// Ticker returns the latest price summary.
	Ticker(ctx context.Context, pair string) (*Ticker, error)

	// FundingRate returns the current funding state.
	FundingRate(ctx context.Context, pair string) (*FundingRate, error)

	// FundingHistory returns recent settled funding rates, oldest first.
	FundingHistory(ctx context.Context, pair string, limit int) ([]FundingRate, error)

	// OpenInterest returns the current open interest snapshot.
	OpenInterest(ctx context.Context, pair string) (*OpenInterest, error)

	// OpenInterestHistory returns rolling open interest snapshots, oldest first.
	OpenInterestHistory(ctx context.Context, pair string, tf pairs.Timeframe, limit int) ([]OpenInterest, error)

	// MultiExchangeTicker returns the aggregated multi-exchange quote for a
	// base asset, with degradation metadata when some venues are unreachable.
	MultiExchangeTicker(ctx context.Context, base string) (*MultiTicker, error)

	// Health reports whether the primary provider is reachable.
	Health(ctx context.Context) error
}
