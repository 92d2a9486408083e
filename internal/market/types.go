package market

// Candle is a single OHLCV bar. Sequences are always chronological, oldest first.
type Candle struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// TradeSide is the aggressor side of a trade.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Trade is a single executed trade.
type Trade struct {
	Time  int64     `json:"time"`
	Price float64   `json:"price"`
	Size  float64   `json:"size"`
	Side  TradeSide `json:"side"`
}

// PriceLevel is one order book level.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook holds both book sides: bids descending by price, asks ascending.
type OrderBook struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

// Ticker is the latest price summary for a pair.
type Ticker struct {
	Price     float64 `json:"price"`
	Volume24h float64 `json:"volume_24h"`
	Change24h float64 `json:"change_24h"`
}

// FundingSettleState indicates whether the current funding period has settled.
type FundingSettleState string

const (
	FundingSettled    FundingSettleState = "settled"
	FundingProcessing FundingSettleState = "processing"
)

// FundingRate describes the current funding state of a perpetual swap.
type FundingRate struct {
	Rate         float64            `json:"rate"`
	NextRate     float64            `json:"next_rate"`
	NextTime     int64              `json:"next_time"`
	Premium      float64            `json:"premium"`
	InterestRate float64            `json:"interest_rate"`
	SettleState  FundingSettleState `json:"settle_state"`
}

// OpenInterest is a point-in-time open interest snapshot.
type OpenInterest struct {
	Base float64 `json:"oi_base"`
	USD  float64 `json:"oi_usd"`
	Time int64   `json:"time"`
}

// ExchangeTicker is one exchange's quote within the aggregated view.
type ExchangeTicker struct {
	Exchange string  `json:"exchange"`
	Price    float64 `json:"price"`
	Volume   float64 `json:"volume"`
}

// Degradation describes partial availability of the aggregated quote service.
type Degradation struct {
	Degraded       bool   `json:"degraded"`
	FallbackReason string `json:"fallback_reason,omitempty"`
	HealthStatus   string `json:"health_status"`
}

// MultiTicker is the aggregated multi-exchange quote for a base asset.
type MultiTicker struct {
	Tickers     []ExchangeTicker `json:"tickers"`
	Degradation Degradation      `json:"degradation"`
}

// Snapshot bundles everything the analyzer fetched for a single pair at
// request scope. Optional fields are nil when the corresponding provider
// call failed or was skipped.
type Snapshot struct {
	Pair           string
	Candles        []Candle
	Trades         []Trade
	Book           *OrderBook
	Ticker         *Ticker
	Funding        *FundingRate
	FundingHistory []FundingRate
	OI             *OpenInterest
	OIHistory      []OpenInterest
	Multi          *MultiTicker
}

// Price returns the current mid price, preferring the ticker, falling back to
// the last candle close. ok is false when no price source is available.
func (s *Snapshot) Price() (float64, bool) {
	if s.Ticker != nil && s.Ticker.Price > 0 {
		return s.Ticker.Price, true
	}
	if n := len(s.Candles); n > 0 && s.Candles[n-1].Close > 0 {
		return s.Candles[n-1].Close, true
	}
	return 0, false
}
