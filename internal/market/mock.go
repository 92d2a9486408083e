package market

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/perpsight/perpsight/internal/pairs"
)

// MockGateway is a deterministic in-memory Gateway used by tests and paper
// mode. Generated series depend only on the pair name, so two invocations
// with the same inputs produce identical data. Individual calls can be
// overridden or forced to fail.
type MockGateway struct {
	mu sync.RWMutex

	// Trend shifts the generated candle drift: positive values produce an
	// uptrend, negative a downtrend. Keyed by normalized pair; unset pairs
	// drift according to their name hash.
	Trend map[string]float64

	// Volume24h overrides the generated 24h quote volume per pair.
	Volume24h map[string]float64

	// Errs forces a categorized failure for a given call name
	// ("candles", "trades", "order_book", "ticker", "funding", "oi", "multi").
	Errs map[string]error

	// Snapshots overrides entire snapshots per pair when set.
	Candleset map[string][]Candle

	now int64
}

// NewMockGateway creates a mock gateway anchored at a fixed timestamp.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		Trend:     make(map[string]float64),
		Volume24h: make(map[string]float64),
		Errs:      make(map[string]error),
		Candleset: make(map[string][]Candle),
		now:       time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC).UnixMilli(),
	}
}

// FailWith forces the named call to return err for all pairs.
func (m *MockGateway) FailWith(call string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errs[call] = err
}

// ClearFailures removes all forced failures.
func (m *MockGateway) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errs = make(map[string]error)
}

func (m *MockGateway) forced(call string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Errs[call]
}

func seedFor(pair string) float64 {
	h := fnv.New32a()
	h.Write([]byte(pairs.Normalize(pair)))
	return float64(h.Sum32()%1000)/1000.0 - 0.5
}

func (m *MockGateway) basePrice(pair string) float64 {
	return 100 + 900*math.Abs(seedFor(pair))
}

func (m *MockGateway) drift(pair string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.Trend[pairs.Normalize(pair)]; ok {
		return d
	}
	return seedFor(pair) * 0.002
}

// Candles implements Gateway.
func (m *MockGateway) Candles(ctx context.Context, pair string, tf pairs.Timeframe, limit int) ([]Candle, error) {
	if err := m.forced("candles"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	preset, ok := m.Candleset[pairs.Normalize(pair)]
	m.mu.RUnlock()
	if ok {
		out := make([]Candle, len(preset))
		copy(out, preset)
		return out, nil
	}

	interval := tf.IntervalMs()
	price := m.basePrice(pair)
	drift := m.drift(pair)

	candles := make([]Candle, 0, limit)
	start := m.now - int64(limit)*interval
	for i := 0; i < limit; i++ {
		wave := math.Sin(float64(i)/7.0) * price * 0.004
		open := price
		price = price*(1+drift) + wave
		high := math.Max(open, price) * 1.003
		low := math.Min(open, price) * 0.997
		volume := 1000 + 500*math.Abs(math.Sin(float64(i)/5.0))
		candles = append(candles, Candle{
			OpenTime: start + int64(i)*interval,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    price,
			Volume:   volume,
		})
	}
	return candles, nil
}

// Trades implements Gateway.
func (m *MockGateway) Trades(ctx context.Context, pair string, limit int) ([]Trade, error) {
	if err := m.forced("trades"); err != nil {
		return nil, err
	}
	price := m.basePrice(pair)
	drift := m.drift(pair)

	trades := make([]Trade, 0, limit)
	start := m.now - int64(limit)*1000
	for i := 0; i < limit; i++ {
		side := SideSell
		// Trending markets print more aggressive trades in the trend direction.
		if (drift > 0 && i%3 != 0) || (drift <= 0 && i%3 == 0) {
			side = SideBuy
		}
		trades = append(trades, Trade{
			Time:  start + int64(i)*1000,
			Price: price * (1 + drift*float64(i)/float64(limit)),
			Size:  0.5 + math.Abs(math.Sin(float64(i)))*2,
			Side:  side,
		})
	}
	return trades, nil
}

// OrderBook implements Gateway.
func (m *MockGateway) OrderBook(ctx context.Context, pair string) (*OrderBook, error) {
	if err := m.forced("order_book"); err != nil {
		return nil, err
	}
	price := m.basePrice(pair)

	book := &OrderBook{}
	for i := 1; i <= 25; i++ {
		step := price * 0.0005 * float64(i)
		book.Bids = append(book.Bids, PriceLevel{Price: price - step, Size: 10 + float64(i%5)*3})
		book.Asks = append(book.Asks, PriceLevel{Price: price + step, Size: 10 + float64((i+2)%5)*3})
	}
	return book, nil
}

// Ticker implements Gateway.
func (m *MockGateway) Ticker(ctx context.Context, pair string) (*Ticker, error) {
	if err := m.forced("ticker"); err != nil {
		return nil, err
	}

	m.mu.RLock()
	volume, ok := m.Volume24h[pairs.Normalize(pair)]
	m.mu.RUnlock()
	if !ok {
		volume = 75_000_000
	}
	return &Ticker{
		Price:     m.basePrice(pair),
		Volume24h: volume,
		Change24h: m.drift(pair) * 100 * 24,
	}, nil
}

// FundingRate implements Gateway.
func (m *MockGateway) FundingRate(ctx context.Context, pair string) (*FundingRate, error) {
	if err := m.forced("funding"); err != nil {
		return nil, err
	}
	return &FundingRate{
		Rate:        seedFor(pair) * 0.0004,
		NextRate:    seedFor(pair) * 0.0003,
		NextTime:    m.now + 4*3600*1000,
		Premium:     seedFor(pair) * 0.0002,
		SettleState: FundingSettled,
	}, nil
}

// FundingHistory implements Gateway.
func (m *MockGateway) FundingHistory(ctx context.Context, pair string, limit int) ([]FundingRate, error) {
	if err := m.forced("funding"); err != nil {
		return nil, err
	}
	rates := make([]FundingRate, 0, limit)
	for i := 0; i < limit; i++ {
		rates = append(rates, FundingRate{
			Rate:        seedFor(pair) * 0.0004 * math.Sin(float64(i)/3.0),
			NextTime:    m.now - int64(limit-i)*8*3600*1000,
			SettleState: FundingSettled,
		})
	}
	return rates, nil
}

// OpenInterest implements Gateway.
func (m *MockGateway) OpenInterest(ctx context.Context, pair string) (*OpenInterest, error) {
	if err := m.forced("oi"); err != nil {
		return nil, err
	}
	base := 10_000 + 90_000*math.Abs(seedFor(pair))
	return &OpenInterest{
		Base: base,
		USD:  base * m.basePrice(pair),
		Time: m.now,
	}, nil
}

// OpenInterestHistory implements Gateway.
func (m *MockGateway) OpenInterestHistory(ctx context.Context, pair string, tf pairs.Timeframe, limit int) ([]OpenInterest, error) {
	if err := m.forced("oi"); err != nil {
		return nil, err
	}
	price := m.basePrice(pair)
	drift := m.drift(pair)

	history := make([]OpenInterest, 0, limit)
	base := 10_000 + 90_000*math.Abs(seedFor(pair))
	for i := 0; i < limit; i++ {
		oi := base * (1 + drift*float64(i)*2)
		history = append(history, OpenInterest{
			Base: oi,
			USD:  oi * price,
			Time: m.now - int64(limit-i)*tf.IntervalMs(),
		})
	}
	return history, nil
}

// MultiExchangeTicker implements Gateway.
func (m *MockGateway) MultiExchangeTicker(ctx context.Context, base string) (*MultiTicker, error) {
	if err := m.forced("multi"); err != nil {
		return nil, err
	}
	price := m.basePrice(base)
	return &MultiTicker{
		Tickers: []ExchangeTicker{
			{Exchange: "binance", Price: price, Volume: 50_000_000},
			{Exchange: "okx", Price: price * 1.0002, Volume: 30_000_000},
			{Exchange: "bybit", Price: price * 0.9998, Volume: 20_000_000},
		},
		Degradation: Degradation{HealthStatus: "healthy"},
	}, nil
}

// Health implements Gateway.
func (m *MockGateway) Health(ctx context.Context) error {
	return m.forced("health")
}
