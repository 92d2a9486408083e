package market

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/perpsight/perpsight/internal/errs"
	"github.com/perpsight/perpsight/internal/pairs"
)

// BinanceGateway adapts the Binance USDT-margined futures API to the Gateway
// contract. It is intentionally thin: symbol derivation, numeric parsing and
// error categorization only.
type BinanceGateway struct {
	client *futures.Client
	retry  RetryConfig
	logger zerolog.Logger
}

// BinanceConfig holds gateway client settings.
type BinanceConfig struct {
	APIKey    string
	SecretKey string
	Testnet   bool
}

// NewBinanceGateway creates a gateway backed by the Binance futures client.
// Market data endpoints work without credentials.
func NewBinanceGateway(cfg BinanceConfig) *BinanceGateway {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	logger := log.With().Str("component", "binance_gateway").Logger()
	logger.Info().Bool("testnet", cfg.Testnet).Msg("Binance futures gateway initialized")

	return &BinanceGateway{client: client, retry: DefaultRetryConfig(), logger: logger}
}

// call runs one provider request with retry, categorizing the final error.
func (g *BinanceGateway) call(ctx context.Context, op, pair string, fn func() error) error {
	if err := WithRetry(ctx, g.retry, fn); err != nil {
		return g.wrap(op, pair, err)
	}
	return nil
}

// Candles implements Gateway.
func (g *BinanceGateway) Candles(ctx context.Context, pair string, tf pairs.Timeframe, limit int) ([]Candle, error) {
	var klines []*futures.Kline
	err := g.call(ctx, "candles", pair, func() error {
		var err error
		klines, err = g.client.NewKlinesService().
			Symbol(pairs.SpotSymbol(pair)).
			Interval(string(tf)).
			Limit(limit).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(klines))
	for _, k := range klines {
		c := Candle{OpenTime: k.OpenTime}
		if c.Open, err = parseFloat("open", k.Open); err != nil {
			return nil, err
		}
		if c.High, err = parseFloat("high", k.High); err != nil {
			return nil, err
		}
		if c.Low, err = parseFloat("low", k.Low); err != nil {
			return nil, err
		}
		if c.Close, err = parseFloat("close", k.Close); err != nil {
			return nil, err
		}
		if c.Volume, err = parseFloat("volume", k.Volume); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// Trades implements Gateway using aggregated trades; the aggressor side is
// derived from the maker flag (buyer-is-maker means the seller was aggressive).
func (g *BinanceGateway) Trades(ctx context.Context, pair string, limit int) ([]Trade, error) {
	var aggTrades []*futures.AggTrade
	err := g.call(ctx, "trades", pair, func() error {
		var err error
		aggTrades, err = g.client.NewAggTradesService().
			Symbol(pairs.SpotSymbol(pair)).
			Limit(limit).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	trades := make([]Trade, 0, len(aggTrades))
	for _, t := range aggTrades {
		price, err := parseFloat("price", t.Price)
		if err != nil {
			return nil, err
		}
		size, err := parseFloat("quantity", t.Quantity)
		if err != nil {
			return nil, err
		}
		side := SideBuy
		if t.IsBuyerMaker {
			side = SideSell
		}
		trades = append(trades, Trade{Time: t.Timestamp, Price: price, Size: size, Side: side})
	}
	return trades, nil
}

// OrderBook implements Gateway.
func (g *BinanceGateway) OrderBook(ctx context.Context, pair string) (*OrderBook, error) {
	var depth *futures.DepthResponse
	err := g.call(ctx, "order_book", pair, func() error {
		var err error
		depth, err = g.client.NewDepthService().
			Symbol(pairs.SpotSymbol(pair)).
			Limit(100).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	book := &OrderBook{
		Bids: make([]PriceLevel, 0, len(depth.Bids)),
		Asks: make([]PriceLevel, 0, len(depth.Asks)),
	}
	for _, b := range depth.Bids {
		price, err := parseFloat("bid_price", b.Price)
		if err != nil {
			return nil, err
		}
		size, err := parseFloat("bid_size", b.Quantity)
		if err != nil {
			return nil, err
		}
		book.Bids = append(book.Bids, PriceLevel{Price: price, Size: size})
	}
	for _, a := range depth.Asks {
		price, err := parseFloat("ask_price", a.Price)
		if err != nil {
			return nil, err
		}
		size, err := parseFloat("ask_size", a.Quantity)
		if err != nil {
			return nil, err
		}
		book.Asks = append(book.Asks, PriceLevel{Price: price, Size: size})
	}
	return book, nil
}

// Ticker implements Gateway.
func (g *BinanceGateway) Ticker(ctx context.Context, pair string) (*Ticker, error) {
	var stats []*futures.PriceChangeStats
	err := g.call(ctx, "ticker", pair, func() error {
		var err error
		stats, err = g.client.NewListPriceChangeStatsService().
			Symbol(pairs.SpotSymbol(pair)).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		return nil, errs.Newf(errs.KindInternal, "no ticker returned for %s", pair)
	}

	s := stats[0]
	price, err := parseFloat("last_price", s.LastPrice)
	if err != nil {
		return nil, err
	}
	volume, err := parseFloat("quote_volume", s.QuoteVolume)
	if err != nil {
		return nil, err
	}
	change, err := parseFloat("price_change_percent", s.PriceChangePercent)
	if err != nil {
		return nil, err
	}
	return &Ticker{Price: price, Volume24h: volume, Change24h: change}, nil
}

// FundingRate implements Gateway using the premium index endpoint.
func (g *BinanceGateway) FundingRate(ctx context.Context, pair string) (*FundingRate, error) {
	var premiums []*futures.PremiumIndex
	err := g.call(ctx, "funding_rate", pair, func() error {
		var err error
		premiums, err = g.client.NewPremiumIndexService().
			Symbol(pairs.SpotSymbol(pair)).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(premiums) == 0 {
		return nil, errs.Newf(errs.KindInternal, "no premium index returned for %s", pair)
	}

	p := premiums[0]
	rate, err := parseFloat("funding_rate", p.LastFundingRate)
	if err != nil {
		return nil, err
	}
	mark, err := parseFloat("mark_price", p.MarkPrice)
	if err != nil {
		return nil, err
	}
	index, err := parseFloat("index_price", p.IndexPrice)
	if err != nil {
		return nil, err
	}

	premium := 0.0
	if index > 0 {
		premium = (mark - index) / index
	}
	return &FundingRate{
		Rate:        rate,
		NextRate:    rate,
		NextTime:    p.NextFundingTime,
		Premium:     premium,
		SettleState: FundingSettled,
	}, nil
}

// FundingHistory implements Gateway.
func (g *BinanceGateway) FundingHistory(ctx context.Context, pair string, limit int) ([]FundingRate, error) {
	var history []*futures.FundingRate
	err := g.call(ctx, "funding_history", pair, func() error {
		var err error
		history, err = g.client.NewFundingRateService().
			Symbol(pairs.SpotSymbol(pair)).
			Limit(limit).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	rates := make([]FundingRate, 0, len(history))
	for _, h := range history {
		rate, err := parseFloat("funding_rate", h.FundingRate)
		if err != nil {
			return nil, err
		}
		rates = append(rates, FundingRate{
			Rate:        rate,
			NextTime:    h.FundingTime,
			SettleState: FundingSettled,
		})
	}
	return rates, nil
}

// OpenInterest implements Gateway.
func (g *BinanceGateway) OpenInterest(ctx context.Context, pair string) (*OpenInterest, error) {
	var oi *futures.OpenInterest
	err := g.call(ctx, "open_interest", pair, func() error {
		var err error
		oi, err = g.client.NewGetOpenInterestService().
			Symbol(pairs.SpotSymbol(pair)).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	base, err := parseFloat("open_interest", oi.OpenInterest)
	if err != nil {
		return nil, err
	}

	snapshot := &OpenInterest{Base: base, Time: oi.Time}
	if ticker, err := g.Ticker(ctx, pair); err == nil {
		snapshot.USD = base * ticker.Price
	}
	return snapshot, nil
}

// OpenInterestHistory implements Gateway.
func (g *BinanceGateway) OpenInterestHistory(ctx context.Context, pair string, tf pairs.Timeframe, limit int) ([]OpenInterest, error) {
	var stats []*futures.OpenInterestStatistic
	err := g.call(ctx, "open_interest_history", pair, func() error {
		var err error
		stats, err = g.client.NewOpenInterestStatisticsService().
			Symbol(pairs.SpotSymbol(pair)).
			Period(string(tf)).
			Limit(limit).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	history := make([]OpenInterest, 0, len(stats))
	for _, s := range stats {
		base, err := parseFloat("sum_open_interest", s.SumOpenInterest)
		if err != nil {
			return nil, err
		}
		usd, err := parseFloat("sum_open_interest_value", s.SumOpenInterestValue)
		if err != nil {
			return nil, err
		}
		history = append(history, OpenInterest{Base: base, USD: usd, Time: s.Timestamp})
	}
	return history, nil
}

// MultiExchangeTicker implements Gateway. The primary provider is a single
// venue, so the aggregate carries one ticker and reports itself degraded; a
// premium multi-venue feed replaces this at the wiring layer when configured.
func (g *BinanceGateway) MultiExchangeTicker(ctx context.Context, base string) (*MultiTicker, error) {
	ticker, err := g.Ticker(ctx, base)
	if err != nil {
		return &MultiTicker{
			Degradation: Degradation{
				Degraded:       true,
				FallbackReason: "primary venue unreachable",
				HealthStatus:   "unhealthy",
			},
		}, g.wrap("multi_exchange_ticker", base, err)
	}

	return &MultiTicker{
		Tickers: []ExchangeTicker{{
			Exchange: "binance",
			Price:    ticker.Price,
			Volume:   ticker.Volume24h,
		}},
		Degradation: Degradation{
			Degraded:       true,
			FallbackReason: "single-venue fallback",
			HealthStatus:   "degraded",
		},
	}, nil
}

// Health implements Gateway.
func (g *BinanceGateway) Health(ctx context.Context) error {
	if err := g.client.NewPingService().Do(ctx); err != nil {
		return errs.Wrap(errs.KindServiceUnavailable, "binance ping failed", err)
	}
	return nil
}

// wrap categorizes a provider error and logs it once at the boundary.
func (g *BinanceGateway) wrap(op, pair string, err error) error {
	kind := errs.Classify(err)
	g.logger.Warn().
		Str("op", op).
		Str("pair", pair).
		Str("kind", string(kind)).
		Err(err).
		Msg("Provider call failed")
	return errs.Wrap(kind, fmt.Sprintf("binance %s for %s", op, pair), err)
}

func parseFloat(field, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, errs.Wrap(errs.KindInternal, fmt.Sprintf("parse %s %q", field, value), err)
	}
	return f, nil
}
