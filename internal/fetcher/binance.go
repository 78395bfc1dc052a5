package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricehub/internal/market"
)

const (
	binanceTickerPath = "/api/v3/ticker/24hr"
	binanceKlinesPath = "/api/v3/klines"
)

// Binance queries the exchange's public spot endpoints.
type Binance struct {
	client      *Client
	baseURL     string
	longTimeout time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

// BinanceOptions parameterise the Binance adapter.
type BinanceOptions struct {
	BaseURL            string
	HistoryLongTimeout time.Duration
}

// NewBinance constructs a Binance adapter.
func NewBinance(client *Client, opts BinanceOptions, logger zerolog.Logger) *Binance {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &Binance{
		client:      client,
		baseURL:     baseURL,
		longTimeout: opts.HistoryLongTimeout,
		now:         time.Now,
		logger:      logger.With().Str("component", "binance").Logger(),
	}
}

// Name identifies the adapter in quotes and logs.
func (b *Binance) Name() string { return market.SourceBinance }

// TradingPair maps symbol/currency onto an exchange pair; USD trades against USDT.
func TradingPair(symbol, currency string) string {
	quote := strings.ToUpper(currency)
	if quote == "USD" {
		quote = "USDT"
	}
	return strings.ToUpper(symbol) + quote
}

type binanceTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
}

// FetchCryptoPrice reads the 24h ticker of the mapped pair.
func (b *Binance) FetchCryptoPrice(ctx context.Context, symbol, currency string) (market.CryptoQuote, bool) {
	pair := TradingPair(symbol, currency)
	if pair == "USDTUSDT" {
		return market.CryptoQuote{}, false
	}

	q := url.Values{}
	q.Set("symbol", pair)
	endpoint := b.baseURL + binanceTickerPath + "?" + q.Encode()

	ticker, ok := FetchJSON[binanceTicker](ctx, b.client, endpoint, b.client.DefaultPolicy().Labelled("binance.ticker:"+pair))
	if !ok {
		return market.CryptoQuote{}, false
	}

	price, ok := parsePositive(ticker.LastPrice)
	if !ok {
		b.logger.Warn().Str("pair", pair).Str("price", ticker.LastPrice).Msg("invalid ticker price")
		return market.CryptoQuote{}, false
	}

	quote := market.CryptoQuote{
		Symbol:    strings.ToUpper(symbol),
		Price:     price,
		Currency:  strings.ToUpper(currency),
		Source:    b.Name(),
		Timestamp: b.now().UTC(),
	}
	if change, err := decimal.NewFromString(ticker.PriceChangePercent); err == nil {
		quote.Change24h = &change
	}
	return quote, true
}

// FetchCryptoHistory reads daily klines; each candle contributes its close at close time.
func (b *Binance) FetchCryptoHistory(ctx context.Context, symbol, currency string, window Window) ([]market.Sample, bool) {
	pair := TradingPair(symbol, currency)

	q := url.Values{}
	q.Set("symbol", pair)
	q.Set("interval", "1d")
	q.Set("startTime", strconv.FormatInt(window.From.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(window.To.UnixMilli(), 10))
	q.Set("limit", "1000")
	endpoint := b.baseURL + binanceKlinesPath + "?" + q.Encode()

	policy := historyPolicy(b.client.DefaultPolicy(), window, b.longTimeout).Labelled("binance.klines:" + pair)
	rows, ok := FetchJSON[[][]json.RawMessage](ctx, b.client, endpoint, policy)
	if !ok {
		return nil, false
	}

	samples := make([]market.Sample, 0, len(rows))
	for _, row := range rows {
		sample, err := parseKline(row, window.To)
		if err != nil {
			b.logger.Debug().Err(err).Str("pair", pair).Msg("skip malformed kline")
			continue
		}
		samples = append(samples, sample)
	}
	if len(samples) == 0 {
		return nil, false
	}
	return samples, true
}

func parseKline(row []json.RawMessage, ceiling time.Time) (market.Sample, error) {
	if len(row) < 7 {
		return market.Sample{}, fmt.Errorf("kline has %d fields", len(row))
	}

	var closeRaw string
	if err := json.Unmarshal(row[4], &closeRaw); err != nil {
		return market.Sample{}, fmt.Errorf("close price: %w", err)
	}
	price, ok := parsePositive(closeRaw)
	if !ok {
		return market.Sample{}, fmt.Errorf("close price %q invalid", closeRaw)
	}

	var closeTime int64
	if err := json.Unmarshal(row[6], &closeTime); err != nil {
		return market.Sample{}, fmt.Errorf("close time: %w", err)
	}
	at := time.UnixMilli(closeTime)
	if at.After(ceiling) {
		at = ceiling
	}
	return market.Sample{At: at, Value: price}, nil
}

var (
	_ CryptoPriceFetcher   = (*Binance)(nil)
	_ CryptoHistoryFetcher = (*Binance)(nil)
)
