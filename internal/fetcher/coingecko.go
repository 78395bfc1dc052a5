package fetcher

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pricehub/internal/market"
)

// coinGeckoIDs maps tickers onto the aggregator's canonical coin ids.
var coinGeckoIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"USDT":  "tether",
	"USDC":  "usd-coin",
	"BNB":   "binancecoin",
	"SOL":   "solana",
	"XRP":   "ripple",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
	"TRX":   "tron",
	"DOT":   "polkadot",
	"MATIC": "matic-network",
	"LTC":   "litecoin",
	"AVAX":  "avalanche-2",
	"LINK":  "chainlink",
	"SHIB":  "shiba-inu",
	"XLM":   "stellar",
	"ATOM":  "cosmos",
	"BCH":   "bitcoin-cash",
	"DAI":   "dai",
	"TON":   "the-open-network",
}

// CoinGeckoID returns the canonical id for symbol.
func CoinGeckoID(symbol string) (string, bool) {
	id, ok := coinGeckoIDs[strings.ToUpper(symbol)]
	return id, ok
}

// CoinGecko queries the public aggregator API.
type CoinGecko struct {
	client      *Client
	baseURL     string
	longTimeout time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

// CoinGeckoOptions parameterise the CoinGecko adapter.
type CoinGeckoOptions struct {
	BaseURL            string
	HistoryLongTimeout time.Duration
}

// NewCoinGecko constructs a CoinGecko adapter.
func NewCoinGecko(client *Client, opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	return &CoinGecko{
		client:      client,
		baseURL:     baseURL,
		longTimeout: opts.HistoryLongTimeout,
		now:         time.Now,
		logger:      logger.With().Str("component", "coingecko").Logger(),
	}
}

// Name identifies the adapter.
func (g *CoinGecko) Name() string { return market.SourceCoinGecko }

// FetchCryptoPrice reads /simple/price. Unknown symbols fail without a request.
func (g *CoinGecko) FetchCryptoPrice(ctx context.Context, symbol, currency string) (market.CryptoQuote, bool) {
	id, ok := CoinGeckoID(symbol)
	if !ok {
		return market.CryptoQuote{}, false
	}
	vs := strings.ToLower(currency)

	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", vs)
	q.Set("include_24hr_change", "true")
	endpoint := g.baseURL + "/simple/price?" + q.Encode()

	body, ok := FetchJSON[map[string]map[string]*float64](ctx, g.client, endpoint, g.client.DefaultPolicy().Labelled("coingecko.price:"+id))
	if !ok {
		return market.CryptoQuote{}, false
	}

	fields := body[id]
	price, ok := positiveDecimal(fields[vs])
	if !ok {
		g.logger.Warn().Str("id", id).Str("currency", vs).Msg("price missing from response")
		return market.CryptoQuote{}, false
	}

	quote := market.CryptoQuote{
		Symbol:    strings.ToUpper(symbol),
		Price:     price,
		Currency:  strings.ToUpper(currency),
		Source:    g.Name(),
		Timestamp: g.now().UTC(),
	}
	if change := fields[vs+"_24h_change"]; change != nil {
		if d, ok := finiteDecimal(*change); ok {
			quote.Change24h = &d
		}
	}
	return quote, true
}

type coinGeckoRange struct {
	Prices [][]float64 `json:"prices"`
}

// FetchCryptoHistory reads /coins/{id}/market_chart/range for the window.
func (g *CoinGecko) FetchCryptoHistory(ctx context.Context, symbol, currency string, window Window) ([]market.Sample, bool) {
	id, ok := CoinGeckoID(symbol)
	if !ok {
		return nil, false
	}

	q := url.Values{}
	q.Set("vs_currency", strings.ToLower(currency))
	q.Set("from", strconv.FormatInt(window.From.Unix(), 10))
	q.Set("to", strconv.FormatInt(window.To.Unix(), 10))
	endpoint := g.baseURL + "/coins/" + url.PathEscape(id) + "/market_chart/range?" + q.Encode()

	policy := historyPolicy(g.client.DefaultPolicy(), window, g.longTimeout).Labelled("coingecko.range:" + id)
	body, ok := FetchJSON[coinGeckoRange](ctx, g.client, endpoint, policy)
	if !ok {
		return nil, false
	}

	samples := make([]market.Sample, 0, len(body.Prices))
	for _, point := range body.Prices {
		if len(point) < 2 {
			continue
		}
		value, ok := positiveDecimal(&point[1])
		if !ok {
			continue
		}
		samples = append(samples, market.Sample{At: time.UnixMilli(int64(point[0])), Value: value})
	}
	if len(samples) == 0 {
		return nil, false
	}
	return samples, true
}

var (
	_ CryptoPriceFetcher   = (*CoinGecko)(nil)
	_ CryptoHistoryFetcher = (*CoinGecko)(nil)
)
