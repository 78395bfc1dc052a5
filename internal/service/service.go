package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"pricehub/internal/cache"
	"pricehub/internal/fetcher"
	"pricehub/internal/market"
)

// MaxBatchSymbols bounds a batch price request.
const MaxBatchSymbols = 50

// CacheStatus reports whether a response was served from cache.
type CacheStatus string

const (
	CacheHit  CacheStatus = "HIT"
	CacheMiss CacheStatus = "MISS"
)

// Providers lists the upstream adapters in priority order.
type Providers struct {
	CryptoPrice   []fetcher.CryptoPriceFetcher
	CryptoHistory []fetcher.CryptoHistoryFetcher
	Forex         fetcher.ForexFetcher
	VES           fetcher.VESFetcher
}

// Options tune caching, bucketing and fan-out.
type Options struct {
	PriceTTL        time.Duration
	HistoryShortTTL time.Duration
	HistoryLongTTL  time.Duration
	Location        *time.Location
	Concurrency     int
}

type pairQuery struct {
	Symbol   string
	Currency string
	Window   fetcher.Window
}

// Service is the single entry point for quotes and history: validation, clamping,
// cache-aside and fallback chains.
type Service struct {
	cache         cache.Cache
	cryptoPrice   *Chain[pairQuery, market.CryptoQuote]
	cryptoHistory *Chain[pairQuery, []market.Sample]
	forex         fetcher.ForexFetcher
	ves           fetcher.VESFetcher
	opts          Options
	now           func() time.Time
	logger        zerolog.Logger
}

// New wires providers and cache into a Service.
func New(providers Providers, c cache.Cache, opts Options, logger zerolog.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.PriceTTL <= 0 {
		opts.PriceTTL = time.Minute
	}
	if opts.HistoryShortTTL <= 0 {
		opts.HistoryShortTTL = 5 * time.Minute
	}
	if opts.HistoryLongTTL <= 0 {
		opts.HistoryLongTTL = 24 * time.Hour
	}

	priceSteps := make([]Step[pairQuery, market.CryptoQuote], 0, len(providers.CryptoPrice))
	for _, p := range providers.CryptoPrice {
		priceSteps = append(priceSteps, Step[pairQuery, market.CryptoQuote]{
			Name: p.Name(),
			Fetch: func(ctx context.Context, q pairQuery) (market.CryptoQuote, bool) {
				return p.FetchCryptoPrice(ctx, q.Symbol, q.Currency)
			},
		})
	}
	historySteps := make([]Step[pairQuery, []market.Sample], 0, len(providers.CryptoHistory))
	for _, p := range providers.CryptoHistory {
		historySteps = append(historySteps, Step[pairQuery, []market.Sample]{
			Name: p.Name(),
			Fetch: func(ctx context.Context, q pairQuery) ([]market.Sample, bool) {
				return p.FetchCryptoHistory(ctx, q.Symbol, q.Currency, q.Window)
			},
		})
	}

	return &Service{
		cache:         c,
		cryptoPrice:   NewChain("crypto_price", logger, priceSteps...),
		cryptoHistory: NewChain("crypto_history", logger, historySteps...),
		forex:         providers.Forex,
		ves:           providers.VES,
		opts:          opts,
		now:           time.Now,
		logger:        logger.With().Str("component", "service").Logger(),
	}
}

// Location is the timezone used for daily bucketing.
func (s *Service) Location() *time.Location {
	return s.opts.Location
}

func (s *Service) historyTTL(days int) time.Duration {
	if days >= 30 {
		return s.opts.HistoryLongTTL
	}
	return s.opts.HistoryShortTTL
}

// cached runs the cache-aside flow around load. Failed loads are never stored.
func cached[T any](ctx context.Context, s *Service, key string, ttl time.Duration, load func() (T, error)) (T, CacheStatus, error) {
	if v, ok := cache.GetJSON[T](ctx, s.cache, key); ok {
		return v, CacheHit, nil
	}
	v, err := load()
	if err != nil {
		return v, CacheMiss, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, v, ttl); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache store failed")
	}
	return v, CacheMiss, nil
}

// CryptoPrice returns the spot price of symbol in currency.
func (s *Service) CryptoPrice(ctx context.Context, symbol, currency string) (market.CryptoQuote, CacheStatus, error) {
	symbol, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return market.CryptoQuote{}, CacheMiss, err
	}
	currency, err = normalizeCurrencyOrDefault(currency, "USD")
	if err != nil {
		return market.CryptoQuote{}, CacheMiss, err
	}

	key := cache.Key("crypto", "price", symbol, currency)
	return cached(ctx, s, key, s.opts.PriceTTL, func() (market.CryptoQuote, error) {
		quote, _, ok := s.cryptoPrice.Run(ctx, pairQuery{Symbol: symbol, Currency: currency})
		if !ok {
			return market.CryptoQuote{}, fmt.Errorf("%w: no price for %s/%s", market.ErrNotFound, symbol, currency)
		}
		return quote, nil
	})
}

// CryptoPrices fans out one lookup per distinct symbol. Malformed and failed symbols are
// dropped; the result keeps request order.
func (s *Service) CryptoPrices(ctx context.Context, symbols []string, currency string) ([]market.CryptoQuote, CacheStatus, error) {
	currency, err := normalizeCurrencyOrDefault(currency, "USD")
	if err != nil {
		return nil, CacheMiss, err
	}

	distinct := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, raw := range symbols {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		symbol, err := market.NormalizeSymbol(raw)
		if err != nil {
			s.logger.Debug().Err(err).Msg("skip malformed batch symbol")
			continue
		}
		if _, dup := seen[symbol]; dup {
			continue
		}
		seen[symbol] = struct{}{}
		distinct = append(distinct, symbol)
	}
	if len(distinct) == 0 {
		return nil, CacheMiss, fmt.Errorf("%w: no valid symbols", market.ErrInvalidParam)
	}
	if len(distinct) > MaxBatchSymbols {
		return nil, CacheMiss, fmt.Errorf("%w: at most %d symbols", market.ErrInvalidParam, MaxBatchSymbols)
	}

	results := make([]*market.CryptoQuote, len(distinct))
	var (
		mu     sync.Mutex
		allHit = true
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, symbol := range distinct {
		g.Go(func() error {
			quote, status, err := s.CryptoPrice(gctx, symbol, currency)
			mu.Lock()
			defer mu.Unlock()
			if status != CacheHit {
				allHit = false
			}
			if err != nil {
				s.logger.Debug().Err(err).Str("symbol", symbol).Msg("batch member failed")
				return nil
			}
			results[i] = &quote
			return nil
		})
	}
	_ = g.Wait()

	quotes := make([]market.CryptoQuote, 0, len(results))
	for _, q := range results {
		if q != nil {
			quotes = append(quotes, *q)
		}
	}
	status := CacheMiss
	if allHit {
		status = CacheHit
	}
	return quotes, status, nil
}

// CryptoHistory returns one point per day over the clamped window.
func (s *Service) CryptoHistory(ctx context.Context, symbol, currency string, days int) ([]market.HistoryPoint, CacheStatus, error) {
	symbol, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return nil, CacheMiss, err
	}
	currency, err = normalizeCurrencyOrDefault(currency, "USD")
	if err != nil {
		return nil, CacheMiss, err
	}
	days = market.CryptoDays.Clamp(days)

	key := cache.Key("crypto", "history", symbol, currency, days)
	return cached(ctx, s, key, s.historyTTL(days), func() ([]market.HistoryPoint, error) {
		q := pairQuery{Symbol: symbol, Currency: currency, Window: fetcher.NewWindow(s.now(), days)}
		samples, _, ok := s.cryptoHistory.Run(ctx, q)
		points := BucketDaily(samples, s.opts.Location)
		if !ok || len(points) == 0 {
			return nil, fmt.Errorf("%w: no history for %s/%s", market.ErrNotFound, symbol, currency)
		}
		return points, nil
	})
}

// ForexRate returns the latest from→to rate. Equal currencies short-circuit to 1.
func (s *Service) ForexRate(ctx context.Context, from, to string) (market.ForexQuote, CacheStatus, error) {
	from, to, err := normalizePair(from, to)
	if err != nil {
		return market.ForexQuote{}, CacheMiss, err
	}
	if from == to {
		now := s.now().UTC()
		return market.ForexQuote{
			From:      from,
			To:        to,
			Rate:      decimal.NewFromInt(1),
			Date:      now.In(s.opts.Location).Format(market.DateLayout),
			Source:    market.SourceIdentity,
			Timestamp: now,
		}, CacheMiss, nil
	}

	key := cache.Key("forex", "rate", from, to)
	return cached(ctx, s, key, s.opts.PriceTTL, func() (market.ForexQuote, error) {
		if s.forex == nil {
			return market.ForexQuote{}, fmt.Errorf("%w: forex provider not configured", market.ErrNotFound)
		}
		quote, ok := s.forex.FetchRate(ctx, from, to)
		if !ok {
			return market.ForexQuote{}, fmt.Errorf("%w: no rate for %s/%s", market.ErrNotFound, from, to)
		}
		return quote, nil
	})
}

// ForexHistory returns one rate per publication day over the clamped window.
func (s *Service) ForexHistory(ctx context.Context, from, to string, days int) ([]market.HistoryPoint, CacheStatus, error) {
	from, to, err := normalizePair(from, to)
	if err != nil {
		return nil, CacheMiss, err
	}
	days = market.ForexDays.Clamp(days)
	if from == to {
		return identitySeries(s.now(), days, s.opts.Location), CacheMiss, nil
	}

	key := cache.Key("forex", "history", from, to, days)
	return cached(ctx, s, key, s.historyTTL(days), func() ([]market.HistoryPoint, error) {
		if s.forex == nil {
			return nil, fmt.Errorf("%w: forex provider not configured", market.ErrNotFound)
		}
		samples, _ := s.forex.FetchRateHistory(ctx, from, to, fetcher.NewWindow(s.now(), days))
		points := BucketDaily(samples, s.opts.Location)
		if len(points) == 0 {
			return nil, fmt.Errorf("%w: no history for %s/%s", market.ErrNotFound, from, to)
		}
		return points, nil
	})
}

// VESRate returns both bolívar series.
func (s *Service) VESRate(ctx context.Context) (market.VESQuote, CacheStatus, error) {
	return cached(ctx, s, cache.Key("ves", "rate"), s.opts.PriceTTL, func() (market.VESQuote, error) {
		if s.ves == nil {
			return market.VESQuote{}, fmt.Errorf("%w: ves provider not configured", market.ErrUpstreamUnavailable)
		}
		quote, ok := s.ves.FetchVES(ctx)
		if !ok {
			return market.VESQuote{}, fmt.Errorf("%w: ves rates", market.ErrUpstreamUnavailable)
		}
		return quote, nil
	})
}

// VESHistory returns both series per day, with EUR-derived values where a USD→EUR rate
// exists for the day.
func (s *Service) VESHistory(ctx context.Context, days int) ([]market.VESHistoryPoint, CacheStatus, error) {
	days = market.VESDays.Clamp(days)

	key := cache.Key("ves", "history", days)
	return cached(ctx, s, key, s.historyTTL(days), func() ([]market.VESHistoryPoint, error) {
		if s.ves == nil {
			return nil, fmt.Errorf("%w: ves provider not configured", market.ErrUpstreamUnavailable)
		}
		window := fetcher.NewWindow(s.now(), days)

		var (
			series fetcher.VESSeriesSamples
			ok     bool
			eur    []market.HistoryPoint
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			series, ok = s.ves.FetchVESHistory(gctx, window)
			return nil
		})
		g.Go(func() error {
			points, _, err := s.ForexHistory(gctx, "USD", "EUR", days)
			if err != nil {
				s.logger.Debug().Err(err).Msg("usd/eur history unavailable, eur values omitted")
				return nil
			}
			eur = points
			return nil
		})
		_ = g.Wait()

		if !ok {
			return nil, fmt.Errorf("%w: ves history", market.ErrUpstreamUnavailable)
		}
		points := MergeVESHistory(series.Oficial, series.Paralelo, eur, s.opts.Location)
		if len(points) == 0 {
			return nil, fmt.Errorf("%w: ves history empty", market.ErrUpstreamUnavailable)
		}
		return points, nil
	})
}

func normalizeCurrencyOrDefault(raw, fallback string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	return market.NormalizeCurrency(raw)
}

func normalizePair(from, to string) (string, string, error) {
	from, err := market.NormalizeCurrency(from)
	if err != nil {
		return "", "", err
	}
	to, err = market.NormalizeCurrency(to)
	if err != nil {
		return "", "", err
	}
	return from, to, nil
}
