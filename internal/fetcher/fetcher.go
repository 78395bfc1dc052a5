package fetcher

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pricehub/internal/market"
)

// CryptoPriceFetcher retrieves a spot price for symbol quoted in currency.
type CryptoPriceFetcher interface {
	Name() string
	FetchCryptoPrice(ctx context.Context, symbol, currency string) (market.CryptoQuote, bool)
}

// CryptoHistoryFetcher retrieves raw price samples inside a window.
type CryptoHistoryFetcher interface {
	Name() string
	FetchCryptoHistory(ctx context.Context, symbol, currency string, window Window) ([]market.Sample, bool)
}

// ForexFetcher retrieves fiat rates.
type ForexFetcher interface {
	Name() string
	FetchRate(ctx context.Context, from, to string) (market.ForexQuote, bool)
	FetchRateHistory(ctx context.Context, from, to string, window Window) ([]market.Sample, bool)
}

// VESFetcher retrieves bolívar rates.
type VESFetcher interface {
	Name() string
	FetchVES(ctx context.Context) (market.VESQuote, bool)
	FetchVESHistory(ctx context.Context, window Window) (VESSeriesSamples, bool)
}

// VESSeriesSamples holds the raw samples of both bolívar series.
type VESSeriesSamples struct {
	Oficial  []market.Sample
	Paralelo []market.Sample
}

// Window is an inclusive history range of Days calendar days ending at To.
type Window struct {
	From time.Time
	To   time.Time
	Days int
}

// NewWindow builds the window [now - days, now].
func NewWindow(now time.Time, days int) Window {
	return Window{From: now.AddDate(0, 0, -days), To: now, Days: days}
}

// Long reports whether the window warrants the extended fetch policy.
func (w Window) Long() bool {
	return w.Days >= 30
}

// historyPolicy grants wide windows a longer timeout and one extra retry.
func historyPolicy(base Policy, window Window, longTimeout time.Duration) Policy {
	if !window.Long() {
		return base
	}
	timeout := longTimeout
	if timeout < base.Timeout {
		timeout = base.Timeout
	}
	return base.WithRetries(base.Retries+1, timeout)
}

// positiveDecimal converts an upstream float, rejecting absent, NaN, infinite and non-positive values.
func positiveDecimal(v *float64) (decimal.Decimal, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v <= 0 {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(*v), true
}

func finiteDecimal(v float64) (decimal.Decimal, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(v), true
}

// parsePositive converts an upstream decimal string with the same rules as positiveDecimal.
func parsePositive(raw string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}
