package fetcher

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pricehub/internal/market"
)

// Frankfurter queries the ECB reference-rate API.
type Frankfurter struct {
	client      *Client
	baseURL     string
	longTimeout time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

// FrankfurterOptions parameterise the forex adapter.
type FrankfurterOptions struct {
	BaseURL            string
	HistoryLongTimeout time.Duration
}

// NewFrankfurter constructs the forex adapter.
func NewFrankfurter(client *Client, opts FrankfurterOptions, logger zerolog.Logger) *Frankfurter {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.frankfurter.app"
	}
	return &Frankfurter{
		client:      client,
		baseURL:     baseURL,
		longTimeout: opts.HistoryLongTimeout,
		now:         time.Now,
		logger:      logger.With().Str("component", "frankfurter").Logger(),
	}
}

// Name identifies the adapter.
func (f *Frankfurter) Name() string { return market.SourceFrankfurter }

type frankfurterLatest struct {
	Base  string              `json:"base"`
	Date  string              `json:"date"`
	Rates map[string]*float64 `json:"rates"`
}

type frankfurterSeries struct {
	Base  string                         `json:"base"`
	Rates map[string]map[string]*float64 `json:"rates"`
}

// FetchRate reads the latest published rate.
func (f *Frankfurter) FetchRate(ctx context.Context, from, to string) (market.ForexQuote, bool) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)

	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)
	endpoint := f.baseURL + "/latest?" + q.Encode()

	body, ok := FetchJSON[frankfurterLatest](ctx, f.client, endpoint, f.client.DefaultPolicy().Labelled("frankfurter.latest:"+from+to))
	if !ok {
		return market.ForexQuote{}, false
	}
	rate, ok := positiveDecimal(body.Rates[to])
	if !ok {
		f.logger.Warn().Str("from", from).Str("to", to).Msg("rate missing from response")
		return market.ForexQuote{}, false
	}

	return market.ForexQuote{
		From:      from,
		To:        to,
		Rate:      rate,
		Date:      body.Date,
		Source:    f.Name(),
		Timestamp: f.now().UTC(),
	}, true
}

// FetchRateHistory reads the /{start}..{end} time series. Each publication date becomes a
// sample at noon UTC so it keeps its calendar day in any timezone within ±11h.
func (f *Frankfurter) FetchRateHistory(ctx context.Context, from, to string, window Window) ([]market.Sample, bool) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)

	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)
	span := window.From.UTC().Format(market.DateLayout) + ".." + window.To.UTC().Format(market.DateLayout)
	endpoint := f.baseURL + "/" + span + "?" + q.Encode()

	policy := historyPolicy(f.client.DefaultPolicy(), window, f.longTimeout).Labelled("frankfurter.series:" + from + to)
	body, ok := FetchJSON[frankfurterSeries](ctx, f.client, endpoint, policy)
	if !ok {
		return nil, false
	}

	samples := make([]market.Sample, 0, len(body.Rates))
	for date, rates := range body.Rates {
		day, err := time.Parse(market.DateLayout, date)
		if err != nil {
			continue
		}
		rate, ok := positiveDecimal(rates[to])
		if !ok {
			continue
		}
		samples = append(samples, market.Sample{At: day.Add(12 * time.Hour), Value: rate})
	}
	if len(samples) == 0 {
		return nil, false
	}
	return samples, true
}

var _ ForexFetcher = (*Frankfurter)(nil)
