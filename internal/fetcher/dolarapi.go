package fetcher

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pricehub/internal/market"
)

const (
	dolarAPICurrentPath = "/v1/dolares"
	dolarAPIHistoryPath = "/v1/historicos/dolares"
)

// DolarAPI queries the bolívar rate aggregator.
type DolarAPI struct {
	client      *Client
	baseURL     string
	longTimeout time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

// DolarAPIOptions parameterise the VES adapter.
type DolarAPIOptions struct {
	BaseURL            string
	HistoryLongTimeout time.Duration
}

// NewDolarAPI constructs the VES adapter.
func NewDolarAPI(client *Client, opts DolarAPIOptions, logger zerolog.Logger) *DolarAPI {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://ve.dolarapi.com"
	}
	return &DolarAPI{
		client:      client,
		baseURL:     baseURL,
		longTimeout: opts.HistoryLongTimeout,
		now:         time.Now,
		logger:      logger.With().Str("component", "dolarapi").Logger(),
	}
}

// Name identifies the adapter.
func (d *DolarAPI) Name() string { return market.SourceDolarAPI }

type dolarAPIRate struct {
	Fuente             string   `json:"fuente"`
	Nombre             string   `json:"nombre"`
	Promedio           *float64 `json:"promedio"`
	Fecha              string   `json:"fecha"`
	FechaActualizacion string   `json:"fechaActualizacion"`
}

// series resolves which bolívar series an entry belongs to, matching id or display name.
func (r dolarAPIRate) series() (market.VESSeries, bool) {
	for _, name := range []string{r.Fuente, r.Nombre} {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case string(market.SeriesOficial):
			return market.SeriesOficial, true
		case string(market.SeriesParalelo):
			return market.SeriesParalelo, true
		}
	}
	return "", false
}

// FetchVES selects the oficial and paralelo series. A missing series reads as zero; a
// response carrying neither, or only non-positive values, is a failure.
func (d *DolarAPI) FetchVES(ctx context.Context) (market.VESQuote, bool) {
	rows, ok := FetchJSON[[]dolarAPIRate](ctx, d.client, d.baseURL+dolarAPICurrentPath, d.client.DefaultPolicy().Labelled("dolarapi.current"))
	if !ok {
		return market.VESQuote{}, false
	}

	quote := market.VESQuote{Source: d.Name(), Timestamp: d.now().UTC()}
	found := false
	for _, row := range rows {
		series, ok := row.series()
		if !ok {
			continue
		}
		value, ok := positiveDecimal(row.Promedio)
		if !ok {
			value = decimal.Zero
		}
		found = true
		if series == market.SeriesOficial {
			quote.Oficial = value
		} else {
			quote.Paralelo = value
		}
	}

	if !found {
		d.logger.Warn().Int("rows", len(rows)).Msg("no oficial or paralelo series in response")
		return market.VESQuote{}, false
	}
	if !quote.Oficial.IsPositive() && !quote.Paralelo.IsPositive() {
		d.logger.Warn().Msg("both series non-positive")
		return market.VESQuote{}, false
	}
	return quote, true
}

// FetchVESHistory reads the full historic series and keeps samples inside window.
func (d *DolarAPI) FetchVESHistory(ctx context.Context, window Window) (VESSeriesSamples, bool) {
	policy := historyPolicy(d.client.DefaultPolicy(), window, d.longTimeout).Labelled("dolarapi.history")
	rows, ok := FetchJSON[[]dolarAPIRate](ctx, d.client, d.baseURL+dolarAPIHistoryPath, policy)
	if !ok {
		return VESSeriesSamples{}, false
	}

	from := window.From.UTC().Truncate(24 * time.Hour)
	until := window.To.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	var out VESSeriesSamples
	for _, row := range rows {
		series, ok := row.series()
		if !ok {
			continue
		}
		value, ok := positiveDecimal(row.Promedio)
		if !ok {
			continue
		}
		at, ok := parseDolarAPITime(row.Fecha)
		if !ok {
			at, ok = parseDolarAPITime(row.FechaActualizacion)
		}
		if !ok || at.Before(from) || !at.Before(until) {
			continue
		}
		sample := market.Sample{At: at, Value: value}
		if series == market.SeriesOficial {
			out.Oficial = append(out.Oficial, sample)
		} else {
			out.Paralelo = append(out.Paralelo, sample)
		}
	}

	if len(out.Oficial) == 0 && len(out.Paralelo) == 0 {
		return VESSeriesSamples{}, false
	}
	return out, true
}

// parseDolarAPITime accepts full timestamps and bare dates; bare dates land at noon UTC.
func parseDolarAPITime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse(market.DateLayout, raw); err == nil {
		return t.Add(12 * time.Hour), true
	}
	return time.Time{}, false
}

var _ VESFetcher = (*DolarAPI)(nil)
