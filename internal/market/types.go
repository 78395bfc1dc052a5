package market

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// quotes are served as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true
}

// DateLayout is the calendar-day format used by history points.
const DateLayout = "2006-01-02"

// Source identifiers attached to quotes.
const (
	SourceBinance     = "binance"
	SourceCoinGecko   = "coingecko"
	SourceChainlink   = "chainlink"
	SourceFrankfurter = "frankfurter"
	SourceDolarAPI    = "dolarapi"
	SourceIdentity    = "identity"
)

// CryptoQuote is a normalized spot price for one asset.
type CryptoQuote struct {
	Symbol    string           `json:"symbol"`
	Price     decimal.Decimal  `json:"price"`
	Currency  string           `json:"currency"`
	Change24h *decimal.Decimal `json:"change24h,omitempty"`
	Source    string           `json:"source"`
	Timestamp time.Time        `json:"timestamp"`
}

// ForexQuote is a normalized fiat exchange rate. Date is the upstream publication date.
type ForexQuote struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Rate      decimal.Decimal `json:"rate"`
	Date      string          `json:"date,omitempty"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
}

// VESQuote carries both bolívar-per-dollar series.
type VESQuote struct {
	Oficial   decimal.Decimal `json:"oficial"`
	Paralelo  decimal.Decimal `json:"paralelo"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
}

// Sample is one raw upstream observation before daily bucketing.
type Sample struct {
	At    time.Time
	Value decimal.Decimal
}

// HistoryPoint is the single value retained for a calendar day.
type HistoryPoint struct {
	Date  string          `json:"date"`
	Value decimal.Decimal `json:"value"`
}

// VESHistoryPoint holds both series for one day plus EUR-derived values when a USD→EUR
// rate was available for that day.
type VESHistoryPoint struct {
	Date        string           `json:"date"`
	Oficial     decimal.Decimal  `json:"oficial"`
	Paralelo    decimal.Decimal  `json:"paralelo"`
	OficialEUR  *decimal.Decimal `json:"oficialEur,omitempty"`
	ParaleloEUR *decimal.Decimal `json:"paraleloEur,omitempty"`
}

// VESSeries names a bolívar rate series.
type VESSeries string

const (
	SeriesOficial  VESSeries = "oficial"
	SeriesParalelo VESSeries = "paralelo"
)

// Value returns the rate of the named series.
func (q VESQuote) Value(series VESSeries) decimal.Decimal {
	if series == SeriesParalelo {
		return q.Paralelo
	}
	return q.Oficial
}
