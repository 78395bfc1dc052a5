package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"pricehub/internal/cache"
	"pricehub/internal/market"
)

// PriceOptions configure the price command. Kind is crypto, forex or ves.
type PriceOptions struct {
	Kind     string
	Symbols  []string
	Currency string
	From     string
	To       string
}

// Price fetches current quotes through the same fallback chains the API uses and prints
// them as a table.
func (a *App) Price(ctx context.Context, out io.Writer, opts PriceOptions) error {
	svc := a.newService(cache.NewMemory())
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer writer.Flush()

	switch strings.ToLower(opts.Kind) {
	case "crypto":
		quotes, _, err := svc.CryptoPrices(ctx, opts.Symbols, opts.Currency)
		if err != nil {
			return err
		}
		fmt.Fprintln(writer, "Symbol\tPrice\tCurrency\t24h%\tSource\tTime (UTC)")
		for _, q := range quotes {
			change := "-"
			if q.Change24h != nil {
				change = formatDecimal(*q.Change24h, 2)
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
				q.Symbol, formatRate(q.Price), q.Currency, change, q.Source, q.Timestamp.UTC().Format(time.RFC3339))
		}
		if len(quotes) < len(opts.Symbols) {
			a.Logger.Warn().Int("requested", len(opts.Symbols)).Int("found", len(quotes)).Msg("some symbols had no quote")
		}
	case "forex":
		q, _, err := svc.ForexRate(ctx, opts.From, opts.To)
		if err != nil {
			return err
		}
		fmt.Fprintln(writer, "Pair\tRate\tDate\tSource")
		fmt.Fprintf(writer, "%s/%s\t%s\t%s\t%s\n", q.From, q.To, formatRate(q.Rate), q.Date, q.Source)
	case "ves":
		q, _, err := svc.VESRate(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(writer, "Series\tBs/USD\tSource\tTime (UTC)")
		for _, s := range []market.VESSeries{market.SeriesOficial, market.SeriesParalelo} {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", s, formatDecimal(q.Value(s), 2), q.Source, q.Timestamp.UTC().Format(time.RFC3339))
		}
	default:
		return fmt.Errorf("%w: kind %q (want crypto, forex or ves)", market.ErrInvalidParam, opts.Kind)
	}
	return nil
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

// formatRate keeps sub-unit rates readable.
func formatRate(d decimal.Decimal) string {
	if d.Abs().LessThan(decimal.NewFromInt(1)) {
		return d.StringFixed(6)
	}
	return d.StringFixed(2)
}
