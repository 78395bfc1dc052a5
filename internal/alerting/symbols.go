package alerting

import (
	"strings"

	"pricehub/internal/market"
	"pricehub/internal/storage"
)

// PriceKey identifies the quote an alert watches: "crypto:BTC", "forex:USD:EUR",
// "ves:oficial". Alerts sharing a key share one pre-fetch.
func PriceKey(alert storage.Alert) (string, bool) {
	switch alert.Type {
	case storage.AlertTypeCrypto:
		symbol, err := market.NormalizeSymbol(alert.Symbol)
		if err != nil {
			return "", false
		}
		return "crypto:" + symbol, true
	case storage.AlertTypeForex:
		from, to, ok := forexPair(alert.Symbol)
		if !ok {
			return "", false
		}
		return "forex:" + from + ":" + to, true
	case storage.AlertTypeVES:
		series, ok := vesSeries(alert.Symbol)
		if !ok {
			return "", false
		}
		return "ves:" + string(series), true
	}
	return "", false
}

func forexPair(symbol string) (string, string, bool) {
	from, to, err := market.ParsePair(symbol)
	return from, to, err == nil
}

func vesSeries(symbol string) (market.VESSeries, bool) {
	if strings.TrimSpace(symbol) == "" {
		return "", false
	}
	series, err := market.ParseVESSeries(symbol)
	return series, err == nil
}
