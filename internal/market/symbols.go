package market

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	symbolPattern   = regexp.MustCompile(`^[A-Z0-9]{1,15}$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// NormalizeSymbol upper-cases and validates a crypto ticker.
func NormalizeSymbol(raw string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	if !symbolPattern.MatchString(symbol) {
		return "", fmt.Errorf("%w: symbol %q", ErrInvalidParam, raw)
	}
	return symbol, nil
}

// NormalizeCurrency upper-cases and validates an ISO-4217 style code.
func NormalizeCurrency(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !currencyPattern.MatchString(code) {
		return "", fmt.Errorf("%w: currency %q", ErrInvalidParam, raw)
	}
	return code, nil
}

// ParsePair accepts "USD/EUR", "USD-EUR", "USD_EUR" and "USDEUR".
func ParsePair(raw string) (string, string, error) {
	cleaned := strings.ToUpper(strings.TrimSpace(raw))
	var from, to string
	if i := strings.IndexAny(cleaned, "/-_"); i >= 0 {
		from, to = cleaned[:i], cleaned[i+1:]
	} else if len(cleaned) == 6 {
		from, to = cleaned[:3], cleaned[3:]
	} else {
		return "", "", fmt.Errorf("%w: pair %q", ErrInvalidParam, raw)
	}

	from, err := NormalizeCurrency(from)
	if err != nil {
		return "", "", err
	}
	to, err = NormalizeCurrency(to)
	if err != nil {
		return "", "", err
	}
	return from, to, nil
}

// ParseVESSeries maps user-facing names onto a bolívar series.
func ParseVESSeries(raw string) (VESSeries, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "oficial", "official", "bcv", "":
		return SeriesOficial, nil
	case "paralelo", "parallel", "monitor":
		return SeriesParalelo, nil
	default:
		return "", fmt.Errorf("%w: ves series %q", ErrInvalidParam, raw)
	}
}

// DayRange bounds the days parameter of a history domain.
type DayRange struct {
	Min     int
	Max     int
	Default int
}

// Clamp applies the default to non-positive input and bounds the result.
func (r DayRange) Clamp(days int) int {
	if days <= 0 {
		days = r.Default
	}
	if days < r.Min {
		return r.Min
	}
	if days > r.Max {
		return r.Max
	}
	return days
}

var (
	CryptoDays = DayRange{Min: 1, Max: 90, Default: 7}
	ForexDays  = DayRange{Min: 1, Max: 365, Default: 30}
	VESDays    = DayRange{Min: 1, Max: 365, Default: 30}
)
