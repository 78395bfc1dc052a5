package alerting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pricehub/internal/storage"
)

// BuildMessages renders one push message per device token for a fired alert.
func BuildMessages(alert storage.Alert, current decimal.Decimal, tokens []storage.PushToken) []Message {
	title, body := renderMessage(alert, current)
	data := map[string]any{
		"alertId":   alert.ID,
		"type":      string(alert.Type),
		"symbol":    alert.Symbol,
		"direction": string(alert.Direction),
		"threshold": alert.Threshold.String(),
		"current":   current.String(),
	}

	messages := make([]Message, 0, len(tokens))
	for _, t := range tokens {
		messages = append(messages, Message{
			To:    t.Token,
			Title: title,
			Body:  body,
			Data:  data,
			Sound: "default",
		})
	}
	return messages
}

func renderMessage(alert storage.Alert, current decimal.Decimal) (string, string) {
	label, unit := describe(alert)

	verb := "rose above"
	if alert.Direction == storage.DirectionBelow {
		verb = "fell below"
	}

	title := fmt.Sprintf("%s %s %s", label, verb, formatPrice(alert.Threshold))
	body := fmt.Sprintf("%s is now %s %s (alert %s %s)",
		label, formatPrice(current), unit, alert.Direction, formatPrice(alert.Threshold))
	return title, strings.TrimSpace(body)
}

func describe(alert storage.Alert) (string, string) {
	switch alert.Type {
	case storage.AlertTypeCrypto:
		return strings.ToUpper(alert.Symbol), "USD"
	case storage.AlertTypeForex:
		if from, to, ok := forexPair(alert.Symbol); ok {
			return from + "/" + to, to
		}
		return strings.ToUpper(alert.Symbol), ""
	case storage.AlertTypeVES:
		if series, ok := vesSeries(alert.Symbol); ok {
			return "Dólar " + string(series), "Bs"
		}
		return "Dólar", "Bs"
	}
	return alert.Symbol, ""
}

// formatPrice keeps small rates readable and large prices short.
func formatPrice(v decimal.Decimal) string {
	if v.Abs().LessThan(decimal.NewFromInt(1)) {
		return v.Round(6).String()
	}
	return v.StringFixed(2)
}
