package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pricehub/internal/alerting"
	"pricehub/internal/cache"
	"pricehub/internal/market"
	"pricehub/internal/storage"
)

// SimulateOptions describe an ad-hoc alert to evaluate.
type SimulateOptions struct {
	Type      string
	Symbol    string
	Threshold decimal.Decimal
	Direction string
	// Price overrides the live quote when set.
	Price *decimal.Decimal
	// Token, when set, receives the rendered push for real.
	Token string
}

// SimulateAlert 构造一条临时告警并按正常流程评估，可选地推送到指定设备。
func (a *App) SimulateAlert(ctx context.Context, out io.Writer, opts SimulateOptions) error {
	alert, err := buildAlert(opts.Type, opts.Symbol, opts.Threshold, opts.Direction)
	if err != nil {
		return err
	}
	alert.ID = "simulated"
	alert.UserID = "simulated"

	var current decimal.Decimal
	if opts.Price != nil {
		current = *opts.Price
	} else {
		price, err := a.livePrice(ctx, alert)
		if err != nil {
			return err
		}
		current = price
	}

	fired := alerting.Evaluate(time.Now().UTC(), []storage.Alert{alert}, func(storage.Alert) (decimal.Decimal, bool) {
		return current, true
	}, a.Config.Alerting.Cooldown)
	if len(fired) == 0 {
		fmt.Fprintf(out, "not triggered: current %s, %s %s\n", current, alert.Direction, alert.Threshold)
		return nil
	}

	token := opts.Token
	if token == "" {
		token = "ExponentPushToken[simulated]"
	}
	messages := alerting.BuildMessages(alert, current, []storage.PushToken{{Token: token}})
	for _, m := range messages {
		fmt.Fprintf(out, "triggered\ntitle: %s\nbody:  %s\n", m.Title, m.Body)
	}
	if opts.Token == "" {
		return nil
	}

	tickets, err := a.newPusher().Send(ctx, messages)
	if err != nil {
		return err
	}
	for _, t := range tickets {
		if !t.OK() {
			return errors.New("push rejected: " + t.Message)
		}
	}
	fmt.Fprintln(out, "push accepted")
	return nil
}

// buildAlert validates the user-facing alert fields.
func buildAlert(typ, symbol string, threshold decimal.Decimal, direction string) (storage.Alert, error) {
	alert := storage.Alert{
		Type:      storage.AlertType(strings.ToLower(typ)),
		Symbol:    strings.TrimSpace(symbol),
		Threshold: threshold,
		Direction: storage.Direction(strings.ToLower(direction)),
		Enabled:   true,
	}
	if !alert.Type.Valid() {
		return storage.Alert{}, fmt.Errorf("%w: alert type %q", market.ErrInvalidParam, typ)
	}
	if !alert.Direction.Valid() {
		return storage.Alert{}, fmt.Errorf("%w: direction %q", market.ErrInvalidParam, direction)
	}
	if _, ok := alerting.PriceKey(alert); !ok {
		return storage.Alert{}, fmt.Errorf("%w: symbol %q for %s alert", market.ErrInvalidParam, symbol, alert.Type)
	}
	return alert, nil
}

func (a *App) livePrice(ctx context.Context, alert storage.Alert) (decimal.Decimal, error) {
	svc := a.newService(cache.NewMemory())
	switch alert.Type {
	case storage.AlertTypeCrypto:
		q, _, err := svc.CryptoPrice(ctx, alert.Symbol, "USD")
		return q.Price, err
	case storage.AlertTypeForex:
		from, to, err := market.ParsePair(alert.Symbol)
		if err != nil {
			return decimal.Decimal{}, err
		}
		q, _, err := svc.ForexRate(ctx, from, to)
		return q.Rate, err
	default:
		series, err := market.ParseVESSeries(alert.Symbol)
		if err != nil {
			return decimal.Decimal{}, err
		}
		q, _, err := svc.VESRate(ctx)
		return q.Value(series), err
	}
}
