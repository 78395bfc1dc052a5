package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"pricehub/internal/market"
	"pricehub/internal/service"
	"pricehub/internal/storage"
)

// DefaultCooldown is the minimum time between two firings of one alert.
const DefaultCooldown = time.Hour

// PriceSource supplies current quotes. *service.Service satisfies it.
type PriceSource interface {
	CryptoPrice(ctx context.Context, symbol, currency string) (market.CryptoQuote, service.CacheStatus, error)
	ForexRate(ctx context.Context, from, to string) (market.ForexQuote, service.CacheStatus, error)
	VESRate(ctx context.Context) (market.VESQuote, service.CacheStatus, error)
}

// Trigger is an alert whose condition held this tick.
type Trigger struct {
	Alert   storage.Alert
	Current decimal.Decimal
}

// Result summarises one tick.
type Result struct {
	Evaluated int  `json:"evaluated"`
	Triggered int  `json:"triggered"`
	Skipped   bool `json:"skipped,omitempty"`
}

// Options tune the evaluator.
type Options struct {
	Cooldown    time.Duration
	Concurrency int
	LockKey     int64
}

// Evaluator loads enabled alerts, resolves prices once per distinct symbol and notifies
// users whose alerts fired.
type Evaluator struct {
	alerts storage.AlertStore
	tokens storage.PushTokenStore
	prices PriceSource
	pusher Pusher
	locker storage.AdvisoryLocker
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// NewEvaluator 构造告警评估器。locker 可为 nil。
func NewEvaluator(alerts storage.AlertStore, tokens storage.PushTokenStore, prices PriceSource, pusher Pusher, locker storage.AdvisoryLocker, opts Options, logger zerolog.Logger) *Evaluator {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &Evaluator{
		alerts: alerts,
		tokens: tokens,
		prices: prices,
		pusher: pusher,
		locker: locker,
		opts:   opts,
		now:    time.Now,
		logger: logger.With().Str("component", "evaluator").Logger(),
	}
}

// Evaluate is the pure decision step: it returns the alerts that fire at now given the
// price lookup. Alerts without a resolvable price are skipped.
func Evaluate(now time.Time, alerts []storage.Alert, lookup func(storage.Alert) (decimal.Decimal, bool), cooldown time.Duration) []Trigger {
	var fired []Trigger
	for _, alert := range alerts {
		if !alert.Enabled {
			continue
		}
		current, ok := lookup(alert)
		if !ok {
			continue
		}
		if !crossed(alert, current) {
			continue
		}
		if alert.TriggeredAt != nil && now.Sub(*alert.TriggeredAt) < cooldown {
			continue
		}
		fired = append(fired, Trigger{Alert: alert, Current: current})
	}
	return fired
}

func crossed(alert storage.Alert, current decimal.Decimal) bool {
	switch alert.Direction {
	case storage.DirectionAbove:
		return current.GreaterThanOrEqual(alert.Threshold)
	case storage.DirectionBelow:
		return current.LessThanOrEqual(alert.Threshold)
	}
	return false
}

// Tick 执行一次完整的评估周期。
func (e *Evaluator) Tick(ctx context.Context) (Result, error) {
	unlock, proceed, err := e.acquireLock(ctx)
	if err != nil {
		return Result{}, err
	}
	if !proceed {
		e.logger.Debug().Msg("skip tick because advisory lock held elsewhere")
		return Result{Skipped: true}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	alerts, err := e.alerts.ListEnabledAlerts(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load enabled alerts: %w", err)
	}
	if len(alerts) == 0 {
		return Result{}, nil
	}

	now := e.now().UTC()
	prices := e.prefetch(ctx, alerts)
	lookup := func(a storage.Alert) (decimal.Decimal, bool) {
		key, ok := PriceKey(a)
		if !ok {
			return decimal.Decimal{}, false
		}
		v, ok := prices[key]
		return v, ok
	}

	result := Result{Evaluated: len(alerts)}
	for _, trig := range Evaluate(now, alerts, lookup, e.opts.Cooldown) {
		if e.dispatchSafely(ctx, trig, now) {
			result.Triggered++
		}
	}

	e.logger.Info().Int("evaluated", result.Evaluated).
		Int("triggered", result.Triggered).
		Int("prices", len(prices)).
		Msg("tick completed")
	return result, nil
}

// prefetch resolves every distinct price key once, concurrently. Failures leave the key
// absent.
func (e *Evaluator) prefetch(ctx context.Context, alerts []storage.Alert) map[string]decimal.Decimal {
	jobs := make(map[string]func(context.Context) (map[string]decimal.Decimal, error))
	for _, a := range alerts {
		key, ok := PriceKey(a)
		if !ok {
			e.logger.Warn().Str("alert", a.ID).Str("type", string(a.Type)).Str("symbol", a.Symbol).Msg("unresolvable alert symbol")
			continue
		}
		switch a.Type {
		case storage.AlertTypeCrypto:
			symbol := key[len("crypto:"):]
			jobs[key] = func(ctx context.Context) (map[string]decimal.Decimal, error) {
				q, _, err := e.prices.CryptoPrice(ctx, symbol, "USD")
				if err != nil {
					return nil, err
				}
				return map[string]decimal.Decimal{key: q.Price}, nil
			}
		case storage.AlertTypeForex:
			from, to, _ := forexPair(a.Symbol)
			jobs[key] = func(ctx context.Context) (map[string]decimal.Decimal, error) {
				q, _, err := e.prices.ForexRate(ctx, from, to)
				if err != nil {
					return nil, err
				}
				return map[string]decimal.Decimal{key: q.Rate}, nil
			}
		case storage.AlertTypeVES:
			// one fetch answers both series
			jobs["ves"] = func(ctx context.Context) (map[string]decimal.Decimal, error) {
				q, _, err := e.prices.VESRate(ctx)
				if err != nil {
					return nil, err
				}
				out := make(map[string]decimal.Decimal, 2)
				for _, s := range []market.VESSeries{market.SeriesOficial, market.SeriesParalelo} {
					if v := q.Value(s); v.IsPositive() {
						out["ves:"+string(s)] = v
					}
				}
				return out, nil
			}
		}
	}

	var (
		mu     sync.Mutex
		prices = make(map[string]decimal.Decimal, len(jobs))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for name, fetch := range jobs {
		g.Go(func() error {
			got, err := fetch(gctx)
			if err != nil {
				e.logger.Warn().Err(err).Str("price", name).Msg("prefetch failed")
				return nil
			}
			mu.Lock()
			for k, v := range got {
				prices[k] = v
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return prices
}

func (e *Evaluator) dispatchSafely(ctx context.Context, trig Trigger, now time.Time) (sent bool) {
	log := e.logger.With().Str("alert", trig.Alert.ID).Str("user", trig.Alert.UserID).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("alert dispatch panicked")
			sent = false
		}
	}()

	sent, err := e.dispatch(ctx, trig, now)
	if err != nil {
		log.Error().Err(err).Msg("alert dispatch failed")
	}
	return sent
}

func (e *Evaluator) dispatch(ctx context.Context, trig Trigger, now time.Time) (bool, error) {
	tokens, err := e.tokens.ListPushTokens(ctx, trig.Alert.UserID)
	if err != nil {
		return false, fmt.Errorf("list push tokens: %w", err)
	}
	if len(tokens) == 0 {
		e.logger.Debug().Str("alert", trig.Alert.ID).Msg("alert fired but user has no push tokens")
		return false, nil
	}

	tickets, err := e.pusher.Send(ctx, BuildMessages(trig.Alert, trig.Current, tokens))
	delivered, failed := 0, 0
	for _, t := range tickets {
		if t.Delivered() {
			delivered++
		}
		if !t.OK() {
			failed++
		}
	}
	if err != nil {
		if delivered == 0 {
			return false, fmt.Errorf("send push: %w", err)
		}
		// one push per trigger: once any chunk went out the alert is marked
		e.logger.Warn().Err(err).Str("alert", trig.Alert.ID).Int("delivered", delivered).Msg("push partially failed")
	}
	if failed > 0 {
		e.logger.Warn().Str("alert", trig.Alert.ID).Int("failed", failed).Int("tickets", len(tickets)).Msg("some push tickets failed")
	}

	if err := e.alerts.MarkTriggered(ctx, trig.Alert.ID, now); err != nil {
		return false, fmt.Errorf("mark triggered: %w", err)
	}
	e.logger.Info().Str("alert", trig.Alert.ID).
		Str("symbol", trig.Alert.Symbol).
		Str("current", trig.Current.String()).
		Str("threshold", trig.Alert.Threshold.String()).
		Msg("alert triggered")
	return true, nil
}

func (e *Evaluator) acquireLock(ctx context.Context) (func(), bool, error) {
	if e.opts.LockKey == 0 || e.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := e.locker.TryAdvisoryLock(ctx, e.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
