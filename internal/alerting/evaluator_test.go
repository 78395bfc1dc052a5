package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricehub/internal/market"
	"pricehub/internal/service"
	"pricehub/internal/storage"
)

var evalNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type fakeAlerts struct {
	alerts  []storage.Alert
	listErr error

	mu     sync.Mutex
	marked map[string]time.Time
}

func (f *fakeAlerts) ListEnabledAlerts(context.Context) ([]storage.Alert, error) {
	return f.alerts, f.listErr
}

func (f *fakeAlerts) MarkTriggered(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marked == nil {
		f.marked = make(map[string]time.Time)
	}
	f.marked[id] = at
	return nil
}

type fakeTokens map[string][]storage.PushToken

func (f fakeTokens) ListPushTokens(_ context.Context, userID string) ([]storage.PushToken, error) {
	return f[userID], nil
}

type fakePrices struct {
	crypto map[string]string
	forex  string
	ves    *market.VESQuote

	cryptoCalls atomic.Int32
	vesCalls    atomic.Int32
}

func (f *fakePrices) CryptoPrice(_ context.Context, symbol, currency string) (market.CryptoQuote, service.CacheStatus, error) {
	f.cryptoCalls.Add(1)
	raw, ok := f.crypto[symbol]
	if !ok {
		return market.CryptoQuote{}, service.CacheMiss, market.ErrNotFound
	}
	return market.CryptoQuote{Symbol: symbol, Currency: currency, Price: decimal.RequireFromString(raw)}, service.CacheMiss, nil
}

func (f *fakePrices) ForexRate(_ context.Context, from, to string) (market.ForexQuote, service.CacheStatus, error) {
	if f.forex == "" {
		return market.ForexQuote{}, service.CacheMiss, market.ErrNotFound
	}
	return market.ForexQuote{From: from, To: to, Rate: decimal.RequireFromString(f.forex)}, service.CacheMiss, nil
}

func (f *fakePrices) VESRate(context.Context) (market.VESQuote, service.CacheStatus, error) {
	f.vesCalls.Add(1)
	if f.ves == nil {
		return market.VESQuote{}, service.CacheMiss, market.ErrUpstreamUnavailable
	}
	return *f.ves, service.CacheMiss, nil
}

type fakePusher struct {
	mu      sync.Mutex
	sent    [][]Message
	err     error
	tickets []Ticket
}

func (f *fakePusher) Send(_ context.Context, msgs []Message) ([]Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msgs)
	if f.err != nil {
		return f.tickets, f.err
	}
	tickets := make([]Ticket, len(msgs))
	for i := range tickets {
		tickets[i] = Ticket{Status: "ok"}
	}
	return tickets, nil
}

type fakeLocker struct {
	acquired bool
	unlocked atomic.Bool
}

func (f *fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !f.acquired {
		return nil, false, nil
	}
	return func() { f.unlocked.Store(true) }, true, nil
}

func alert(id string, typ storage.AlertType, symbol, threshold string, dir storage.Direction) storage.Alert {
	return storage.Alert{
		ID:        id,
		UserID:    "user-" + id,
		Type:      typ,
		Symbol:    symbol,
		Threshold: decimal.RequireFromString(threshold),
		Direction: dir,
		Enabled:   true,
	}
}

func newTestEvaluator(alerts *fakeAlerts, tokens fakeTokens, prices *fakePrices, pusher *fakePusher, locker storage.AdvisoryLocker, lockKey int64) *Evaluator {
	e := NewEvaluator(alerts, tokens, prices, pusher, locker, Options{LockKey: lockKey}, testLogger())
	e.now = func() time.Time { return evalNow }
	return e
}

func TestEvaluateCooldown(t *testing.T) {
	lookup := func(storage.Alert) (decimal.Decimal, bool) { return decimal.NewFromInt(70000), true }

	recent := alert("a", storage.AlertTypeCrypto, "BTC", "65000", storage.DirectionAbove)
	triggered := evalNow.Add(-30 * time.Minute)
	recent.TriggeredAt = &triggered
	assert.Empty(t, Evaluate(evalNow, []storage.Alert{recent}, lookup, time.Hour))

	stale := recent
	old := evalNow.Add(-90 * time.Minute)
	stale.TriggeredAt = &old
	fired := Evaluate(evalNow, []storage.Alert{stale}, lookup, time.Hour)
	require.Len(t, fired, 1)
	assert.True(t, fired[0].Current.Equal(decimal.NewFromInt(70000)))
}

func TestEvaluateThresholdIsInclusive(t *testing.T) {
	lookup := func(storage.Alert) (decimal.Decimal, bool) { return decimal.NewFromInt(100), true }
	alerts := []storage.Alert{
		alert("above-eq", storage.AlertTypeCrypto, "BTC", "100", storage.DirectionAbove),
		alert("below-eq", storage.AlertTypeCrypto, "BTC", "100", storage.DirectionBelow),
		alert("above-miss", storage.AlertTypeCrypto, "BTC", "100.01", storage.DirectionAbove),
		alert("below-miss", storage.AlertTypeCrypto, "BTC", "99.99", storage.DirectionBelow),
	}
	disabled := alert("disabled", storage.AlertTypeCrypto, "BTC", "1", storage.DirectionAbove)
	disabled.Enabled = false
	alerts = append(alerts, disabled)

	var ids []string
	for _, f := range Evaluate(evalNow, alerts, lookup, time.Hour) {
		ids = append(ids, f.Alert.ID)
	}
	assert.Equal(t, []string{"above-eq", "below-eq"}, ids)
}

func TestPriceKey(t *testing.T) {
	cases := []struct {
		alert storage.Alert
		key   string
		ok    bool
	}{
		{alert("1", storage.AlertTypeCrypto, " btc ", "1", storage.DirectionAbove), "crypto:BTC", true},
		{alert("2", storage.AlertTypeForex, "usd/eur", "1", storage.DirectionAbove), "forex:USD:EUR", true},
		{alert("3", storage.AlertTypeForex, "EURUSD", "1", storage.DirectionAbove), "forex:EUR:USD", true},
		{alert("4", storage.AlertTypeVES, "bcv", "1", storage.DirectionAbove), "ves:oficial", true},
		{alert("5", storage.AlertTypeVES, "Paralelo", "1", storage.DirectionAbove), "ves:paralelo", true},
		{alert("6", storage.AlertTypeVES, "", "1", storage.DirectionAbove), "", false},
		{alert("7", storage.AlertTypeCrypto, "b/c", "1", storage.DirectionAbove), "", false},
		{alert("8", "stocks", "AAPL", "1", storage.DirectionAbove), "", false},
	}
	for _, tc := range cases {
		key, ok := PriceKey(tc.alert)
		assert.Equal(t, tc.ok, ok, tc.alert.Symbol)
		assert.Equal(t, tc.key, key, tc.alert.Symbol)
	}
}

func TestTickDeduplicatesPriceFetches(t *testing.T) {
	alerts := &fakeAlerts{alerts: []storage.Alert{
		alert("a", storage.AlertTypeCrypto, "BTC", "60000", storage.DirectionAbove),
		alert("b", storage.AlertTypeCrypto, "btc", "70000", storage.DirectionAbove),
		alert("c", storage.AlertTypeVES, "oficial", "30", storage.DirectionAbove),
		alert("d", storage.AlertTypeVES, "paralelo", "50", storage.DirectionBelow),
	}}
	tokens := fakeTokens{
		"user-a": {{Token: "tok-a"}},
		"user-b": {{Token: "tok-b"}},
		"user-c": {{Token: "tok-c1"}, {Token: "tok-c2"}},
		"user-d": {{Token: "tok-d"}},
	}
	prices := &fakePrices{
		crypto: map[string]string{"BTC": "65000"},
		ves:    &market.VESQuote{Oficial: decimal.NewFromInt(36), Paralelo: decimal.NewFromInt(40)},
	}
	pusher := &fakePusher{}

	res, err := newTestEvaluator(alerts, tokens, prices, pusher, nil, 0).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Evaluated: 4, Triggered: 3}, res)
	assert.EqualValues(t, 1, prices.cryptoCalls.Load())
	assert.EqualValues(t, 1, prices.vesCalls.Load())

	assert.Contains(t, alerts.marked, "a")
	assert.NotContains(t, alerts.marked, "b")
	assert.Equal(t, evalNow, alerts.marked["c"])
	assert.Contains(t, alerts.marked, "d")
	assert.Len(t, pusher.sent, 3)
}

func TestTickIsolatesFailures(t *testing.T) {
	alerts := &fakeAlerts{alerts: []storage.Alert{
		alert("unpriced", storage.AlertTypeCrypto, "NOPE", "1", storage.DirectionAbove),
		alert("no-tokens", storage.AlertTypeForex, "USD/EUR", "0.5", storage.DirectionAbove),
		alert("ok", storage.AlertTypeForex, "USD-EUR", "0.5", storage.DirectionAbove),
	}}
	tokens := fakeTokens{"user-ok": {{Token: "tok"}}}
	prices := &fakePrices{forex: "0.92"}

	res, err := newTestEvaluator(alerts, tokens, prices, &fakePusher{}, nil, 0).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Evaluated)
	assert.Equal(t, 1, res.Triggered)
	assert.Equal(t, []string{"ok"}, keys(alerts.marked))
}

func TestTickPushFailureLeavesAlertUnmarked(t *testing.T) {
	alerts := &fakeAlerts{alerts: []storage.Alert{alert("a", storage.AlertTypeCrypto, "ETH", "1", storage.DirectionAbove)}}
	prices := &fakePrices{crypto: map[string]string{"ETH": "3000"}}
	pusher := &fakePusher{err: errors.New("transport down")}

	res, err := newTestEvaluator(alerts, fakeTokens{"user-a": {{Token: "tok"}}}, prices, pusher, nil, 0).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Triggered)
	assert.Empty(t, alerts.marked)
}

func TestTickPartialPushMarksAlertOnce(t *testing.T) {
	var delivered atomic.Int32
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []Message
		_ = json.NewDecoder(r.Body).Decode(&batch)
		// every second request fails
		if requests.Add(1)%2 == 0 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		delivered.Add(int32(len(batch)))
		tickets := make([]Ticket, len(batch))
		for i := range tickets {
			tickets[i] = Ticket{Status: "ok"}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": tickets})
	}))
	defer srv.Close()

	tokens := make([]storage.PushToken, 150)
	for i := range tokens {
		tokens[i] = storage.PushToken{Token: fmt.Sprintf("ExponentPushToken[%d]", i)}
	}
	alerts := &fakeAlerts{alerts: []storage.Alert{alert("a", storage.AlertTypeCrypto, "BTC", "60000", storage.DirectionAbove)}}
	prices := &fakePrices{crypto: map[string]string{"BTC": "65000"}}
	pusher := NewExpoPusher(srv.URL, "", time.Second, testLogger())
	e := NewEvaluator(alerts, fakeTokens{"user-a": tokens}, prices, pusher, nil, Options{}, testLogger())

	now := evalNow
	e.now = func() time.Time { return now }
	first, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Evaluated: 1, Triggered: 1}, first)
	require.Contains(t, alerts.marked, "a")

	// the store now reports the trigger; a minute later the cooldown holds
	fired := alerts.marked["a"]
	alerts.alerts[0].TriggeredAt = &fired
	now = evalNow.Add(time.Minute)
	second, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Triggered)
	assert.EqualValues(t, ExpoChunkSize, delivered.Load())
	assert.EqualValues(t, 2, requests.Load())
}

func TestTickPartialPushErrorStillMarks(t *testing.T) {
	alerts := &fakeAlerts{alerts: []storage.Alert{alert("a", storage.AlertTypeCrypto, "ETH", "1", storage.DirectionAbove)}}
	prices := &fakePrices{crypto: map[string]string{"ETH": "3000"}}
	pusher := &fakePusher{
		err:     errors.New("second chunk failed"),
		tickets: []Ticket{{Status: "ok"}, {Status: "error", Message: "second chunk failed"}},
	}
	tokens := fakeTokens{"user-a": {{Token: "t1"}, {Token: "t2"}}}

	res, err := newTestEvaluator(alerts, tokens, prices, pusher, nil, 0).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Triggered)
	assert.Equal(t, []string{"a"}, keys(alerts.marked))
}

func TestTickRespectsAdvisoryLock(t *testing.T) {
	alerts := &fakeAlerts{alerts: []storage.Alert{alert("a", storage.AlertTypeCrypto, "ETH", "1", storage.DirectionAbove)}}
	prices := &fakePrices{crypto: map[string]string{"ETH": "3000"}}

	held := &fakeLocker{acquired: false}
	res, err := newTestEvaluator(alerts, fakeTokens{}, prices, &fakePusher{}, held, 42).Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.EqualValues(t, 0, prices.cryptoCalls.Load())

	free := &fakeLocker{acquired: true}
	res, err = newTestEvaluator(alerts, fakeTokens{}, prices, &fakePusher{}, free, 42).Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Evaluated)
	assert.True(t, free.unlocked.Load())
}

func TestTickListError(t *testing.T) {
	alerts := &fakeAlerts{listErr: errors.New("db down")}
	_, err := newTestEvaluator(alerts, fakeTokens{}, &fakePrices{}, &fakePusher{}, nil, 0).Tick(context.Background())
	require.Error(t, err)

	res, err := newTestEvaluator(&fakeAlerts{}, fakeTokens{}, &fakePrices{}, &fakePusher{}, nil, 0).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestBuildMessages(t *testing.T) {
	a := alert("a", storage.AlertTypeForex, "usd/eur", "0.9", storage.DirectionBelow)
	msgs := BuildMessages(a, decimal.RequireFromString("0.8912345678"), []storage.PushToken{{Token: "t1"}, {Token: "t2"}})
	require.Len(t, msgs, 2)
	assert.Equal(t, "t2", msgs[1].To)
	assert.Equal(t, "USD/EUR fell below 0.9", msgs[0].Title)
	assert.Contains(t, msgs[0].Body, "0.891235")
	assert.Equal(t, "a", msgs[0].Data["alertId"])
	assert.Equal(t, "below", msgs[0].Data["direction"])
}

func keys(m map[string]time.Time) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
