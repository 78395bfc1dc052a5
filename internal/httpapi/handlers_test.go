package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricehub/internal/alerting"
	"pricehub/internal/market"
	"pricehub/internal/ratelimit"
	"pricehub/internal/service"
	"pricehub/internal/storage"
)

type mockPrices struct {
	err       error
	status    service.CacheStatus
	gotDays   int
	gotSymbol []string
}

func (m *mockPrices) CryptoPrice(_ context.Context, symbol, _ string) (market.CryptoQuote, service.CacheStatus, error) {
	if m.err != nil {
		return market.CryptoQuote{}, service.CacheMiss, m.err
	}
	return market.CryptoQuote{Symbol: symbol, Price: decimal.RequireFromString("65000.5"), Currency: "USD", Source: market.SourceBinance}, m.status, nil
}

func (m *mockPrices) CryptoPrices(_ context.Context, symbols []string, _ string) ([]market.CryptoQuote, service.CacheStatus, error) {
	m.gotSymbol = symbols
	if m.err != nil {
		return nil, service.CacheMiss, m.err
	}
	return []market.CryptoQuote{{Symbol: "BTC", Price: decimal.NewFromInt(1)}}, m.status, nil
}

func (m *mockPrices) CryptoHistory(_ context.Context, _, _ string, days int) ([]market.HistoryPoint, service.CacheStatus, error) {
	m.gotDays = days
	if m.err != nil {
		return nil, service.CacheMiss, m.err
	}
	return []market.HistoryPoint{{Date: "2024-05-10", Value: decimal.NewFromInt(2)}}, m.status, nil
}

func (m *mockPrices) ForexRate(_ context.Context, from, to string) (market.ForexQuote, service.CacheStatus, error) {
	if m.err != nil {
		return market.ForexQuote{}, service.CacheMiss, m.err
	}
	return market.ForexQuote{From: from, To: to, Rate: decimal.RequireFromString("0.92")}, m.status, nil
}

func (m *mockPrices) ForexHistory(_ context.Context, _, _ string, days int) ([]market.HistoryPoint, service.CacheStatus, error) {
	m.gotDays = days
	return nil, m.status, m.err
}

func (m *mockPrices) VESRate(context.Context) (market.VESQuote, service.CacheStatus, error) {
	if m.err != nil {
		return market.VESQuote{}, service.CacheMiss, m.err
	}
	return market.VESQuote{Oficial: decimal.NewFromInt(36)}, m.status, nil
}

func (m *mockPrices) VESHistory(_ context.Context, days int) ([]market.VESHistoryPoint, service.CacheStatus, error) {
	m.gotDays = days
	return nil, m.status, m.err
}

type mockEvaluator struct {
	result alerting.Result
	err    error
	calls  int
}

func (m *mockEvaluator) Tick(context.Context) (alerting.Result, error) {
	m.calls++
	return m.result, m.err
}

func newTestRouter(prices PriceService, eval Evaluator, limiter ratelimit.Limiter) http.Handler {
	return NewRouter(NewHandler(prices, eval, "s3cret", zerolog.Nop()), limiter, false, zerolog.Nop())
}

func newProxiedRouter(prices PriceService, limiter ratelimit.Limiter) http.Handler {
	return NewRouter(NewHandler(prices, nil, "s3cret", zerolog.Nop()), limiter, true, zerolog.Nop())
}

func serve(t *testing.T, h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	rec := serve(t, newTestRouter(&mockPrices{}, nil, nil), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["alerting"])
}

func TestCryptoPriceHeadersAndBody(t *testing.T) {
	prices := &mockPrices{status: service.CacheHit}
	limiter := ratelimit.NewMemory(5, time.Minute)
	rec := serve(t, newTestRouter(prices, nil, limiter), http.MethodGet, "/api/crypto/price/BTC", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Reset"))

	var quote map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quote))
	assert.Equal(t, "BTC", quote["symbol"])
	assert.Equal(t, 65000.5, quote["price"])
}

func TestRateLimitRejects(t *testing.T) {
	limiter := ratelimit.NewMemory(2, time.Minute)
	router := newProxiedRouter(&mockPrices{status: service.CacheMiss}, limiter)
	header := http.Header{"X-Forwarded-For": {"203.0.113.7, 10.0.0.1"}}

	for range 2 {
		assert.Equal(t, http.StatusOK, serve(t, router, http.MethodGet, "/api/ves/rate", header).Code)
	}
	rec := serve(t, router, http.MethodGet, "/api/ves/rate", header)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, CodeRateLimited, decodeError(t, rec).Code)

	// another client has its own window
	other := serve(t, router, http.MethodGet, "/api/ves/rate", http.Header{"X-Real-Ip": {"198.51.100.1"}})
	assert.Equal(t, http.StatusOK, other.Code)

	// health is never limited
	assert.Equal(t, http.StatusOK, serve(t, router, http.MethodGet, "/health", header).Code)
}

func TestRateLimitIgnoresSpoofedForwardingHeaders(t *testing.T) {
	limiter := ratelimit.NewMemory(2, time.Minute)
	router := newTestRouter(&mockPrices{status: service.CacheMiss}, nil, limiter)

	allowed := 0
	for i := range 10 {
		header := http.Header{"X-Forwarded-For": {fmt.Sprintf("203.0.113.%d", i)}}
		if serve(t, router, http.MethodGet, "/api/ves/rate", header).Code == http.StatusOK {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)
	assert.Equal(t, 1, limiter.Clients())
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		target string
		status int
		code   string
	}{
		{market.ErrNotFound, "/api/crypto/price/NOPE", http.StatusNotFound, CodeNotFound},
		{market.ErrInvalidParam, "/api/forex/rate?from=US&to=EUR", http.StatusBadRequest, CodeInvalidParameter},
		{market.ErrUpstreamUnavailable, "/api/ves/rate", http.StatusBadGateway, CodeUpstreamUnavailable},
		{storage.ErrNotFound, "/api/forex/history?from=USD&to=EUR", http.StatusNotFound, CodeNotFound},
		{errors.New("boom"), "/api/ves/history", http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		rec := serve(t, newTestRouter(&mockPrices{err: tc.err}, nil, nil), http.MethodGet, tc.target, nil)
		assert.Equal(t, tc.status, rec.Code, tc.target)
		assert.Equal(t, tc.code, decodeError(t, rec).Code, tc.target)
	}
}

func TestCryptoPricesRequiresSymbols(t *testing.T) {
	prices := &mockPrices{}
	router := newTestRouter(prices, nil, nil)

	rec := serve(t, router, http.MethodGet, "/api/crypto/prices", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, router, http.MethodGet, "/api/crypto/prices?symbols=BTC,ETH", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"BTC", "ETH"}, prices.gotSymbol)
}

func TestDaysParameter(t *testing.T) {
	prices := &mockPrices{}
	router := newTestRouter(prices, nil, nil)

	rec := serve(t, router, http.MethodGet, "/api/crypto/history/btc?days=500", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 90, prices.gotDays)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "BTC", body["symbol"])
	assert.EqualValues(t, 90, body["days"])

	serve(t, router, http.MethodGet, "/api/ves/history", nil)
	assert.Equal(t, 30, prices.gotDays)

	rec = serve(t, router, http.MethodGet, "/api/forex/history?from=USD&to=EUR&days=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluateAlerts(t *testing.T) {
	rec := serve(t, newTestRouter(&mockPrices{}, nil, nil), http.MethodPost, "/api/alerts/evaluate", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	eval := &mockEvaluator{result: alerting.Result{Evaluated: 4, Triggered: 1}}
	router := newTestRouter(&mockPrices{}, eval, nil)

	rec = serve(t, router, http.MethodPost, "/api/alerts/evaluate", http.Header{CronSecretHeader: {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, eval.calls)

	rec = serve(t, router, http.MethodPost, "/api/alerts/evaluate", http.Header{CronSecretHeader: {"s3cret"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var res alerting.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, eval.result, res)

	eval.err = errors.New("db down")
	rec = serve(t, router, http.MethodPost, "/api/alerts/evaluate", http.Header{CronSecretHeader: {"s3cret"}})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, CodePersistenceError, decodeError(t, rec).Code)

	rec = serve(t, router, http.MethodGet, "/api/alerts/evaluate", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecoveryAndRequestID(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	h := RequestID(Recovery(zerolog.Nop())(panicky))

	rec := serve(t, h, http.MethodGet, "/", http.Header{RequestIDHeader: {"req-1"}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, CodeInternal, decodeError(t, rec).Code)
}
