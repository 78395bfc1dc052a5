package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pricehub/internal/alerting"
	"pricehub/internal/market"
	"pricehub/internal/service"
	"pricehub/internal/storage"
	"pricehub/internal/version"
)

// CronSecretHeader authenticates externally triggered evaluations.
const CronSecretHeader = "X-Cron-Secret"

// PriceService is the read side served over HTTP. *service.Service satisfies it.
type PriceService interface {
	CryptoPrice(ctx context.Context, symbol, currency string) (market.CryptoQuote, service.CacheStatus, error)
	CryptoPrices(ctx context.Context, symbols []string, currency string) ([]market.CryptoQuote, service.CacheStatus, error)
	CryptoHistory(ctx context.Context, symbol, currency string, days int) ([]market.HistoryPoint, service.CacheStatus, error)
	ForexRate(ctx context.Context, from, to string) (market.ForexQuote, service.CacheStatus, error)
	ForexHistory(ctx context.Context, from, to string, days int) ([]market.HistoryPoint, service.CacheStatus, error)
	VESRate(ctx context.Context) (market.VESQuote, service.CacheStatus, error)
	VESHistory(ctx context.Context, days int) ([]market.VESHistoryPoint, service.CacheStatus, error)
}

// Evaluator runs one alert evaluation tick.
type Evaluator interface {
	Tick(ctx context.Context) (alerting.Result, error)
}

// Handler contains all HTTP handlers.
type Handler struct {
	prices     PriceService
	evaluator  Evaluator
	cronSecret string
	started    time.Time
	logger     zerolog.Logger
}

// NewHandler wires the handlers. evaluator may be nil when persistence is disabled.
func NewHandler(prices PriceService, evaluator Evaluator, cronSecret string, logger zerolog.Logger) *Handler {
	return &Handler{
		prices:     prices,
		evaluator:  evaluator,
		cronSecret: cronSecret,
		started:    time.Now(),
		logger:     logger.With().Str("component", "http_handler").Logger(),
	}
}

// Health reports liveness and build metadata.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   version.Version,
		"commit":    version.Commit,
		"uptime":    time.Since(h.started).Truncate(time.Second).String(),
		"alerting":  h.evaluator != nil,
		"timestamp": time.Now().UTC(),
	})
}

// CryptoPrice serves GET /api/crypto/price/{symbol}.
func (h *Handler) CryptoPrice(w http.ResponseWriter, r *http.Request) {
	quote, status, err := h.prices.CryptoPrice(r.Context(), r.PathValue("symbol"), r.URL.Query().Get("currency"))
	if err != nil {
		handleError(w, err)
		return
	}
	respondCached(w, status, quote)
}

// CryptoPrices serves GET /api/crypto/prices?symbols=BTC,ETH.
func (h *Handler) CryptoPrices(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	if strings.TrimSpace(raw) == "" {
		respondError(w, http.StatusBadRequest, "symbols parameter is required", CodeInvalidParameter)
		return
	}

	quotes, status, err := h.prices.CryptoPrices(r.Context(), strings.Split(raw, ","), r.URL.Query().Get("currency"))
	if err != nil {
		handleError(w, err)
		return
	}
	if quotes == nil {
		quotes = []market.CryptoQuote{}
	}
	respondCached(w, status, map[string]any{"prices": quotes})
}

// CryptoHistory serves GET /api/crypto/history/{symbol}?days=.
func (h *Handler) CryptoHistory(w http.ResponseWriter, r *http.Request) {
	days, err := daysParam(r, market.CryptoDays)
	if err != nil {
		handleError(w, err)
		return
	}
	symbol := r.PathValue("symbol")
	currency := r.URL.Query().Get("currency")

	points, status, err := h.prices.CryptoHistory(r.Context(), symbol, currency, days)
	if err != nil {
		handleError(w, err)
		return
	}
	if currency == "" {
		currency = "USD"
	}
	respondCached(w, status, map[string]any{
		"symbol":   strings.ToUpper(strings.TrimSpace(symbol)),
		"currency": strings.ToUpper(currency),
		"days":     days,
		"points":   points,
	})
}

// ForexRate serves GET /api/forex/rate?from=&to=.
func (h *Handler) ForexRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	quote, status, err := h.prices.ForexRate(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		handleError(w, err)
		return
	}
	respondCached(w, status, quote)
}

// ForexHistory serves GET /api/forex/history?from=&to=&days=.
func (h *Handler) ForexHistory(w http.ResponseWriter, r *http.Request) {
	days, err := daysParam(r, market.ForexDays)
	if err != nil {
		handleError(w, err)
		return
	}
	q := r.URL.Query()

	points, status, err := h.prices.ForexHistory(r.Context(), q.Get("from"), q.Get("to"), days)
	if err != nil {
		handleError(w, err)
		return
	}
	respondCached(w, status, map[string]any{
		"from":   strings.ToUpper(strings.TrimSpace(q.Get("from"))),
		"to":     strings.ToUpper(strings.TrimSpace(q.Get("to"))),
		"days":   days,
		"points": points,
	})
}

// VESRate serves GET /api/ves/rate.
func (h *Handler) VESRate(w http.ResponseWriter, r *http.Request) {
	quote, status, err := h.prices.VESRate(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	respondCached(w, status, quote)
}

// VESHistory serves GET /api/ves/history?days=.
func (h *Handler) VESHistory(w http.ResponseWriter, r *http.Request) {
	days, err := daysParam(r, market.VESDays)
	if err != nil {
		handleError(w, err)
		return
	}

	points, status, err := h.prices.VESHistory(r.Context(), days)
	if err != nil {
		handleError(w, err)
		return
	}
	respondCached(w, status, map[string]any{"days": days, "points": points})
}

// EvaluateAlerts serves POST /api/alerts/evaluate, the externally triggered tick.
func (h *Handler) EvaluateAlerts(w http.ResponseWriter, r *http.Request) {
	if h.evaluator == nil {
		respondError(w, http.StatusServiceUnavailable, "alert evaluation is not configured", CodeNotConfigured)
		return
	}
	if h.cronSecret != "" {
		got := r.Header.Get(CronSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.cronSecret)) != 1 {
			respondError(w, http.StatusUnauthorized, "invalid cron secret", CodeUnauthorized)
			return
		}
	}

	result, err := h.evaluator.Tick(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("on-demand evaluation failed")
		if errors.Is(err, storage.ErrNotConfigured) {
			handleError(w, err)
			return
		}
		respondError(w, http.StatusBadGateway, err.Error(), CodePersistenceError)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// daysParam parses ?days= and applies the domain clamp. Absent means the default.
func daysParam(r *http.Request, bounds market.DayRange) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("days"))
	if raw == "" {
		return bounds.Clamp(0), nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: days %q", market.ErrInvalidParam, raw)
	}
	return bounds.Clamp(days), nil
}
