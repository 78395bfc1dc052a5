package httpapi

import (
	"net/http"

	"github.com/rs/zerolog"

	"pricehub/internal/ratelimit"
)

// NewRouter registers all routes and wraps them in the middleware chain. Price routes are
// rate limited; health and evaluation are not. trustProxy lets the limiter key clients by
// forwarding headers.
func NewRouter(h *Handler, limiter ratelimit.Limiter, trustProxy bool, logger zerolog.Logger) http.Handler {
	logger = logger.With().Str("component", "http").Logger()
	limited := RateLimit(limiter, trustProxy, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("GET /api/crypto/price/{symbol}", limited(h.CryptoPrice))
	mux.HandleFunc("GET /api/crypto/prices", limited(h.CryptoPrices))
	mux.HandleFunc("GET /api/crypto/history/{symbol}", limited(h.CryptoHistory))
	mux.HandleFunc("GET /api/forex/rate", limited(h.ForexRate))
	mux.HandleFunc("GET /api/forex/history", limited(h.ForexHistory))
	mux.HandleFunc("GET /api/ves/rate", limited(h.VESRate))
	mux.HandleFunc("GET /api/ves/history", limited(h.VESHistory))

	mux.HandleFunc("POST /api/alerts/evaluate", h.EvaluateAlerts)

	// outermost first: request id, logging, recovery
	var handler http.Handler = mux
	handler = Recovery(logger)(handler)
	handler = Logging(logger)(handler)
	handler = RequestID(handler)
	return handler
}
