// Package ratelimit implements the fixed-window request limiter guarding the price routes.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Result describes one limiter decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

// Limiter counts requests per client in fixed windows.
type Limiter interface {
	Check(ctx context.Context, clientID string) (Result, error)
}

type window struct {
	count   int
	resetAt time.Time
}

// Memory keeps windows in process. States are created lazily and never removed.
type Memory struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*window
}

// NewMemory builds a limiter allowing limit requests per window.
func NewMemory(limit int, w time.Duration) *Memory {
	return NewMemoryWithClock(limit, w, time.Now)
}

// NewMemoryWithClock builds a limiter reading time from now.
func NewMemoryWithClock(limit int, w time.Duration, now func() time.Time) *Memory {
	return &Memory{limit: limit, window: w, now: now, clients: make(map[string]*window)}
}

// Check counts the request unconditionally, over-limit calls included.
func (m *Memory) Check(_ context.Context, clientID string) (Result, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.clients[clientID]
	if !ok || !now.Before(state.resetAt) {
		state = &window{resetAt: now.Add(m.window)}
		m.clients[clientID] = state
	}
	state.count++

	return decide(state.count, m.limit, state.resetAt.Sub(now)), nil
}

// Clients reports how many client windows are tracked.
func (m *Memory) Clients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

func decide(count, limit int, resetIn time.Duration) Result {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetIn:   resetIn,
	}
}

// ClientID derives the caller identity from the remote host. Forwarding headers (first
// X-Forwarded-For hop, then X-Real-IP) are honoured only when trustProxy is set.
func ClientID(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

var _ Limiter = (*Memory)(nil)
