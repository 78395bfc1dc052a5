package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type payload struct {
	Value int `json:"value"`
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestClient(retries int) *Client {
	return NewClient(ClientOptions{UserAgent: "test", Timeout: time.Second, Retries: retries}, noopLogger())
}

func TestFetchJSONRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"value":7}`))
	}))
	defer srv.Close()

	c := newTestClient(1)
	got, ok := FetchJSON[payload](context.Background(), c, srv.URL, c.DefaultPolicy())
	if !ok {
		t.Fatal("503 后重试应成功")
	}
	if got.Value != 7 {
		t.Fatalf("期望 7, 实际 %d", got.Value)
	}
	if calls.Load() != 2 {
		t.Fatalf("期望 2 次请求, 实际 %d", calls.Load())
	}
}

func TestFetchJSONStopsOnNonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(3)
	if _, ok := FetchJSON[payload](context.Background(), c, srv.URL, c.DefaultPolicy()); ok {
		t.Fatal("404 应返回失败")
	}
	if calls.Load() != 1 {
		t.Fatalf("404 不应重试, 实际请求 %d 次", calls.Load())
	}
}

func TestFetchJSONExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(2)
	if _, ok := FetchJSON[payload](context.Background(), c, srv.URL, c.DefaultPolicy()); ok {
		t.Fatal("持续 502 应返回失败")
	}
	if calls.Load() != 3 {
		t.Fatalf("期望 3 次请求, 实际 %d", calls.Load())
	}
}

func TestFetchJSONTimeoutAbortsAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(0)
	policy := c.DefaultPolicy().WithRetries(0, 50*time.Millisecond)

	start := time.Now()
	if _, ok := FetchJSON[payload](context.Background(), c, srv.URL, policy); ok {
		t.Fatal("超时应返回失败")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("请求应在超时后中止, 实际耗时 %s", elapsed)
	}
}

func TestFetchJSONRetriesUndecodableBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`<html>`))
			return
		}
		_, _ = w.Write([]byte(`{"value":3}`))
	}))
	defer srv.Close()

	c := newTestClient(1)
	got, ok := FetchJSON[payload](context.Background(), c, srv.URL, c.DefaultPolicy())
	if !ok || got.Value != 3 {
		t.Fatalf("解析失败后应重试, ok=%v value=%d", ok, got.Value)
	}
}

func TestFetchJSONSendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("期望 POST, 实际 %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("缺少 Content-Type")
		}
		_, _ = w.Write([]byte(`{"value":1}`))
	}))
	defer srv.Close()

	c := newTestClient(0)
	policy := c.DefaultPolicy()
	policy.Method = http.MethodPost
	policy.Body = map[string]string{"k": "v"}
	if _, ok := FetchJSON[payload](context.Background(), c, srv.URL, policy); !ok {
		t.Fatal("POST 应成功")
	}
}

func TestHistoryPolicyExtendsLongWindows(t *testing.T) {
	base := Policy{Timeout: time.Second, Retries: 1}
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	short := historyPolicy(base, NewWindow(now, 7), 20*time.Second)
	if short.Retries != 1 || short.Timeout != time.Second {
		t.Fatalf("短窗口不应调整策略: %+v", short)
	}

	long := historyPolicy(base, NewWindow(now, 30), 20*time.Second)
	if long.Retries != 2 || long.Timeout != 20*time.Second {
		t.Fatalf("30 天窗口应延长超时并多重试一次: %+v", long)
	}
}
