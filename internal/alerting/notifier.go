package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ExpoChunkSize is the push API's per-request message limit.
const ExpoChunkSize = 100

// Message 是一条待推送的通知。
type Message struct {
	To    string         `json:"to"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
	Sound string         `json:"sound,omitempty"`
}

// Ticket is the per-message outcome reported by the transport.
type Ticket struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

// StatusUnconfirmed marks messages the push API took (2xx) without a readable ticket.
const StatusUnconfirmed = "unconfirmed"

// OK reports whether the message was accepted.
func (t Ticket) OK() bool {
	return t.Status == "ok"
}

// Delivered reports whether the push API took the message, readable ticket or not.
func (t Ticket) Delivered() bool {
	return t.OK() || t.Status == StatusUnconfirmed
}

// Pusher 定义推送通道接口。
type Pusher interface {
	Send(ctx context.Context, messages []Message) ([]Ticket, error)
}

// ExpoPusher 通过 Expo push API 推送消息。
type ExpoPusher struct {
	baseURL     string
	accessToken string
	client      *http.Client
	logger      zerolog.Logger
}

// NewExpoPusher 构造 Expo 推送器。
func NewExpoPusher(baseURL, accessToken string, timeout time.Duration, logger zerolog.Logger) *ExpoPusher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://exp.host/--/api/v2"
	}

	return &ExpoPusher{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		client:      &http.Client{Timeout: timeout},
		logger:      logger.With().Str("component", "alert_expo").Logger(),
	}
}

// Send posts messages in chunks and returns one ticket per message, in order. A chunk that
// fails at the transport level yields error tickets for its messages and the first such
// error is returned. Tickets from chunks that went through are kept alongside that error.
func (p *ExpoPusher) Send(ctx context.Context, messages []Message) ([]Ticket, error) {
	tickets := make([]Ticket, 0, len(messages))
	var firstErr error

	for start := 0; start < len(messages); start += ExpoChunkSize {
		end := min(start+ExpoChunkSize, len(messages))
		chunk := messages[start:end]

		got, err := p.sendChunk(ctx, chunk)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if len(got) == len(chunk) {
				tickets = append(tickets, got...)
				continue
			}
			for range chunk {
				tickets = append(tickets, Ticket{Status: "error", Message: err.Error()})
			}
			continue
		}
		tickets = append(tickets, got...)
	}

	ok := 0
	for _, t := range tickets {
		if t.OK() {
			ok++
		}
	}
	p.logger.Info().Int("messages", len(messages)).Int("ok", ok).Int("failed", len(tickets)-ok).Msg("推送已提交 (Expo)")
	return tickets, firstErr
}

func (p *ExpoPusher) sendChunk(ctx context.Context, chunk []Message) ([]Ticket, error) {
	body, err := json.Marshal(chunk)
	if err != nil {
		return nil, fmt.Errorf("marshal expo payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/push/send", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create expo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.accessToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send expo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("expo 响应码异常: %d %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result struct {
		Data []Ticket `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		unconfirmed := make([]Ticket, len(chunk))
		for i := range unconfirmed {
			unconfirmed[i] = Ticket{Status: StatusUnconfirmed, Message: "unreadable ticket"}
		}
		return unconfirmed, fmt.Errorf("decode expo response: %w", err)
	}

	tickets := result.Data
	if len(tickets) > len(chunk) {
		tickets = tickets[:len(chunk)]
	}
	for len(tickets) < len(chunk) {
		tickets = append(tickets, Ticket{Status: "error", Message: "missing ticket"})
	}
	return tickets, nil
}

var _ Pusher = (*ExpoPusher)(nil)
