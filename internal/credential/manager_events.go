package credential

import (
	"context"
	"strconv"
	"time"

	"grok2api-go/internal/events"
	"grok2api-go/internal/logging"
)

// TokenEvent describes a single change to a token. The token is masked.
type TokenEvent struct {
	Action    string    `json:"action"`
	Pool      string    `json:"pool,omitempty"`
	Token     string    `json:"token,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Quota     int       `json:"quota"`
	Timestamp time.Time `json:"timestamp"`
}

// ReloadEvent is published after the document is (re)loaded.
type ReloadEvent struct {
	Pools     int       `json:"pools"`
	Tokens    int       `json:"tokens"`
	Timestamp time.Time `json:"timestamp"`
}

func newTokenEvent(action, pool string, t Token) TokenEvent {
	return TokenEvent{
		Action:    action,
		Pool:      pool,
		Token:     logging.MaskToken(t.Token),
		Status:    t.Status,
		Quota:     t.Quota,
		Timestamp: time.Now().UTC(),
	}
}

func (m *Manager) emit(ctx context.Context, evt TokenEvent) {
	m.mu.Lock()
	publisher := m.publisher
	m.mu.Unlock()
	if publisher == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	publisher.Publish(ctx, events.TopicTokensChanged, evt, map[string]string{"action": evt.Action})
}

func statusLabel(code int) string {
	return strconv.Itoa(code)
}
