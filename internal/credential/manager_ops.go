package credential

import (
	"context"
	"errors"

	"grok2api-go/internal/monitoring"
)

// mutate applies fn to the live token under the lock. fn reports whether
// anything changed; only changes are persisted and announced. The result is
// false when the token is unknown.
func (m *Manager) mutate(ctx context.Context, token, action string, fn func(t *Token) bool) bool {
	raw := TrimToken(token)
	m.mu.Lock()
	t, pool := m.findLocked(raw)
	if t == nil {
		m.mu.Unlock()
		return false
	}
	if !fn(t) {
		m.mu.Unlock()
		return true
	}
	snap := m.snapshotLocked()
	evt := newTokenEvent(action, pool, *t)
	m.mu.Unlock()

	m.persist(ctx, snap)
	m.emit(ctx, evt)
	return true
}

// Consume deducts effort from token. False when the token is unknown.
func (m *Manager) Consume(ctx context.Context, token string, effort Effort) bool {
	return m.mutate(ctx, token, "consume", func(t *Token) bool {
		actual := t.Consume(effort)
		monitoring.TokenConsumedTotal.WithLabelValues(string(effort)).Add(float64(actual))
		return true
	})
}

// RecordFail records an upstream failure against token. Only an auth
// rejection changes (and persists) the token.
func (m *Manager) RecordFail(ctx context.Context, token string, status int, reason string) bool {
	return m.mutate(ctx, token, "fail", func(t *Token) bool {
		monitoring.TokenFailuresTotal.WithLabelValues(statusLabel(status)).Inc()
		if status != AuthFailureStatus {
			return false
		}
		t.RecordFail(status, reason)
		return true
	})
}

// statusCoder is implemented by upstream HTTP errors.
type statusCoder interface {
	StatusCode() int
}

// StatusOf returns the HTTP status carried by err, if any.
func StatusOf(err error) (int, bool) {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	return 0, false
}

// RecordError feeds err into RecordFail when it carries an HTTP status.
func (m *Manager) RecordError(ctx context.Context, token string, err error) bool {
	status, ok := StatusOf(err)
	if !ok {
		return false
	}
	return m.RecordFail(ctx, token, status, err.Error())
}

// Add inserts token into pool, creating the pool if needed. False when the
// token already exists in that pool.
func (m *Manager) Add(ctx context.Context, token, pool string) bool {
	raw := TrimToken(token)
	if raw == "" {
		return false
	}
	if pool == "" {
		pool = m.opts.DefaultPool
	}
	m.mu.Lock()
	p, ok := m.pools[pool]
	if !ok {
		p = NewPool(pool)
		m.pools[pool] = p
	}
	if !p.Add(NewToken(raw)) {
		m.mu.Unlock()
		return false
	}
	t, _ := p.Get(raw)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(ctx, snap)
	m.emit(ctx, newTokenEvent("add", pool, t))
	return true
}

// Remove deletes token from the first pool that holds it.
func (m *Manager) Remove(ctx context.Context, token string) bool {
	raw := TrimToken(token)
	m.mu.Lock()
	t, pool := m.findLocked(raw)
	if t == nil {
		m.mu.Unlock()
		return false
	}
	removed := *t
	m.pools[pool].Remove(raw)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(ctx, snap)
	m.emit(ctx, newTokenEvent("remove", pool, removed))
	return true
}

// ResetAll resets every token in every pool.
func (m *Manager) ResetAll(ctx context.Context) {
	m.mu.Lock()
	for _, p := range m.pools {
		for _, t := range p.tokens {
			t.Reset()
		}
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(ctx, snap)
	m.emit(ctx, TokenEvent{Action: "reset_all"})
}

// ResetToken resets a single token.
func (m *Manager) ResetToken(ctx context.Context, token string) bool {
	return m.mutate(ctx, token, "reset", func(t *Token) bool {
		t.Reset()
		return true
	})
}

// HasTag reports whether token carries tag.
func (m *Manager) HasTag(token, tag string) bool {
	raw := TrimToken(token)
	m.mu.Lock()
	defer m.mu.Unlock()
	t, _ := m.findLocked(raw)
	return t != nil && t.HasTag(tag)
}

// AddTag adds tag; storage is only touched when the tag is new.
func (m *Manager) AddTag(ctx context.Context, token, tag string) bool {
	return m.mutate(ctx, token, "tag_add", func(t *Token) bool {
		if t.HasTag(tag) {
			return false
		}
		t.Tags = append(t.Tags, tag)
		return true
	})
}

// RemoveTag drops tag when present.
func (m *Manager) RemoveTag(ctx context.Context, token, tag string) bool {
	return m.mutate(ctx, token, "tag_remove", func(t *Token) bool {
		kept := t.Tags[:0]
		for _, existing := range t.Tags {
			if existing != tag {
				kept = append(kept, existing)
			}
		}
		changed := len(kept) != len(t.Tags)
		t.Tags = kept
		return changed
	})
}

// SetNote replaces the operator note.
func (m *Manager) SetNote(ctx context.Context, token, note string) bool {
	return m.mutate(ctx, token, "note", func(t *Token) bool {
		if t.Note == note {
			return false
		}
		t.Note = note
		return true
	})
}

// SetStatus lets an operator disable or re-enable a token.
func (m *Manager) SetStatus(ctx context.Context, token string, status Status) bool {
	return m.mutate(ctx, token, "status", func(t *Token) bool {
		if t.Status == status {
			return false
		}
		t.Status = status
		if status != StatusDisabled {
			t.applyQuotaStatus()
		}
		return true
	})
}

// MarkAssetClear stamps the last online-asset purge.
func (m *Manager) MarkAssetClear(ctx context.Context, token string) bool {
	return m.mutate(ctx, token, "asset_clear", func(t *Token) bool {
		now := nowMillis()
		t.LastAssetClearAt = &now
		return true
	})
}
