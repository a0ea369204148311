package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"grok2api-go/internal/monitoring"
	"grok2api-go/internal/storage"

	log "github.com/sirupsen/logrus"
)

type snapshot struct {
	doc storage.Document
	seq uint64
}

// snapshotLocked serializes all pools; caller holds m.mu.
func (m *Manager) snapshotLocked() snapshot {
	doc := make(storage.Document, len(m.pools))
	for name, p := range m.pools {
		data, err := json.Marshal(p.List())
		if err != nil {
			// Token has only plain fields; Marshal cannot fail in practice.
			log.WithError(err).WithField("pool", name).Error("token manager: encode pool failed")
			continue
		}
		doc[name] = data
	}
	m.saveSeq++
	m.updateGaugesLocked()
	return snapshot{doc: doc, seq: m.saveSeq}
}

// persist writes snap under the tokens_save lock. A snapshot older than one
// already written is skipped. Failures are logged; memory stays authoritative.
func (m *Manager) persist(ctx context.Context, snap snapshot) {
	if ctx == nil {
		ctx = context.Background()
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	if snap.seq <= m.savedSeq {
		return
	}
	err := m.store.WithLock(ctx, storage.TokensSaveLock, m.opts.SaveLockTimeout, func(ctx context.Context) error {
		return m.store.SaveTokens(ctx, snap.doc)
	})
	if err != nil {
		log.WithError(err).Warn("token manager: save failed")
		return
	}
	m.savedSeq = snap.seq
	m.selfWrite.Store(time.Now().UnixNano())
}

// Save forces a write of the current state.
func (m *Manager) Save(ctx context.Context) {
	m.mu.Lock()
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.persist(ctx, snap)
}

// RawDocument returns the document as stored, bypassing memory.
func (m *Manager) RawDocument(ctx context.Context) (storage.Document, error) {
	return m.store.LoadTokens(ctx)
}

// ReplaceDocument overwrites the stored document and reloads from it.
func (m *Manager) ReplaceDocument(ctx context.Context, doc storage.Document) error {
	normalized, err := normalizeDocument(doc)
	if err != nil {
		return err
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	err = m.store.WithLock(ctx, storage.TokensSaveLock, m.opts.SaveLockTimeout, func(ctx context.Context) error {
		return m.store.SaveTokens(ctx, normalized)
	})
	if err != nil {
		return fmt.Errorf("save token document: %w", err)
	}
	m.selfWrite.Store(time.Now().UnixNano())
	return m.reloadLocked(ctx, true)
}

// normalizeDocument validates every pool is a JSON array.
func normalizeDocument(doc storage.Document) (storage.Document, error) {
	out := make(storage.Document, len(doc))
	for name, raw := range doc {
		if name == "" {
			return nil, fmt.Errorf("empty pool name")
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("pool %s: expected an array of tokens: %w", name, err)
		}
		out[name] = append(json.RawMessage(nil), raw...)
	}
	return out, nil
}

// decodePools builds pools from a stored document, skipping malformed entries
// and duplicate tokens within a pool.
func decodePools(doc storage.Document) map[string]*Pool {
	pools := make(map[string]*Pool, len(doc))
	for name, raw := range doc {
		p := NewPool(name)
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			log.WithError(err).WithField("pool", name).Warn("token manager: pool is not an array, skipped")
			pools[name] = p
			continue
		}
		for _, item := range items {
			if t, ok := parseToken(item); ok {
				p.Add(t)
			}
		}
		pools[name] = p
	}
	return pools
}

// updateGaugesLocked refreshes the per-pool prometheus gauges.
func (m *Manager) updateGaugesLocked() {
	monitoring.TokensGauge.Reset()
	monitoring.TokenQuotaGauge.Reset()
	for name, p := range m.pools {
		s := p.Stats()
		monitoring.TokensGauge.WithLabelValues(name, string(StatusActive)).Set(float64(s.Active))
		monitoring.TokensGauge.WithLabelValues(name, string(StatusCooling)).Set(float64(s.Cooling))
		monitoring.TokensGauge.WithLabelValues(name, string(StatusExpired)).Set(float64(s.Expired))
		monitoring.TokensGauge.WithLabelValues(name, string(StatusDisabled)).Set(float64(s.Disabled))
		monitoring.TokenQuotaGauge.WithLabelValues(name).Set(float64(s.TotalQuota))
	}
}
