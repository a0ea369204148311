package credential

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"grok2api-go/internal/constants"
	"grok2api-go/internal/events"
	"grok2api-go/internal/storage"

	log "github.com/sirupsen/logrus"
)

// QuotaQuerier asks upstream how much quota a token has left.
type QuotaQuerier interface {
	RemainingTokens(ctx context.Context, token, model string) (int, error)
}

// Options configure how the token manager behaves.
type Options struct {
	ReloadInterval       time.Duration
	RefreshIntervalHours int
	RefreshModel         string
	DefaultPool          string
	SaveLockTimeout      time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReloadInterval < 0 {
		o.ReloadInterval = 0
	} else if o.ReloadInterval == 0 {
		o.ReloadInterval = constants.TokenReloadInterval
	}
	if o.RefreshIntervalHours <= 0 {
		o.RefreshIntervalHours = constants.TokenRefreshIntervalHours
	}
	if o.RefreshModel == "" {
		o.RefreshModel = "grok-3"
	}
	if o.DefaultPool == "" {
		o.DefaultPool = "ssoBasic"
	}
	if o.SaveLockTimeout <= 0 {
		o.SaveLockTimeout = constants.TokenSaveLockTimeout
	}
	return o
}

// Manager owns every token pool. A single mutex guards the pools and is never
// held across upstream calls; persistence snapshots under it and writes
// outside it.
type Manager struct {
	mu         sync.Mutex
	pools      map[string]*Pool
	loaded     bool
	lastReload time.Time

	store     storage.Backend
	quota     QuotaQuerier
	publisher events.Publisher
	opts      Options

	// persistence ordering: saveSeq is guarded by mu, savedSeq by saveMu
	// (read under both when reloading)
	saveMu    sync.Mutex
	saveSeq   uint64
	savedSeq  uint64
	selfWrite atomic.Int64
}

// NewManager creates a token manager. quota may be nil when resync is not used.
func NewManager(store storage.Backend, quota QuotaQuerier, opts Options) *Manager {
	return &Manager{
		pools: make(map[string]*Pool),
		store: store,
		quota: quota,
		opts:  opts.withDefaults(),
	}
}

// SetEventPublisher wires the hub that receives token events.
func (m *Manager) SetEventPublisher(p events.Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publisher = p
}

// SetQuotaQuerier replaces the upstream quota source.
func (m *Manager) SetQuotaQuerier(q QuotaQuerier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quota = q
}

// Options returns the effective options.
func (m *Manager) Options() Options { return m.opts }

// Store returns the persistence backend.
func (m *Manager) Store() storage.Backend { return m.store }

// Load reads the token document once; later calls are no-ops until Reload.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	if m.loaded {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return m.Reload(ctx)
}

// Reload replaces the in-memory pools with the stored document. On a storage
// error the current pools are kept. While a snapshot is still waiting to be
// written memory is newer than storage, so the swap is skipped.
func (m *Manager) Reload(ctx context.Context) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	return m.reloadLocked(ctx, false)
}

// reloadLocked loads and swaps the pools; caller holds m.saveMu. force drops
// any pending snapshot so the stored document wins.
func (m *Manager) reloadLocked(ctx context.Context, force bool) error {
	doc, err := m.store.LoadTokens(ctx)
	if err != nil {
		m.mu.Lock()
		m.lastReload = time.Now()
		m.mu.Unlock()
		log.WithError(err).Warn("token manager: load failed, keeping current pools")
		return err
	}
	pools := decodePools(doc)

	m.mu.Lock()
	if !force && m.loaded && m.saveSeq > m.savedSeq {
		m.lastReload = time.Now()
		pending := m.saveSeq - m.savedSeq
		m.mu.Unlock()
		log.WithField("pending", pending).Debug("token manager: unsaved changes, reload skipped")
		return nil
	}
	if force {
		m.savedSeq = m.saveSeq
	}
	m.pools = pools
	m.loaded = true
	m.lastReload = time.Now()
	total := 0
	for _, p := range pools {
		total += p.Count()
	}
	m.updateGaugesLocked()
	publisher := m.publisher
	m.mu.Unlock()

	log.WithFields(log.Fields{"pools": len(pools), "tokens": total}).Info("token manager: loaded")
	if publisher != nil {
		publisher.Publish(ctx, events.TopicTokensReloaded, ReloadEvent{Pools: len(pools), Tokens: total, Timestamp: time.Now().UTC()}, nil)
	}
	return nil
}

// ReloadIfStale reloads when the last load is older than the reload interval.
// A non-positive interval disables staleness reloads.
func (m *Manager) ReloadIfStale(ctx context.Context) error {
	if m.opts.ReloadInterval <= 0 {
		return nil
	}
	m.mu.Lock()
	stale := !m.loaded || time.Since(m.lastReload) >= m.opts.ReloadInterval
	m.mu.Unlock()
	if !stale {
		return nil
	}
	return m.Reload(ctx)
}

// GetToken selects a token from pool. The returned string has no "sso=" prefix.
func (m *Manager) GetToken(pool string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[pool]
	if !ok {
		return "", ErrNoAvailableToken
	}
	t, ok := p.Select()
	if !ok {
		return "", ErrNoAvailableToken
	}
	return t.Token, nil
}

// GetStats returns stats for every pool.
func (m *Manager) GetStats() map[string]PoolStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]PoolStats, len(m.pools))
	for name, p := range m.pools {
		out[name] = p.Stats()
	}
	return out
}

// PoolTokens returns copies of the tokens in pool (empty if unknown).
func (m *Manager) PoolTokens(pool string) []Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[pool]; ok {
		return p.List()
	}
	return []Token{}
}

// PoolNames returns the pool names in sorted order.
func (m *Manager) PoolNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.poolNamesLocked()
}

// Entry pairs a token with its pool.
type Entry struct {
	Pool  string
	Token Token
}

// Entries lists every token with its pool, pools in sorted order.
func (m *Manager) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, name := range m.poolNamesLocked() {
		for _, t := range m.pools[name].List() {
			out = append(out, Entry{Pool: name, Token: t})
		}
	}
	return out
}

// AllTokens returns the de-duplicated raw tokens across all pools.
func (m *Manager) AllTokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, name := range m.poolNamesLocked() {
		for _, t := range m.pools[name].tokens {
			if _, dup := seen[t.Token]; dup {
				continue
			}
			seen[t.Token] = struct{}{}
			out = append(out, t.Token)
		}
	}
	return out
}

// Lookup returns a copy of token and its pool.
func (m *Manager) Lookup(token string) (Token, string, bool) {
	raw := TrimToken(token)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range m.poolNamesLocked() {
		if t, ok := m.pools[name].Get(raw); ok {
			return t, name, true
		}
	}
	return Token{}, "", false
}

func (m *Manager) poolNamesLocked() []string {
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// findLocked returns the live token and its pool name.
func (m *Manager) findLocked(raw string) (*Token, string) {
	for _, name := range m.poolNamesLocked() {
		if t := m.pools[name].mutable(raw); t != nil {
			return t, name
		}
	}
	return nil, ""
}
