package credential

import (
	"context"
	"errors"
	"time"

	"grok2api-go/internal/events"
	"grok2api-go/internal/logging"
	"grok2api-go/internal/monitoring"
	"grok2api-go/internal/monitoring/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// RefreshReport summarizes a cooling-token resync pass.
type RefreshReport struct {
	Checked   int `json:"checked"`
	Refreshed int `json:"refreshed"`
	Recovered int `json:"recovered"`
	Expired   int `json:"expired"`
}

var errNoQuerier = errors.New("token manager: no quota querier configured")

// SyncUsage asks upstream for the token's real remaining quota and applies it.
// When the query fails and consumeOnFail is set, fallback is consumed locally
// instead. The upstream call happens without holding the lock.
func (m *Manager) SyncUsage(ctx context.Context, token, model string, fallback Effort, consumeOnFail, isUsage bool) bool {
	raw := TrimToken(token)
	m.mu.Lock()
	t, _ := m.findLocked(raw)
	querier := m.quota
	m.mu.Unlock()
	if t == nil {
		return false
	}

	remaining, err := m.queryQuota(ctx, querier, raw, model)
	if err == nil {
		var oldQuota, newQuota int
		ok := m.mutate(ctx, raw, "sync", func(t *Token) bool {
			oldQuota = t.Quota
			t.UpdateQuota(remaining)
			t.RecordSuccess(isUsage)
			newQuota = t.Quota
			return true
		})
		if ok {
			monitoring.TokenSyncTotal.WithLabelValues("ok").Inc()
			log.WithFields(log.Fields{
				"token": logging.MaskToken(raw),
				"old":   oldQuota,
				"new":   newQuota,
			}).Infof("token manager: synced quota %d -> %d", oldQuota, newQuota)
		}
		return ok
	}

	monitoring.TokenSyncTotal.WithLabelValues("error").Inc()
	log.WithError(err).WithField("token", logging.MaskToken(raw)).Warn("token manager: usage sync failed")
	m.RecordError(ctx, raw, err)
	if consumeOnFail {
		return m.Consume(ctx, raw, fallback)
	}
	return false
}

// RefreshCoolingTokens resyncs every cooling token that is due. A failed
// query expires the token.
func (m *Manager) RefreshCoolingTokens(ctx context.Context) RefreshReport {
	ctx, span := tracing.StartSpan(ctx, "credential", "RefreshCoolingTokens")
	defer span.End()

	m.mu.Lock()
	var due []string
	for _, name := range m.poolNamesLocked() {
		for _, t := range m.pools[name].tokens {
			if t.NeedRefresh(m.opts.RefreshIntervalHours) {
				due = append(due, t.Token)
			}
		}
	}
	querier := m.quota
	m.mu.Unlock()

	var report RefreshReport
	if len(due) == 0 {
		return report
	}

	type outcome struct {
		remaining int
		err       error
	}
	results := make(map[string]outcome, len(due))
	for _, tok := range due {
		if ctx.Err() != nil {
			break
		}
		remaining, err := m.queryQuota(ctx, querier, tok, m.opts.RefreshModel)
		results[tok] = outcome{remaining: remaining, err: err}
	}

	m.mu.Lock()
	for tok, res := range results {
		t, _ := m.findLocked(tok)
		report.Refreshed++
		if t == nil {
			continue
		}
		if res.err != nil {
			t.Status = StatusExpired
			t.MarkSynced()
			report.Expired++
			continue
		}
		old := t.Quota
		t.UpdateQuota(res.remaining)
		t.MarkSynced()
		if old == 0 && t.Quota > 0 {
			report.Recovered++
		}
	}
	report.Checked = report.Refreshed
	snap := m.snapshotLocked()
	publisher := m.publisher
	m.mu.Unlock()

	m.persist(ctx, snap)

	span.SetAttributes(
		attribute.Int("refresh.checked", report.Checked),
		attribute.Int("refresh.recovered", report.Recovered),
		attribute.Int("refresh.expired", report.Expired),
	)
	log.WithFields(log.Fields{
		"checked":   report.Checked,
		"recovered": report.Recovered,
		"expired":   report.Expired,
	}).Info("token manager: cooling refresh finished")
	if publisher != nil {
		publisher.Publish(ctx, events.TopicTokensRefresh, report, nil)
	}
	return report
}

// RunScheduler is a periodic task body: reload if stale, then refresh.
func (m *Manager) RunScheduler(ctx context.Context) error {
	if err := m.ReloadIfStale(ctx); err != nil {
		log.WithError(err).Warn("token manager: reload before refresh failed")
	}
	m.RefreshCoolingTokens(ctx)
	return nil
}

// RefreshInterval is the scheduler period.
func (m *Manager) RefreshInterval() time.Duration {
	return time.Duration(m.opts.RefreshIntervalHours) * time.Hour
}

func (m *Manager) queryQuota(ctx context.Context, q QuotaQuerier, token, model string) (int, error) {
	if q == nil {
		return 0, errNoQuerier
	}
	return q.RemainingTokens(ctx, token, model)
}
