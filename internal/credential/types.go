package credential

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Status is the lifecycle state of a token.
type Status string

const (
	StatusActive   Status = "active"
	StatusCooling  Status = "cooling"
	StatusExpired  Status = "expired"
	StatusDisabled Status = "disabled"
)

// Effort weights a consumption.
type Effort string

const (
	EffortLow  Effort = "low"
	EffortHigh Effort = "high"
)

// Cost returns the quota units an effort consumes.
func (e Effort) Cost() int {
	if e == EffortHigh {
		return 4
	}
	return 1
}

// ParseEffort maps "high" to EffortHigh and anything else to EffortLow.
func ParseEffort(s string) Effort {
	if strings.EqualFold(strings.TrimSpace(s), string(EffortHigh)) {
		return EffortHigh
	}
	return EffortLow
}

const (
	DefaultQuota  = 80
	FailThreshold = 5
	// AuthFailureStatus is the only upstream status that counts toward expiry.
	AuthFailureStatus = 401
)

var (
	ErrNoAvailableToken = errors.New("no available token")
	ErrTokenNotFound    = errors.New("token not found")
)

// Token is one upstream SSO credential and its accounting state.
// Timestamps are unix milliseconds.
type Token struct {
	Token            string   `json:"token"`
	Status           Status   `json:"status"`
	Quota            int      `json:"quota"`
	CreatedAt        int64    `json:"created_at"`
	LastUsedAt       *int64   `json:"last_used_at"`
	UseCount         int      `json:"use_count"`
	FailCount        int      `json:"fail_count"`
	LastFailAt       *int64   `json:"last_fail_at"`
	LastFailReason   *string  `json:"last_fail_reason"`
	LastSyncAt       *int64   `json:"last_sync_at"`
	Tags             []string `json:"tags"`
	Note             string   `json:"note"`
	LastAssetClearAt *int64   `json:"last_asset_clear_at"`
}

// NewToken returns a fresh active token with the default quota.
func NewToken(raw string) Token {
	return Token{
		Token:     TrimToken(raw),
		Status:    StatusActive,
		Quota:     DefaultQuota,
		CreatedAt: nowMillis(),
		Tags:      []string{},
	}
}

// TrimToken strips whitespace and the "sso=" cookie prefix.
func TrimToken(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "sso=")
}

// Available reports whether the token may be selected.
func (t *Token) Available() bool {
	return t.Status == StatusActive && t.Quota > 0
}

// Consume deducts the effort cost (capped at the remaining quota) and returns
// the amount actually deducted.
func (t *Token) Consume(effort Effort) int {
	actual := effort.Cost()
	if t.Quota < actual {
		actual = t.Quota
	}
	if actual < 0 {
		actual = 0
	}
	now := nowMillis()
	t.LastUsedAt = &now
	t.UseCount += actual
	t.Quota -= actual
	if t.Quota < 0 {
		t.Quota = 0
	}
	t.FailCount = 0
	t.LastFailReason = nil
	t.applyQuotaStatus()
	return actual
}

// UpdateQuota overwrites the quota with an authoritative value.
func (t *Token) UpdateQuota(n int) {
	if n < 0 {
		n = 0
	}
	t.Quota = n
	t.applyQuotaStatus()
}

// applyQuotaStatus: empty quota cools an active token; a refilled cooling or
// expired token becomes active again. Disabled is never touched.
func (t *Token) applyQuotaStatus() {
	if t.Quota == 0 {
		if t.Status == StatusActive {
			t.Status = StatusCooling
		}
		return
	}
	if t.Status == StatusCooling || t.Status == StatusExpired {
		t.Status = StatusActive
	}
}

// Reset restores the default quota and clears failure state.
func (t *Token) Reset() {
	t.Quota = DefaultQuota
	t.Status = StatusActive
	t.FailCount = 0
	t.LastFailReason = nil
}

// RecordFail counts an authentication failure; other statuses are ignored.
func (t *Token) RecordFail(status int, reason string) {
	if status != AuthFailureStatus {
		return
	}
	now := nowMillis()
	t.FailCount++
	t.LastFailAt = &now
	t.LastFailReason = &reason
	if t.FailCount >= FailThreshold {
		t.Status = StatusExpired
	}
}

// RecordSuccess clears failure state. isUsage also counts one use.
func (t *Token) RecordSuccess(isUsage bool) {
	t.FailCount = 0
	t.LastFailAt = nil
	t.LastFailReason = nil
	if isUsage {
		now := nowMillis()
		t.UseCount++
		t.LastUsedAt = &now
	}
	if t.Status == StatusDisabled {
		return
	}
	if t.Quota == 0 {
		t.Status = StatusCooling
	} else {
		t.Status = StatusActive
	}
}

// NeedRefresh reports whether a cooling token is due for a quota resync.
func (t *Token) NeedRefresh(intervalHours int) bool {
	if t.Status != StatusCooling {
		return false
	}
	if t.LastSyncAt == nil {
		return true
	}
	interval := int64(intervalHours) * int64(time.Hour/time.Millisecond)
	return nowMillis()-*t.LastSyncAt >= interval
}

func (t *Token) MarkSynced() {
	now := nowMillis()
	t.LastSyncAt = &now
}

// HasTag reports whether tag is present.
func (t *Token) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// clone returns a deep copy so callers never alias pool state.
func (t Token) clone() Token {
	out := t
	out.Tags = append([]string{}, t.Tags...)
	out.LastUsedAt = clonePtr(t.LastUsedAt)
	out.LastFailAt = clonePtr(t.LastFailAt)
	out.LastFailReason = clonePtr(t.LastFailReason)
	out.LastSyncAt = clonePtr(t.LastSyncAt)
	out.LastAssetClearAt = clonePtr(t.LastAssetClearAt)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// parseToken reads one stored token leniently: unknown status means active,
// a missing quota means DefaultQuota, and an empty token is rejected. A
// negative quota is clamped to 0 and an active token without quota cools.
func parseToken(raw json.RawMessage) (Token, bool) {
	v := gjson.ParseBytes(raw)
	if !v.IsObject() {
		return Token{}, false
	}
	tok := TrimToken(v.Get("token").String())
	if tok == "" {
		return Token{}, false
	}
	t := Token{
		Token:     tok,
		Status:    parseStatus(v.Get("status").String()),
		Quota:     DefaultQuota,
		CreatedAt: nowMillis(),
		UseCount:  int(v.Get("use_count").Int()),
		FailCount: int(v.Get("fail_count").Int()),
		Note:      v.Get("note").String(),
		Tags:      []string{},
	}
	if q := v.Get("quota"); q.Exists() && q.Type == gjson.Number {
		t.Quota = max(int(q.Int()), 0)
	}
	// stored expired/cooling tokens keep their status; only an active one
	// with nothing left is demoted
	if t.Status == StatusActive && t.Quota == 0 {
		t.Status = StatusCooling
	}
	if c := v.Get("created_at"); c.Exists() && c.Type == gjson.Number {
		t.CreatedAt = c.Int()
	}
	t.LastUsedAt = optMillis(v.Get("last_used_at"))
	t.LastFailAt = optMillis(v.Get("last_fail_at"))
	t.LastSyncAt = optMillis(v.Get("last_sync_at"))
	t.LastAssetClearAt = optMillis(v.Get("last_asset_clear_at"))
	if r := v.Get("last_fail_reason"); r.Type == gjson.String {
		s := r.String()
		t.LastFailReason = &s
	}
	v.Get("tags").ForEach(func(_, tag gjson.Result) bool {
		if tag.Type == gjson.String {
			t.Tags = append(t.Tags, tag.String())
		}
		return true
	})
	return t, true
}

func parseStatus(s string) Status {
	switch Status(strings.ToLower(s)) {
	case StatusDisabled:
		return StatusDisabled
	case StatusExpired:
		return StatusExpired
	case StatusCooling:
		return StatusCooling
	default:
		return StatusActive
	}
}

func optMillis(r gjson.Result) *int64 {
	if r.Type != gjson.Number {
		return nil
	}
	v := r.Int()
	return &v
}

var nowMillis = func() int64 { return time.Now().UnixMilli() }
