package credential

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeLowToZeroCools(t *testing.T) {
	tok := NewToken("a")
	tok.Quota = 1
	assert.Equal(t, 1, tok.Consume(EffortLow))
	assert.Equal(t, 0, tok.Quota)
	assert.Equal(t, StatusCooling, tok.Status)
	assert.Equal(t, 1, tok.UseCount)
	require.NotNil(t, tok.LastUsedAt)
}

func TestConsumeHighClampsToQuota(t *testing.T) {
	tok := NewToken("a")
	tok.Quota = 2
	assert.Equal(t, 2, tok.Consume(EffortHigh))
	assert.Equal(t, 0, tok.Quota)
	assert.Equal(t, 2, tok.UseCount)

	tok.Quota = 10
	assert.Equal(t, 4, tok.Consume(EffortHigh))
	assert.Equal(t, 6, tok.Quota)
}

func TestConsumeClearsFailureState(t *testing.T) {
	tok := NewToken("a")
	tok.RecordFail(401, "bad")
	require.Equal(t, 1, tok.FailCount)
	tok.Consume(EffortLow)
	assert.Equal(t, 0, tok.FailCount)
	assert.Nil(t, tok.LastFailReason)
}

func TestQuotaNeverNegative(t *testing.T) {
	tok := NewToken("a")
	ops := []func(){
		func() { tok.Consume(EffortHigh) },
		func() { tok.UpdateQuota(-5) },
		func() { tok.Consume(EffortLow) },
		func() { tok.UpdateQuota(3) },
	}
	for i := 0; i < 60; i++ {
		ops[i%len(ops)]()
		require.GreaterOrEqual(t, tok.Quota, 0)
	}
}

func TestRecordFailOnlyCounts401(t *testing.T) {
	tok := NewToken("a")
	tok.RecordFail(500, "server")
	assert.Equal(t, 0, tok.FailCount)
	assert.Equal(t, StatusActive, tok.Status)

	for i := 0; i < FailThreshold-1; i++ {
		tok.RecordFail(401, "unauthorized")
	}
	assert.Equal(t, StatusActive, tok.Status)
	tok.RecordFail(401, "unauthorized")
	assert.Equal(t, StatusExpired, tok.Status)
	assert.Equal(t, FailThreshold, tok.FailCount)
	require.NotNil(t, tok.LastFailReason)
	assert.Equal(t, "unauthorized", *tok.LastFailReason)
}

func TestUpdateQuotaRevivesCoolingAndExpired(t *testing.T) {
	tok := NewToken("a")
	tok.Status = StatusCooling
	tok.Quota = 0
	tok.UpdateQuota(10)
	assert.Equal(t, StatusActive, tok.Status)

	tok.Status = StatusExpired
	tok.UpdateQuota(0)
	assert.Equal(t, StatusExpired, tok.Status)
	tok.UpdateQuota(5)
	assert.Equal(t, StatusActive, tok.Status)

	tok.Status = StatusDisabled
	tok.UpdateQuota(0)
	assert.Equal(t, StatusDisabled, tok.Status)
}

func TestResetIsIdempotent(t *testing.T) {
	for _, st := range []Status{StatusActive, StatusCooling, StatusExpired, StatusDisabled} {
		tok := NewToken("a")
		tok.Status = st
		tok.Quota = 3
		tok.FailCount = 9
		tok.Reset()
		tok.Reset()
		assert.Equal(t, DefaultQuota, tok.Quota)
		assert.Equal(t, StatusActive, tok.Status)
		assert.Equal(t, 0, tok.FailCount)
	}
}

func TestRecordSuccess(t *testing.T) {
	tok := NewToken("a")
	tok.RecordFail(401, "x")
	tok.RecordSuccess(false)
	assert.Equal(t, 0, tok.FailCount)
	assert.Nil(t, tok.LastFailAt)
	assert.Equal(t, 0, tok.UseCount)

	tok.RecordSuccess(true)
	assert.Equal(t, 1, tok.UseCount)

	tok.Quota = 0
	tok.RecordSuccess(false)
	assert.Equal(t, StatusCooling, tok.Status)
}

func TestNeedRefresh(t *testing.T) {
	tok := NewToken("a")
	assert.False(t, tok.NeedRefresh(8))

	tok.Status = StatusCooling
	assert.True(t, tok.NeedRefresh(8))

	tok.MarkSynced()
	assert.False(t, tok.NeedRefresh(8))

	old := nowMillis() - 9*3600*1000
	tok.LastSyncAt = &old
	assert.True(t, tok.NeedRefresh(8))
}

func TestParseTokenLenient(t *testing.T) {
	tok, ok := parseToken(json.RawMessage(`{"token":"sso=abc","status":"weird","tags":["nsfw",3],"last_fail_reason":"r","last_sync_at":null}`))
	require.True(t, ok)
	assert.Equal(t, "abc", tok.Token)
	assert.Equal(t, StatusActive, tok.Status)
	assert.Equal(t, DefaultQuota, tok.Quota)
	assert.Equal(t, []string{"nsfw"}, tok.Tags)
	require.NotNil(t, tok.LastFailReason)
	assert.Nil(t, tok.LastSyncAt)

	tok, ok = parseToken(json.RawMessage(`{"token":"x","status":"cooling","quota":0,"created_at":42}`))
	require.True(t, ok)
	assert.Equal(t, StatusCooling, tok.Status)
	assert.Equal(t, 0, tok.Quota)
	assert.EqualValues(t, 42, tok.CreatedAt)

	_, ok = parseToken(json.RawMessage(`{"token":""}`))
	assert.False(t, ok)
	_, ok = parseToken(json.RawMessage(`"str"`))
	assert.False(t, ok)
}

func TestTokenJSONFieldNames(t *testing.T) {
	data, err := json.Marshal(NewToken("sso=abc"))
	require.NoError(t, err)
	for _, key := range []string{"token", "status", "quota", "created_at", "last_used_at", "use_count",
		"fail_count", "last_fail_at", "last_fail_reason", "last_sync_at", "tags", "note", "last_asset_clear_at"} {
		assert.Contains(t, string(data), `"`+key+`"`)
	}
	assert.Contains(t, string(data), `"token":"abc"`)
	assert.Contains(t, string(data), `"status":"active"`)
}

func TestParseEffort(t *testing.T) {
	assert.Equal(t, EffortHigh, ParseEffort("HIGH"))
	assert.Equal(t, EffortLow, ParseEffort("medium"))
	assert.Equal(t, 4, EffortHigh.Cost())
	assert.Equal(t, 1, EffortLow.Cost())
}

func TestParseTokenRestoresQuotaInvariants(t *testing.T) {
	tok, ok := parseToken(json.RawMessage(`{"token":"neg","status":"active","quota":-7}`))
	require.True(t, ok)
	assert.Equal(t, 0, tok.Quota)
	assert.Equal(t, StatusCooling, tok.Status)
	assert.False(t, tok.Available())

	tok, ok = parseToken(json.RawMessage(`{"token":"empty","status":"active","quota":0}`))
	require.True(t, ok)
	assert.Equal(t, StatusCooling, tok.Status)

	// an expired token keeps its status even with quota left
	tok, ok = parseToken(json.RawMessage(`{"token":"dead","status":"expired","quota":30,"fail_count":5}`))
	require.True(t, ok)
	assert.Equal(t, StatusExpired, tok.Status)
	assert.Equal(t, 30, tok.Quota)

	tok, ok = parseToken(json.RawMessage(`{"token":"off","status":"disabled","quota":-1}`))
	require.True(t, ok)
	assert.Equal(t, StatusDisabled, tok.Status)
	assert.Equal(t, 0, tok.Quota)
}
