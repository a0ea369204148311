package imagine

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"grok2api-go/internal/credential"
	"grok2api-go/internal/rotation"
	"grok2api-go/internal/storage"
	"grok2api-go/internal/upstream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenLedger is a fixed token list that records outcome feedback.
type tokenLedger struct {
	mu       sync.Mutex
	list     []string
	consumed map[string][]credential.Effort
	failed   map[string][]int
}

func newLedger(tokens []string) *tokenLedger {
	return &tokenLedger{list: tokens, consumed: map[string][]credential.Effort{}, failed: map[string][]int{}}
}

func (l *tokenLedger) ReloadIfStale(context.Context) error { return nil }
func (l *tokenLedger) AllTokens() []string                 { return append([]string(nil), l.list...) }

func (l *tokenLedger) Consume(_ context.Context, token string, effort credential.Effort) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consumed[token] = append(l.consumed[token], effort)
	return true
}

func (l *tokenLedger) RecordFail(_ context.Context, token string, status int, _ string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed[token] = append(l.failed[token], status)
	return true
}

type attempt struct {
	imgs []upstream.ImagineImage
	err  error
}

// scriptedGenerator replays attempts in order and records the tokens used.
type scriptedGenerator struct {
	mu        sync.Mutex
	attempts  []attempt
	used      []string
	requests  []upstream.ImagineRequest
	verified  []string
	verifyErr error
}

func (g *scriptedGenerator) Imagine(_ context.Context, token string, req upstream.ImagineRequest, _ func(upstream.ImagineProgress)) ([]upstream.ImagineImage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.used = append(g.used, token)
	g.requests = append(g.requests, req)
	if len(g.attempts) == 0 {
		return nil, &upstream.ImagineError{Code: upstream.ImagineCodeGenerationFailed, Message: "script exhausted"}
	}
	next := g.attempts[0]
	g.attempts = g.attempts[1:]
	return next.imgs, next.err
}

func (g *scriptedGenerator) VerifyAge(_ context.Context, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verified = append(g.verified, token)
	return g.verifyErr
}

func imagineErr(code string) error { return &upstream.ImagineError{Code: code, Message: code} }

func finalImage(id string) upstream.ImagineImage {
	return upstream.ImagineImage{ID: id, Blob: base64.StdEncoding.EncodeToString([]byte("jpeg-" + id)), Final: true, Stage: "final"}
}

func newRotation(t *testing.T) *rotation.Store {
	t.Helper()
	fb := storage.NewFileBackend(t.TempDir())
	require.NoError(t, fb.Initialize(context.Background()))
	return rotation.NewStore(fb)
}

func newService(t *testing.T, tokens []string, gen Generator, mutate ...func(*Options)) (*Service, *rotation.Store) {
	t.Helper()
	svc, rot, _ := newServiceWithLedger(t, tokens, gen, mutate...)
	return svc, rot
}

func newServiceWithLedger(t *testing.T, tokens []string, gen Generator, mutate ...func(*Options)) (*Service, *rotation.Store, *tokenLedger) {
	t.Helper()
	rot := newRotation(t)
	opts := Options{DailyLimit: 10, BlockedRetry: 2, MaxRetries: 4, DefaultCount: 4, ImageDir: t.TempDir(), AppURL: "https://img.example/"}
	for _, fn := range mutate {
		fn(&opts)
	}
	ledger := newLedger(tokens)
	return NewService(ledger, rot, gen, opts), rot, ledger
}

func intPtr(n int) *int { return &n }

func TestGenerateSavesImages(t *testing.T) {
	gen := &scriptedGenerator{attempts: []attempt{{imgs: []upstream.ImagineImage{
		finalImage("aa"),
		finalImage("aa"),
		{ID: "bb", Blob: base64.StdEncoding.EncodeToString([]byte("png")), Stage: "medium"},
	}}}}
	svc, rot := newService(t, []string{"t1"}, gen)

	res, err := svc.Generate(context.Background(), Request{Prompt: "cat", Size: "1536x1024", N: intPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, []string{"https://img.example/images/aa.jpg", "https://img.example/images/bb.png"}, res.URLs)

	data, err := os.ReadFile(filepath.Join(svc.Options().ImageDir, "aa.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-aa", string(data))

	require.Len(t, gen.requests, 1)
	assert.Equal(t, "3:2", gen.requests[0].AspectRatio)
	assert.Equal(t, 2, gen.requests[0].N)
	assert.True(t, gen.requests[0].EnableNSFW)

	u, ok := rot.Usage(context.Background(), "t1")
	require.True(t, ok)
	assert.Equal(t, 1, u.Count)
	assert.Equal(t, 1, u.AgeVerified)
}

func TestGenerateRelativeURLWithoutAppURL(t *testing.T) {
	gen := &scriptedGenerator{attempts: []attempt{{imgs: []upstream.ImagineImage{finalImage("cc")}}}}
	svc, _ := newService(t, []string{"t1"}, gen, func(o *Options) { o.AppURL = "" })

	res, err := svc.Generate(context.Background(), Request{Prompt: "cat"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/images/cc.jpg"}, res.URLs)
	assert.Equal(t, 4, gen.requests[0].N)
}

func TestGenerateNoTokens(t *testing.T) {
	svc, _ := newService(t, nil, &scriptedGenerator{})
	_, err := svc.Generate(context.Background(), Request{Prompt: "cat"})
	assert.Equal(t, CodeNoAvailableSSO, CodeOf(err))
}

func TestGenerateRotatesOnRateLimit(t *testing.T) {
	gen := &scriptedGenerator{attempts: []attempt{
		{err: imagineErr(upstream.ImagineCodeRateLimited)},
		{imgs: []upstream.ImagineImage{finalImage("dd")}},
	}}
	svc, rot := newService(t, []string{"t1", "t2"}, gen)

	_, err := svc.Generate(context.Background(), Request{Prompt: "cat"})
	require.NoError(t, err)
	require.Len(t, gen.used, 2)
	assert.NotEqual(t, gen.used[0], gen.used[1])

	u, _ := rot.Usage(context.Background(), gen.used[0])
	assert.True(t, u.Failed)
}

func TestGenerateReturnsLastErrorAfterRetries(t *testing.T) {
	gen := &scriptedGenerator{attempts: []attempt{
		{err: imagineErr(upstream.ImagineCodeUnauthorized)},
		{err: imagineErr(upstream.ImagineCodeUnauthorized)},
	}}
	svc, _ := newService(t, []string{"t1"}, gen, func(o *Options) { o.MaxRetries = 2 })

	_, err := svc.Generate(context.Background(), Request{Prompt: "cat"})
	assert.Equal(t, upstream.ImagineCodeUnauthorized, CodeOf(err))
	assert.Len(t, gen.used, 2)
}

func TestGenerateDailyLimitExhausted(t *testing.T) {
	gen := &scriptedGenerator{attempts: []attempt{{imgs: []upstream.ImagineImage{finalImage("a1")}}}}
	svc, _ := newService(t, []string{"t1"}, gen, func(o *Options) { o.DailyLimit = 1 })

	_, err := svc.Generate(context.Background(), Request{Prompt: "cat"})
	require.NoError(t, err)
	_, err = svc.Generate(context.Background(), Request{Prompt: "cat"})
	assert.Equal(t, CodeNoAvailableSSO, CodeOf(err))
	assert.Len(t, gen.used, 1)
}

func TestGenerateBlockedBudget(t *testing.T) {
	gen := &scriptedGenerator{attempts: []attempt{
		{err: imagineErr(upstream.ImagineCodeBlocked)},
		{err: imagineErr(upstream.ImagineCodeBlocked)},
		{imgs: []upstream.ImagineImage{finalImage("ee")}},
	}}
	svc, _ := newService(t, []string{"t1", "t2", "t3"}, gen)

	_, err := svc.Generate(context.Background(), Request{Prompt: "cat"})
	assert.Equal(t, CodeBlocked, CodeOf(err))
	assert.Len(t, gen.used, 2)
}

func TestGenerateOtherErrorsReturnImmediately(t *testing.T) {
	gen := &scriptedGenerator{attempts: []attempt{{err: imagineErr(upstream.ImagineCodeConnectionFailed)}}}
	svc, _ := newService(t, []string{"t1", "t2"}, gen)

	_, err := svc.Generate(context.Background(), Request{Prompt: "cat"})
	assert.Equal(t, upstream.ImagineCodeConnectionFailed, CodeOf(err))
	assert.Len(t, gen.used, 1)
}

func TestGenerateSkipsAgeVerifyOnceVerified(t *testing.T) {
	gen := &scriptedGenerator{attempts: []attempt{
		{imgs: []upstream.ImagineImage{finalImage("f1")}},
		{imgs: []upstream.ImagineImage{finalImage("f2")}},
	}}
	svc, _ := newService(t, []string{"t1"}, gen)

	for i := 0; i < 2; i++ {
		_, err := svc.Generate(context.Background(), Request{Prompt: "cat"})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"t1"}, gen.verified)
}

func TestGenerateFailsWhenNothingDecodes(t *testing.T) {
	gen := &scriptedGenerator{attempts: []attempt{{imgs: []upstream.ImagineImage{{ID: "zz", Blob: "%%%", Final: true}}}}}
	svc, _ := newService(t, []string{"t1"}, gen)

	_, err := svc.Generate(context.Background(), Request{Prompt: "cat"})
	assert.Equal(t, CodeGenerationFailed, CodeOf(err))
}

func TestAspectRatioAndCount(t *testing.T) {
	assert.Equal(t, "1:1", AspectRatio("512x512"))
	assert.Equal(t, "2:3", AspectRatio("1024x1536"))
	assert.Equal(t, "2:3", AspectRatio("weird"))

	svc := &Service{}
	n, err := svc.imageCount(nil, Options{DefaultCount: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	n, err = svc.imageCount(nil, Options{DefaultCount: 9})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	n, err = svc.imageCount(intPtr(3), Options{DefaultCount: 4})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, bad := range []int{0, -1, 5, 9} {
		_, err := svc.imageCount(intPtr(bad), Options{DefaultCount: 4})
		assert.Equal(t, CodeInvalidCount, CodeOf(err), bad)
	}
}

func TestResolveImage(t *testing.T) {
	p, ok := ResolveImage("/data/img", "ab.jpg")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join("/data/img", "ab.jpg"), p)
	for _, bad := range []string{"", "../x.jpg", ".hidden", "a/b.jpg", `a\b.jpg`} {
		_, ok := ResolveImage("/data/img", bad)
		assert.False(t, ok, bad)
	}
}

func TestCleanupImages(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.jpg")
	fresh := filepath.Join(dir, "fresh.jpg")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	n, err := CleanupImages(dir, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = os.Stat(fresh)
	assert.NoError(t, err)

	n, err = CleanupImages(filepath.Join(dir, "missing"), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGenerateFeedsOutcomeBackToTokens(t *testing.T) {
	gen := &scriptedGenerator{attempts: []attempt{
		{err: imagineErr(upstream.ImagineCodeUnauthorized)},
		{err: imagineErr(upstream.ImagineCodeRateLimited)},
		{imgs: []upstream.ImagineImage{finalImage("ok")}},
	}}
	svc, _, ledger := newServiceWithLedger(t, []string{"t1", "t2", "t3"}, gen)

	_, err := svc.Generate(context.Background(), Request{Prompt: "cat"})
	require.NoError(t, err)
	require.Len(t, gen.used, 3)

	// only the auth rejection counts against the token
	assert.Equal(t, map[string][]int{gen.used[0]: {credential.AuthFailureStatus}}, ledger.failed)
	assert.Equal(t, map[string][]credential.Effort{gen.used[2]: {credential.EffortHigh}}, ledger.consumed)
}

func TestGenerateRejectsBadRequestsUpfront(t *testing.T) {
	gen := &scriptedGenerator{}
	svc, _, ledger := newServiceWithLedger(t, []string{"t1"}, gen)

	_, err := svc.Generate(context.Background(), Request{Prompt: "cat", N: intPtr(5)})
	assert.Equal(t, CodeInvalidCount, CodeOf(err))
	_, err = svc.Generate(context.Background(), Request{Prompt: "cat", Model: "grok-4"})
	assert.Equal(t, CodeModelNotSupported, CodeOf(err))
	_, err = svc.Generate(context.Background(), Request{Prompt: "cat", Model: "nope"})
	assert.Equal(t, CodeModelNotSupported, CodeOf(err))

	assert.Empty(t, gen.used)
	assert.Empty(t, ledger.consumed)
}

func TestGeneratePassesProgressHook(t *testing.T) {
	var seen []upstream.ImagineProgress
	gen := &progressGenerator{events: []upstream.ImagineProgress{
		{ImageID: "p1", Stage: "preview", Completed: 0, Total: 1},
		{ImageID: "p1", Stage: "final", Final: true, Completed: 1, Total: 1},
	}}
	svc, _ := newService(t, []string{"t1"}, gen)

	_, err := svc.Generate(context.Background(), Request{
		Prompt:     "cat",
		N:          intPtr(1),
		Model:      "GROK-IMAGINE-1.0",
		OnProgress: func(p upstream.ImagineProgress) { seen = append(seen, p) },
	})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.True(t, seen[1].Final)
}

// progressGenerator emits events before returning one final image.
type progressGenerator struct {
	events []upstream.ImagineProgress
}

func (g *progressGenerator) Imagine(_ context.Context, _ string, _ upstream.ImagineRequest, onProgress func(upstream.ImagineProgress)) ([]upstream.ImagineImage, error) {
	for _, e := range g.events {
		if onProgress != nil {
			onProgress(e)
		}
	}
	return []upstream.ImagineImage{finalImage("p1")}, nil
}

func (g *progressGenerator) VerifyAge(context.Context, string) error { return nil }
