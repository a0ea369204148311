package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"grok2api-go/internal/monitoring"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBackend implements Backend for wrapper tests
type stubBackend struct {
	saveErr error
	state   map[string][]byte
	saves   int
}

func (s *stubBackend) Name() string { return "stub" }
func (s *stubBackend) LoadTokens(context.Context) (Document, error) {
	return Document{}, nil
}
func (s *stubBackend) SaveTokens(context.Context, Document) error {
	s.saves++
	return s.saveErr
}
func (s *stubBackend) LoadState(_ context.Context, name string) ([]byte, error) {
	if v, ok := s.state[name]; ok {
		return v, nil
	}
	return nil, ErrNotFound
}
func (s *stubBackend) SaveState(_ context.Context, name string, data []byte) error {
	if s.state == nil {
		s.state = map[string][]byte{}
	}
	s.state[name] = data
	return nil
}
func (s *stubBackend) WithLock(ctx context.Context, _ string, _ time.Duration, fn func(context.Context) error) error {
	return fn(ctx)
}
func (s *stubBackend) Health(context.Context) error { return nil }
func (s *stubBackend) Close() error                 { return nil }

func TestWithInstrumentationRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	inner := &stubBackend{saveErr: errors.New("disk full")}
	b := WithInstrumentation(inner, monitoring.NewSlowQueryLogger(time.Hour, 10))
	assert.Equal(t, "stub", BackendName(b))

	before := testutil.ToFloat64(monitoring.StorageOpsTotal.WithLabelValues("stub", "save_tokens", "error"))
	require.Error(t, b.SaveTokens(ctx, Document{}))
	after := testutil.ToFloat64(monitoring.StorageOpsTotal.WithLabelValues("stub", "save_tokens", "error"))
	assert.Equal(t, before+1, after)
	assert.Equal(t, 1, inner.saves)
}

func TestWithInstrumentationKeepsNotFound(t *testing.T) {
	ctx := context.Background()
	b := WithInstrumentation(&stubBackend{}, nil)

	_, err := b.LoadState(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.SaveState(ctx, "present", []byte("{}")))
	data, err := b.LoadState(ctx, "present")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestWithInstrumentationIdempotent(t *testing.T) {
	inner := &stubBackend{}
	once := WithInstrumentation(inner, nil)
	assert.Same(t, once, WithInstrumentation(once, nil))
	assert.Nil(t, WithInstrumentation(nil, nil))
}
