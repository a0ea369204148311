package storage

import (
	"context"
	"errors"
	"time"

	"grok2api-go/internal/monitoring"
	"grok2api-go/internal/monitoring/tracing"

	"go.opentelemetry.io/otel/attribute"
)

// WithInstrumentation wraps a backend with tracing, prometheus metrics and
// slow-operation tracking. slow may be nil.
func WithInstrumentation(inner Backend, slow *monitoring.SlowQueryLogger) Backend {
	if inner == nil {
		return nil
	}
	if _, already := inner.(*instrumentedBackend); already {
		return inner
	}
	return &instrumentedBackend{Backend: inner, label: BackendName(inner), slow: slow}
}

type instrumentedBackend struct {
	Backend
	label string
	slow  *monitoring.SlowQueryLogger
}

func (i *instrumentedBackend) Name() string { return i.label }

// Unwrap returns the wrapped backend.
func (i *instrumentedBackend) Unwrap() Backend { return i.Backend }

func (i *instrumentedBackend) LoadTokens(ctx context.Context) (Document, error) {
	var doc Document
	err := i.instrument(ctx, "load_tokens", "", func(ctx context.Context) error {
		var innerErr error
		doc, innerErr = i.Backend.LoadTokens(ctx)
		return innerErr
	})
	return doc, err
}

func (i *instrumentedBackend) SaveTokens(ctx context.Context, doc Document) error {
	return i.instrument(ctx, "save_tokens", "", func(ctx context.Context) error {
		return i.Backend.SaveTokens(ctx, doc)
	})
}

func (i *instrumentedBackend) LoadState(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := i.instrument(ctx, "load_state", name, func(ctx context.Context) error {
		var innerErr error
		data, innerErr = i.Backend.LoadState(ctx, name)
		if errors.Is(innerErr, ErrNotFound) {
			// absence is a normal outcome, not a failed op
			return nil
		}
		return innerErr
	})
	if err == nil && data == nil {
		return nil, ErrNotFound
	}
	return data, err
}

func (i *instrumentedBackend) SaveState(ctx context.Context, name string, data []byte) error {
	return i.instrument(ctx, "save_state", name, func(ctx context.Context) error {
		return i.Backend.SaveState(ctx, name, data)
	})
}

// WithLock measures only acquisition plus fn; the span covers both.
func (i *instrumentedBackend) WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	return i.instrument(ctx, "with_lock", name, func(ctx context.Context) error {
		return i.Backend.WithLock(ctx, name, timeout, fn)
	})
}

func (i *instrumentedBackend) instrument(ctx context.Context, operation, detail string, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "storage", i.label+"/"+operation)
	span.SetAttributes(
		attribute.String("storage.backend", i.label),
		attribute.String("storage.operation", operation),
	)
	if detail != "" {
		span.SetAttributes(attribute.String("storage.name", detail))
	}
	start := time.Now()
	err := fn(ctx)
	tracing.Finish(span, err)

	monitoring.StorageOpsTotal.WithLabelValues(i.label, operation, monitoring.ResultLabel(err)).Inc()
	monitoring.StorageOpDuration.WithLabelValues(i.label, operation).Observe(time.Since(start).Seconds())
	if i.slow != nil {
		i.slow.Observe(i.label+"/"+operation, detail, start, err)
	}
	return err
}
