package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Document is the persisted token document: pool name → JSON array of tokens.
// The credential package owns the element schema; storage only moves bytes.
type Document map[string]json.RawMessage

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return Document{}
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Backend defines the interface for storage implementations
type Backend interface {
	// LoadTokens returns the token document; a missing document is empty, not an error.
	LoadTokens(ctx context.Context) (Document, error)
	SaveTokens(ctx context.Context, doc Document) error

	// LoadState/SaveState hold auxiliary JSON documents such as rotation state.
	// LoadState returns ErrNotFound when the document does not exist.
	LoadState(ctx context.Context, name string) ([]byte, error)
	SaveState(ctx context.Context, name string, data []byte) error

	// WithLock runs fn while holding the named lock, waiting at most timeout.
	WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error

	// Health checks if the storage backend is healthy
	Health(ctx context.Context) error

	// Close closes the storage backend
	Close() error
}

// Named is implemented by backends that report a short identifier for metrics.
type Named interface {
	Name() string
}

var (
	// ErrNotFound is returned when a state document does not exist
	ErrNotFound = errors.New("storage: not found")
	// ErrLockTimeout is wrapped by WithLock when the lock could not be acquired in time
	ErrLockTimeout = errors.New("lock timeout")
)

// LockTimeoutError names the lock that timed out.
type LockTimeoutError struct {
	Name string
}

func (e *LockTimeoutError) Error() string {
	return "lock timeout: " + e.Name
}

func (e *LockTimeoutError) Unwrap() error { return ErrLockTimeout }

const (
	// TokensDocument is the logical name of the token document.
	TokensDocument = "token"
	// TokensSaveLock serializes token document writers.
	TokensSaveLock = "tokens_save"
)

// BackendName returns b.Name() when available.
func BackendName(b Backend) string {
	if n, ok := b.(Named); ok {
		return n.Name()
	}
	return "unknown"
}
