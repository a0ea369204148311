package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileBackend implements storage using local files under baseDir:
//
//	<base>/token.json            token document
//	<base>/<name>.json           state documents
//	<base>/.locks/<name>.lock    advisory locks
type FileBackend struct {
	baseDir string

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewFileBackend creates a new file-based storage backend
func NewFileBackend(baseDir string) *FileBackend {
	return &FileBackend{
		baseDir: expandPath(baseDir),
		locks:   make(map[string]chan struct{}),
	}
}

func (f *FileBackend) Name() string { return "file" }

// BaseDir returns the root directory.
func (f *FileBackend) BaseDir() string { return f.baseDir }

// TokensPath is the on-disk location of the token document.
func (f *FileBackend) TokensPath() string {
	return filepath.Join(f.baseDir, TokensDocument+".json")
}

func (f *FileBackend) Initialize(ctx context.Context) error {
	for _, dir := range []string{f.baseDir, filepath.Join(f.baseDir, ".locks")} {
		if err := ensureDir(dir); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (f *FileBackend) Close() error { return nil }

func (f *FileBackend) Health(ctx context.Context) error {
	_, err := os.Stat(f.baseDir)
	return err
}

func (f *FileBackend) LoadTokens(ctx context.Context) (Document, error) {
	data, err := os.ReadFile(f.TokensPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, nil
		}
		return nil, err
	}
	return decodeDocument(data)
}

func (f *FileBackend) SaveTokens(ctx context.Context, doc Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	return writeFileAtomic(f.TokensPath(), data, 0o600)
}

func (f *FileBackend) LoadState(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.statePath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (f *FileBackend) SaveState(ctx context.Context, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	return writeFileAtomic(f.statePath(name), data, 0o600)
}

// WithLock takes an in-process lock first, then an OS file lock so that
// separate processes sharing baseDir are serialized too.
func (f *FileBackend) WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := validateName(name); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sem := f.semaphore(name)
	deadline := time.Now().Add(timeout)

	timer := time.NewTimer(timeout)
	select {
	case sem <- struct{}{}:
		timer.Stop()
	case <-timer.C:
		return &LockTimeoutError{Name: name}
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}
	defer func() { <-sem }()

	if err := ensureDir(filepath.Join(f.baseDir, ".locks")); err != nil {
		return err
	}
	lf, err := os.OpenFile(filepath.Join(f.baseDir, ".locks", name+".lock"), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer lf.Close()

	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}
	if err := pollLock(ctx, name, remaining, func() (bool, error) { return tryFlock(lf) }); err != nil {
		return err
	}
	defer unlockFlock(lf)

	return fn(ctx)
}

func (f *FileBackend) semaphore(name string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	sem, ok := f.locks[name]
	if !ok {
		sem = make(chan struct{}, 1)
		f.locks[name] = sem
	}
	return sem
}

func (f *FileBackend) statePath(name string) string {
	return filepath.Join(f.baseDir, name+".json")
}
