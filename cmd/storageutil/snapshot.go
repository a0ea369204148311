package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"grok2api-go/internal/rotation"
	store "grok2api-go/internal/storage"
)

// stateDocuments are the auxiliary documents carried in a snapshot.
var stateDocuments = []string{rotation.StateName}

// snapshot is the portable form of a backend: the token document plus
// auxiliary state documents keyed by name.
type snapshot struct {
	Tokens store.Document             `json:"tokens"`
	State  map[string]json.RawMessage `json:"state,omitempty"`
}

func takeSnapshot(ctx context.Context, backend store.Backend) (*snapshot, error) {
	doc, err := backend.LoadTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	snap := &snapshot{Tokens: doc, State: map[string]json.RawMessage{}}
	if snap.Tokens == nil {
		snap.Tokens = store.Document{}
	}
	for _, name := range stateDocuments {
		data, err := backend.LoadState(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load state %s: %w", name, err)
		}
		snap.State[name] = json.RawMessage(data)
	}
	return snap, nil
}

func restoreSnapshot(ctx context.Context, backend store.Backend, snap *snapshot) error {
	err := backend.WithLock(ctx, store.TokensSaveLock, 10*time.Second, func(ctx context.Context) error {
		return backend.SaveTokens(ctx, snap.Tokens)
	})
	if err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	for name, data := range snap.State {
		if err := backend.SaveState(ctx, name, data); err != nil {
			return fmt.Errorf("save state %s: %w", name, err)
		}
	}
	return nil
}

func runExport(ctx context.Context, backend store.Backend, path string) error {
	snap, err := takeSnapshot(ctx, backend)
	if err != nil {
		return err
	}
	var w io.Writer = os.Stdout
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("open export file: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("write export json: %w", err)
	}
	return nil
}

func runImport(ctx context.Context, backend store.Backend, path string) error {
	snap, err := readSnapshot(path)
	if err != nil {
		return fmt.Errorf("read import json: %w", err)
	}
	return restoreSnapshot(ctx, backend, snap)
}

func runVerify(ctx context.Context, backend store.Backend, path string) (bool, error) {
	expected, err := readSnapshot(path)
	if err != nil {
		return false, fmt.Errorf("read reference json: %w", err)
	}
	current, err := takeSnapshot(ctx, backend)
	if err != nil {
		return false, err
	}
	if equalSnapshots(expected, current) {
		fmt.Println("storage matches reference snapshot")
		return true, nil
	}
	fmt.Println("storage diverges from reference snapshot")
	return false, nil
}

func runCopy(ctx context.Context, src, dst store.Backend) error {
	snap, err := takeSnapshot(ctx, src)
	if err != nil {
		return err
	}
	if err := restoreSnapshot(ctx, dst, snap); err != nil {
		return err
	}
	fmt.Printf("copied %d pool(s) and %d state document(s) from %s to %s\n",
		len(snap.Tokens), len(snap.State), store.BackendName(src), store.BackendName(dst))
	return nil
}

func readSnapshot(path string) (*snapshot, error) {
	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, err
	}
	if snap.Tokens == nil {
		snap.Tokens = store.Document{}
	}
	return &snap, nil
}

// equalSnapshots compares decoded JSON so whitespace and key order do not matter.
func equalSnapshots(a, b *snapshot) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(s *snapshot) any {
	raw, _ := json.Marshal(s)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	if st, ok := out["state"].(map[string]any); ok && len(st) == 0 {
		delete(out, "state")
	}
	return out
}
