package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"grok2api-go/internal/config"
)

// Open builds and initializes the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "file":
		fb := NewFileBackend(cfg.BaseDir)
		if err := fb.Initialize(ctx); err != nil {
			return nil, err
		}
		return fb, nil
	case "redis":
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		rb, err := NewRedisBackend(addr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		if err := rb.Initialize(ctx); err != nil {
			_ = rb.Close()
			return nil, err
		}
		return rb, nil
	case "postgres", "postgresql":
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, fmt.Errorf("storage: postgres_dsn is required")
		}
		pb, err := NewPostgresBackend(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pb.Initialize(ctx); err != nil {
			_ = pb.Close()
			return nil, err
		}
		return pb, nil
	case "mongo", "mongodb":
		if strings.TrimSpace(cfg.MongoDBURI) == "" {
			return nil, fmt.Errorf("storage: mongodb_uri is required")
		}
		mb := NewMongoBackend(cfg.MongoDBURI, cfg.MongoDBDatabase)
		if err := mb.Initialize(ctx); err != nil {
			_ = mb.Close()
			return nil, err
		}
		return mb, nil
	case "git":
		gb := NewGitBackend(GitOptions{
			Path:        filepath.Join(cfg.BaseDir, "git"),
			RemoteURL:   strings.TrimSpace(cfg.GitRemoteURL),
			Branch:      cfg.GitBranch,
			Username:    strings.TrimSpace(cfg.GitUsername),
			Password:    strings.TrimSpace(cfg.GitPassword),
			AuthorName:  strings.TrimSpace(cfg.GitAuthorName),
			AuthorEmail: strings.TrimSpace(cfg.GitAuthorEmail),
		})
		if err := gb.Initialize(ctx); err != nil {
			return nil, err
		}
		return gb, nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}

// LocalDir returns the directory used for local artefacts (token file,
// generated images) regardless of the configured backend.
func LocalDir(cfg config.StorageConfig) string {
	return expandPath(cfg.BaseDir)
}
