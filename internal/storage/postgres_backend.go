package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"grok2api-go/internal/migrations"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// historyKeep caps document_history rows kept per document.
const historyKeep = 50

// PostgresBackend keeps documents in a single JSONB table and serializes
// writers with session-level advisory locks.
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend creates a PostgreSQL storage backend
func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Info("Connected to PostgreSQL storage backend")
	return &PostgresBackend{db: db}, nil
}

func (p *PostgresBackend) Name() string { return "postgres" }

// Initialize applies pending migrations.
func (p *PostgresBackend) Initialize(ctx context.Context) error {
	if err := migrations.PostgresUp(p.db); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("PostgreSQL migrations applied")
	return nil
}

func (p *PostgresBackend) Close() error {
	return p.db.Close()
}

func (p *PostgresBackend) Health(ctx context.Context) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	return p.db.PingContext(ctx)
}

func (p *PostgresBackend) LoadTokens(ctx context.Context) (Document, error) {
	data, err := p.loadDocument(ctx, TokensDocument)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Document{}, nil
		}
		return nil, err
	}
	return decodeDocument(data)
}

func (p *PostgresBackend) SaveTokens(ctx context.Context, doc Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	return p.saveDocument(ctx, TokensDocument, data, true)
}

func (p *PostgresBackend) LoadState(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return p.loadDocument(ctx, "state:"+name)
}

func (p *PostgresBackend) SaveState(ctx context.Context, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	return p.saveDocument(ctx, "state:"+name, data, false)
}

// History returns up to limit previous versions of the token document, newest first.
func (p *PostgresBackend) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	rows, err := p.db.QueryContext(ctx,
		`SELECT data, saved_at FROM document_history WHERE name = $1 ORDER BY saved_at DESC, id DESC LIMIT $2`,
		TokensDocument, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		if err := rows.Scan(&entry.Data, &entry.SavedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// HistoryEntry is one archived token document.
type HistoryEntry struct {
	Data    []byte    `json:"data"`
	SavedAt time.Time `json:"saved_at"`
}

// WithLock uses pg_try_advisory_lock on a dedicated connection; advisory locks
// are session scoped so acquire and release must share it.
func (p *PostgresBackend) WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := validateName(name); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	err = pollLock(ctx, name, timeout, func() (bool, error) {
		var ok bool
		if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&ok); err != nil {
			return false, fmt.Errorf("advisory lock: %w", err)
		}
		return ok, nil
	})
	if err != nil {
		return err
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock(hashtext($1))`, name); err != nil {
			log.WithError(err).WithField("lock", name).Warn("postgres: advisory unlock failed")
		}
	}()
	return fn(ctx)
}

func (p *PostgresBackend) loadDocument(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	var data []byte
	err := p.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE name = $1`, name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load document %s: %w", name, err)
	}
	return data, nil
}

func (p *PostgresBackend) saveDocument(ctx context.Context, name string, data []byte, archive bool) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO documents (name, data, updated_at) VALUES ($1, $2::jsonb, NOW())
ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`, name, string(data)); err != nil {
		return fmt.Errorf("save document %s: %w", name, err)
	}
	if archive {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO document_history (name, data) VALUES ($1, $2::jsonb)`, name, string(data)); err != nil {
			return fmt.Errorf("archive document %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `
DELETE FROM document_history WHERE name = $1 AND id NOT IN (
    SELECT id FROM document_history WHERE name = $1 ORDER BY saved_at DESC, id DESC LIMIT $2
)`, name, historyKeep); err != nil {
			return fmt.Errorf("trim history %s: %w", name, err)
		}
	}
	return tx.Commit()
}
