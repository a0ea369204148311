package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	log "github.com/sirupsen/logrus"
)

// GitOptions captures configuration required to operate a Git-backed storage.
type GitOptions struct {
	Path        string
	RemoteURL   string
	Branch      string
	Username    string
	Password    string
	AuthorName  string
	AuthorEmail string
}

// GitBackend versions the token document in a git repository: every save is a
// commit, pushed when a remote is configured. Locks live under .git so they
// are never committed.
type GitBackend struct {
	mu       sync.Mutex
	repo     *git.Repository
	worktree *git.Worktree
	options  GitOptions
	locks    *FileBackend
}

const gitStateDir = "state"

// NewGitBackend creates a new Git-backed storage backend.
func NewGitBackend(opts GitOptions) *GitBackend {
	opts.Path = expandPath(strings.TrimSpace(opts.Path))
	opts.Branch = fallback(strings.TrimSpace(opts.Branch), "main")
	return &GitBackend{options: opts}
}

func (g *GitBackend) Name() string { return "git" }

// Initialize prepares the git repository (clone or init).
func (g *GitBackend) Initialize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := ensureDir(g.options.Path); err != nil {
		return fmt.Errorf("git backend: create base dir: %w", err)
	}

	var (
		repo *git.Repository
		err  error
	)
	switch {
	case g.isExistingRepo():
		repo, err = git.PlainOpen(g.options.Path)
		if err != nil {
			return fmt.Errorf("git backend: open existing repo: %w", err)
		}
	case g.options.RemoteURL != "":
		repo, err = git.PlainCloneContext(ctx, g.options.Path, false, &git.CloneOptions{
			URL:           g.options.RemoteURL,
			ReferenceName: plumbing.NewBranchReferenceName(g.options.Branch),
			SingleBranch:  true,
			Depth:         1,
			Auth:          g.auth(),
		})
		if err != nil {
			return fmt.Errorf("git backend: clone remote repo: %w", err)
		}
	default:
		repo, err = git.PlainInitWithOptions(g.options.Path, &git.PlainInitOptions{
			InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(g.options.Branch)},
		})
		if err != nil {
			return fmt.Errorf("git backend: init repo: %w", err)
		}
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("git backend: worktree: %w", err)
	}
	g.repo = repo
	g.worktree = worktree

	if err := ensureDir(filepath.Join(g.options.Path, gitStateDir)); err != nil {
		return err
	}
	g.locks = NewFileBackend(filepath.Join(g.options.Path, ".git", "grok2api-locks"))
	if err := g.locks.Initialize(ctx); err != nil {
		return err
	}

	if err := g.pullLatest(ctx); err != nil {
		log.WithError(err).Warn("git backend: initial pull failed")
	}
	return nil
}

// Close is a no-op for Git backend.
func (g *GitBackend) Close() error { return nil }

// Health checks repository availability.
func (g *GitBackend) Health(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.repo == nil {
		return errors.New("git backend: not initialized")
	}
	_, err := g.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		// fresh repository without commits
		return nil
	}
	return err
}

func (g *GitBackend) LoadTokens(ctx context.Context) (Document, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.pullLatest(ctx); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(g.tokensPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, nil
		}
		return nil, err
	}
	return decodeDocument(data)
}

func (g *GitBackend) SaveTokens(ctx context.Context, doc Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writeAndCommit(ctx, g.tokensPath(), append(data, '\n'), "Update token document")
}

func (g *GitBackend) LoadState(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	data, err := os.ReadFile(g.statePath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (g *GitBackend) SaveState(ctx context.Context, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writeAndCommit(ctx, g.statePath(name), data, "Update state "+name)
}

func (g *GitBackend) WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if g.locks == nil {
		return errors.New("git backend: not initialized")
	}
	return g.locks.WithLock(ctx, name, timeout, fn)
}

// LastCommit reports the time of HEAD; zero for an empty repository.
func (g *GitBackend) LastCommit() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.repo == nil {
		return time.Time{}
	}
	head, err := g.repo.Head()
	if err != nil {
		return time.Time{}
	}
	commit, err := g.repo.CommitObject(head.Hash())
	if err != nil {
		return time.Time{}
	}
	return commit.Committer.When.UTC()
}

func (g *GitBackend) writeAndCommit(ctx context.Context, path string, data []byte, message string) error {
	if g.worktree == nil {
		return fmt.Errorf("git backend: worktree not initialised")
	}
	if err := g.pullLatest(ctx); err != nil {
		return err
	}
	if err := writeFileAtomic(path, data, 0o600); err != nil {
		return err
	}
	rel := relPath(g.options.Path, path)
	if _, err := g.worktree.Add(rel); err != nil {
		return err
	}
	committed, err := g.commit(rel, message)
	if err != nil || !committed {
		return err
	}
	return g.pushLatest(ctx)
}

func (g *GitBackend) tokensPath() string {
	return filepath.Join(g.options.Path, TokensDocument+".json")
}

func (g *GitBackend) statePath(name string) string {
	return filepath.Join(g.options.Path, gitStateDir, name+".json")
}

func (g *GitBackend) isExistingRepo() bool {
	_, err := os.Stat(filepath.Join(g.options.Path, ".git"))
	return err == nil
}

func (g *GitBackend) pullLatest(ctx context.Context) error {
	if g.repo == nil || g.worktree == nil || g.options.RemoteURL == "" {
		return nil
	}
	err := g.worktree.PullContext(ctx, &git.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(g.options.Branch),
		SingleBranch:  true,
		Auth:          g.auth(),
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}
	return nil
}

func (g *GitBackend) pushLatest(ctx context.Context) error {
	if g.repo == nil || g.options.RemoteURL == "" {
		return nil
	}
	err := g.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		Auth:       g.auth(),
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}
	return nil
}

// commit records rel if it has staged changes; false means nothing changed.
func (g *GitBackend) commit(rel, message string) (bool, error) {
	status, err := g.worktree.Status()
	if err != nil {
		return false, err
	}
	fs := status.File(rel)
	if fs.Staging == git.Unmodified {
		return false, nil
	}
	_, err = g.worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  fallback(g.options.AuthorName, "grok2api"),
			Email: fallback(g.options.AuthorEmail, "grok2api@localhost"),
			When:  time.Now(),
		},
	})
	return err == nil, err
}

func (g *GitBackend) auth() *http.BasicAuth {
	if g.options.Username == "" && g.options.Password == "" {
		return nil
	}
	return &http.BasicAuth{
		Username: g.options.Username,
		Password: g.options.Password,
	}
}

func relPath(base, target string) string {
	if rel, err := filepath.Rel(base, target); err == nil {
		return filepath.ToSlash(rel)
	}
	return target
}
