package credential

import "context"

// Selector picks the next usable credential.
type Selector interface {
	Next(ctx context.Context) (string, bool)
}

// PoolSelector selects from one pool of a Manager, reloading stale state first.
type PoolSelector struct {
	Manager *Manager
	Pool    string
}

func (s PoolSelector) Next(ctx context.Context) (string, bool) {
	if s.Manager == nil {
		return "", false
	}
	_ = s.Manager.ReloadIfStale(ctx)
	tok, err := s.Manager.GetToken(s.Pool)
	if err != nil {
		return "", false
	}
	return tok, true
}
