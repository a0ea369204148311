package rotation

import (
	"context"

	"grok2api-go/internal/credential"
)

// Selector adapts the store to credential.Selector over a fixed daily limit.
// Tokens is called on every Next so newly loaded tokens join the rotation.
type Selector struct {
	Store      *Store
	Tokens     func(ctx context.Context) []string
	DailyLimit int
}

var _ credential.Selector = Selector{}

func (s Selector) Next(ctx context.Context) (string, bool) {
	if s.Store == nil || s.Tokens == nil {
		return "", false
	}
	return s.Store.GetNext(ctx, s.Tokens(ctx), s.DailyLimit)
}
