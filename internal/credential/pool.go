package credential

import "math/rand"

// PoolStats aggregates a pool.
type PoolStats struct {
	Total      int     `json:"total"`
	Active     int     `json:"active"`
	Disabled   int     `json:"disabled"`
	Expired    int     `json:"expired"`
	Cooling    int     `json:"cooling"`
	TotalQuota int     `json:"total_quota"`
	AvgQuota   float64 `json:"avg_quota"`
}

// Pool is an ordered set of tokens, unique by token string. It is not
// safe for concurrent use; Manager serializes access.
type Pool struct {
	Name   string
	tokens []*Token
	index  map[string]*Token
}

func NewPool(name string) *Pool {
	return &Pool{Name: name, index: make(map[string]*Token)}
}

// Add inserts t; false when the token is already present.
func (p *Pool) Add(t Token) bool {
	if _, exists := p.index[t.Token]; exists {
		return false
	}
	tok := t.clone()
	p.tokens = append(p.tokens, &tok)
	p.index[tok.Token] = &tok
	return true
}

func (p *Pool) Remove(token string) bool {
	if _, ok := p.index[token]; !ok {
		return false
	}
	delete(p.index, token)
	for i, t := range p.tokens {
		if t.Token == token {
			p.tokens = append(p.tokens[:i], p.tokens[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of the token.
func (p *Pool) Get(token string) (Token, bool) {
	t, ok := p.index[token]
	if !ok {
		return Token{}, false
	}
	return t.clone(), true
}

// Has reports membership without copying.
func (p *Pool) Has(token string) bool {
	_, ok := p.index[token]
	return ok
}

// mutable returns the live token for in-place updates.
func (p *Pool) mutable(token string) *Token {
	return p.index[token]
}

// List returns copies in insertion order.
func (p *Pool) List() []Token {
	out := make([]Token, 0, len(p.tokens))
	for _, t := range p.tokens {
		out = append(out, t.clone())
	}
	return out
}

func (p *Pool) Count() int { return len(p.tokens) }

// Select picks uniformly among the available tokens holding the maximum quota.
func (p *Pool) Select() (Token, bool) {
	maxQuota := 0
	var best []*Token
	for _, t := range p.tokens {
		if !t.Available() {
			continue
		}
		switch {
		case t.Quota > maxQuota:
			maxQuota = t.Quota
			best = append(best[:0], t)
		case t.Quota == maxQuota:
			best = append(best, t)
		}
	}
	if len(best) == 0 {
		return Token{}, false
	}
	return best[rand.Intn(len(best))].clone(), true
}

func (p *Pool) Stats() PoolStats {
	var s PoolStats
	s.Total = len(p.tokens)
	for _, t := range p.tokens {
		s.TotalQuota += t.Quota
		switch t.Status {
		case StatusActive:
			s.Active++
		case StatusDisabled:
			s.Disabled++
		case StatusExpired:
			s.Expired++
		case StatusCooling:
			s.Cooling++
		}
	}
	if s.Total > 0 {
		s.AvgQuota = float64(s.TotalQuota) / float64(s.Total)
	}
	return s
}
