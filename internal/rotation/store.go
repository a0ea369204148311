// Package rotation keeps per-token daily usage for the imagine workflow and
// picks the next token by remaining quota and idle time.
package rotation

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"grok2api-go/internal/credential"
	"grok2api-go/internal/logging"
	"grok2api-go/internal/monitoring"
	"grok2api-go/internal/storage"

	log "github.com/sirupsen/logrus"
)

// StateName is the storage document holding the rotation state.
const StateName = "imagine_nsfw_state"

const (
	resetIntervalSecs = 86400.0
	maxTimeFactor     = 10.0
)

// KeyUsage is the per-token record. Times are unix seconds.
type KeyUsage struct {
	Count       int     `json:"count"`
	LastUsed    float64 `json:"last_used"`
	FirstUsed   float64 `json:"first_used"`
	Failed      bool    `json:"failed"`
	AgeVerified int     `json:"age_verified"`
}

// State is the persisted rotation document, keyed by token fingerprint.
type State struct {
	LastReset    float64              `json:"last_reset"`
	CurrentIndex int                  `json:"current_index"`
	Usage        map[string]*KeyUsage `json:"usage"`
}

func (s State) clone() State {
	out := State{LastReset: s.LastReset, CurrentIndex: s.CurrentIndex, Usage: make(map[string]*KeyUsage, len(s.Usage))}
	for k, v := range s.Usage {
		u := *v
		out.Usage[k] = &u
	}
	return out
}

// Fingerprint is the first 12 hex chars of sha1 over the raw token.
func Fingerprint(token string) string {
	sum := sha1.Sum([]byte(credential.TrimToken(token)))
	return hex.EncodeToString(sum[:])[:12]
}

// Store guards the rotation state with its own mutex. The state is loaded
// lazily on first use and written back after every mutation.
type Store struct {
	mu      sync.Mutex
	backend storage.Backend
	loaded  bool
	state   State
	now     func() float64
}

// NewStore creates a store persisting through backend.
func NewStore(backend storage.Backend) *Store {
	return &Store{
		backend: backend,
		state:   State{Usage: make(map[string]*KeyUsage)},
		now:     nowSecs,
	}
}

func nowSecs() float64 {
	return float64(time.Now().UnixMilli()) / 1000
}

func (s *Store) loadLocked(ctx context.Context) {
	if s.loaded {
		return
	}
	s.loaded = true
	data, err := s.backend.LoadState(ctx, StateName)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.WithError(err).Warn("rotation: load state failed, starting empty")
		}
		return
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		log.WithError(err).Warn("rotation: state document is malformed, starting empty")
		return
	}
	if st.Usage == nil {
		st.Usage = make(map[string]*KeyUsage)
	}
	for k, v := range st.Usage {
		if v == nil {
			delete(st.Usage, k)
		}
	}
	s.state = st
	log.WithField("keys", len(st.Usage)).Info("rotation: state loaded")
}

func (s *Store) saveLocked(ctx context.Context) {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		log.WithError(err).Error("rotation: encode state failed")
		return
	}
	if err := s.backend.SaveState(ctx, StateName, data); err != nil {
		log.WithError(err).Warn("rotation: save state failed")
	}
}

func (s *Store) ensureLocked(token string) *KeyUsage {
	key := Fingerprint(token)
	u, ok := s.state.Usage[key]
	if !ok {
		u = &KeyUsage{FirstUsed: s.now()}
		s.state.Usage[key] = u
	}
	return u
}

// usageLocked returns the record without creating it.
func (s *Store) usageLocked(token string) KeyUsage {
	if u, ok := s.state.Usage[Fingerprint(token)]; ok {
		return *u
	}
	return KeyUsage{}
}

// dailyResetLocked zeroes counts and failures once a day. The very first
// call only stamps last_reset.
func (s *Store) dailyResetLocked() bool {
	now := s.now()
	if s.state.LastReset == 0 {
		s.state.LastReset = now
		return true
	}
	if now-s.state.LastReset < resetIntervalSecs {
		return false
	}
	for _, u := range s.state.Usage {
		u.Count = 0
		u.Failed = false
	}
	s.state.LastReset = now
	log.Info("rotation: daily usage reset")
	return true
}

// GetNext picks the best token among tokens for today. When every token is
// marked failed the flags are cleared and the first token is returned.
func (s *Store) GetNext(ctx context.Context, tokens []string, dailyLimit int) (string, bool) {
	if len(tokens) == 0 {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)

	dirty := s.dailyResetLocked()
	for _, tok := range tokens {
		if _, ok := s.state.Usage[Fingerprint(tok)]; !ok {
			s.ensureLocked(tok)
			dirty = true
		}
	}

	var available []string
	for _, tok := range tokens {
		u := s.usageLocked(tok)
		if u.Failed || u.Count >= dailyLimit {
			continue
		}
		available = append(available, tok)
	}

	if len(available) == 0 {
		allFailed := true
		for _, tok := range tokens {
			if !s.usageLocked(tok).Failed {
				allFailed = false
				break
			}
		}
		if !allFailed {
			if dirty {
				s.saveLocked(ctx)
			}
			monitoring.RotationSelectionsTotal.WithLabelValues("exhausted").Inc()
			return "", false
		}
		for _, tok := range tokens {
			s.ensureLocked(tok).Failed = false
		}
		s.saveLocked(ctx)
		log.WithField("tokens", len(tokens)).Warn("rotation: every token failed, clearing failed flags")
		monitoring.RotationSelectionsTotal.WithLabelValues("reset").Inc()
		return tokens[0], true
	}

	now := s.now()
	best := -1.0
	selected := available[0]
	for _, tok := range available {
		u := s.usageLocked(tok)
		if sc := score(u, dailyLimit, now); sc > best {
			best = sc
			selected = tok
		}
	}
	if dirty {
		s.saveLocked(ctx)
	}
	monitoring.RotationSelectionsTotal.WithLabelValues("selected").Inc()
	return selected, true
}

// score favours tokens with more remaining quota that have been idle longer.
func score(u KeyUsage, dailyLimit int, now float64) float64 {
	remaining := math.Max(float64(dailyLimit-u.Count), 0)
	timeFactor := maxTimeFactor
	if u.LastUsed != 0 {
		timeFactor = math.Min((now-u.LastUsed)/60*0.1, maxTimeFactor)
	}
	return remaining * (1 + timeFactor)
}

// MarkFailed takes token out of rotation until the next reset or success.
func (s *Store) MarkFailed(ctx context.Context, token, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)
	s.ensureLocked(token).Failed = true
	s.saveLocked(ctx)
	log.WithFields(log.Fields{"token": logging.MaskTokenLong(token), "reason": reason}).Warn("rotation: token marked failed")
}

// MarkSuccess clears the failed flag.
func (s *Store) MarkSuccess(ctx context.Context, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)
	s.ensureLocked(token).Failed = false
	s.saveLocked(ctx)
}

// RecordUsage counts one generation against token.
func (s *Store) RecordUsage(ctx context.Context, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)
	u := s.ensureLocked(token)
	u.Count++
	u.LastUsed = s.now()
	s.saveLocked(ctx)
}

// AgeVerified returns 1 when the account already passed age verification.
func (s *Store) AgeVerified(ctx context.Context, token string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)
	return s.usageLocked(token).AgeVerified
}

func (s *Store) SetAgeVerified(ctx context.Context, token string, verified int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)
	s.ensureLocked(token).AgeVerified = verified
	s.saveLocked(ctx)
	log.WithFields(log.Fields{"token": logging.MaskTokenLong(token), "verified": verified}).Info("rotation: age verification updated")
}

// Usage returns a copy of the record for token.
func (s *Store) Usage(ctx context.Context, token string) (KeyUsage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)
	u, ok := s.state.Usage[Fingerprint(token)]
	if !ok {
		return KeyUsage{}, false
	}
	return *u, true
}

// Snapshot returns a deep copy of the whole state.
func (s *Store) Snapshot(ctx context.Context) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)
	return s.state.clone()
}
