// Package csrf issues and validates per-session anti-forgery tokens.
package csrf

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/logger"
	"github.com/examportal/trustcore/shared/utils"
)

const (
	TokenLength = 32 // bytes

	// DefaultScope is used when a form does not name one.
	DefaultScope = "default"

	// maxPerScope bounds live tokens per session and scope (one per open tab).
	maxPerScope = 8
)

type Config struct {
	MaxAge        time.Duration
	OneTimeScopes []string
}

type token struct {
	value    string
	issuedAt time.Time
}

type key struct {
	nonce string
	scope string
}

// Manager binds tokens to the session security nonce, so they survive periodic id
// rotation and die with login elevation or logout.
type Manager struct {
	mu      sync.Mutex
	tokens  map[key][]token
	maxAge  time.Duration
	oneTime map[string]bool
	now     func() time.Time
}

func New(cfg Config) *Manager {
	m := &Manager{
		tokens:  make(map[key][]token),
		maxAge:  cfg.MaxAge,
		oneTime: make(map[string]bool, len(cfg.OneTimeScopes)),
		now:     time.Now,
	}
	if m.maxAge <= 0 {
		m.maxAge = time.Hour
	}
	for _, s := range cfg.OneTimeScopes {
		m.oneTime[s] = true
	}
	return m
}

// GenerateToken creates a cryptographically secure random token
func GenerateToken() (string, error) {
	return utils.RandomToken(TokenLength)
}

// Issue mints a token for the session and scope.
func (m *Manager) Issue(s domain.Session, scope string) (string, error) {
	if scope == "" {
		scope = DefaultScope
	}
	value, err := GenerateToken()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{nonce: s.Nonce, scope: scope}
	live := m.live(m.tokens[k])
	if len(live) >= maxPerScope {
		live = live[len(live)-maxPerScope+1:]
	}
	m.tokens[k] = append(live, token{value: value, issuedAt: m.now()})
	return value, nil
}

// Validate reports whether candidate is a live token for the session and scope.
// Missing, mismatched and expired tokens all fail. One-time scopes retire the
// token on success.
func (m *Manager) Validate(s domain.Session, scope, candidate string) bool {
	if s.Nonce == "" || candidate == "" {
		return false
	}
	if scope == "" {
		scope = DefaultScope
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{nonce: s.Nonce, scope: scope}
	tokens := m.tokens[k]

	match := -1
	for i, t := range tokens {
		if subtle.ConstantTimeCompare([]byte(t.value), []byte(candidate)) == 1 {
			match = i
		}
	}
	if match < 0 {
		return false
	}
	if m.expired(tokens[match]) {
		m.remove(k, match)
		return false
	}
	if m.oneTime[scope] {
		m.remove(k, match)
	}
	return true
}

// Forget drops every token bound to nonce.
func (m *Manager) Forget(nonce string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.tokens {
		if k.nonce == nonce {
			delete(m.tokens, k)
		}
	}
}

// Purge removes expired tokens and returns how many were dropped.
func (m *Manager) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, ts := range m.tokens {
		live := m.live(ts)
		n += len(ts) - len(live)
		if len(live) == 0 {
			delete(m.tokens, k)
		} else {
			m.tokens[k] = live
		}
	}
	return n
}

func (m *Manager) StartBackgroundPurge(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.Purge(); n > 0 {
					logger.Log.Debug("purged expired csrf tokens", "component", "csrf", "count", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Manager) expired(t token) bool {
	return m.now().Sub(t.issuedAt) >= m.maxAge
}

func (m *Manager) live(ts []token) []token {
	out := ts[:0:0]
	for _, t := range ts {
		if !m.expired(t) {
			out = append(out, t)
		}
	}
	return out
}

func (m *Manager) remove(k key, i int) {
	ts := m.tokens[k]
	ts = append(ts[:i:i], ts[i+1:]...)
	if len(ts) == 0 {
		delete(m.tokens, k)
		return
	}
	m.tokens[k] = ts
}
