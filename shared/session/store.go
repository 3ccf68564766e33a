// Package session owns the server-side session lifecycle: issuing opaque ids,
// fingerprint binding, idle expiry and id rotation.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/examportal/trustcore/shared/domain"
	"github.com/examportal/trustcore/shared/logger"
)

var ErrNotFound = errors.New("session not found")
var ErrExists = errors.New("session id already exists")

// ErrRotated is returned by Rotate when oldID was already rotated and only survives
// as an alias of its successor.
var ErrRotated = errors.New("session already rotated")

// Store persists sessions. Every mutation is atomic per id: Update and Rotate fail
// with ErrNotFound once the id is gone, so a destroyed session is never resurrected.
type Store interface {
	// Get also resolves a rotated id to its successor while the alias lives.
	Get(ctx context.Context, id string) (domain.Session, error)
	Create(ctx context.Context, s domain.Session) error
	Update(ctx context.Context, s domain.Session) error
	Delete(ctx context.Context, id string) error
	// Rotate deletes oldID and stores s under s.Id in one step. With grace > 0 the
	// old id stays readable as an alias of s.Id for that long.
	Rotate(ctx context.Context, oldID string, s domain.Session, grace time.Duration) error
}

type memoryEntry struct {
	session   domain.Session
	expiresAt time.Time
}

type memoryAlias struct {
	target    string
	expiresAt time.Time
}

// MemoryStore keeps sessions in process. Entries expire ttl after their last write.
type MemoryStore struct {
	mu      sync.Mutex
	items   map[string]memoryEntry
	aliases map[string]memoryAlias
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		items:   make(map[string]memoryEntry),
		aliases: make(map[string]memoryAlias),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.live(id); ok {
		return e.session, nil
	}
	if target, ok := m.alias(id); ok {
		if e, ok := m.live(target); ok {
			return e.session, nil
		}
	}
	return domain.Session{}, ErrNotFound
}

func (m *MemoryStore) Create(_ context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(s.Id); ok {
		return ErrExists
	}
	m.put(s)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(s.Id); !ok {
		return ErrNotFound
	}
	m.put(s)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	delete(m.aliases, id)
	return nil
}

func (m *MemoryStore) Rotate(_ context.Context, oldID string, s domain.Session, grace time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(oldID); !ok {
		if _, ok := m.alias(oldID); ok {
			return ErrRotated
		}
		return ErrNotFound
	}
	if _, ok := m.live(s.Id); ok {
		return ErrExists
	}
	delete(m.items, oldID)
	m.put(s)
	if grace > 0 {
		m.aliases[oldID] = memoryAlias{target: s.Id, expiresAt: m.now().Add(grace)}
	}
	return nil
}

// Purge drops expired entries and returns how many were removed.
func (m *MemoryStore) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, e := range m.items {
		if !now.Before(e.expiresAt) {
			delete(m.items, id)
			n++
		}
	}
	for id, a := range m.aliases {
		if !now.Before(a.expiresAt) {
			delete(m.aliases, id)
		}
	}
	return n
}

// StartBackgroundPurge drops expired sessions on every tick until ctx is done.
func (m *MemoryStore) StartBackgroundPurge(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.Purge(); n > 0 {
					logger.Log.Debug("purged expired sessions", "component", "session_guard", "count", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// live must be called with mu held.
func (m *MemoryStore) live(id string) (memoryEntry, bool) {
	e, ok := m.items[id]
	if !ok {
		return memoryEntry{}, false
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.items, id)
		return memoryEntry{}, false
	}
	return e, true
}

// alias must be called with mu held.
func (m *MemoryStore) alias(id string) (string, bool) {
	a, ok := m.aliases[id]
	if !ok {
		return "", false
	}
	if !m.now().Before(a.expiresAt) {
		delete(m.aliases, id)
		return "", false
	}
	return a.target, true
}

func (m *MemoryStore) put(s domain.Session) {
	m.items[s.Id] = memoryEntry{session: s, expiresAt: m.now().Add(m.ttl)}
}
