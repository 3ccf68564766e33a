package lockout

import (
	"context"
	"sync"
	"time"

	"github.com/examportal/trustcore/shared/domain"
)

// Counters keeps the failure windows and lock state. The in-memory
// implementation serves a single instance; RedisCounters shares the state
// between API instances and survives restarts.
type Counters interface {
	RecordFailure(ctx context.Context, now time.Time, ip domain.IP, acct string) Outcome
	ResetAccount(ctx context.Context, now time.Time, acct string)
	LockedUntil(ctx context.Context, now time.Time, acct string) time.Time
	Purge(now time.Time)
}

type account struct {
	failures    []time.Time
	lockedUntil time.Time
}

type address struct {
	failures    []time.Time
	bannedUntil time.Time
}

// MemoryCounters updates every counter under one mutex so concurrent failures
// for the same account are never under-counted.
type MemoryCounters struct {
	mu       sync.Mutex
	cfg      Config
	accounts map[string]*account
	ips      map[domain.IP]*address
}

func NewMemoryCounters(cfg Config) *MemoryCounters {
	return &MemoryCounters{
		cfg:      cfg,
		accounts: make(map[string]*account),
		ips:      make(map[domain.IP]*address),
	}
}

func (m *MemoryCounters) RecordFailure(_ context.Context, now time.Time, ip domain.IP, acct string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out Outcome
	cutoff := now.Add(-m.cfg.Window)

	a, ok := m.accounts[acct]
	if !ok {
		a = &account{}
		m.accounts[acct] = a
	}
	// attempts against a locked account count toward the IP threshold only
	if !a.lockedUntil.After(now) {
		a.failures = append(prune(a.failures, cutoff), now)
		if len(a.failures) >= m.cfg.MaxFailures {
			a.lockedUntil = now.Add(m.cfg.LockDuration)
			a.failures = nil
			out.Locked = true
			out.LockedUntil = a.lockedUntil
		}
	}

	if ip == "" || m.cfg.IPThreshold <= 0 {
		return out
	}
	addr, ok := m.ips[ip]
	if !ok {
		addr = &address{}
		m.ips[ip] = addr
	}
	addr.failures = append(prune(addr.failures, cutoff), now)
	if len(addr.failures) >= m.cfg.IPThreshold && !addr.bannedUntil.After(now) {
		addr.bannedUntil = now.Add(m.cfg.IPBanDuration)
		out.IPBanned = true
	}
	return out
}

// ResetAccount clears the failure streak. A running lock is kept.
func (m *MemoryCounters) ResetAccount(_ context.Context, now time.Time, acct string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[acct]; ok {
		a.failures = nil
		if !a.lockedUntil.After(now) {
			delete(m.accounts, acct)
		}
	}
}

func (m *MemoryCounters) LockedUntil(_ context.Context, now time.Time, acct string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[acct]
	if !ok || !a.lockedUntil.After(now) {
		return time.Time{}
	}
	return a.lockedUntil
}

// Purge forgets state that no longer affects any decision.
func (m *MemoryCounters) Purge(now time.Time) {
	cutoff := now.Add(-m.cfg.Window)

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, a := range m.accounts {
		a.failures = prune(a.failures, cutoff)
		if len(a.failures) == 0 && !a.lockedUntil.After(now) {
			delete(m.accounts, k)
		}
	}
	for k, addr := range m.ips {
		addr.failures = prune(addr.failures, cutoff)
		if len(addr.failures) == 0 && !addr.bannedUntil.After(now) {
			delete(m.ips, k)
		}
	}
}

// prune drops timestamps at or before cutoff. ts is ordered.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
