package store

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Mingle/internal/domain"
)

// Memory is the single-instance presence store. One mutex guards the
// whole map so ClaimPair observes and writes both records atomically.
type Memory struct {
	mu   sync.RWMutex
	rows map[domain.Handle]*domain.Presence
	now  func() time.Time
}

type MemoryOption func(*Memory)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		rows: make(map[domain.Handle]*domain.Presence),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Put(ctx context.Context, h domain.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[h] = &domain.Presence{
		Handle:     h,
		Status:     domain.StatusIdle,
		LastActive: m.now(),
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, h domain.Handle) (domain.Presence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[h]
	if !ok {
		return domain.Presence{}, ErrNotFound
	}
	return *row, nil
}

func (m *Memory) Remove(ctx context.Context, h domain.Handle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[h]
	if !ok {
		return true, nil
	}
	if row.Status == domain.StatusPaired {
		return false, nil
	}
	delete(m.rows, h)
	return true, nil
}

func (m *Memory) SetStatus(ctx context.Context, h domain.Handle, st domain.Status, sid domain.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[h]
	if !ok {
		return ErrNotFound
	}
	row.Status = st
	row.SessionID = sid
	row.LastActive = m.now()
	return nil
}

func (m *Memory) Touch(ctx context.Context, h domain.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[h]
	if !ok {
		return ErrNotFound
	}
	row.LastActive = m.now()
	return nil
}

// FindSearching scans for the earliest searching record, handle order
// breaking ties, so selection is deterministic for a given map state.
func (m *Memory) FindSearching(ctx context.Context, exclude domain.Handle) (domain.Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		found domain.Handle
		best  time.Time
	)
	for h, row := range m.rows {
		if h == exclude || row.Status != domain.StatusSearching {
			continue
		}
		if found == "" || row.LastActive.Before(best) ||
			(row.LastActive.Equal(best) && h < found) {
			found, best = h, row.LastActive
		}
	}
	if found == "" {
		return "", ErrNotFound
	}
	return found, nil
}

func (m *Memory) ClaimPair(ctx context.Context, a, b domain.Handle, sid domain.SessionID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ra, ok := m.rows[a]
	if !ok || ra.Status != domain.StatusSearching {
		return false, nil
	}
	rb, ok := m.rows[b]
	if !ok || rb.Status != domain.StatusSearching {
		return false, nil
	}
	now := m.now()
	ra.Status, ra.SessionID, ra.LastActive = domain.StatusPaired, sid, now
	rb.Status, rb.SessionID, rb.LastActive = domain.StatusPaired, sid, now
	return true, nil
}

func (m *Memory) CountActiveSince(ctx context.Context, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, row := range m.rows {
		if row.LastActive.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListStaleBefore(ctx context.Context, cutoff time.Time) ([]domain.Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stale []domain.Handle
	for h, row := range m.rows {
		if row.LastActive.Before(cutoff) {
			stale = append(stale, h)
		}
	}
	return stale, nil
}
