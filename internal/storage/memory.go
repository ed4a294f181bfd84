package storage

import (
	"context"
	"slices"
	"sync"
)

type memUser struct {
	User
	banned bool
}

// Memory is an in-process Registry. Nothing survives a restart.
type Memory struct {
	mu          sync.Mutex
	users       map[int64]*memUser
	conversions int
	files       int
	closed      bool
}

func NewMemory() *Memory {
	return &Memory{users: map[int64]*memUser{}}
}

func (m *Memory) AddOrTouchUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if cur, ok := m.users[u.ID]; ok {
		cur.User = u
		return nil
	}
	m.users[u.ID] = &memUser{User: u}
	return nil
}

func (m *Memory) IsBanned(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	u, ok := m.users[id]
	return ok && u.banned, nil
}

func (m *Memory) Ban(_ context.Context, id int64) (bool, error) { return m.set(id, true) }

func (m *Memory) Unban(_ context.Context, id int64) (bool, error) { return m.set(id, false) }

func (m *Memory) set(id int64, banned bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	u, ok := m.users[id]
	if !ok {
		return false, nil
	}
	u.banned = banned
	return true, nil
}

func (m *Memory) ListActiveRecipients(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]int64, 0, len(m.users))
	for id, u := range m.users {
		if !u.banned {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (m *Memory) RecordConversion(_ context.Context, _ int64, fileCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.conversions++
	m.files += fileCount
	return nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Stats{}, ErrClosed
	}
	st := Stats{TotalUsers: len(m.users), TotalConversions: m.conversions, TotalFiles: m.files}
	for _, u := range m.users {
		if u.banned {
			st.BannedUsers++
		}
	}
	st.ActiveUsers = st.TotalUsers - st.BannedUsers
	return st, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
