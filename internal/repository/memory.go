package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/Voice/internal/domain"
)

// InMemory is a reference Repository implementation. It is not what a
// production deployment would use (spec §1 treats the store as
// external) but gives the rest of the module something concrete to run
// against in tests and in a single-process deployment.
type InMemory struct {
	mu sync.RWMutex

	usersByID    map[domain.UserID]*domain.User
	usersByName  map[string]domain.UserID
	contacts     map[domain.UserID][]domain.Contact
	refreshToks  map[string]domain.RefreshToken
	calls        map[domain.CallID]*domain.Call
	callsByUser  map[domain.UserID][]domain.CallID
}

func NewInMemory() *InMemory {
	return &InMemory{
		usersByID:   make(map[domain.UserID]*domain.User),
		usersByName: make(map[string]domain.UserID),
		contacts:    make(map[domain.UserID][]domain.Contact),
		refreshToks: make(map[string]domain.RefreshToken),
		calls:       make(map[domain.CallID]*domain.Call),
		callsByUser: make(map[domain.UserID][]domain.CallID),
	}
}

func (m *InMemory) CreateUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.usersByName[u.Username]; ok {
		return ErrAlreadyExists
	}
	cp := *u
	m.usersByID[u.ID] = &cp
	m.usersByName[u.Username] = u.ID
	return nil
}

func (m *InMemory) GetUserByID(_ context.Context, id domain.UserID) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.usersByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *InMemory) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usersByName[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.usersByID[id]
	return &cp, nil
}

func (m *InMemory) SetModelPreference(_ context.Context, id domain.UserID, pref domain.ModelPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.usersByID[id]
	if !ok {
		return ErrNotFound
	}
	u.ModelPreference = pref
	return nil
}

func (m *InMemory) AddContact(_ context.Context, c domain.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.contacts[c.OwnerID] {
		if existing.ContactID == c.ContactID {
			return nil // idempotent per spec §8
		}
	}
	m.contacts[c.OwnerID] = append(m.contacts[c.OwnerID], c)
	return nil
}

func (m *InMemory) ListContacts(_ context.Context, owner domain.UserID) ([]domain.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Contact, len(m.contacts[owner]))
	copy(out, m.contacts[owner])
	return out, nil
}

func (m *InMemory) PutRefreshToken(_ context.Context, t domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshToks[t.JTI] = t
	return nil
}

func (m *InMemory) GetRefreshToken(_ context.Context, jti string) (*domain.RefreshToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.refreshToks[jti]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *InMemory) RevokeRefreshToken(_ context.Context, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.refreshToks[jti]
	if !ok {
		return ErrNotFound
	}
	t.Revoked = true
	m.refreshToks[jti] = t
	return nil
}

func (m *InMemory) RevokeAllRefreshTokens(_ context.Context, userID domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for jti, t := range m.refreshToks {
		if t.UserID == userID {
			t.Revoked = true
			m.refreshToks[jti] = t
		}
	}
	return nil
}

func (m *InMemory) SaveCall(_ context.Context, c *domain.Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	cp.Transcript = append([]domain.TranscriptLine(nil), c.Transcript...)
	m.calls[c.ID] = &cp
	if !contains(m.callsByUser[c.CallerID], c.ID) {
		m.callsByUser[c.CallerID] = append(m.callsByUser[c.CallerID], c.ID)
	}
	if !contains(m.callsByUser[c.CalleeID], c.ID) {
		m.callsByUser[c.CalleeID] = append(m.callsByUser[c.CalleeID], c.ID)
	}
	return nil
}

func contains(ids []domain.CallID, id domain.CallID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (m *InMemory) ListCalls(_ context.Context, userID domain.UserID, limit int) ([]*domain.Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.callsByUser[userID]
	out := make([]*domain.Call, 0, len(ids))
	for _, id := range ids {
		cp := *m.calls[id]
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
