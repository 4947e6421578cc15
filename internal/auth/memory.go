package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store in process memory. Used by tests and dev mode.
type MemoryStore struct {
	mu          sync.RWMutex
	identities  map[int64]*Identity
	roles       map[int64]*Role
	assignments map[int64][]int64
	sessions    []*Session
	nextID      int64
}

// NewMemoryStore returns an empty store seeded with the built-in roles.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		identities:  make(map[int64]*Identity),
		roles:       make(map[int64]*Role),
		assignments: make(map[int64][]int64),
	}
	s.AddRole(Role{Name: DefaultRoleName, Description: "Default user role", Permissions: []string{"read:profile", "update:profile", "create:project", "create:task"}})
	s.AddRole(Role{Name: "admin", Description: "Administrator role", Permissions: []string{"read:*", "write:*", "delete:*", "manage:users"}})
	return s
}

// AddRole inserts a role and returns its id.
func (s *MemoryStore) AddRole(role Role) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	role.ID = s.id()
	role.CreatedAt = time.Now().UTC()
	s.roles[role.ID] = &role
	return role.ID
}

// RemoveRole deletes a role by name. Tests use it to simulate a missing default role.
func (s *MemoryStore) RemoveRole(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.roles {
		if r.Name == name {
			delete(s.roles, id)
		}
	}
}

// SetStatus changes an identity status.
func (s *MemoryStore) SetStatus(id int64, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ident, ok := s.identities[id]; ok {
		ident.Status = status
		ident.UpdatedAt = time.Now().UTC()
	}
}

// SessionCount returns the number of stored session rows, expired ones included.
func (s *MemoryStore) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// IdentityCount returns the number of stored identities.
func (s *MemoryStore) IdentityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.identities)
}

func (s *MemoryStore) Identities() IdentityStore { return memoryIdentities{s} }
func (s *MemoryStore) Roles() RoleStore           { return memoryRoles{s} }
func (s *MemoryStore) Sessions() SessionStore     { return memorySessions{s} }

// id must be called with mu held.
func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

type memoryIdentities struct{ s *MemoryStore }

func (m memoryIdentities) FindByUsernameOrEmail(_ context.Context, username, email string) (*Identity, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var found *Identity
	for _, ident := range m.s.identities {
		if ident.Username == username || ident.Email == email {
			if found == nil || ident.ID < found.ID {
				found = ident
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (m memoryIdentities) Find(_ context.Context, id int64) (*Identity, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	ident, ok := m.s.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

func (m memoryIdentities) Create(_ context.Context, username, email, passwordHash string) (*Identity, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, ident := range m.s.identities {
		if ident.Username == username || ident.Email == email {
			return nil, ErrConflict
		}
	}
	now := time.Now().UTC()
	ident := &Identity{
		ID:           m.s.id(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.s.identities[ident.ID] = ident
	cp := *ident
	return &cp, nil
}

type memoryRoles struct{ s *MemoryStore }

func (m memoryRoles) FindDefault(_ context.Context) (*Role, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, r := range m.s.roles {
		if r.Name == DefaultRoleName {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m memoryRoles) Assign(_ context.Context, identityID, roleID int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.identities[identityID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.s.roles[roleID]; !ok {
		return ErrNotFound
	}
	for _, id := range m.s.assignments[identityID] {
		if id == roleID {
			return nil
		}
	}
	m.s.assignments[identityID] = append(m.s.assignments[identityID], roleID)
	return nil
}

func (m memoryRoles) RoleNames(_ context.Context, identityID int64) ([]string, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	names := make([]string, 0, len(m.s.assignments[identityID]))
	for _, roleID := range m.s.assignments[identityID] {
		if r, ok := m.s.roles[roleID]; ok {
			names = append(names, r.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

type memorySessions struct{ s *MemoryStore }

func (m memorySessions) Create(_ context.Context, sess *Session) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	sess.ID = m.s.id()
	sess.CreatedAt = time.Now().UTC()
	cp := *sess
	m.s.sessions = append(m.s.sessions, &cp)
	return nil
}

func (m memorySessions) FindLive(_ context.Context, token string, now time.Time) (*Session, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for i := len(m.s.sessions) - 1; i >= 0; i-- {
		sess := m.s.sessions[i]
		if sess.Token == token && sess.LiveAt(now) {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m memorySessions) DeleteByToken(_ context.Context, token string) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	kept := m.s.sessions[:0]
	var removed int64
	for _, sess := range m.s.sessions {
		if sess.Token == token {
			removed++
			continue
		}
		kept = append(kept, sess)
	}
	m.s.sessions = kept
	return removed, nil
}
