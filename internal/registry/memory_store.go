package registry

import (
	"context"
	"sync"

	"github.com/boyrevue/api.boyvue.com-sub001/internal/domain"
)

// MemoryStore implements Store with process-local maps. It backs
// single-process deployments and tests; semantics match the Redis store,
// including the reverse index staying atomic with membership changes.
type MemoryStore struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]domain.Member        // roomID -> identityID -> member
	reverse  map[string]map[string]struct{}             // identityID -> roomIDs
	presence map[string]map[string]domain.PresenceEntry // identityID -> connID -> entry
	sessions map[string]*domain.StreamSession           // performerID -> session
}

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[string]map[string]domain.Member),
		reverse:  make(map[string]map[string]struct{}),
		presence: make(map[string]map[string]domain.PresenceEntry),
		sessions: make(map[string]*domain.StreamSession),
	}
}

func (s *MemoryStore) AddConnection(ctx context.Context, roomID, identityID string, m domain.Member) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		room = make(map[string]domain.Member)
		s.rooms[roomID] = room
	}
	_, already := room[identityID]
	room[identityID] = m

	if _, ok := s.reverse[identityID]; !ok {
		s.reverse[identityID] = make(map[string]struct{})
	}
	s.reverse[identityID][roomID] = struct{}{}
	return already, nil
}

func (s *MemoryStore) RemoveConnection(ctx context.Context, roomID, identityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return false, nil
	}
	_, present := room[identityID]
	delete(room, identityID)
	if len(room) == 0 {
		delete(s.rooms, roomID)
	}
	if rs, ok := s.reverse[identityID]; ok {
		delete(rs, roomID)
		if len(rs) == 0 {
			delete(s.reverse, identityID)
		}
	}
	return present, nil
}

func (s *MemoryStore) ListMembers(ctx context.Context, roomID string) (map[string]domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make(map[string]domain.Role, len(s.rooms[roomID]))
	for id, m := range s.rooms[roomID] {
		members[id] = m.Role
	}
	return members, nil
}

func (s *MemoryStore) GetConnectionMeta(ctx context.Context, roomID, identityID string) (*domain.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.rooms[roomID][identityID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *MemoryStore) RecordPresence(ctx context.Context, entry domain.PresenceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, ok := s.presence[entry.IdentityID]
	if !ok {
		conns = make(map[string]domain.PresenceEntry)
		s.presence[entry.IdentityID] = conns
	}
	conns[entry.ConnID] = entry
	return nil
}

func (s *MemoryStore) ClearPresence(ctx context.Context, identityID, connID string) (*domain.PresenceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, ok := s.presence[identityID]
	if !ok {
		return nil, nil
	}
	entry, ok := conns[connID]
	if !ok {
		return nil, nil
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(s.presence, identityID)
	}
	return &entry, nil
}

func (s *MemoryStore) IsOnline(ctx context.Context, identityID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.presence[identityID]) > 0, nil
}

func (s *MemoryStore) RoomsForIdentity(ctx context.Context, identityID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]string, 0, len(s.reverse[identityID]))
	for roomID := range s.reverse[identityID] {
		rooms = append(rooms, roomID)
	}
	return rooms, nil
}

func (s *MemoryStore) TrackedIdentities(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.reverse))
	for id := range s.reverse {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) SaveStreamSession(ctx context.Context, session *domain.StreamSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.Status == domain.StreamOffline {
		delete(s.sessions, session.PerformerID)
		return nil
	}
	cp := *session
	s.sessions[session.PerformerID] = &cp
	return nil
}

func (s *MemoryStore) LoadStreamSession(ctx context.Context, performerID string) (*domain.StreamSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[performerID]
	if !ok {
		return domain.OfflineSession(performerID), nil
	}
	cp := *session
	return &cp, nil
}

func (s *MemoryStore) LiveStreams(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
