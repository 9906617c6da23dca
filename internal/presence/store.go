package presence

import (
	"context"
	"slices"
	"sync"
)

// Store tracks which peers are connected to which room. The room coordinator is the only
// writer; the HTTP API reads from it.
type Store interface {
	AddPeer(ctx context.Context, roomID, peerID string) error
	RemovePeer(ctx context.Context, roomID, peerID string) error
	Peers(ctx context.Context, roomID string) ([]string, error)
	Reset(ctx context.Context, roomID string) error
}

// MemoryStore is used when Redis is not configured and in tests.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string][]string)}
}

func (s *MemoryStore) AddPeer(_ context.Context, roomID, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.rooms[roomID], peerID) {
		s.rooms[roomID] = append(s.rooms[roomID], peerID)
	}
	return nil
}

func (s *MemoryStore) RemovePeer(_ context.Context, roomID, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := slices.DeleteFunc(s.rooms[roomID], func(p string) bool { return p == peerID })
	if len(peers) == 0 {
		delete(s.rooms, roomID)
		return nil
	}
	s.rooms[roomID] = peers
	return nil
}

func (s *MemoryStore) Peers(_ context.Context, roomID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rooms[roomID]), nil
}

func (s *MemoryStore) Reset(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}
