package presence

import (
	"context"
	"slices"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, id := range []string{"A", "B", "A"} {
		if err := s.AddPeer(ctx, "r1", id); err != nil {
			t.Fatalf("AddPeer(%s): %v", id, err)
		}
	}
	peers, _ := s.Peers(ctx, "r1")
	if !slices.Equal(peers, []string{"A", "B"}) {
		t.Fatalf("Peers=%v, want [A B]", peers)
	}

	if err := s.RemovePeer(ctx, "r1", "A"); err != nil {
		t.Fatalf("RemovePeer: %v", err)
	}
	if err := s.RemovePeer(ctx, "r1", "missing"); err != nil {
		t.Fatalf("RemovePeer(missing): %v", err)
	}
	peers, _ = s.Peers(ctx, "r1")
	if !slices.Equal(peers, []string{"B"}) {
		t.Fatalf("Peers=%v, want [B]", peers)
	}

	if err := s.Reset(ctx, "r1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	peers, _ = s.Peers(ctx, "r1")
	if len(peers) != 0 {
		t.Fatalf("Peers after Reset=%v", peers)
	}
}

func TestMemoryStorePeersIsACopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.AddPeer(ctx, "r1", "A")
	peers, _ := s.Peers(ctx, "r1")
	peers[0] = "mutated"
	again, _ := s.Peers(ctx, "r1")
	if again[0] != "A" {
		t.Fatalf("store mutated through returned slice: %v", again)
	}
}
