package room

import (
	"context"
	"testing"
	"time"

	"github.com/mossy-p/sfu-signaling/internal/media"
	"github.com/mossy-p/sfu-signaling/internal/media/mediatest"
	"github.com/mossy-p/sfu-signaling/internal/models"
	"github.com/mossy-p/sfu-signaling/internal/presence"
)

func TestRegistryLifecycle(t *testing.T) {
	store := presence.NewMemoryStore()
	engines := 0
	r := NewRegistry(RegistryOptions{
		NewEngine: func(string) media.Engine {
			engines++
			return mediatest.NewEngine()
		},
		Presence: store,
		Logger:   discardLogger(),
	})
	defer r.Close()

	a := r.Acquire("lobby")
	b := r.Acquire("lobby")
	if a != b {
		t.Fatal("Acquire returned different coordinators for the same room")
	}
	if other := r.Acquire("other"); other == a {
		t.Fatal("different rooms share a coordinator")
	}
	if engines != 2 {
		t.Fatalf("engines=%d, want 2", engines)
	}

	conn := newFakeConn("c1")
	if err := a.Join(conn, models.NewJoin("A", "audio")); err != nil {
		t.Fatalf("Join: %v", err)
	}
	conn.nextOffer(t)
	if peers, _ := store.Peers(context.Background(), "lobby"); len(peers) != 1 {
		t.Fatalf("presence=%v, want one peer", peers)
	}

	r.Release("lobby")
	if _, ok := r.Lookup("lobby"); !ok {
		t.Fatal("room dropped while still referenced")
	}
	r.Release("lobby")
	if _, ok := r.Lookup("lobby"); ok {
		t.Fatal("room kept after last release")
	}
	if peers, _ := store.Peers(context.Background(), "lobby"); len(peers) != 0 {
		t.Fatalf("presence=%v after room teardown", peers)
	}
	if _, err := a.Dump(context.Background()); err == nil {
		t.Fatal("Dump on a stopped room should fail")
	}

	// Releasing an unknown room is harmless.
	r.Release("missing")
}

// stallingStore holds RemovePeer until release is closed.
type stallingStore struct {
	*presence.MemoryStore
	removing chan struct{}
	release  chan struct{}
}

func (s *stallingStore) RemovePeer(ctx context.Context, roomID, peerID string) error {
	select {
	case s.removing <- struct{}{}:
	default:
	}
	<-s.release
	return s.MemoryStore.RemovePeer(ctx, roomID, peerID)
}

func TestReacquireDuringTeardownKeepsPresence(t *testing.T) {
	store := &stallingStore{
		MemoryStore: presence.NewMemoryStore(),
		removing:    make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	r := NewRegistry(RegistryOptions{
		NewEngine: func(string) media.Engine { return mediatest.NewEngine() },
		Presence:  store,
		Logger:    discardLogger(),
	})
	defer r.Close()

	old := r.Acquire("lobby")
	connX := newFakeConn("x")
	_ = old.Join(connX, models.NewJoin("X", "audio"))
	connX.nextOffer(t)

	released := make(chan struct{})
	go func() {
		r.Release("lobby")
		close(released)
	}()
	<-store.removing
	if _, ok := r.Lookup("lobby"); ok {
		t.Fatal("Lookup returned a room that is tearing down")
	}

	acquired := make(chan *Coordinator)
	go func() { acquired <- r.Acquire("lobby") }()
	select {
	case <-acquired:
		t.Fatal("Acquire returned before the old room finished tearing down")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	<-released
	var coord *Coordinator
	select {
	case coord = <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire never returned")
	}
	defer r.Release("lobby")
	if coord == old {
		t.Fatal("Acquire returned the stopped room")
	}

	connY := newFakeConn("y")
	if err := coord.Join(connY, models.NewJoin("Y", "audio")); err != nil {
		t.Fatalf("Join: %v", err)
	}
	connY.nextOffer(t)
	peers, _ := store.Peers(context.Background(), "lobby")
	if len(peers) != 1 || peers[0] != "Y" {
		t.Fatalf("presence=%v, want [Y]", peers)
	}
}
