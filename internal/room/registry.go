package room

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mossy-p/sfu-signaling/internal/media"
	"github.com/mossy-p/sfu-signaling/internal/presence"
)

// DefaultRoomID is used by clients connecting to the root endpoint.
const DefaultRoomID = "default"

// RegistryOptions holds the settings shared by every room.
type RegistryOptions struct {
	NewEngine           func(roomID string) media.Engine
	Policy              SchedulingPolicy
	Presence            presence.Store
	ICEGatheringTimeout time.Duration
	Logger              *slog.Logger
}

// Registry creates rooms on first use and stops them when their last connection leaves.
type Registry struct {
	opts RegistryOptions

	mu    sync.Mutex
	rooms map[string]*roomEntry
}

type roomEntry struct {
	coord  *Coordinator
	cancel context.CancelFunc
	refs   int
	// closing is set once the last reference is gone. The entry stays in the map until
	// teardown finishes and closed is closed.
	closing bool
	closed  chan struct{}
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Presence == nil {
		opts.Presence = presence.NewMemoryStore()
	}
	return &Registry{opts: opts, rooms: make(map[string]*roomEntry)}
}

// Acquire returns the coordinator for roomID, starting it if needed. A room that is still
// tearing down is waited for and replaced. Every Acquire must be paired with a Release.
func (r *Registry) Acquire(roomID string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.rooms[roomID]
	for ok && entry.closing {
		r.mu.Unlock()
		<-entry.closed
		r.mu.Lock()
		entry, ok = r.rooms[roomID]
	}
	if !ok {
		coord := NewCoordinator(Options{
			ID:                  roomID,
			Media:               r.opts.NewEngine(roomID),
			Policy:              r.opts.Policy,
			Presence:            r.opts.Presence,
			ICEGatheringTimeout: r.opts.ICEGatheringTimeout,
			Logger:              r.opts.Logger,
		})
		ctx, cancel := context.WithCancel(context.Background())
		go coord.Run(ctx)
		entry = &roomEntry{coord: coord, cancel: cancel, closed: make(chan struct{})}
		r.rooms[roomID] = entry
		r.opts.Logger.Info("created new room", "room", roomID)
	}
	entry.refs++
	return entry.coord
}

// Release drops one reference and stops the room when none are left.
func (r *Registry) Release(roomID string) {
	r.mu.Lock()
	entry, ok := r.rooms[roomID]
	if !ok || entry.closing {
		r.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs > 0 {
		r.mu.Unlock()
		return
	}
	entry.closing = true
	r.mu.Unlock()

	entry.cancel()
	<-entry.coord.done

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := r.opts.Presence.Reset(ctx, roomID); err != nil {
		r.opts.Logger.Warn("failed to reset presence", "room", roomID, "err", err)
	}
	r.remove(entry)
	r.opts.Logger.Info("removed empty room", "room", roomID)
}

func (r *Registry) remove(entry *roomEntry) {
	id := entry.coord.ID()
	r.mu.Lock()
	if r.rooms[id] == entry {
		delete(r.rooms, id)
	}
	r.mu.Unlock()
	close(entry.closed)
}

// Lookup returns an active room without taking a reference.
func (r *Registry) Lookup(roomID string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rooms[roomID]
	if !ok || entry.closing {
		return nil, false
	}
	return entry.coord, true
}

// Close stops every room and waits for rooms already tearing down.
func (r *Registry) Close() {
	r.mu.Lock()
	var stopping, waiting []*roomEntry
	for _, entry := range r.rooms {
		if entry.closing {
			waiting = append(waiting, entry)
			continue
		}
		entry.closing = true
		stopping = append(stopping, entry)
	}
	r.mu.Unlock()

	for _, entry := range stopping {
		entry.cancel()
		<-entry.coord.done
		r.remove(entry)
	}
	for _, entry := range waiting {
		<-entry.closed
	}
}
