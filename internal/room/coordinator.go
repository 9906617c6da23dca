package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/mossy-p/sfu-signaling/internal/media"
	"github.com/mossy-p/sfu-signaling/internal/models"
	"github.com/mossy-p/sfu-signaling/internal/presence"
)

const (
	eventBuffer     = 256
	presenceTimeout = 2 * time.Second
)

// Options configures a Coordinator.
type Options struct {
	ID                  string
	Media               media.Engine
	Policy              SchedulingPolicy
	Presence            presence.Store
	ICEGatheringTimeout time.Duration
	Logger              *slog.Logger
}

// Coordinator owns the peers of one room. Every state change runs on the goroutine executing
// Run; other goroutines talk to it through Join, Answer, Disconnect, Dump and media events.
type Coordinator struct {
	id         string
	media      media.Engine
	controller *Controller
	presence   presence.Store
	logger     *slog.Logger

	peers   map[models.PeerID]*PeerSession
	order   []models.PeerID
	nextSeq int

	events chan event
	done   chan struct{}
}

type event interface{ isEvent() }

type joinEvent struct {
	conn  Sender
	msg   models.JoinMessage
	reply chan error
}

type answerEvent struct {
	conn Sender
	msg  models.AnswerMessage
}

type disconnectEvent struct {
	conn   Sender
	peerID models.PeerID
}

type mediaEvent struct {
	ev media.Event
}

type dumpEvent struct {
	reply chan models.RoomDump
}

type gatheredEvent struct {
	result GatherResult
}

func (joinEvent) isEvent()       {}
func (answerEvent) isEvent()     {}
func (disconnectEvent) isEvent() {}
func (mediaEvent) isEvent()      {}
func (dumpEvent) isEvent()       {}
func (gatheredEvent) isEvent()   {}

func NewCoordinator(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("room", opts.ID)
	store := opts.Presence
	if store == nil {
		store = presence.NewMemoryStore()
	}
	return &Coordinator{
		id:         opts.ID,
		media:      opts.Media,
		controller: NewController(opts.Policy, opts.ICEGatheringTimeout, logger),
		presence:   store,
		logger:     logger,
		peers:      make(map[models.PeerID]*PeerSession),
		events:     make(chan event, eventBuffer),
		done:       make(chan struct{}),
	}
}

func (c *Coordinator) ID() string { return c.id }

// Size is the number of connected peers. Loop goroutine only.
func (c *Coordinator) Size() int { return len(c.peers) }

// Peer looks up a session. Loop goroutine only.
func (c *Coordinator) Peer(id models.PeerID) (*PeerSession, bool) {
	s, ok := c.peers[id]
	return s, ok
}

// Run processes events until ctx is cancelled, then releases every remaining peer.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case ev := <-c.events:
			c.handle(ctx, ev)
		case <-ctx.Done():
			for _, id := range slices.Clone(c.order) {
				c.Remove(id)
			}
			return
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case joinEvent:
		_, err := c.Admit(ctx, ev.conn, ev.msg.PeerID, ev.msg.Capabilities)
		if err != nil {
			c.logger.Warn("join rejected", "peer_id", ev.msg.PeerID, "conn", ev.conn.ID(), "err", err)
		}
		ev.reply <- err
	case answerEvent:
		if err := c.HandleAnswer(ev.conn, ev.msg); err != nil {
			c.logger.Warn("answer ignored", "peer_id", ev.msg.PeerID, "err", err)
		}
	case disconnectEvent:
		c.disconnect(ev.conn, ev.peerID)
	case mediaEvent:
		c.handleMedia(ctx, ev.ev)
	case dumpEvent:
		ev.reply <- c.dump()
	case gatheredEvent:
		c.finishOffer(ev.result)
	}
}

func (c *Coordinator) post(ev event) error {
	select {
	case <-c.done:
		return ErrRoomClosed
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrRoomClosed
	}
}

// Join hands a join received on conn to the loop and waits for the admission result. The
// first offer follows asynchronously.
func (c *Coordinator) Join(conn Sender, msg models.JoinMessage) error {
	reply := make(chan error, 1)
	if err := c.post(joinEvent{conn: conn, msg: msg, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrRoomClosed
		}
	}
}

// Answer queues an answer received on conn.
func (c *Coordinator) Answer(conn Sender, msg models.AnswerMessage) error {
	return c.post(answerEvent{conn: conn, msg: msg})
}

// Disconnect reports that conn closed. peerID is the id the socket joined with, if any.
func (c *Coordinator) Disconnect(conn Sender, peerID models.PeerID) error {
	return c.post(disconnectEvent{conn: conn, peerID: peerID})
}

// Dump returns a snapshot of the room taken on the loop goroutine.
func (c *Coordinator) Dump(ctx context.Context) (models.RoomDump, error) {
	reply := make(chan models.RoomDump, 1)
	if err := c.post(dumpEvent{reply: reply}); err != nil {
		return models.RoomDump{}, err
	}
	select {
	case d := <-reply:
		return d, nil
	case <-c.done:
		return models.RoomDump{}, ErrRoomClosed
	case <-ctx.Done():
		return models.RoomDump{}, ctx.Err()
	}
}

func (c *Coordinator) onMediaEvent(ev media.Event) {
	if err := c.post(mediaEvent{ev: ev}); err != nil {
		c.logger.Debug("dropping media event", "peer_id", ev.PeerID, "kind", ev.Kind)
	}
}

func (c *Coordinator) onGathered(r GatherResult) {
	if err := c.post(gatheredEvent{result: r}); err != nil {
		c.logger.Debug("dropping gathering result", "epoch", r.Epoch)
	}
}

// finishOffer sends the offer whose gathering ended, unless its session has left the room.
// Loop goroutine only.
func (c *Coordinator) finishOffer(r GatherResult) {
	id := r.Session.ID
	if s, ok := c.peers[id]; !ok || s != r.Session {
		c.logger.Debug("gathering finished for departed peer", "peer_id", id)
		return
	}
	if err := c.controller.Complete(r); err != nil {
		c.logger.Warn("offer failed", "peer_id", id, "err", err)
	}
}

// Admit adds a peer, registers its capabilities with a new media session and starts its
// first offer cycle. The join sequence number is only taken once the media session is set
// up, so a rejected join leaves no gap. Loop goroutine only.
func (c *Coordinator) Admit(ctx context.Context, conn Sender, id models.PeerID, capabilities string) (*PeerSession, error) {
	if id == "" {
		return nil, ErrMissingPeerID
	}
	if _, ok := c.peers[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJoin, id)
	}

	s := &PeerSession{
		ID:           id,
		JoinedAt:     time.Now(),
		Capabilities: media.ParseCapabilities(capabilities),
		conn:         conn,
	}

	c.logger.Debug("using plan b", "peer_id", id, "plan_b", !id.UsesUnifiedPlan())
	ms, err := c.media.NewSession(media.SessionOptions{
		PeerID:      id,
		UnifiedPlan: id.UsesUnifiedPlan(),
		OnEvent:     c.onMediaEvent,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: new session for %s: %w", media.ErrMediaLayer, id, err)
	}
	c.logger.Debug("setting capabilities", "peer_id", id, "kinds", s.Capabilities.Kinds)
	if err := ms.SetCapabilities(s.Capabilities); err != nil {
		_ = ms.Close()
		return nil, fmt.Errorf("%w: set capabilities for %s: %w", media.ErrMediaLayer, id, err)
	}
	s.media = ms
	s.outbox = newOutbox(conn.Send, c.logger.With("peer_id", id))
	s.JoinSeq = c.nextSeq
	c.nextSeq++

	c.peers[id] = s
	c.order = append(c.order, id)
	c.updatePresence(func(ctx context.Context) error {
		return c.presence.AddPeer(ctx, c.id, string(id))
	})
	c.logger.Info("peer joined", "peer_id", id, "join_seq", s.JoinSeq, "participants", len(c.peers))

	if err := c.controller.Negotiate(ctx, s, len(c.peers), c.onGathered); err != nil {
		c.logger.Warn("initial offer failed", "peer_id", id, "err", err)
	}
	return s, nil
}

// Remove releases a peer and its media session. Unknown ids are logged and ignored, so
// calling it twice is harmless. Loop goroutine only.
func (c *Coordinator) Remove(id models.PeerID) bool {
	s, ok := c.peers[id]
	if !ok {
		c.logger.Info("remove for unknown peer", "peer_id", id)
		return false
	}
	delete(c.peers, id)
	c.order = slices.DeleteFunc(c.order, func(p models.PeerID) bool { return p == id })

	s.outbox.stop()
	if err := s.media.Close(); err != nil {
		c.logger.Warn("failed to close media session", "peer_id", id, "err", err)
	}
	c.updatePresence(func(ctx context.Context) error {
		return c.presence.RemovePeer(ctx, c.id, string(id))
	})
	c.logger.Info("peer left", "peer_id", id, "participants", len(c.peers))
	return true
}

// OnRenegotiationNeeded starts a new offer cycle for id. The offer is sent once gathering
// completes. Loop goroutine only.
func (c *Coordinator) OnRenegotiationNeeded(ctx context.Context, id models.PeerID) error {
	s, ok := c.peers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	c.logger.Info("negotiation needed", "peer_id", id)
	return c.controller.Negotiate(ctx, s, len(c.peers), c.onGathered)
}

// HandleAnswer applies an answer received on conn. A nil conn skips the ownership check.
// Loop goroutine only.
func (c *Coordinator) HandleAnswer(conn Sender, msg models.AnswerMessage) error {
	s, ok := c.peers[msg.PeerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, msg.PeerID)
	}
	if conn != nil && s.conn != conn {
		return fmt.Errorf("%w: %s is not bound to connection %s", ErrUnknownPeer, msg.PeerID, conn.ID())
	}
	return c.controller.ApplyAnswer(s, Answer{PeerID: msg.PeerID, Description: msg.SDP})
}

func (c *Coordinator) disconnect(conn Sender, id models.PeerID) {
	if id == "" {
		c.logger.Info("unknown websocket closed", "conn", conn.ID())
		return
	}
	s, ok := c.peers[id]
	if !ok || s.conn != conn {
		// The socket joined with an id that was rejected or already removed.
		c.logger.Info("websocket closed without a session", "peer_id", id, "conn", conn.ID())
		return
	}
	c.logger.Info("websocket closed", "peer_id", id)
	c.Remove(id)
}

func (c *Coordinator) handleMedia(ctx context.Context, ev media.Event) {
	switch ev.Kind {
	case media.EventRenegotiationNeeded:
		if err := c.OnRenegotiationNeeded(ctx, ev.PeerID); err != nil {
			if errors.Is(err, ErrUnknownPeer) {
				c.logger.Debug("renegotiation for departed peer", "peer_id", ev.PeerID)
				return
			}
			c.logger.Warn("renegotiation failed", "peer_id", ev.PeerID, "err", err)
		}
	case media.EventStreamAdded, media.EventStreamRemoved:
		c.logger.Debug("media stream event", "peer_id", ev.PeerID, "kind", ev.Kind, "stream_id", ev.StreamID)
	}
}

func (c *Coordinator) updatePresence(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		c.logger.Warn("presence update failed", "err", err)
	}
}

func (c *Coordinator) dump() models.RoomDump {
	d := models.RoomDump{
		RoomInfo:    c.info(),
		NextJoinSeq: c.nextSeq,
		Peers:       make([]models.PeerInfo, 0, len(c.order)),
	}
	for _, id := range c.order {
		d.Peers = append(d.Peers, c.peers[id].info())
	}
	return d
}

func (c *Coordinator) info() models.RoomInfo {
	return models.RoomInfo{
		ID:        c.id,
		PeerCount: len(c.peers),
		Codecs:    c.media.Codecs(),
		Policy:    c.controller.Policy().String(),
	}
}
