package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/mossy-p/sfu-signaling/internal/media"
	"github.com/mossy-p/sfu-signaling/internal/models"
)

// NegotiationState is the server side offer/answer state of one peer.
type NegotiationState int

const (
	Idle NegotiationState = iota
	OfferPending
	OfferSent
	AnswerReceived
	Failed
)

func (s NegotiationState) String() string {
	switch s {
	case Idle:
		return "idle"
	case OfferPending:
		return "offer-pending"
	case OfferSent:
		return "offer-sent"
	case AnswerReceived:
		return "answer-received"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("NegotiationState(%d)", int(s))
	}
}

// Edge produces ssrc lines with an empty msid which later break the answer.
var brokenEdgeSSRC = regexp.MustCompile(`a=ssrc:\S+ msid\r`)

// Offer is an offer on its way to a peer.
type Offer struct {
	PeerID      models.PeerID
	Description models.SessionDescription
	SendVideo   bool
	Delay       time.Duration
	Epoch       uint64
}

// Answer is a client's reply, consumed by ApplyAnswer.
type Answer struct {
	PeerID      models.PeerID
	Description models.SessionDescription
}

// Controller runs the offer/answer cycle of peer sessions. It keeps no per-peer state of its
// own and must only be used from the room's control loop.
type Controller struct {
	policy        SchedulingPolicy
	gatherTimeout time.Duration
	logger        *slog.Logger
}

func NewController(policy SchedulingPolicy, gatherTimeout time.Duration, logger *slog.Logger) *Controller {
	if policy == nil {
		policy = ImmediatePolicy{}
	}
	if gatherTimeout <= 0 {
		gatherTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{policy: policy, gatherTimeout: gatherTimeout, logger: logger}
}

func (c *Controller) Policy() SchedulingPolicy { return c.policy }

// GatherResult reports the end of ICE gathering for an offer started by Negotiate. It is
// handed back to the room loop, which finishes the offer with Complete.
type GatherResult struct {
	Session *PeerSession
	Epoch   uint64
	// RoomSize is the room size at the moment negotiation was triggered.
	RoomSize int
	Err      error
}

// Negotiate starts an offer cycle and returns once the local description is set. Gathering
// continues in the background and notify receives its outcome; notify is not called when ctx
// ends first.
func (c *Controller) Negotiate(ctx context.Context, s *PeerSession, roomSize int, notify func(GatherResult)) error {
	if err := c.CreateOffer(s); err != nil {
		return err
	}
	result := GatherResult{Session: s, Epoch: s.epoch, RoomSize: roomSize}
	go c.awaitGathering(ctx, s.media.GatheringComplete(), result, notify)
	return nil
}

// Complete finishes an offer whose gathering ended and schedules it.
func (c *Controller) Complete(r GatherResult) error {
	offer, err := c.FinishOffer(r)
	if err != nil {
		return err
	}
	c.ScheduleSend(r.Session, offer, c.policy.Decide(r.RoomSize, r.Session.JoinSeq))
	return nil
}

// CreateOffer asks the media session for a local description with audio and video receive
// enabled and starts ICE gathering. Any failure resets the peer's media connection.
func (c *Controller) CreateOffer(s *PeerSession) error {
	s.epoch++
	c.transition(s, OfferPending)

	desc, err := s.media.CreateOffer(media.OfferOptions{ReceiveAudio: true, ReceiveVideo: true})
	if err != nil {
		return c.fail(s, "create offer", err)
	}
	if err := s.media.SetLocalDescription(desc); err != nil {
		return c.fail(s, "set local description", err)
	}
	return nil
}

func (c *Controller) awaitGathering(ctx context.Context, gathered <-chan struct{}, r GatherResult, notify func(GatherResult)) {
	timer := time.NewTimer(c.gatherTimeout)
	defer timer.Stop()
	select {
	case <-gathered:
	case <-timer.C:
		r.Err = fmt.Errorf("timed out after %s", c.gatherTimeout)
	case <-ctx.Done():
		return
	}
	notify(r)
}

// FinishOffer reads the gathered local description, candidates included. A result from an
// older cycle yields an offer that ScheduleSend discards.
func (c *Controller) FinishOffer(r GatherResult) (Offer, error) {
	s := r.Session
	if r.Epoch != s.epoch {
		return Offer{PeerID: s.ID, Epoch: r.Epoch}, nil
	}
	if r.Err != nil {
		return Offer{}, c.fail(s, "ice gathering", r.Err)
	}

	local, ok := s.media.LocalDescription()
	if !ok {
		return Offer{}, c.fail(s, "local description", errors.New("no local description after gathering"))
	}
	if brokenEdgeSSRC.MatchString(local.SDP) {
		c.logger.Warn("broken offer sdp", "peer_id", s.ID, "sdp", local.SDP)
	}

	return Offer{
		PeerID:      s.ID,
		Description: local,
		SendVideo:   s.Capabilities.SendVideo(),
		Epoch:       r.Epoch,
	}, nil
}

// ScheduleSend queues the offer on the peer's outbox after the decided delay, or drops it
// when the decision suppresses sending. The offer stays pending in that case, so a late
// answer is rejected as a mismatch.
func (c *Controller) ScheduleSend(s *PeerSession, offer Offer, d Decision) {
	if offer.Epoch != s.epoch {
		c.logger.Debug("ignoring stale offer", "peer_id", s.ID, "epoch", offer.Epoch, "current", s.epoch)
		return
	}
	if d.Suppress {
		c.logger.Info("offer computed but not sent", "peer_id", s.ID, "join_seq", s.JoinSeq, "policy", c.policy.String())
		return
	}
	offer.Delay = d.Delay
	if d.Delay > 0 {
		c.logger.Info("delaying send offer", "peer_id", s.ID, "delay", d.Delay)
	}
	s.outbox.push(offer.Epoch, offer.Delay, models.NewOffer(offer.SendVideo, offer.Description))
	c.transition(s, OfferSent)
}

// ApplyAnswer sets the client's answer as the remote description. An answer without an
// outstanding offer is a protocol violation and leaves the session untouched.
func (c *Controller) ApplyAnswer(s *PeerSession, answer Answer) error {
	if s.state != OfferSent {
		return fmt.Errorf("%w: peer %s answered in state %s", ErrNegotiationMismatch, s.ID, s.state)
	}
	if err := s.media.SetRemoteDescription(answer.Description); err != nil {
		return c.fail(s, "set remote description", err)
	}
	c.transition(s, AnswerReceived)
	c.transition(s, Idle)
	return nil
}

// fail ends the current cycle and recreates the peer's media connection. Offers still queued
// for the old connection are discarded.
func (c *Controller) fail(s *PeerSession, op string, cause error) error {
	c.transition(s, Failed)
	err := fmt.Errorf("%w: %s for %s: %w", media.ErrMediaLayer, op, s.ID, cause)
	c.logger.Error("negotiation failed", "peer_id", s.ID, "op", op, "err", cause)

	s.epoch++
	s.outbox.invalidateBefore(s.epoch)
	if resetErr := s.media.Reset(); resetErr != nil {
		c.logger.Error("failed to reset peer connection", "peer_id", s.ID, "err", resetErr)
	}
	return err
}

func (c *Controller) transition(s *PeerSession, to NegotiationState) {
	if s.state == to {
		return
	}
	c.logger.Debug("negotiation state", "peer_id", s.ID, "from", s.state, "to", to)
	s.state = to
}
