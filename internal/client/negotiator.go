// Package client is the browser side of the signaling protocol: it answers the server's
// offers and keeps track of the remote streams the SFU forwards.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mossy-p/sfu-signaling/internal/media"
	"github.com/mossy-p/sfu-signaling/internal/models"
)

const defaultGatherTimeout = 2 * time.Second

// ErrBusy is returned when an offer arrives while the previous one is still being answered.
var ErrBusy = errors.New("previous offer still in progress")

// State is the client side negotiation state.
type State int

const (
	AwaitingOffer State = iota
	AnsweringOffer
	AwaitingICEGather
	AnswerSent
)

func (s State) String() string {
	switch s {
	case AwaitingOffer:
		return "awaiting-offer"
	case AnsweringOffer:
		return "answering-offer"
	case AwaitingICEGather:
		return "awaiting-ice-gather"
	case AnswerSent:
		return "answer-sent"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StreamEvent reports a remote stream appearing on or leaving the peer connection.
type StreamEvent struct {
	Kind     media.EventKind
	StreamID string
}

// PeerConnection is the client's media connection.
type PeerConnection interface {
	HasLocalStream() bool
	AttachLocalStream() error
	DetachLocalStream() error
	SetRemoteDescription(desc models.SessionDescription) error
	CreateAnswer() (models.SessionDescription, error)
	SetLocalDescription(desc models.SessionDescription) error
	LocalDescription() (models.SessionDescription, bool)
	// GatheringComplete is closed once candidate gathering for the current local
	// description has finished.
	GatheringComplete() <-chan struct{}
	// Events delivers remote stream additions and removals.
	Events() <-chan StreamEvent
	Close() error
}

// Negotiator turns offers into answers for one peer. It is not safe for concurrent use; the
// client's control loop owns it.
type Negotiator struct {
	peerID        models.PeerID
	pc            PeerConnection
	streams       *Streams
	gatherTimeout time.Duration
	logger        *slog.Logger

	state State
}

func NewNegotiator(peerID models.PeerID, pc PeerConnection, streams *Streams, gatherTimeout time.Duration, logger *slog.Logger) *Negotiator {
	if gatherTimeout <= 0 {
		gatherTimeout = defaultGatherTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{
		peerID:        peerID,
		pc:            pc,
		streams:       streams,
		gatherTimeout: gatherTimeout,
		logger:        logger.With("peer_id", peerID),
	}
}

func (n *Negotiator) State() State { return n.state }

// HandleOffer answers one offer and hands the answer to send. Media failures leave the
// negotiator ready for the next offer.
func (n *Negotiator) HandleOffer(ctx context.Context, offer models.OfferMessage, send func(models.AnswerMessage) error) error {
	switch n.state {
	case AwaitingOffer:
	case AnswerSent:
		n.transition(AwaitingOffer)
	default:
		return fmt.Errorf("%w: state %s", ErrBusy, n.state)
	}
	n.transition(AnsweringOffer)

	if err := n.syncLocalStream(offer.SendVideo); err != nil {
		return n.fail("local stream", err)
	}
	if err := n.pc.SetRemoteDescription(offer.SDP); err != nil {
		return n.fail("set remote description", err)
	}
	answer, err := n.pc.CreateAnswer()
	if err != nil {
		return n.fail("create answer", err)
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return n.fail("set local description", err)
	}

	n.transition(AwaitingICEGather)
	timer := time.NewTimer(n.gatherTimeout)
	defer timer.Stop()
	select {
	case <-n.pc.GatheringComplete():
	case <-timer.C:
		return n.fail("ice gathering", fmt.Errorf("timed out after %s", n.gatherTimeout))
	case <-ctx.Done():
		return n.fail("ice gathering", ctx.Err())
	}

	local, ok := n.pc.LocalDescription()
	if !ok {
		return n.fail("local description", errors.New("no local description after gathering"))
	}
	if err := send(models.NewAnswer(n.peerID, local)); err != nil {
		n.transition(AwaitingOffer)
		return fmt.Errorf("send answer: %w", err)
	}
	n.transition(AnswerSent)
	return nil
}

func (n *Negotiator) syncLocalStream(sendVideo bool) error {
	switch {
	case sendVideo && !n.pc.HasLocalStream():
		n.logger.Info("attaching local stream")
		return n.pc.AttachLocalStream()
	case !sendVideo && n.pc.HasLocalStream():
		n.logger.Info("detaching local stream")
		return n.pc.DetachLocalStream()
	}
	return nil
}

// HandleStreamEvent registers or tears down the sink of a remote stream. Unknown removals
// are logged and otherwise ignored.
func (n *Negotiator) HandleStreamEvent(ev StreamEvent) {
	switch ev.Kind {
	case media.EventStreamAdded:
		if err := n.streams.Add(ev.StreamID); err != nil {
			n.logger.Warn("failed to attach remote stream", "stream_id", ev.StreamID, "err", err)
		}
	case media.EventStreamRemoved:
		if err := n.streams.Remove(ev.StreamID); err != nil {
			n.logger.Warn("failed to remove remote stream", "stream_id", ev.StreamID, "err", err)
		}
	}
}

func (n *Negotiator) fail(op string, cause error) error {
	n.logger.Error("answer failed", "op", op, "err", cause)
	n.transition(AwaitingOffer)
	return fmt.Errorf("%w: %s: %w", media.ErrMediaLayer, op, cause)
}

func (n *Negotiator) transition(to State) {
	if n.state == to {
		return
	}
	n.logger.Debug("client state", "from", n.state, "to", to)
	n.state = to
}
