// Package media defines the capability the signaling core needs from the media engine and
// provides a pion/webrtc backed implementation of it.
//
// The signaling layer never looks inside a Session: it asks for descriptions, applies the
// client's answers and reacts to the events the session reports.
package media

import (
	"errors"

	"github.com/mossy-p/sfu-signaling/internal/models"
)

// ErrMediaLayer wraps every failure reported by the media engine.
var ErrMediaLayer = errors.New("media layer error")

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("media session closed")

// OfferOptions mirrors offerToReceiveAudio / offerToReceiveVideo.
type OfferOptions struct {
	ReceiveAudio bool
	ReceiveVideo bool
}

type EventKind int

const (
	EventRenegotiationNeeded EventKind = iota
	EventStreamAdded
	EventStreamRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventRenegotiationNeeded:
		return "renegotiation-needed"
	case EventStreamAdded:
		return "stream-added"
	case EventStreamRemoved:
		return "stream-removed"
	default:
		return "unknown"
	}
}

// Event is a notification raised by a Session. Events may be raised from any goroutine.
type Event struct {
	Kind     EventKind
	PeerID   models.PeerID
	StreamID string
}

// SessionOptions configures a new Session.
type SessionOptions struct {
	PeerID      models.PeerID
	UnifiedPlan bool
	OnEvent     func(Event)
}

// Session is the per-peer media connection.
type Session interface {
	// SetCapabilities registers what the client can send and receive.
	SetCapabilities(caps Capabilities) error
	CreateOffer(opts OfferOptions) (models.SessionDescription, error)
	SetLocalDescription(desc models.SessionDescription) error
	// LocalDescription returns the current local description including gathered candidates.
	LocalDescription() (models.SessionDescription, bool)
	SetRemoteDescription(desc models.SessionDescription) error
	ICEGatheringState() string
	// GatheringComplete is closed once candidate gathering for the current local
	// description has finished.
	GatheringComplete() <-chan struct{}
	// Reset releases the underlying connection and recreates it so negotiation can restart.
	Reset() error
	Close() error
}

// Engine creates media sessions for one room.
type Engine interface {
	NewSession(opts SessionOptions) (Session, error)
	Codecs() []string
}
