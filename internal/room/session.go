package room

import (
	"time"

	"github.com/mossy-p/sfu-signaling/internal/media"
	"github.com/mossy-p/sfu-signaling/internal/models"
)

// Sender is the socket a peer joined through. It is owned by the signaling connection; a
// PeerSession only borrows it to deliver offers.
type Sender interface {
	Send(msg any) error
	ID() string
}

// PeerSession is the server-side state of one participant.
type PeerSession struct {
	ID           models.PeerID
	JoinedAt     time.Time
	JoinSeq      int
	Capabilities media.Capabilities

	conn   Sender
	media  media.Session
	outbox *outbox

	state NegotiationState
	// epoch increases with every offer cycle and every reset; queued offers from an older
	// epoch are stale.
	epoch uint64
}

func (s *PeerSession) State() NegotiationState { return s.state }
func (s *PeerSession) Epoch() uint64           { return s.epoch }
func (s *PeerSession) Conn() Sender            { return s.conn }

func (s *PeerSession) info() models.PeerInfo {
	return models.PeerInfo{
		ID:               s.ID,
		JoinSeq:          s.JoinSeq,
		JoinedAt:         s.JoinedAt,
		UnifiedPlan:      s.ID.UsesUnifiedPlan(),
		NegotiationState: s.state.String(),
		Epoch:            s.epoch,
		Capabilities:     s.Capabilities.Kinds,
	}
}
