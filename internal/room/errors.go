package room

import "errors"

var (
	ErrDuplicateJoin       = errors.New("duplicate join")
	ErrUnknownPeer         = errors.New("unknown peer")
	ErrMissingPeerID       = errors.New("missing peerId")
	ErrNegotiationMismatch = errors.New("negotiation mismatch")
	ErrRoomClosed          = errors.New("room closed")
)
