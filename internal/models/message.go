package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Tag identifies the kind of a signaling message
type Tag string

const (
	TagJoin   Tag = "join"
	TagOffer  Tag = "offer"
	TagAnswer Tag = "answer"
)

// ErrUnknownTag is returned by Decode for messages whose tag is not join, offer or answer.
var ErrUnknownTag = errors.New("unknown message tag")

// PeerID identifies a participant within a room. Browsers without a configured id send a
// random number, so a JSON number is accepted and kept as its decimal text.
type PeerID string

func (p *PeerID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PeerID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("peerId must be a string or number: %w", err)
	}
	*p = PeerID(n.String())
	return nil
}

// UsesUnifiedPlan reports whether the peer negotiates with unified plan. Ids with a "U"
// prefix opt in; everyone else gets plan B.
func (p PeerID) UsesUnifiedPlan() bool {
	return strings.HasPrefix(string(p), "U")
}

// SessionDescription is the JSON form of an RTCSessionDescription
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Envelope holds the fields shared by every message and is used for dispatch
type Envelope struct {
	PeerID PeerID `json:"peerId,omitempty"`
	Tag    Tag    `json:"tag"`
}

// JoinMessage is sent by a client to enter the room
type JoinMessage struct {
	PeerID       PeerID `json:"peerId"`
	Tag          Tag    `json:"tag"`
	Capabilities string `json:"capabilities"`
}

// OfferMessage is sent by the server whenever a (re)negotiation starts
type OfferMessage struct {
	Tag       Tag                `json:"tag"`
	SendVideo bool               `json:"sendVideo"`
	SDP       SessionDescription `json:"sdp"`
}

// AnswerMessage is the client's reply to an offer
type AnswerMessage struct {
	PeerID PeerID             `json:"peerId"`
	Tag    Tag                `json:"tag"`
	SDP    SessionDescription `json:"sdp"`
}

// NewOffer builds an offer message
func NewOffer(sendVideo bool, desc SessionDescription) OfferMessage {
	return OfferMessage{Tag: TagOffer, SendVideo: sendVideo, SDP: desc}
}

// NewAnswer builds an answer message
func NewAnswer(peerID PeerID, desc SessionDescription) AnswerMessage {
	return AnswerMessage{PeerID: peerID, Tag: TagAnswer, SDP: desc}
}

// NewJoin builds a join message
func NewJoin(peerID PeerID, capabilities string) JoinMessage {
	return JoinMessage{PeerID: peerID, Tag: TagJoin, Capabilities: capabilities}
}

// Decode parses a single framed message and returns one of JoinMessage, OfferMessage or
// AnswerMessage. Unknown tags yield ErrUnknownTag together with the envelope so callers
// can log who sent it.
func Decode(data []byte) (Envelope, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("parse message: %w", err)
	}

	var (
		msg any
		err error
	)
	switch env.Tag {
	case TagJoin:
		var m JoinMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case TagOffer:
		var m OfferMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case TagAnswer:
		var m AnswerMessage
		err = json.Unmarshal(data, &m)
		msg = m
	default:
		return env, nil, fmt.Errorf("%w %q", ErrUnknownTag, env.Tag)
	}
	if err != nil {
		return env, nil, fmt.Errorf("parse %s message: %w", env.Tag, err)
	}
	return env, msg, nil
}
