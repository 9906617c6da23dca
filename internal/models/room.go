package models

import "time"

// RoomInfo is the public view of a room
type RoomInfo struct {
	ID        string   `json:"id"`
	PeerCount int      `json:"peerCount"`
	Codecs    []string `json:"codecs"`
	Policy    string   `json:"schedulingPolicy"`
}

// PeerInfo describes one participant for the internals dump
type PeerInfo struct {
	ID               PeerID    `json:"id"`
	JoinSeq          int       `json:"joinSeq"`
	JoinedAt         time.Time `json:"joinedAt"`
	UnifiedPlan      bool      `json:"unifiedPlan"`
	NegotiationState string    `json:"negotiationState"`
	Epoch            uint64    `json:"epoch"`
	Capabilities     []string  `json:"capabilities"` // media kinds found in the join SDP
}

// RoomDump is returned by the authenticated internals endpoint
type RoomDump struct {
	RoomInfo
	NextJoinSeq int        `json:"nextJoinSeq"`
	Peers       []PeerInfo `json:"peers"`
}
