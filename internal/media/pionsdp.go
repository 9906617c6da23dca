package media

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/sfu-signaling/internal/models"
)

// ToPion converts a wire description. Only offers and answers are exchanged on the
// signaling socket, so any other type is rejected.
func ToPion(desc models.SessionDescription) (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch desc.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: unsupported sdp type %q", ErrMediaLayer, desc.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: desc.SDP}, nil
}

func FromPion(desc webrtc.SessionDescription) models.SessionDescription {
	return models.SessionDescription{Type: desc.Type.String(), SDP: desc.SDP}
}

// StreamCounter counts the live remote tracks of each stream id. A stream is added when its
// first track starts and removed when its last track ends. Callers serialize access.
type StreamCounter map[string]int

// Start records a track of streamID and reports whether it is the stream's first.
func (c StreamCounter) Start(streamID string) bool {
	c[streamID]++
	return c[streamID] == 1
}

// End records the end of a track of streamID and reports whether it was the stream's last.
// Ends without a matching Start are ignored.
func (c StreamCounter) End(streamID string) bool {
	if c[streamID] == 0 {
		return false
	}
	c[streamID]--
	if c[streamID] > 0 {
		return false
	}
	delete(c, streamID)
	return true
}
