package media

import (
	"slices"
	"strings"

	"github.com/pion/sdp/v3"
)

// Capabilities is the parsed form of the descriptor a client sends with join. Browsers send
// the SDP of a throwaway offer; simple test clients may send a list such as "audio,video".
type Capabilities struct {
	Raw string
	// Kinds lists the media kinds the client can publish.
	Kinds []string

	receiveOnly bool
}

// ParseCapabilities extracts the media kinds from a capabilities descriptor. It never fails:
// an unparseable SDP yields no kinds.
func ParseCapabilities(raw string) Capabilities {
	caps := Capabilities{Raw: raw}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return caps
	}

	if strings.HasPrefix(trimmed, "v=") {
		var desc sdp.SessionDescription
		if err := desc.Unmarshal([]byte(raw)); err != nil {
			return caps
		}
		for _, m := range desc.MediaDescriptions {
			if !sends(m) {
				caps.receiveOnly = true
				continue
			}
			caps.add(m.MediaName.Media)
		}
		return caps
	}

	for _, kind := range strings.Split(trimmed, ",") {
		caps.add(kind)
	}
	return caps
}

func (c *Capabilities) add(kind string) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind != "audio" && kind != "video" {
		return
	}
	if !slices.Contains(c.Kinds, kind) {
		c.Kinds = append(c.Kinds, kind)
	}
}

func sends(m *sdp.MediaDescription) bool {
	for _, dir := range []string{"recvonly", "inactive"} {
		if _, ok := m.Attribute(dir); ok {
			return false
		}
	}
	return true
}

func (c Capabilities) Has(kind string) bool {
	return slices.Contains(c.Kinds, kind)
}

// SendVideo reports whether the client should attach its local stream. Any publishable kind,
// audio alone included, asks for it; only a descriptor whose media lines are all receive-only
// does not. A descriptor without any recognisable kind is treated as fully capable.
func (c Capabilities) SendVideo() bool {
	return len(c.Kinds) > 0 || !c.receiveOnly
}
