package media

import (
	"slices"
	"strings"
	"testing"
)

const browserOffer = "v=0\r\n" +
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:96 VP8/90000\r\n"

func TestParseCapabilitiesSDP(t *testing.T) {
	caps := ParseCapabilities(browserOffer)
	if !slices.Equal(caps.Kinds, []string{"audio", "video"}) {
		t.Fatalf("Kinds=%v, want [audio video]", caps.Kinds)
	}
	if caps.Raw != browserOffer {
		t.Fatal("Raw should keep the original descriptor")
	}
	if !caps.SendVideo() {
		t.Fatal("SendVideo=false, want true")
	}
}

func TestParseCapabilitiesList(t *testing.T) {
	caps := ParseCapabilities("audio, VIDEO,audio,data")
	if !slices.Equal(caps.Kinds, []string{"audio", "video"}) {
		t.Fatalf("Kinds=%v, want [audio video]", caps.Kinds)
	}

	audioOnly := ParseCapabilities("audio")
	if !audioOnly.SendVideo() {
		t.Fatal("audio-only capabilities should still publish")
	}
}

func TestParseCapabilitiesDirection(t *testing.T) {
	audioOnly := strings.Replace(browserOffer, "a=rtpmap:96 VP8/90000\r\n", "a=rtpmap:96 VP8/90000\r\na=recvonly\r\n", 1)
	caps := ParseCapabilities(audioOnly)
	if !slices.Equal(caps.Kinds, []string{"audio"}) {
		t.Fatalf("Kinds=%v, want [audio]", caps.Kinds)
	}
	if !caps.SendVideo() {
		t.Fatal("a peer publishing audio should attach its local stream")
	}

	listener := strings.ReplaceAll(browserOffer, "c=IN IP4 0.0.0.0\r\n", "c=IN IP4 0.0.0.0\r\na=inactive\r\n")
	caps = ParseCapabilities(listener)
	if len(caps.Kinds) != 0 {
		t.Fatalf("Kinds=%v, want none", caps.Kinds)
	}
	if caps.SendVideo() {
		t.Fatal("a peer with only inactive media lines has nothing to publish")
	}
}

func TestParseCapabilitiesUnknown(t *testing.T) {
	for _, raw := range []string{"", "   ", "v=garbage"} {
		caps := ParseCapabilities(raw)
		if len(caps.Kinds) != 0 {
			t.Fatalf("ParseCapabilities(%q).Kinds=%v, want none", raw, caps.Kinds)
		}
		if !caps.SendVideo() {
			t.Fatalf("ParseCapabilities(%q) should default to sending video", raw)
		}
	}
}
