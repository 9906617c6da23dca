package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeJoin(t *testing.T) {
	env, msg, err := Decode([]byte(`{"peerId":"A","tag":"join","capabilities":"v=0\r\n"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Tag != TagJoin || env.PeerID != "A" {
		t.Fatalf("envelope=%+v", env)
	}
	join, ok := msg.(JoinMessage)
	if !ok {
		t.Fatalf("msg type=%T, want JoinMessage", msg)
	}
	if join.Capabilities != "v=0\r\n" {
		t.Fatalf("Capabilities=%q", join.Capabilities)
	}
}

func TestDecodeNumericPeerID(t *testing.T) {
	_, msg, err := Decode([]byte(`{"peerId":482913,"tag":"answer","sdp":{"type":"answer","sdp":"x"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	answer := msg.(AnswerMessage)
	if answer.PeerID != "482913" {
		t.Fatalf("PeerID=%q, want 482913", answer.PeerID)
	}
	if answer.SDP.Type != "answer" || answer.SDP.SDP != "x" {
		t.Fatalf("SDP=%+v", answer.SDP)
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	env, msg, err := Decode([]byte(`{"peerId":"A","tag":"candidate"}`))
	if !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("err=%v, want ErrUnknownTag", err)
	}
	if msg != nil {
		t.Fatalf("msg=%v, want nil", msg)
	}
	if env.PeerID != "A" {
		t.Fatalf("PeerID=%q, want A", env.PeerID)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, _, err := Decode([]byte(`{"tag":`)); err == nil {
		t.Fatal("expected error for truncated json")
	}
	if _, _, err := Decode([]byte(`{"tag":"join","peerId":{}}`)); err == nil {
		t.Fatal("expected error for object peerId")
	}
}

func TestOfferAlwaysCarriesSendVideo(t *testing.T) {
	data, err := json.Marshal(NewOffer(false, SessionDescription{Type: "offer", SDP: "x"}))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"sendVideo":false`) {
		t.Fatalf("offer json %s missing sendVideo", data)
	}
	if strings.Contains(string(data), "peerId") {
		t.Fatalf("offer json %s should not carry peerId", data)
	}
}

func TestUsesUnifiedPlan(t *testing.T) {
	cases := map[PeerID]bool{"U1": true, "Ualice": true, "u1": false, "1": false, "": false}
	for id, want := range cases {
		if got := id.UsesUnifiedPlan(); got != want {
			t.Fatalf("%q.UsesUnifiedPlan()=%v, want %v", id, got, want)
		}
	}
}
