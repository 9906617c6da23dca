package signaling

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/sfu-signaling/internal/models"
	"github.com/mossy-p/sfu-signaling/internal/room"
)

type call struct {
	kind   string
	conn   room.Sender
	peerID models.PeerID
	msg    any
}

type recordingRoom struct {
	calls chan call
	// reject lists peer ids whose join the room refuses.
	reject map[models.PeerID]bool
}

func (r *recordingRoom) Join(conn room.Sender, msg models.JoinMessage) error {
	r.calls <- call{kind: "join", conn: conn, peerID: msg.PeerID, msg: msg}
	if r.reject[msg.PeerID] {
		return fmt.Errorf("%w: %s", room.ErrDuplicateJoin, msg.PeerID)
	}
	return nil
}

func (r *recordingRoom) Answer(conn room.Sender, msg models.AnswerMessage) error {
	r.calls <- call{kind: "answer", conn: conn, peerID: msg.PeerID, msg: msg}
	return nil
}

func (r *recordingRoom) Disconnect(conn room.Sender, peerID models.PeerID) error {
	r.calls <- call{kind: "disconnect", conn: conn, peerID: peerID}
	return nil
}

func (r *recordingRoom) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-r.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("room was not called")
	}
	return call{}
}

func (r *recordingRoom) expectNone(t *testing.T) {
	t.Helper()
	select {
	case c := <-r.calls:
		t.Fatalf("unexpected %s call", c.kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func serve(t *testing.T, rejected ...models.PeerID) (*recordingRoom, *websocket.Conn, <-chan *Conn) {
	t.Helper()
	r := &recordingRoom{calls: make(chan call, 16), reject: make(map[models.PeerID]bool)}
	for _, id := range rejected {
		r.reject[id] = true
	}
	conns := make(chan *Conn, 1)
	upgrader := websocket.Upgrader{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := NewConn(ws, r, logger)
		conns <- c
		c.Serve()
	}))
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return r, ws, conns
}

func TestJoinBindsPeerAndDisconnectReportsIt(t *testing.T) {
	r, ws, conns := serve(t)
	server := <-conns

	if err := ws.WriteJSON(models.NewJoin("U7", "audio,video")); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := r.next(t)
	if c.kind != "join" || c.peerID != "U7" || c.conn != server {
		t.Fatalf("call=%+v", c)
	}
	if join := c.msg.(models.JoinMessage); join.Capabilities != "audio,video" {
		t.Fatalf("capabilities=%q", join.Capabilities)
	}

	ws.Close()
	c = r.next(t)
	if c.kind != "disconnect" || c.peerID != "U7" || c.conn != server {
		t.Fatalf("call=%+v, want disconnect of U7", c)
	}
}

func TestDisconnectWithoutJoin(t *testing.T) {
	r, ws, _ := serve(t)
	ws.Close()
	if c := r.next(t); c.kind != "disconnect" || c.peerID != "" {
		t.Fatalf("call=%+v, want anonymous disconnect", c)
	}
}

func TestUnknownAndInvalidMessagesAreIgnored(t *testing.T) {
	r, ws, _ := serve(t)

	frames := []string{
		`{"peerId":"A","tag":"bogus"}`,
		`not json`,
		`{"tag":"offer","sendVideo":true,"sdp":{"type":"offer","sdp":"v=0"}}`,
		`{"tag":"join","capabilities":"audio"}`,
	}
	for _, f := range frames {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	r.expectNone(t)

	// The socket is still usable after the bad frames.
	if err := ws.WriteJSON(models.NewAnswer("A", models.SessionDescription{Type: "answer", SDP: "v=0"})); err != nil {
		t.Fatalf("write: %v", err)
	}
	if c := r.next(t); c.kind != "answer" || c.peerID != "A" {
		t.Fatalf("call=%+v, want answer", c)
	}
}

func TestSecondJoinOnSameSocketIsIgnored(t *testing.T) {
	r, ws, _ := serve(t)

	ws.WriteJSON(models.NewJoin("A", "audio"))
	r.next(t)
	ws.WriteJSON(models.NewJoin("B", "audio"))
	r.expectNone(t)

	ws.Close()
	if c := r.next(t); c.peerID != "A" {
		t.Fatalf("disconnect peer=%q, want A", c.peerID)
	}
}

func TestRejectedJoinLeavesSocketUnbound(t *testing.T) {
	r, ws, _ := serve(t, "A")

	ws.WriteJSON(models.NewJoin("A", "audio"))
	if c := r.next(t); c.kind != "join" || c.peerID != "A" {
		t.Fatalf("call=%+v, want join of A", c)
	}
	// A retry with a fresh id reaches the room.
	ws.WriteJSON(models.NewJoin("B", "audio"))
	if c := r.next(t); c.kind != "join" || c.peerID != "B" {
		t.Fatalf("call=%+v, want join of B", c)
	}

	ws.Close()
	if c := r.next(t); c.kind != "disconnect" || c.peerID != "B" {
		t.Fatalf("call=%+v, want disconnect of B", c)
	}
}

func TestSendDeliversJSON(t *testing.T) {
	_, ws, conns := serve(t)
	server := <-conns

	offer := models.NewOffer(false, models.SessionDescription{Type: "offer", SDP: "v=0\r\n"})
	if err := server.Send(offer); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	_, msg, err := models.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := msg.(models.OfferMessage)
	if !ok || got.SendVideo || got.SDP.SDP != "v=0\r\n" {
		t.Fatalf("got %+v", msg)
	}
	if !strings.Contains(string(data), `"sendVideo":false`) {
		t.Fatalf("frame %s lacks sendVideo", data)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	r, ws, conns := serve(t)
	server := <-conns
	ws.Close()
	r.next(t)

	if err := server.Send(models.NewOffer(true, models.SessionDescription{})); err != ErrClosed {
		t.Fatalf("Send err=%v, want ErrClosed", err)
	}
}
