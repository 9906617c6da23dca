package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/sfu-signaling/internal/models"
	"github.com/mossy-p/sfu-signaling/internal/room"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// ErrClosed is returned by Send once the socket has gone away.
var ErrClosed = errors.New("signaling connection closed")

// Room is the part of a room coordinator a socket talks to. Join returns once the room has
// admitted or rejected the peer.
type Room interface {
	Join(conn room.Sender, msg models.JoinMessage) error
	Answer(conn room.Sender, msg models.AnswerMessage) error
	Disconnect(conn room.Sender, peerID models.PeerID) error
}

// Conn frames JSON control messages on one websocket and forwards them to its room.
type Conn struct {
	id     string
	ws     *websocket.Conn
	room   Room
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// peerID is set by the first admitted join and only touched by the read pump.
	peerID models.PeerID
}

func NewConn(ws *websocket.Conn, r Room, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &Conn{
		id:     id,
		ws:     ws,
		room:   r,
		logger: logger.With("conn", id),
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// Send queues msg as a JSON text frame. It blocks while the write buffer is full.
func (c *Conn) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", msg, err)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Serve pumps the socket until it closes, then reports the disconnect to the room.
func (c *Conn) Serve() {
	go c.writePump()
	c.readPump()
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *Conn) readPump() {
	defer func() {
		c.shutdown()
		if err := c.room.Disconnect(c, c.peerID); err != nil {
			c.logger.Debug("room already closed", "peer_id", c.peerID)
		}
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket error", "err", err)
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Conn) dispatch(data []byte) {
	env, msg, err := models.Decode(data)
	if err != nil {
		if errors.Is(err, models.ErrUnknownTag) {
			c.logger.Warn("unknown message tag", "peer_id", env.PeerID, "tag", env.Tag)
			return
		}
		c.logger.Warn("failed to parse message", "err", err)
		return
	}
	c.logger.Debug("received message", "peer_id", env.PeerID, "tag", env.Tag)

	switch m := msg.(type) {
	case models.JoinMessage:
		if c.peerID != "" {
			c.logger.Warn("socket already joined", "peer_id", c.peerID, "requested", m.PeerID)
			return
		}
		if m.PeerID == "" {
			c.logger.Warn("join without peer id")
			return
		}
		if err = c.room.Join(c, m); err == nil {
			c.peerID = m.PeerID
		}
	case models.AnswerMessage:
		err = c.room.Answer(c, m)
	case models.OfferMessage:
		c.logger.Warn("ignoring offer from client", "peer_id", c.peerID)
	}
	if err != nil {
		c.logger.Warn("room rejected message", "tag", env.Tag, "err", err)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("failed to write message", "err", err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
