package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/sfu-signaling/internal/models"
)

const writeWait = 10 * time.Second

// Options configures a Client.
type Options struct {
	// PeerID defaults to a random id. A "U" prefix selects unified plan on the server.
	PeerID        models.PeerID
	UnifiedPlan   bool
	GatherTimeout time.Duration
	Header        http.Header
	Sinks         SinkFactory
	Logger        *slog.Logger
}

// NewPeerID returns a random peer id, prefixed so the server picks the requested SDP
// semantics.
func NewPeerID(unifiedPlan bool) models.PeerID {
	id := uuid.New().String()
	if unifiedPlan {
		return models.PeerID("U" + id)
	}
	return models.PeerID(id)
}

// Client is one participant connected to a room.
type Client struct {
	ws         *websocket.Conn
	pc         PeerConnection
	negotiator *Negotiator
	streams    *Streams
	peerID     models.PeerID
	logger     *slog.Logger
}

// Dial opens the signaling socket at url. The peer connection is owned by the client from
// then on and closed by Close.
func Dial(ctx context.Context, url string, pc PeerConnection, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	peerID := opts.PeerID
	if peerID == "" {
		peerID = NewPeerID(opts.UnifiedPlan)
	}
	sinks := opts.Sinks
	if sinks == nil {
		sinks = NewLogSinkFactory(logger.With("peer_id", peerID))
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	logger.Info("websocket connected", "url", url, "peer_id", peerID)

	streams := NewStreams(sinks)
	return &Client{
		ws:         ws,
		pc:         pc,
		negotiator: NewNegotiator(peerID, pc, streams, opts.GatherTimeout, logger),
		streams:    streams,
		peerID:     peerID,
		logger:     logger.With("peer_id", peerID),
	}, nil
}

func (c *Client) PeerID() models.PeerID { return c.peerID }

func (c *Client) State() State { return c.negotiator.State() }

func (c *Client) Streams() []string { return c.streams.IDs() }

// Join announces the client to the room. It must be called before Run.
func (c *Client) Join(capabilities string) error {
	return c.write(models.NewJoin(c.peerID, capabilities))
}

func (c *Client) write(msg any) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Run answers offers and tracks remote streams until ctx is done or the socket closes.
// Offers and stream events are handled one at a time on the calling goroutine.
func (c *Client) Run(ctx context.Context) error {
	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	send := func(a models.AnswerMessage) error { return c.write(a) }
	for {
		select {
		case data := <-frames:
			c.handleFrame(ctx, data, send)
		case ev := <-c.pc.Events():
			c.negotiator.HandleStreamEvent(ev)
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, data []byte, send func(models.AnswerMessage) error) {
	env, msg, err := models.Decode(data)
	if err != nil {
		if errors.Is(err, models.ErrUnknownTag) {
			c.logger.Warn("unknown message tag", "tag", env.Tag)
			return
		}
		c.logger.Warn("failed to parse message", "err", err)
		return
	}
	offer, ok := msg.(models.OfferMessage)
	if !ok {
		c.logger.Warn("unexpected message", "tag", env.Tag)
		return
	}
	c.logger.Info("received offer", "send_video", offer.SendVideo)
	if err := c.negotiator.HandleOffer(ctx, offer, send); err != nil {
		c.logger.Error("failed to answer offer", "err", err)
	}
}

// Close tears down remote streams, the peer connection and the socket.
func (c *Client) Close() error {
	c.streams.CloseAll()
	pcErr := c.pc.Close()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	return errors.Join(pcErr, c.ws.Close())
}
