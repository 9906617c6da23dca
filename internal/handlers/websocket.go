package handlers

import (
	"log/slog"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/sfu-signaling/internal/room"
	"github.com/mossy-p/sfu-signaling/internal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

var validRoomID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// roomID returns the :roomId path parameter, or the default room for routes without one.
func roomID(c *gin.Context) (string, bool) {
	id := c.Param("roomId")
	if id == "" {
		return room.DefaultRoomID, true
	}
	return id, validRoomID.MatchString(id)
}

// SignalingHandler upgrades requests to signaling sockets bound to a room.
type SignalingHandler struct {
	rooms  *room.Registry
	logger *slog.Logger
}

func NewSignalingHandler(rooms *room.Registry, logger *slog.Logger) *SignalingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalingHandler{rooms: rooms, logger: logger}
}

// HandleSignaling serves one websocket until it closes. The room lives as long as at least
// one socket is connected to it.
func (h *SignalingHandler) HandleSignaling(c *gin.Context) {
	id, ok := roomID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room id"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", "room", id, "err", err)
		return
	}

	coord := h.rooms.Acquire(id)
	defer h.rooms.Release(id)

	conn := signaling.NewConn(ws, coord, h.logger.With("room", id))
	h.logger.Info("websocket connected", "room", id, "conn", conn.ID(), "remote", c.ClientIP())
	conn.Serve()
}
