package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/sfu-signaling/internal/models"
	"github.com/mossy-p/sfu-signaling/internal/room"
)

// RoomsHandler exposes the state of active rooms.
type RoomsHandler struct {
	rooms *room.Registry
}

func NewRoomsHandler(rooms *room.Registry) *RoomsHandler {
	return &RoomsHandler{rooms: rooms}
}

func (h *RoomsHandler) dump(c *gin.Context) (models.RoomDump, bool) {
	id, ok := roomID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room id"})
		return models.RoomDump{}, false
	}
	coord, ok := h.rooms.Lookup(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return models.RoomDump{}, false
	}
	d, err := coord.Dump(c.Request.Context())
	if err != nil {
		if errors.Is(err, room.ErrRoomClosed) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return models.RoomDump{}, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read room state"})
		return models.RoomDump{}, false
	}
	return d, true
}

// GetRoom returns public information about an active room (public)
func (h *RoomsHandler) GetRoom(c *gin.Context) {
	if d, ok := h.dump(c); ok {
		c.JSON(http.StatusOK, d.RoomInfo)
	}
}

// DumpRoom returns the per-peer negotiation state of a room (requires JWT)
func (h *RoomsHandler) DumpRoom(c *gin.Context) {
	if d, ok := h.dump(c); ok {
		c.JSON(http.StatusOK, d)
	}
}
