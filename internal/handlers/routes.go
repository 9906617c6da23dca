package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/sfu-signaling/internal/middleware"
	"github.com/mossy-p/sfu-signaling/internal/room"
)

// RouterOptions holds what the HTTP surface needs.
type RouterOptions struct {
	Rooms          *room.Registry
	AllowedOrigins []string
	JWTSecret      string
	AdminPassword  string
	Logger         *slog.Logger
}

// NewRouter wires the health check, the room API and the signaling endpoints.
func NewRouter(opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(opts.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	rooms := NewRoomsHandler(opts.Rooms)
	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", Login(opts.JWTSecret, opts.AdminPassword))
		apiGroup.GET("/rooms/:roomId", rooms.GetRoom)
		apiGroup.GET("/rooms/:roomId/peers", middleware.JWTAuth(opts.JWTSecret), rooms.DumpRoom)
	}

	signal := NewSignalingHandler(opts.Rooms, opts.Logger)
	router.GET("/", signal.HandleSignaling)
	router.GET("/ws/signal/:roomId", signal.HandleSignaling)

	return router
}
