package gateway

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"murder-mystery/internal/config"
	"murder-mystery/internal/game"
	"murder-mystery/internal/roomstore"
)

// Server exposes rooms over HTTP and hosts one game.Session per connected
// websocket participant.
type Server struct {
	backend   roomstore.Backend
	cfg       config.Config
	clock     clockwork.Clock
	durations game.Durations
	hub       *wsHub
	upgrader  websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
}

func New(backend roomstore.Backend, cfg config.Config, clock clockwork.Clock) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		backend: backend,
		cfg:     cfg,
		clock:   clock,
		durations: game.Durations{
			Investigation: cfg.InvestigationDuration(),
			Discussion:    cfg.DiscussionDuration(),
		},
		hub:    newWSHub(),
		ctx:    ctx,
		cancel: cancel,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) Handler() http.Handler {
	registerValidators()
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/rooms", s.handleCreateRoom)
	api.GET("/rooms/:roomID", s.handleGetRoom)
	api.POST("/rooms/:roomID/players", s.handleJoinRoom)
	api.DELETE("/rooms/:roomID/players/:playerID", s.handleLeaveRoom)
	api.PUT("/rooms/:roomID/script", s.handleAttachScript)
	api.GET("/rooms/:roomID/tally", s.handleTally)
	api.POST("/scripts", s.handleCreateScript)

	router.GET("/ws/rooms/:roomID/players/:playerID", s.handleWebsocket)

	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)
}

// Close stops every hosted session and drops their connections.
func (s *Server) Close() {
	s.cancel()
	s.hub.CloseAll()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
