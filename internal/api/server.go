// Package api exposes the engine over HTTP: health, status, journal
// reads and manual cycle triggers.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"fx-trading-engine/config"
	"fx-trading-engine/internal/calendar"
	"fx-trading-engine/internal/engine"
	"fx-trading-engine/internal/journal"
	"fx-trading-engine/internal/logging"
)

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        config.ServerConfig
	engine     *engine.Engine
	gate       *calendar.Gate
	jnl        *journal.Journal
	log        *logging.Logger
}

// NewServer creates the API server and wires its routes.
func NewServer(cfg config.ServerConfig, eng *engine.Engine, gate *calendar.Gate, jnl *journal.Journal, log *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router: router,
		cfg:    cfg,
		engine: eng,
		gate:   gate,
		jnl:    jnl,
		log:    log.WithComponent("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/journal", s.handleJournal)

		cycles := api.Group("/cycles")
		{
			cycles.POST("/scan", s.handleScan)
			cycles.POST("/regime", s.handleRegime)
			cycles.POST("/execute", s.handleExecute)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	outcomes, lastExecute := s.engine.LastExecute()

	meta, err := s.gate.Meta(c.Request.Context())
	if err != nil {
		s.log.Warn("calendar meta read failed", "error", err.Error())
	}

	c.JSON(http.StatusOK, gin.H{
		"last_execute":     lastExecute,
		"outcomes":         outcomes,
		"calendar_success": meta.LastSuccess,
		"calendar_failure": meta.LastFailure,
	})
}

func (s *Server) handleJournal(c *gin.Context) {
	n := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 1 and 500"})
			return
		}
		n = parsed
	}

	entries, err := s.jnl.Recent(c.Request.Context(), n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (s *Server) handleScan(c *gin.Context) {
	snap, err := s.engine.RunScan(c.Request.Context(), time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"generated_at": snap.GeneratedAt, "rows": snap.Rows})
}

func (s *Server) handleRegime(c *gin.Context) {
	snap, err := s.engine.RunRegime(c.Request.Context(), time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"generated_at": snap.GeneratedAt, "packets": snap.Packets})
}

func (s *Server) handleExecute(c *gin.Context) {
	outcomes, err := s.engine.RunExecute(c.Request.Context(), time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}

// Start runs the HTTP server until Shutdown or a listen error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("starting HTTP server", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
