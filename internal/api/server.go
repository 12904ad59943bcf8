// Package api serves a small read-only HTTP surface for local debugging:
// health and the list of connected devices. It never mutates sessions.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/opendeck-tools/deckd/internal/catalog"
	"github.com/opendeck-tools/deckd/internal/registry"
	"github.com/opendeck-tools/deckd/internal/session"
)

type Server struct {
	router *gin.Engine
	reg    *registry.Registry
	logger *zap.Logger
	server *http.Server
}

// DeviceView is one registered device as reported by the API.
type DeviceView struct {
	Identity string         `json:"identity"`
	Kind     string         `json:"kind"`
	Name     string         `json:"name"`
	Layout   catalog.Layout `json:"layout"`
	Status   session.Status `json:"status"`
}

func NewServer(port int, reg *registry.Registry, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		reg:    reg,
		logger: logger,
	}
	s.router.Use(gin.Recovery())
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting status API", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Status API failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.health)
	v1 := s.router.Group("/v1")
	{
		v1.GET("/devices", s.listDevices)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "devices": s.reg.Len()})
}

func (s *Server) listDevices(c *gin.Context) {
	sessions := s.reg.List()
	out := make([]DeviceView, 0, len(sessions))
	for _, sess := range sessions {
		kind := sess.Kind()
		out = append(out, DeviceView{
			Identity: string(sess.Identity()),
			Kind:     kind.Tag,
			Name:     kind.Name,
			Layout:   kind.Layout,
			Status:   sess.GetStatus(),
		})
	}
	c.JSON(http.StatusOK, out)
}
