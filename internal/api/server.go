// Package api exposes the HTTP surface: conversation search, single and
// bulk transitions, merges and manual sweep triggers.
package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/techmannih/helpdesk/internal/bulk"
	"github.com/techmannih/helpdesk/internal/config"
	"github.com/techmannih/helpdesk/internal/conversation"
	"github.com/techmannih/helpdesk/internal/conversation/search"
	"github.com/techmannih/helpdesk/internal/jobs"
)

// Server is the API server.
type Server struct {
	echo       *echo.Echo
	addr       string
	store      *conversation.PgStore
	search     *search.Store
	executor   *bulk.Executor
	dispatcher *jobs.Dispatcher

	inlineMax int
	ceiling   int
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg *config.Config, store *conversation.PgStore, searchStore *search.Store,
	executor *bulk.Executor, dispatcher *jobs.Dispatcher) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:       e,
		addr:       cfg.Server.ListenAddr,
		store:      store,
		search:     searchStore,
		executor:   executor,
		dispatcher: dispatcher,
		inlineMax:  cfg.Bulk.InlineMax,
		ceiling:    cfg.Bulk.Ceiling,
	}
	s.setupRoutes(cfg.Server.JWTSecret)
	return s
}

func (s *Server) setupRoutes(jwtSecret string) {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	v1 := s.echo.Group("/api/v1", RequireAuth(jwtSecret))
	v1.POST("/mailboxes/:slug/conversations/search", s.searchConversations)
	v1.POST("/mailboxes/:slug/conversations/bulk-update", s.bulkUpdate)
	v1.POST("/mailboxes/:slug/auto-close", s.triggerAutoClose)
	v1.PATCH("/conversations/:id", s.updateConversation)
	v1.POST("/conversations/:id/merge", s.mergeConversation)
}

// Start serves until interrupted, then shuts down gracefully.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()
	log.Info().Str("addr", s.addr).Msg("api server listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}
