package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"kindred-chat/config"
	"kindred-chat/internal/handler"
	"kindred-chat/internal/middleware"
	"kindred-chat/internal/transport/httpdto"
	"kindred-chat/internal/websocket"
	"kindred-chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger

	mu        sync.Mutex
	onStop    []func()
	stopGrace time.Duration
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Conversations *handler.ConversationHandler
	Messages      *handler.MessageHandler
	Presence      *handler.PresenceHandler
	Attachments   *handler.AttachmentHandler
	Socket        *websocket.Handler
}

// Guards are the cross-cutting checks routes depend on. Limiter and Health
// may be nil.
type Guards struct {
	Verifier middleware.TokenVerifier
	Limiter  middleware.ConnectionLimiter
	Health   func(ctx context.Context) error
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	if l == nil {
		l = logger.NewNop()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine:    engine,
		config:    cfg,
		logger:    l,
		stopGrace: 5 * time.Second,
	}
}

// Engine exposes the router, mainly for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) SetupRoutes(handlers *Handlers, guards Guards) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		if guards.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := guards.Health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), "UNHEALTHY"))
				return
			}
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	v1 := s.engine.Group("/v1", middleware.AuthMiddleware(guards.Verifier))
	{
		v1.POST("/conversations", handlers.Conversations.Create)
		v1.GET("/conversations", handlers.Conversations.List)
		v1.DELETE("/conversations/:id", handlers.Conversations.Delete)
		v1.GET("/conversations/:id/messages", handlers.Messages.List)
		v1.POST("/conversations/:id/messages", handlers.Messages.Send)
		v1.POST("/conversations/:id/read", handlers.Messages.MarkRead)

		v1.POST("/messages/:id/delivered", handlers.Messages.MarkDelivered)
		v1.DELETE("/messages/:id", handlers.Messages.Delete)

		v1.GET("/presence", handlers.Presence.List)
		v1.GET("/presence/:user_id", handlers.Presence.Get)

		if handlers.Attachments != nil {
			v1.POST("/attachments", handlers.Attachments.Create)
		}
		if handlers.Socket != nil {
			v1.GET("/ws", middleware.WebSocketRateLimitMiddleware(guards.Limiter, s.logger), handlers.Socket.Connect)
		}
	}
}

// OnShutdown registers fn to run after the HTTP server stops accepting
// requests. Hooks run in reverse registration order.
func (s *Server) OnShutdown(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStop = append(s.onStop, fn)
}

func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Error in starting the server: %s", err)
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(quit)

	s.logger.Infof("Server is running on :%s", s.config.AppPort)

	select {
	case <-quit:
		s.logger.Infof("Quitting signal received.. Shutting down within %s", s.stopGrace)
	case err := <-errCh:
		s.runShutdownHooks()
		return err
	}

	return s.Shutdown()
}

// Shutdown stops the HTTP server and then runs the shutdown hooks.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopGrace)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		s.logger.Infof("Error in the graceful shutdown of the server: %s", err)
	}
	s.runShutdownHooks()

	if err == nil {
		s.logger.Infof("Server stopped gracefully")
	}
	return err
}

func (s *Server) runShutdownHooks() {
	s.mu.Lock()
	hooks := s.onStop
	s.onStop = nil
	s.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}
