// Package web serves the HTTP endpoints the bot exposes: health, the Discord
// OAuth callback for account linking and the Twitch EventSub webhook.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router *gin.Engine
	addr   string
	logger *zap.Logger
}

// NewServer wires the routes. linker and events may be nil, in which case
// their routes answer 404.
func NewServer(addr string, linker *Linker, events *EventSubController, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	health := NewHealthController()
	router.GET("/", health.Index)
	router.GET("/health", health.CheckHealth)
	if linker != nil {
		router.GET("/callback", linker.Callback)
	}
	if events != nil {
		router.POST("/twitch/events", events.Handle)
	}
	return &Server{router: router, addr: addr, logger: logger}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

type HealthController struct {
	startTime time.Time
}

func NewHealthController() *HealthController {
	return &HealthController{startTime: time.Now()}
}

func (hc *HealthController) Index(c *gin.Context) {
	c.String(http.StatusOK, "OAuth2 Server Running!")
}

func (hc *HealthController) CheckHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(hc.startTime).Round(time.Second).String(),
	})
}
