package oobd

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/edgefleet/oobd/internal/filestore"
)

// Server binds the engine to HTTP. Device routes live under /api/oob,
// management routes under /v1/api/oob.
type Server struct {
	engine   *Engine
	auth     *Authenticator
	files    filestore.Store
	settings Settings
	router   *gin.Engine
}

func NewServer(engine *Engine, auth *Authenticator, files filestore.Store, settings Settings) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:   engine,
		auth:     auth,
		files:    files,
		settings: settings,
		router:   gin.New(),
	}
	// Route on the escaped path so percent-encoded slashes in file keys
	// stay within a single :key segment (see handleLocalDownload).
	s.router.UseRawPath = true
	s.router.Use(gin.Recovery(), requestID(), requestLogger())

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.mountEdgeRoutes(s.router.Group("/api/oob"))
	s.mountManagementRoutes(s.router.Group("/v1/api/oob"))
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.settings.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.settings.ListenAddr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	return nil
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestId", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Str("requestId", c.GetString("requestId")).
			Msg("request served")
	}
}

// respondError maps engine errors onto HTTP. Anything without a
// definite mapping is a 500 and gets logged with its cause.
func respondError(c *gin.Context, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
