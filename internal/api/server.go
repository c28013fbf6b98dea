// Package api is the gin HTTP adapter over the Service Facade (spec §6):
// one thin handler per facade operation (start/status/cancel/events/
// result/presets), translating JSON requests into facade calls and facade
// results back into the response shapes spec §6 names. The HTTP layer
// itself is explicitly a collaborator outside the orchestration core, kept
// minimal rather than elaborated.
//
// Grounded on cmd/tarsy/main.go's gin.Engine + http.Server construction
// (NewServer building routes once at startup, a dedicated ListenAndServe
// goroutine, graceful Shutdown on context cancellation).
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/deepcite/internal/service"
)

// Server wraps a gin.Engine and http.Server bound to one Service Facade.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	svc    *service.Service
}

// NewServer builds a Server with every route registered, but does not
// start listening — call ListenAndServe for that.
func NewServer(svc *service.Service) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())

	s := &Server{engine: e, svc: svc}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.POST("/runs", s.handleStartRun)
	s.engine.GET("/runs/status", s.handleStatus)
	s.engine.POST("/runs/cancel", s.handleCancel)
	s.engine.GET("/runs/events", s.handleEvents)
	s.engine.GET("/runs/result", s.handleResult)
	s.engine.GET("/presets", s.handlePresets)
}

// ListenAndServe starts the HTTP server on addr, blocking until ctx is
// cancelled, at which point it shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	// Liveness probe: always 200 with status "ok", independent of whether a
	// run is in flight.
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
