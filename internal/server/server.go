// Package server exposes the installer to the UI shell as a local HTTP API.
//
// Handlers share a single *installer.Framework passed in at construction.
// Network work is done before the framework is written so that the state
// lock is never held across I/O.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/auth"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/config"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/installer"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/logging"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/platform"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/tasks"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Updater stages a new maintenance tool and relaunches into it.
type Updater interface {
	Stage(ctx context.Context, url, currentExe string, args []string) error
}

// Services are the collaborators used by the handlers.
type Services struct {
	Loader   *config.Loader
	Gate     *auth.Gate
	Desktop  platform.Desktop
	Detector platform.Detector
	Pipeline *tasks.Pipeline
	Updater  Updater

	// ExePath is the running maintenance tool
	ExePath string
	// RestartArgs are handed to the tool after a self-update
	RestartArgs []string
	// Shutdown asks the process to exit after a self-update was staged
	Shutdown func()
}

// Server handles the installer API.
type Server struct {
	fw     *installer.Framework
	svc    Services
	logger logging.Logger
	router chi.Router
}

// New creates a Server over fw.
func New(fw *installer.Framework, svc Services, logger logging.Logger) *Server {
	if svc.Shutdown == nil {
		svc.Shutdown = func() {}
	}
	s := &Server{
		fw:     fw,
		svc:    svc,
		logger: logging.OrNop(logger),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Post("/authenticate", s.handleAuthenticate)
	r.Get("/config", s.handleConfig)
	r.Get("/dark-mode", s.handleDarkMode)
	r.Post("/browser", s.handleBrowser)

	r.Get("/attrs", s.handleAttrs)
	r.Get("/installation-status", s.handleStatus)
	r.Get("/packages", s.handlePackages)
	r.Post("/install", s.handleInstall)
	r.Post("/uninstall", s.handleUninstall)
	r.Post("/update-updater", s.handleUpdateUpdater)

	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// logRequests logs one line per request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request handled",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}
