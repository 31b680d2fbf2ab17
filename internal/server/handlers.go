package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/auth"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/config"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/installer"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/platform"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/tasks"
)

// badResponseMessage is returned when the manifest was fetched but unusable.
const badResponseMessage = "Bad HTTP response"

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeText(w, http.StatusBadRequest, "malformed form body")
		return
	}

	cfg, err := s.fw.Config()
	if err != nil {
		writeText(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	supplied := auth.Credentials{
		Username: r.PostForm.Get("username"),
		Token:    r.PostForm.Get("token"),
	}

	claims, err := s.svc.Gate.Authenticate(r.Context(), cfg.Authentication, supplied, s.fw)
	if err != nil {
		if errors.Is(err, auth.ErrNoPolicy) {
			writeJSON(w, http.StatusOK, emptyObject)
			return
		}
		var authErr *auth.Error
		if errors.As(err, &authErr) && authErr.BadRequest() {
			writeText(w, http.StatusBadRequest, "Username and token are required")
			return
		}
		writeText(w, http.StatusInternalServerError, authFailureMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, claims)
}

func authFailureMessage(err error) string {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return fmt.Sprintf("Authentication failed (%s)", authErr.Stage)
	}
	return "Authentication failed"
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.svc.Loader.Fetch(r.Context(), s.fw.Attributes().TargetURL)
	if err != nil {
		var fetchErr *config.FetchError
		if errors.As(err, &fetchErr) && fetchErr.Kind == config.Content {
			writeText(w, http.StatusServiceUnavailable, badResponseMessage)
			return
		}
		writeText(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	data, err := cfg.JSON()
	if err != nil {
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.fw.SetConfig(cfg)
	writeRawJSON(w, http.StatusOK, data)
}

func (s *Server) handleDarkMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Desktop.DarkMode(r.Context()))
}

func (s *Server) handleBrowser(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, emptyObject)
		return
	}

	url := r.PostForm.Get("url")
	if err := s.svc.Desktop.OpenBrowser(r.Context(), url); err != nil {
		s.logger.Warn("failed to open browser", "url", url, "error", err)
		writeJSON(w, http.StatusBadRequest, emptyObject)
		return
	}
	writeJSON(w, http.StatusOK, emptyObject)
}

func (s *Server) handleAttrs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.fw.Attributes())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.fw.Status())
}

// packagesResponse is the catalogue shown to the user.
type packagesResponse struct {
	Platform *platform.Info   `json:"platform"`
	Channels []config.Channel `json:"channels"`
	Packages []config.Package `json:"packages"`
}

// allowedChannels returns the release channels granted by the cached token.
func (s *Server) allowedChannels() []string {
	token := s.fw.AuthorizationToken()
	if token == "" {
		return nil
	}
	claims, err := auth.CachedClaims(token)
	if err != nil {
		s.logger.Warn("cached authorization token is unreadable", "error", err)
		return nil
	}
	return claims.ReleaseChannels
}

// catalogue resolves the visible channels and packages for this platform.
func (s *Server) catalogue(r *http.Request, cfg *config.Config) (*packagesResponse, error) {
	info, err := s.svc.Detector.Detect(r.Context())
	if err != nil {
		return nil, fmt.Errorf("detect platform: %w", err)
	}

	allowed := s.allowedChannels()
	pkgs, err := cfg.Available(r.Context(), info, allowed)
	if err != nil {
		return nil, err
	}

	return &packagesResponse{
		Platform: info,
		Channels: cfg.VisibleChannels(allowed),
		Packages: pkgs,
	}, nil
}

func (s *Server) handlePackages(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.fw.Config()
	if err != nil {
		writeText(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	resp, err := s.catalogue(r, cfg)
	if err != nil {
		s.logger.Error("failed to resolve packages", "error", err)
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeText(w, http.StatusBadRequest, "malformed form body")
		return
	}
	names := r.PostForm["package"]
	if len(names) == 0 {
		writeText(w, http.StatusBadRequest, "no packages selected")
		return
	}

	if path := r.PostForm.Get("path"); path != "" {
		if err := s.fw.SetInstallPath(path); err != nil {
			writeText(w, http.StatusBadRequest, err.Error())
			return
		}
	} else if s.fw.InstallPath() == "" {
		writeText(w, http.StatusBadRequest, "install path is required")
		return
	}

	cfg, err := s.fw.Config()
	if err != nil {
		writeText(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	resp, err := s.catalogue(r, cfg)
	if err != nil {
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}

	byName := make(map[string]config.Package, len(resp.Packages))
	for _, p := range resp.Packages {
		byName[p.Name] = p
	}
	selected := make([]config.Package, 0, len(names))
	for _, name := range names {
		pkg, ok := byName[name]
		if !ok {
			writeText(w, http.StatusBadRequest, fmt.Sprintf("package %q is not available", name))
			return
		}
		selected = append(selected, pkg)
	}

	if _, err := s.svc.Pipeline.Install(r.Context(), selected); err != nil {
		s.writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.fw.Database().Redacted())
}

func (s *Server) handleUninstall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeText(w, http.StatusBadRequest, "malformed form body")
		return
	}
	names := r.PostForm["package"]
	if len(names) == 0 {
		writeText(w, http.StatusBadRequest, "no packages selected")
		return
	}

	if _, err := s.svc.Pipeline.Uninstall(r.Context(), names); err != nil {
		s.writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.fw.Database().Redacted())
}

func (s *Server) writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasks.ErrLockHeld):
		writeText(w, http.StatusConflict, err.Error())
	case errors.Is(err, tasks.ErrNoInstallPath), errors.Is(err, tasks.ErrNotInstalled),
		errors.Is(err, installer.ErrInstallPathConflict):
		writeText(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("task run failed", "error", err)
		writeText(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleUpdateUpdater(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.fw.Config()
	if err != nil {
		writeText(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if cfg.NewTool == "" {
		writeText(w, http.StatusNotFound, "no new maintenance tool published")
		return
	}

	if err := s.svc.Updater.Stage(r.Context(), cfg.NewTool, s.svc.ExePath, s.svc.RestartArgs); err != nil {
		s.logger.Error("failed to stage maintenance tool update", "error", err)
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, emptyObject)
	s.logger.Info("maintenance tool update staged, shutting down")
	s.svc.Shutdown()
}
