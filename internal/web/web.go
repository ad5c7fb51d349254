package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"evcal/internal/calendar"
	"evcal/internal/config"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/store"
)

// maxBodyBytes bounds JSON and calendar request bodies.
const maxBodyBytes = 4 << 20

// Server exposes the series engine as a JSON API.
type Server struct {
	cfg    *config.Config
	svc    calendar.Service
	router *mux.Router
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, svc calendar.Service) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		router: mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.cfg != nil && s.cfg.BasicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="evcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/series", s.handleListSeries).Methods(http.MethodGet)
	api.HandleFunc("/series", s.handleCreateSeries).Methods(http.MethodPost)
	api.HandleFunc("/series/{uid}", s.handleGetSeries).Methods(http.MethodGet)
	api.HandleFunc("/series/{uid}", s.handleUpdateSeries).Methods(http.MethodPatch)
	api.HandleFunc("/series/{uid}", s.handleDeleteSeries).Methods(http.MethodDelete)
	api.HandleFunc("/series/{uid}/occurrences", s.handleOccurrences).Methods(http.MethodGet)
	api.HandleFunc("/series/{uid}/ics", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/import", s.handleImport).Methods(http.MethodPost)
	api.HandleFunc("/reconcile", s.handleReconcile).Methods(http.MethodPost)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, calendar.ErrFeed):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrNotAnOccurrence):
		return http.StatusUnprocessableEntity
	case errors.Is(err, calendar.ErrBadCalendar),
		errors.Is(err, model.ErrMissingIdentifier),
		errors.Is(err, model.ErrInvalidChangeSet),
		errors.Is(err, model.ErrUnknownScope):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeServiceError logs unexpected failures and hides their details.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		appLog.Error("request failed", err, "method", r.Method, "path", r.URL.Path)
		writeError(w, status, "internal error")
		return
	}
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, status, errResp{Error: verr.Error(), Field: verr.Field})
		return
	}
	writeError(w, status, err.Error())
}

// revisionParam reads the expected revision from the query or If-Match.
// A missing value means "any revision".
func revisionParam(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("revision")
	if raw == "" {
		raw = strings.Trim(r.Header.Get("If-Match"), `W/"`)
	}
	if raw == "" || raw == "*" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, model.NewValidationError(model.ErrInvalidChangeSet, "revision", "revision must be a non-negative integer")
	}
	return n, nil
}

func parseBoolDefault(s string, def bool) bool {
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errResp struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errResp{Error: msg})
}
