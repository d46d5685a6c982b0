package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	syncengine "dashsync/contexts/data-platform/sync-engine"
	authadapter "dashsync/contexts/data-platform/sync-engine/adapters/auth"
	domainerrors "dashsync/contexts/data-platform/sync-engine/domain/errors"
	"dashsync/contexts/data-platform/sync-engine/ports"
	httptransport "dashsync/contexts/data-platform/sync-engine/transport/http"

	_ "dashsync/internal/platform/httpserver/docs"
	httpSwagger "github.com/swaggo/http-swagger"
)

const (
	maxBodyBytes    = 8 << 20
	shutdownTimeout = 10 * time.Second
)

type Server struct {
	mux     *http.ServeMux
	logger  *slog.Logger
	addr    string
	swagger bool
	engine  syncengine.Module
}

func New(
	engine syncengine.Module,
	logger *slog.Logger,
	addr string,
	enableSwagger bool,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:     http.NewServeMux(),
		logger:  logger,
		addr:    addr,
		swagger: enableSwagger,
		engine:  engine,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.mux}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting",
			"event", "http_server_starting",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"addr", s.addr,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	if s.swagger {
		s.mux.Handle("/swagger/", httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
		))
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("GET /v1/persistence/status", s.handleStatus)

	s.mux.HandleFunc("GET /v1/collections/{key}", s.handleGetCollection)
	s.mux.HandleFunc("PUT /v1/collections/{key}", s.handleSetCollection)
	s.mux.HandleFunc("POST /v1/collections/{key}/items", s.handleAddItem)
	s.mux.HandleFunc("PATCH /v1/collections/{key}/items/{item_id}", s.handleUpdateItem)
	s.mux.HandleFunc("DELETE /v1/collections/{key}/items/{item_id}", s.handleRemoveItem)

	s.mux.HandleFunc("GET /v1/sync/queue", s.handleQueue)
	s.mux.HandleFunc("POST /v1/sync/drain", s.handleDrain)
	s.mux.HandleFunc("POST /v1/sync/migrate", s.handleMigrate)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, userID := s.requestUser(r)
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeSyncError(w, http.StatusBadRequest, "invalid_force", "force must be a boolean")
			return
		}
		force = parsed
	}
	resp, err := s.engine.Handler.StatusHandler(ctx, userID, force)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	ctx, userID := s.requestUser(r)
	resp, err := s.engine.Handler.GetCollectionHandler(ctx, userID, r.PathValue("key"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetCollection(w http.ResponseWriter, r *http.Request) {
	ctx, userID := s.requestUser(r)
	var req httptransport.SetCollectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.engine.Handler.SetCollectionHandler(ctx, userID, r.PathValue("key"), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	ctx, userID := s.requestUser(r)
	var item map[string]any
	if !decodeBody(w, r, &item) {
		return
	}
	resp, err := s.engine.Handler.AddItemHandler(ctx, userID, r.PathValue("key"), item)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx, userID := s.requestUser(r)
	var patch map[string]any
	if !decodeBody(w, r, &patch) {
		return
	}
	resp, err := s.engine.Handler.UpdateItemHandler(ctx, userID, r.PathValue("key"), r.PathValue("item_id"), patch)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, userID := s.requestUser(r)
	if err := s.engine.Handler.RemoveItemHandler(ctx, userID, r.PathValue("key"), r.PathValue("item_id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	ctx, userID := s.requestUser(r)
	resp, err := s.engine.Handler.QueueHandler(ctx, userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	ctx, _ := s.requestUser(r)
	resp, err := s.engine.Handler.DrainHandler(ctx)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	ctx, userID := s.requestUser(r)
	if userID == "" {
		writeSyncError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}
	resp, err := s.engine.Handler.MigrateHandler(ctx, userID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domainerrors.ErrUnknownEntity):
		writeSyncError(w, http.StatusNotFound, "unknown_entity", err.Error())
	case errors.Is(err, domainerrors.ErrNotFound):
		writeSyncError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domainerrors.ErrAuthRequired):
		writeSyncError(w, http.StatusUnauthorized, "auth_required", err.Error())
	case errors.Is(err, domainerrors.ErrInvalidItem):
		writeSyncError(w, http.StatusBadRequest, "invalid_item", err.Error())
	default:
		s.logger.Error("sync engine request failed",
			"event", "http_request_failed",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"error", err.Error(),
		)
		writeSyncError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// requestUser attaches the X-User-Id caller to the request context so the
// engine's auth provider sees the same session the handler was given. Without
// the header the configured session, if any, is used.
func (s *Server) requestUser(r *http.Request) (context.Context, string) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		if s.engine.Session == nil {
			return r.Context(), ""
		}
		user, ok, err := s.engine.Session.CurrentUser(r.Context())
		if err != nil || !ok {
			return r.Context(), ""
		}
		return r.Context(), user.ID
	}
	user := ports.User{ID: userID, Email: strings.TrimSpace(r.Header.Get("X-User-Email"))}
	return authadapter.WithUser(r.Context(), user), userID
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeSyncError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return false
	}
	return true
}

func writeSyncError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, httptransport.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
