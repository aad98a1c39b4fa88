// ABOUTME: HTTP surface of the gateway: token minting, tool listing, invocation
// ABOUTME: Maps dispatch error kinds onto status codes with a JSON error body

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/finwell/loan-gateway/internal/auth"
	"github.com/finwell/loan-gateway/internal/dispatch"
	"github.com/finwell/loan-gateway/internal/store"
	"github.com/finwell/loan-gateway/internal/tools"
)

// maxBodyBytes bounds JSON bodies; uploads get a separate multipart limit.
const (
	maxBodyBytes      = 1 << 20
	maxMultipartBytes = 10 << 20
)

// Server wires the HTTP routes over the dispatcher and stores.
type Server struct {
	addr       string
	issuer     *auth.Issuer
	dispatcher *dispatch.Dispatcher
	registry   *tools.Registry
	store      store.Store
	files      *store.FileStore
	logger     *slog.Logger
	mux        *http.ServeMux
}

// New builds the server and registers all routes.
func New(addr string, issuer *auth.Issuer, d *dispatch.Dispatcher, registry *tools.Registry, st store.Store, files *store.FileStore, logger *slog.Logger) *Server {
	s := &Server{
		addr:       addr,
		issuer:     issuer,
		dispatcher: d,
		registry:   registry,
		store:      st,
		files:      files,
		logger:     logger.With("component", "gateway"),
		mux:        http.NewServeMux(),
	}

	protect := auth.Middleware(issuer, s.logger)
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /auth/demo_token", s.handleDemoToken)
	s.mux.Handle("GET /tools", protect(http.HandlerFunc(s.handleTools)))
	s.mux.Handle("POST /call/{tool}", protect(http.HandlerFunc(s.handleCall)))
	s.mux.Handle("GET /resource/{id}", protect(http.HandlerFunc(s.handleResource)))
	return s
}

// Handler returns the route tree, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe runs the server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("gateway shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// statusFor maps dispatch error kinds onto HTTP status codes.
func statusFor(kind dispatch.Kind) int {
	switch kind {
	case dispatch.KindUnauthenticated:
		return http.StatusUnauthorized
	case dispatch.KindUnknownTool, dispatch.KindNotFound:
		return http.StatusNotFound
	case dispatch.KindInvalidInput:
		return http.StatusBadRequest
	case dispatch.KindInvalidState, dispatch.KindConflict:
		return http.StatusConflict
	case dispatch.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) sendError(w http.ResponseWriter, err error) {
	var de *dispatch.Error
	if !errors.As(err, &de) {
		s.logger.Error("unclassified error", "error", err)
		de = dispatch.Errf(dispatch.KindInternal, "internal error")
	}

	body := map[string]any{
		"error_kind": string(de.Kind),
		"message":    de.Message,
	}
	if len(de.Detail) > 0 {
		body["detail"] = de.Detail
	}
	sendJSON(w, statusFor(de.Kind), body)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]any{
		"service": "loan-gateway",
		"routes": []string{
			"GET /health",
			"GET /auth/demo_token",
			"GET /tools",
			"POST /call/{tool}",
			"GET /resource/{id}",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleDemoToken(w http.ResponseWriter, r *http.Request) {
	token, callerID, err := s.issuer.Issue()
	if err != nil {
		s.logger.Error("token issue failed", "error", err)
		s.sendError(w, dispatch.Errf(dispatch.KindInternal, "could not issue token"))
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{
		"token":     token,
		"caller_id": callerID,
	})
}

type toolListing struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	InputSchema *tools.Schema `json:"input_schema"`
	ReadOnly    bool          `json:"read_only"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	listings := make([]toolListing, 0, len(s.registry.List()))
	for _, d := range s.registry.List() {
		listings = append(listings, toolListing{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
			ReadOnly:    d.ReadOnly(),
		})
	}
	sendJSON(w, http.StatusOK, map[string]any{"tools": listings})
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.CallerFromContext(r.Context())
	if !ok {
		s.sendError(w, dispatch.Errf(dispatch.KindUnauthenticated, "no caller identity"))
		return
	}
	toolName := r.PathValue("tool")

	var payload json.RawMessage
	var upload *tools.Upload
	var err error
	if isMultipart(r) {
		payload, upload, err = parseMultipartCall(r)
	} else {
		payload, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	}
	if err != nil {
		s.sendError(w, &dispatch.Error{
			Kind:    dispatch.KindInvalidInput,
			Message: "unreadable request body",
		})
		return
	}

	out, err := s.dispatcher.Invoke(r.Context(), callerID, toolName, payload, upload)
	if err != nil {
		s.sendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// parseMultipartCall builds the tool payload from form fields and captures
// the uploaded file.
func parseMultipartCall(r *http.Request) (json.RawMessage, *tools.Upload, error) {
	if err := r.ParseMultipartForm(maxMultipartBytes); err != nil {
		return nil, nil, err
	}

	fields := make(map[string]string)
	for key, values := range r.MultipartForm.Value {
		if len(values) > 0 {
			fields[key] = values[0]
		}
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, err
	}

	file, header, err := r.FormFile("file")
	if err == http.ErrMissingFile {
		return payload, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxMultipartBytes))
	if err != nil {
		return nil, nil, err
	}
	return payload, &tools.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     content,
	}, nil
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	doc, err := s.store.GetDocument(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.sendError(w, dispatch.Errf(dispatch.KindNotFound, "no resource %s", id))
		return
	}
	if err != nil {
		s.logger.Error("resource lookup failed", "id", id, "error", err)
		s.sendError(w, dispatch.Errf(dispatch.KindInternal, "resource lookup failed"))
		return
	}

	content, err := s.files.Get(doc.ContentPath)
	if errors.Is(err, store.ErrNotFound) {
		s.sendError(w, dispatch.Errf(dispatch.KindNotFound, "content for resource %s is missing", id))
		return
	}
	if err != nil {
		s.logger.Error("resource read failed", "id", id, "error", err)
		s.sendError(w, dispatch.Errf(dispatch.KindInternal, "resource read failed"))
		return
	}

	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}
