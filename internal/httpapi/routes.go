// Package httpapi is the REST transport adapter. It translates HTTP requests
// into sync-engine calls; it never writes to the store directly.
//
// Historical contract note: update, move, and delete respond {"success":true}
// when the engine reports a version conflict instead of surfacing it. The
// WebSocket adapter surfaces conflicts properly; REST clients reconcile via
// their next sync. This asymmetry is part of the published API.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/markwell/bookmarkd/internal/auth"
	"github.com/markwell/bookmarkd/internal/engine"
	"github.com/markwell/bookmarkd/internal/schema"
	"github.com/markwell/bookmarkd/internal/store"
)

type jsonResponse map[string]any

type errorResponse struct {
	Error string `json:"error"`
}

// Server holds the REST handlers and their collaborators.
type Server struct {
	engine   *engine.Engine
	verifier auth.Verifier
	logger   *log.Logger
}

// NewServer creates the REST adapter over a sync engine.
func NewServer(eng *engine.Engine, verifier auth.Verifier, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stderr, "[http] ", log.LstdFlags)
	}
	return &Server{engine: eng, verifier: verifier, logger: logger}
}

// RegisterRoutes mounts all bookmark routes on mux, wrapped in bearer auth.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	authed := func(h http.HandlerFunc) http.Handler {
		return auth.Middleware(s.verifier, h)
	}

	mux.Handle("GET /api/bookmarks", authed(s.handleList))
	mux.Handle("POST /api/bookmarks", authed(s.handleCreate))
	mux.Handle("POST /api/bookmarks/clear", authed(s.handleClear))
	mux.Handle("POST /api/bookmarks/batch", authed(s.handleBatch))
	mux.Handle("GET /api/bookmarks/search", authed(s.handleSearch))
	mux.Handle("GET /api/bookmarks/{id}", authed(s.handleGet))
	mux.Handle("PUT /api/bookmarks/{id}", authed(s.handleUpdate))
	mux.Handle("PATCH /api/bookmarks/{id}", authed(s.handleUpdate))
	mux.Handle("PUT /api/bookmarks/{id}/move", authed(s.handleMove))
	mux.Handle("DELETE /api/bookmarks/{id}", authed(s.handleDelete))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	res, err := s.engine.Sync(r.Context(), userID, 0)
	if err != nil {
		s.serverError(w, "list", err)
		return
	}
	bookmarks := res.Bookmarks
	if bookmarks == nil {
		bookmarks = []*schema.Bookmark{}
	}
	writeJSON(w, http.StatusOK, jsonResponse{
		"bookmarks":   bookmarks,
		"syncVersion": res.Version,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	b, err := s.engine.Get(r.Context(), userID, r.PathValue("id"))
	if err == store.ErrNotFound {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "bookmark not found"})
		return
	}
	if err != nil {
		s.serverError(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	var spec schema.CreateSpec
	if err := decodeJSON(r, &spec); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := spec.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	out, err := s.engine.Create(r.Context(), userID, &spec, clientID(r))
	if err != nil {
		s.serverError(w, "create", err)
		return
	}
	writeJSON(w, http.StatusCreated, jsonResponse{
		"bookmark":    out.Bookmark,
		"syncVersion": out.SyncVersion,
	})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	var payload struct {
		Bookmarks []schema.CreateSpec `json:"bookmarks"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	// Each entry is a plain create in array order; there is no version
	// checking on this path. localId echoes the caller's correlation id.
	type created struct {
		ID      string `json:"id"`
		LocalID string `json:"localId,omitempty"`
	}
	results := make([]created, 0, len(payload.Bookmarks))
	for i := range payload.Bookmarks {
		spec := &payload.Bookmarks[i]
		if err := spec.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		out, err := s.engine.Create(r.Context(), userID, spec, clientID(r))
		if err != nil {
			s.serverError(w, "batch create", err)
			return
		}
		results = append(results, created{ID: out.BookmarkID, LocalID: spec.LocalID})
	}
	writeJSON(w, http.StatusOK, jsonResponse{
		"bookmarks": results,
		"count":     len(results),
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	var payload struct {
		schema.UpdatePatch
		ExpectedVersion int64 `json:"expectedVersion"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	out, err := s.engine.Update(r.Context(), userID, r.PathValue("id"),
		&payload.UpdatePatch, payload.ExpectedVersion, clientID(r))
	if err == store.ErrNotFound {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "bookmark not found"})
		return
	}
	if errors.Is(err, store.ErrInvalidPatch) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		s.serverError(w, "update", err)
		return
	}
	if !out.Applied() {
		// Conflict is reported as success on this path; see package doc.
		writeJSON(w, http.StatusOK, jsonResponse{"success": true})
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{
		"bookmark":    out.Bookmark,
		"syncVersion": out.SyncVersion,
	})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	var payload struct {
		ParentID  *string `json:"parentId"`
		SortOrder int     `json:"sortOrder"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	// expectedVersion is fixed at 0 on this path, so a REST move of any
	// existing row always reports a swallowed conflict unless the row is
	// still at its never-updated state. Preserved as published behavior.
	out, err := s.engine.Move(r.Context(), userID, r.PathValue("id"),
		payload.ParentID, payload.SortOrder, 0, clientID(r))
	if err == store.ErrNotFound {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "bookmark not found"})
		return
	}
	if err != nil {
		s.serverError(w, "move", err)
		return
	}
	if !out.Applied() {
		writeJSON(w, http.StatusOK, jsonResponse{"success": true})
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{
		"bookmark":    out.Bookmark,
		"syncVersion": out.SyncVersion,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	expectedVersion := int64(0)
	if raw := r.URL.Query().Get("expectedVersion"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "expectedVersion must be an integer"})
			return
		}
		expectedVersion = parsed
	}

	out, err := s.engine.Delete(r.Context(), userID, r.PathValue("id"), expectedVersion, clientID(r))
	if err != nil {
		s.serverError(w, "delete", err)
		return
	}
	if !out.Applied() {
		writeJSON(w, http.StatusOK, jsonResponse{"success": true})
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{
		"success":     true,
		"syncVersion": out.SyncVersion,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	if err := s.engine.Clear(r.Context(), userID); err != nil {
		s.serverError(w, "clear", err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{"success": true})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "q is required"})
		return
	}

	results, err := s.engine.Search(r.Context(), userID, query)
	if err != nil {
		s.serverError(w, "search", err)
		return
	}
	if results == nil {
		results = []*schema.Bookmark{}
	}
	writeJSON(w, http.StatusOK, jsonResponse{
		"results": results,
		"total":   len(results),
	})
}

// HandleHealthz reports liveness; mounted unauthenticated by the caller.
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, jsonResponse{"status": "ok"})
}

// Healthz is HandleHealthz plus a live WebSocket connection count.
func Healthz(connections func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, jsonResponse{
			"status":      "ok",
			"connections": connections(),
		})
	}
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.logger.Printf("%s error: %v", op, err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
}

// clientID extracts the caller's device id, if it sent one.
func clientID(r *http.Request) string {
	return r.Header.Get("X-Client-Id")
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
