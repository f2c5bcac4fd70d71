package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/shirabe/internal/engine"
	"github.com/hyperjump/shirabe/internal/models"
	"github.com/hyperjump/shirabe/internal/query"
)

// queryRequest is a models.Query plus the retrieval mode switch.
type queryRequest struct {
	models.Query
	// Mode selects the retrieval path: "semantic" (default) or "keyword".
	Mode string `json:"mode,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		s.respondError(w, http.StatusBadRequest, "query text is required")
		return
	}
	s.logger.Debug("query request",
		zap.String("text", req.Text),
		zap.String("mode", req.Mode),
		zap.Int("limit", req.Limit))

	var (
		response *models.QueryResponse
		err      error
	)
	switch strings.ToLower(req.Mode) {
	case "", "semantic":
		response, err = s.executor.Search(r.Context(), &req.Query)
	case "keyword":
		response, err = s.executor.Keyword(r.Context(), &req.Query)
	default:
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown query mode %q", req.Mode))
		return
	}
	if err != nil {
		if errors.Is(err, query.ErrKeywordDisabled) {
			s.respondError(w, http.StatusNotImplemented, err.Error())
			return
		}
		s.logger.Error("query failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("index request")
	stats, err := s.engine.Index(r.Context(), nil)
	if err != nil {
		if errors.Is(err, engine.ErrIndexingInProgress) {
			s.respondError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("indexing failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

type rebuildRequest struct {
	Force bool `json:"force,omitempty"`
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	// An empty body means an incremental rebuild.
	var req rebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("rebuild request", zap.Bool("force", req.Force))
	stats, err := s.engine.Rebuild(r.Context(), req.Force)
	if err != nil {
		if errors.Is(err, engine.ErrIndexingInProgress) {
			s.respondError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("rebuild failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
