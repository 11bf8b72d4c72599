package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/reader"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.runSearch(w, r, &query)
}

func (s *Server) handleSearchGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := models.SearchQuery{Query: q.Get("q"), Mode: q.Get("mode")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		query.Limit = n
	}
	s.runSearch(w, r, &query)
}

func (s *Server) runSearch(w http.ResponseWriter, r *http.Request, query *models.SearchQuery) {
	s.applyLimits(query)
	if err := query.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit), zap.String("mode", query.Mode))
	response, err := s.backend.Search(r.Context(), query)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

// applyLimits fills the configured default limit and mode and caps the limit.
func (s *Server) applyLimits(query *models.SearchQuery) {
	if query.Limit <= 0 {
		query.Limit = s.search.DefaultLimit
	}
	if s.search.MaxLimit > 0 && query.Limit > s.search.MaxLimit {
		query.Limit = s.search.MaxLimit
	}
	if query.Mode == "" {
		query.Mode = s.search.Mode
	}
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	rec, err := s.backend.GetRecord(r.Context(), id)
	if err != nil {
		s.respondLookupError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	q := r.URL.Query()
	limit := s.search.DefaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, max(s.search.MaxLimit, 1))
	}
	boost := false
	if v := q.Get("boost"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "boost must be a boolean")
			return
		}
		boost = b
	}
	s.logger.Debug("related request", zap.String("id", id), zap.Int("limit", limit), zap.Bool("boost", boost))
	results, err := s.backend.Related(r.Context(), id, limit, boost)
	if err != nil {
		s.respondLookupError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"path": id, "results": results})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.backend.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, reader.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "note not found")
		return
	}
	s.logger.Error("lookup failed", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
