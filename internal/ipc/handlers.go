package ipc

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/obra/internal/core"
	"github.com/hyperjump/obra/internal/models"
)

// maxRequestBytes caps a request body.
const maxRequestBytes = 64 << 10

// Status values of an index request.
const (
	StatusAccepted  = "accepted"
	StatusCompleted = "completed"
)

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type searchResponse struct {
	Results []models.SearchResult `json:"results"`
}

type indexRequest struct {
	Wait bool `json:"wait"`
}

type indexResponse struct {
	Status string             `json:"status"`
	Report *models.SyncReport `json:"report,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Int("limit", req.Limit))
	results, err := s.svc.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		if errors.Is(err, models.ErrEmptyQuery) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	s.respondJSON(w, http.StatusOK, searchResponse{Results: results})
}

func (s *Server) handleIndex(force bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req indexRequest
		if r.ContentLength != 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				s.respondError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}
		s.logger.Debug("index request", zap.Bool("force", force), zap.Bool("wait", req.Wait))
		report, err := s.svc.Sync(r.Context(), core.SyncRequest{Force: force, Wait: req.Wait})
		if err != nil {
			s.logger.Error("index failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !req.Wait {
			s.respondJSON(w, http.StatusAccepted, indexResponse{Status: StatusAccepted})
			return
		}
		s.respondJSON(w, http.StatusOK, indexResponse{Status: StatusCompleted, Report: report})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError also closes the connection, so a confused client starts clean.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Connection", "close")
	s.respondJSON(w, status, errorResponse{Error: message})
}
