package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/insightboard/insightboard/internal/model"
	"github.com/insightboard/insightboard/internal/store"
)

type dashboardRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleCreateDashboard(w http.ResponseWriter, r *http.Request, user model.User) {
	var req dashboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	d, err := s.deps.Dashboards.Create(r.Context(), req.Name, req.Description, user.ID)
	if err != nil {
		s.logger.Error("create dashboard failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "create dashboard failed")
		return
	}
	s.writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDashboards(w http.ResponseWriter, r *http.Request, user model.User) {
	dashboards, err := s.deps.Dashboards.ListByOwner(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("list dashboards failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "list dashboards failed")
		return
	}
	if dashboards == nil {
		dashboards = []model.Dashboard{}
	}
	s.writeJSON(w, http.StatusOK, dashboards)
}

func (s *Server) handleGetDashboard(w http.ResponseWriter, r *http.Request, user model.User) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	d, err := s.deps.Dashboards.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "dashboard not found")
			return
		}
		s.logger.Error("get dashboard failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "get dashboard failed")
		return
	}
	if d.OwnerID != user.ID {
		// Indistinguishable from nonexistent for non-owners.
		s.writeError(w, http.StatusNotFound, "dashboard not found")
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

type dashboardUpdateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (s *Server) handleUpdateDashboard(w http.ResponseWriter, r *http.Request, user model.User) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var req dashboardUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != nil && *req.Name == "" {
		s.writeError(w, http.StatusUnprocessableEntity, "name cannot be empty")
		return
	}

	d, err := s.deps.Dashboards.Update(r.Context(), id, user.ID, store.DashboardUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "dashboard not found")
			return
		}
		s.logger.Error("update dashboard failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "update dashboard failed")
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDashboard(w http.ResponseWriter, r *http.Request, user model.User) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	if err := s.deps.Dashboards.Delete(r.Context(), id, user.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "dashboard not found")
			return
		}
		s.logger.Error("delete dashboard failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "delete dashboard failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMetrics(w http.ResponseWriter, r *http.Request, user model.User) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	owner, err := s.deps.Guard.IsOwner(r.Context(), id, user.ID)
	if err != nil {
		s.logger.Error("ownership check failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "list metrics failed")
		return
	}
	if !owner {
		s.writeError(w, http.StatusNotFound, "dashboard not found")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	metrics, err := s.deps.Metrics.ListByDashboard(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("list metrics failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "list metrics failed")
		return
	}
	if metrics == nil {
		metrics = []model.PersistedMetric{}
	}
	s.writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
