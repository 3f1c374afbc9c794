package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/insightboard/insightboard/internal/model"
	"github.com/insightboard/insightboard/internal/store"
)

type ingestResponse struct {
	Accepted  int `json:"accepted"`
	Submitted int `json:"submitted"`
}

// handleIngest accepts a batch of metrics for asynchronous processing. Every
// record must carry the mandatory fields; a schema-invalid record rejects
// the whole batch before anything reaches the log. Ownership is checked per
// record, unauthorized records are skipped, and the rest go to the log
// producer. Returns 202 once every accepted record is durably appended.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request, user model.User) {
	if !s.deps.Producer.Ready() {
		// Degraded mode: the producer never connected. Fail fast with an
		// explicit rejection instead of queueing nowhere.
		s.writeError(w, http.StatusServiceUnavailable, "metric ingestion is unavailable")
		return
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(raw) == 0 {
		s.writeError(w, http.StatusBadRequest, "empty batch")
		return
	}
	if len(raw) > s.cfg.MaxBatch {
		s.writeError(w, http.StatusRequestEntityTooLarge, "batch exceeds limit")
		return
	}

	// Validate the mandatory-field contract at the boundary so a record
	// without a value or name never enters the log as a zero.
	records := make([]model.MetricRecord, 0, len(raw))
	for i, data := range raw {
		rec, err := model.DecodeMetricRecord(data)
		if err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, "invalid metric record in batch")
			s.logger.Warn("rejected ingest batch", "error", err, "index", i, "user_id", user.ID)
			return
		}
		records = append(records, rec)
	}

	requestID := uuid.NewString()
	logger := s.logger.With("request_id", requestID, "user_id", user.ID)

	accepted := 0
	for _, rec := range records {
		owner, err := s.deps.Guard.IsOwner(r.Context(), rec.DashboardID, user.ID)
		if err != nil {
			logger.Error("ownership check failed", "error", err, "dashboard_id", rec.DashboardID)
			continue
		}
		if !owner {
			logger.Warn("skipping metric for unauthorized dashboard", "dashboard_id", rec.DashboardID)
			continue
		}

		if _, err := s.deps.Producer.Send(r.Context(), rec); err != nil {
			logger.Error("send to log failed", "error", err, "dashboard_id", rec.DashboardID)
			continue
		}
		accepted++
	}

	logger.Info("ingest batch handled", "accepted", accepted, "submitted", len(records))
	s.writeJSON(w, http.StatusAccepted, ingestResponse{Accepted: accepted, Submitted: len(records)})
}

type metricCreateRequest struct {
	Name        string   `json:"name"`
	Value       *float64 `json:"value"`
	MetricType  string   `json:"metric_type"`
	DashboardID int64    `json:"dashboard_id"`
}

func (req *metricCreateRequest) validate() string {
	if req.Name == "" || len(req.Name) > 100 {
		return "name must be between 1 and 100 characters"
	}
	if req.Value == nil {
		return "value is required"
	}
	if req.MetricType == "" || len(req.MetricType) > 50 {
		return "metric_type must be between 1 and 50 characters"
	}
	if req.DashboardID == 0 {
		return "dashboard_id is required"
	}
	return ""
}

// handleCreateMetric creates a single metric synchronously, bypassing the
// log. Unlike ingestion, a missing dashboard and a foreign dashboard are
// reported distinctly.
func (s *Server) handleCreateMetric(w http.ResponseWriter, r *http.Request, user model.User) {
	var req metricCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		s.writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}

	d, err := s.deps.Dashboards.GetByID(r.Context(), req.DashboardID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "dashboard not found")
			return
		}
		s.logger.Error("dashboard lookup failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "create metric failed")
		return
	}
	if d.OwnerID != user.ID {
		s.writeError(w, http.StatusForbidden, "not enough permissions")
		return
	}

	m, err := s.deps.Metrics.Persist(r.Context(), model.MetricRecord{
		DashboardID: req.DashboardID,
		Name:        req.Name,
		Value:       *req.Value,
		MetricType:  req.MetricType,
	})
	if err != nil {
		s.logger.Error("create metric failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "create metric failed")
		return
	}
	s.writeJSON(w, http.StatusCreated, m)
}

type dashboardBrief struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type metricDetailResponse struct {
	model.PersistedMetric
	Dashboard dashboardBrief `json:"dashboard"`
}

func (s *Server) handleGetMetric(w http.ResponseWriter, r *http.Request, user model.User) {
	m, ok := s.ownedMetric(w, r, user)
	if !ok {
		return
	}

	d, err := s.deps.Dashboards.GetByID(r.Context(), m.DashboardID)
	if err != nil {
		s.logger.Error("dashboard lookup failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "get metric failed")
		return
	}
	s.writeJSON(w, http.StatusOK, metricDetailResponse{
		PersistedMetric: m,
		Dashboard:       dashboardBrief{ID: d.ID, Name: d.Name},
	})
}

type metricUpdateRequest struct {
	Name       *string  `json:"name"`
	Value      *float64 `json:"value"`
	MetricType *string  `json:"metric_type"`
}

func (req *metricUpdateRequest) validate() string {
	if req.Name != nil && (*req.Name == "" || len(*req.Name) > 100) {
		return "name must be between 1 and 100 characters"
	}
	if req.MetricType != nil && (*req.MetricType == "" || len(*req.MetricType) > 50) {
		return "metric_type must be between 1 and 50 characters"
	}
	return ""
}

func (s *Server) handleUpdateMetric(w http.ResponseWriter, r *http.Request, user model.User) {
	var req metricUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		s.writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}

	m, ok := s.ownedMetric(w, r, user)
	if !ok {
		return
	}

	updated, err := s.deps.MetricAdmin.UpdateMetric(r.Context(), m.ID, store.MetricUpdate{
		Name:       req.Name,
		Value:      req.Value,
		MetricType: req.MetricType,
	})
	if err != nil {
		s.logger.Error("update metric failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "update metric failed")
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteMetric(w http.ResponseWriter, r *http.Request, user model.User) {
	m, ok := s.ownedMetric(w, r, user)
	if !ok {
		return
	}

	if err := s.deps.MetricAdmin.DeleteMetric(r.Context(), m.ID); err != nil {
		s.logger.Error("delete metric failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "delete metric failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedMetric resolves the path metric and enforces ownership through the
// metric's dashboard. Nonexistent and not-owned both read as 404.
func (s *Server) ownedMetric(w http.ResponseWriter, r *http.Request, user model.User) (model.PersistedMetric, bool) {
	id, ok := s.pathID(w, r)
	if !ok {
		return model.PersistedMetric{}, false
	}

	m, err := s.deps.MetricAdmin.GetMetric(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "metric not found")
			return model.PersistedMetric{}, false
		}
		s.logger.Error("get metric failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "get metric failed")
		return model.PersistedMetric{}, false
	}

	owner, err := s.deps.Guard.IsOwner(r.Context(), m.DashboardID, user.ID)
	if err != nil {
		s.logger.Error("ownership check failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "get metric failed")
		return model.PersistedMetric{}, false
	}
	if !owner {
		s.writeError(w, http.StatusNotFound, "metric not found")
		return model.PersistedMetric{}, false
	}
	return m, true
}
