package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jdziat/strand-jobs/pkg/core"
	"github.com/jdziat/strand-jobs/pkg/queue"
	"github.com/jdziat/strand-jobs/pkg/reindex"
	"github.com/jdziat/strand-jobs/pkg/relay"
)

// EnqueueRequest is the body of POST /jobs.
type EnqueueRequest struct {
	Type    string          `json:"type" validate:"required,max=64"`
	Payload json.RawMessage `json:"payload"`
}

// ListQuery holds the GET /jobs query parameters.
type ListQuery struct {
	Status string `validate:"omitempty,oneof=pending running completed failed cancelled"`
	Type   string `validate:"omitempty,max=64"`
	Limit  int    `validate:"gte=0,lte=1000"`
}

// JobList is the body of GET /jobs.
type JobList struct {
	Jobs []*core.StoredJob `json:"jobs"`
}

// CancelResponse is the body of POST /jobs/{id}/cancel.
type CancelResponse struct {
	ID     string         `json:"id"`
	Status core.JobStatus `json:"status"`
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Queue queue.Stats    `json:"queue"`
	Types []core.JobType `json:"registered_types"`
	Relay *relay.Stats   `json:"relay,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "Validation error: "+err.Error(), err)
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	res, err := s.queue.Enqueue(r.Context(), core.JobType(req.Type), payload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, core.ToStored(job))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := ListQuery{Status: q.Get("status"), Type: q.Get("type")}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(w, r, http.StatusBadRequest, "Validation error: limit must be an integer", err)
			return
		}
		query.Limit = n
	}
	if err := s.validate.Struct(query); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "Validation error: "+err.Error(), err)
		return
	}

	jobs, err := s.queue.ListJobs(r.Context(), core.JobFilter{
		Status: core.JobStatus(query.Status),
		Type:   core.JobType(query.Type),
		Limit:  query.Limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := JobList{Jobs: make([]*core.StoredJob, 0, len(jobs))}
	for _, j := range jobs {
		out.Jobs = append(out.Jobs, core.ToStored(j))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.queue.Cancel(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.queue.GetJob(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, CancelResponse{ID: id, Status: job.Status})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if s.reindex == nil {
		s.respondError(w, r, http.StatusNotImplemented, "reindexing is not configured", nil)
		return
	}
	var req reindex.Request
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	out, err := s.reindex.Reindex(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if out.Deferred() {
		status = http.StatusAccepted
	}
	respondJSON(w, status, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := StatsResponse{
		Queue: s.queue.Stats(),
		Types: s.queue.Registry().Types(),
	}
	if rs, ok := s.recent.(interface{ Stats() relay.Stats }); ok {
		stats := rs.Stats()
		out.Relay = &stats
	}
	respondJSON(w, http.StatusOK, out)
}
