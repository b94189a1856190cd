package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/matt-hans/shipagent/internal/domain"
)

// ListJobs returns jobs newest-first, optionally filtered by status and
// paginated via ?offset=&limit=.
func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.JobListFilter{
		Status: domain.JobStatus(q.Get("status")),
		Offset: atoiDefault(q.Get("offset"), 0),
		Limit:  atoiDefault(q.Get("limit"), 50),
	}
	jobs, total, err := s.Store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "total": total})
}

// GetJob returns one job by id.
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Store.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// PreviewJob runs (or re-runs) the preview pass for a created job.
func (s *Server) PreviewJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Coordinator.Preview(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ApproveJob moves a previewed job to approved and mints its one-time
// approval token. The raw token is returned exactly once in this
// response body — the store only ever persists its hash.
func (s *Server) ApproveJob(w http.ResponseWriter, r *http.Request) {
	job, token, err := s.Coordinator.Approve(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"job": job, "approval_token": token})
}

type confirmJobRequest struct {
	ApprovalToken string `json:"approval_token" validate:"required"`
}

// ConfirmJob presents the approval token and, if it matches, starts
// execution.
func (s *Server) ConfirmJob(w http.ResponseWriter, r *http.Request) {
	var req confirmJobRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	job, err := s.Coordinator.Confirm(r.Context(), chi.URLParam(r, "jobID"), req.ApprovalToken)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob signals an in-flight job to stop dispatching new rows.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Coordinator.Cancel(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListJobRows returns every row for a job, in row-number order.
func (s *Server) ListJobRows(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	rows := make([]domain.JobRow, 0)
	err := s.Store.IterRows(r.Context(), jobID, func(row domain.JobRow) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rows": rows})
}

// ListJobAudit returns a job's audit trail in append order.
func (s *Server) ListJobAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Store.ListAudit(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"audit": entries})
}

// JobStats reports aggregate dashboard figures across all jobs: currently
// just the average wall-clock processing time of completed jobs.
func (s *Server) JobStats(w http.ResponseWriter, r *http.Request) {
	avg, err := s.Store.AverageProcessingTime(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"average_processing_time_seconds": avg})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
