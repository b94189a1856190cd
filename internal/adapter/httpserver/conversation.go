package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matt-hans/shipagent/internal/coordinator"
	"github.com/matt-hans/shipagent/internal/domain"
)

// OpenSession starts a new conversation, returning a session id the
// caller threads through every subsequent message and the event stream.
// A session carries no state of its own until its first message resolves
// to a job — it is purely a correlation handle.
func (s *Server) OpenSession(w http.ResponseWriter, r *http.Request) {
	sessionID := newReqID()
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sessionID})
}

type postMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

// PostMessage interprets one turn of natural language and applies it to
// the session's job: the first message in a session creates a job, every
// later message refines the job already bound to it.
func (s *Server) PostMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req postMessageRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	cmd, err := s.Interpreter.Interpret(r.Context(), sessionID, req.Text)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	jobID, hasJob := s.sessions.jobFor(sessionID)
	var job domain.Job
	if hasJob {
		job, err = s.Coordinator.Refine(r.Context(), jobID, cmd.WhereClause, cmd.Params)
	} else {
		job, err = s.Coordinator.CreateJob(r.Context(), coordinator.CreateJobParams{
			Command:       req.Text,
			WhereClause:   cmd.WhereClause,
			Params:        cmd.Params,
			ServiceCode:   cmd.ServiceCode,
			Shipper:       s.Shipper,
			WarningPolicy: domain.WarningRowPolicy(s.Cfg.WarningRowsPolicy),
		})
	}
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	s.sessions.bind(sessionID, job.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job":      job,
		"warnings": cmd.Warnings,
	})
}

// StreamSession streams the session's bound job's events as SSE. Per §6,
// there is no job-scoped event stream before a job exists; posting a
// message that fails to resolve to a job leaves the stream with nothing
// to subscribe to yet.
func (s *Server) StreamSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	jobID, ok := s.sessions.jobFor(sessionID)
	if !ok {
		writeError(w, r, domain.ErrNotFound, nil)
		return
	}
	streamJobEvents(w, r, s.Bus, jobID)
}

// streamJobEvents is the shared SSE loop for both conversation and job
// progress endpoints: it subscribes to jobID, forwards every event until
// the client disconnects or a terminal event is delivered, and always
// delivers terminal events even under backpressure (the bus itself
// guarantees that; this loop just doesn't stop early).
func streamJobEvents(w http.ResponseWriter, r *http.Request, bus domain.Subscriber, jobID string) {
	sw, ok := newSSEWriter(w)
	if !ok {
		writeError(w, r, errors.New("streaming unsupported"), nil)
		return
	}
	sub := bus.Subscribe(jobID)
	defer sub.Close()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-sub.Events():
			if !open {
				return
			}
			if err := sw.send(string(evt.Kind), evt); err != nil {
				return
			}
			if evt.Kind.Terminal() {
				return
			}
		}
	}
}
