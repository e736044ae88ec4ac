package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/roasbeef/outreach/internal/scheduler"
	"github.com/roasbeef/outreach/internal/target"
)

// DefaultHaltSource is recorded when a halt request names no source.
const DefaultHaltSource = "admin-api"

// SubmitResponse acknowledges an accepted target.
type SubmitResponse struct {
	Key    string `json:"key"`
	Status string `json:"status"`
}

// HaltView is the halt state in API responses.
type HaltView struct {
	Halted                bool      `json:"halted"`
	Reason                string    `json:"reason,omitempty"`
	Source                string    `json:"source,omitempty"`
	Since                 time.Time `json:"since,omitzero"`
	ResumeCyclesRemaining int       `json:"resume_cycles_remaining"`
	Location              string    `json:"location"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Halt      HaltView         `json:"halt"`
	Scheduler scheduler.Status `json:"scheduler"`
}

// HaltRequest is the body of POST /halt.
type HaltRequest struct {
	Reason string `json:"reason"`
	Source string `json:"source"`
}

// ResumeResponse is the body of POST /resume.
type ResumeResponse struct {
	Resumed bool     `json:"resumed"`
	Halt    HaltView `json:"halt"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var t target.Target
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v",
			err)
		return
	}

	// Producers do not get to pre-age or pre-finish a target.
	t.Attempts = 0
	t.Terminal = false

	err := s.deps.Targets.Submit(r.Context(), t)
	switch {
	case err == nil:

	case errors.Is(err, target.ErrInvalidTarget):
		httpError(w, http.StatusBadRequest, "%v", err)
		return

	case errors.Is(err, target.ErrBlocked),
		errors.Is(err, target.ErrTerminal):

		httpError(w, http.StatusConflict, "%v", err)
		return

	default:
		httpError(w, http.StatusServiceUnavailable, "submit: %v", err)
		return
	}

	s.wake()

	writeJSON(w, http.StatusAccepted, SubmitResponse{
		Key:    t.Key,
		Status: "queued",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.Halt.State(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError,
			"read halt state: %v", err)
		return
	}

	resp := StatusResponse{Halt: HaltView(state)}
	if s.deps.Status != nil {
		resp.Scheduler = s.deps.Status.Status()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHalt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var req HaltRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v",
			err)
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		httpError(w, http.StatusBadRequest, "reason is required")
		return
	}
	if req.Source == "" {
		req.Source = DefaultHaltSource
	}

	state, err := s.deps.Halt.Halt(r.Context(), req.Reason, req.Source)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "halt: %v", err)
		return
	}

	s.wake()

	writeJSON(w, http.StatusOK, HaltView(state))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	resumed, err := s.deps.Halt.Resume(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "resume: %v", err)
		return
	}

	state, err := s.deps.Halt.State(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError,
			"read halt state: %v", err)
		return
	}

	if resumed {
		s.wake()
	}

	writeJSON(w, http.StatusOK, ResumeResponse{
		Resumed: resumed,
		Halt:    HaltView(state),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("Writing response failed: %v", err)
	}
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"code":    code,
		},
	})
}
