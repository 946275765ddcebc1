package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/netresearch/cronhook/config"
	"github.com/netresearch/cronhook/core"
	"github.com/netresearch/cronhook/scheduler"
	"github.com/netresearch/cronhook/store"
)

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

// storeError maps store failures onto API statuses.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Errorf("api: %v", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runtime.Status())
}

type resyncRequest struct {
	RemoveOrphans    *bool `json:"remove_orphans"`
	AutoPauseExpired *bool `json:"auto_pause_expired"`
}

// resyncHandler forces a reconcile pass. Followers answer 409: only the
// leader owns engine state, so a follower resync would report nothing.
func (s *Server) resyncHandler(w http.ResponseWriter, r *http.Request) {
	opts := scheduler.ReconcileOptions{RemoveOrphans: true, AutoPauseExpired: true}
	if r.Body != nil && r.ContentLength != 0 {
		var req resyncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.RemoveOrphans != nil {
			opts.RemoveOrphans = *req.RemoveOrphans
		}
		if req.AutoPauseExpired != nil {
			opts.AutoPauseExpired = *req.AutoPauseExpired
		}
	}

	stats, err := s.runtime.Resync(r.Context(), opts)
	if err != nil {
		if errors.Is(err, core.ErrNotLeader) {
			writeError(w, http.StatusConflict, "scheduler is not the leader on this instance")
			return
		}
		s.logger.Errorf("resync: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listJobsHandler(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*store.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getJobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) createJobHandler(w http.ResponseWriter, r *http.Request) {
	var payload config.JobPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	job := payload.Job()
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		s.storeError(w, err)
		return
	}
	// Best effort: a follower leaves scheduling to the leader's next poll.
	s.runtime.SyncJobSchedule(r.Context(), job)
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) updateJobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, err)
		return
	}

	var payload config.JobPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	payload.ApplyTo(job)
	if err := s.store.UpdateJob(r.Context(), job); err != nil {
		s.storeError(w, err)
		return
	}
	s.runtime.SyncJobSchedule(r.Context(), job)
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) deleteJobHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteJob(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	s.runtime.UnscheduleJob(id)
	w.WriteHeader(http.StatusNoContent)
}

// triggerJobHandler fires a job immediately. Overrides in the body apply to
// this dispatch only and are never written back to the job row.
func (s *Server) triggerJobHandler(w http.ResponseWriter, r *http.Request) {
	var overrides scheduler.TriggerOverrides
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	id := r.PathValue("id")
	err := s.runtime.TriggerJob(r.Context(), id, overrides)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "triggered"})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrMaxInstances):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, core.ErrNotLeader):
		writeError(w, http.StatusConflict, "manual triggers run on the scheduler leader only")
	default:
		s.logger.Errorf("trigger %q: %v", id, err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) jobExecutionsHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	execs, err := s.store.ListExecutionsByJob(r.Context(), id, listLimit(r))
	if err != nil {
		s.storeError(w, err)
		return
	}
	if execs == nil {
		execs = []*store.Execution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *Server) recentExecutionsHandler(w http.ResponseWriter, r *http.Request) {
	execs, err := s.store.ListRecentExecutions(r.Context(), listLimit(r))
	if err != nil {
		s.storeError(w, err)
		return
	}
	if execs == nil {
		execs = []*store.Execution{}
	}
	writeJSON(w, http.StatusOK, execs)
}
