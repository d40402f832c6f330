// Package jobs exposes job intake, scheduling and the scheduler sweep over HTTP.
package jobs

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kilianp07/depotsched/api/httpx"
	corejobs "github.com/kilianp07/depotsched/core/jobs"
	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/core/store"
)

// Service is the scheduler surface the handlers need.
type Service interface {
	CreateJob(ctx context.Context, req corejobs.JobRequest) (model.Job, error)
	GetJob(ctx context.Context, id string) (model.Job, error)
	ListJobs(ctx context.Context, f store.JobFilter) ([]model.Job, error)
	ScheduleJob(ctx context.Context, id string) (corejobs.ScheduleResult, error)
	RunPending(ctx context.Context) ([]corejobs.ScheduleResult, error)
	ProcessTransitions(ctx context.Context) (corejobs.TransitionSummary, error)
	CancelJob(ctx context.Context, id string) (model.Job, error)
}

type handler struct {
	svc Service
}

// Register mounts the job and scheduler routes on r.
func Register(r *mux.Router, svc Service) {
	h := handler{svc: svc}
	r.HandleFunc("/jobs", h.create).Methods(http.MethodPost)
	r.HandleFunc("/jobs", h.list).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{job_id}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{job_id}/schedule", h.schedule).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{job_id}/cancel", h.cancel).Methods(http.MethodPost)
	r.HandleFunc("/scheduler/tick", h.tick).Methods(http.MethodPost)
	r.HandleFunc("/scheduler/run", h.run).Methods(http.MethodPost)
}

func (h handler) create(w http.ResponseWriter, r *http.Request) {
	var req corejobs.JobRequest
	if err := httpx.Decode(r, &req, false); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := h.svc.CreateJob(r.Context(), req)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, job)
}

func (h handler) list(w http.ResponseWriter, r *http.Request) {
	var f store.JobFilter
	if raw := r.URL.Query().Get("state"); raw != "" {
		f.State = model.JobState(raw)
		if !f.State.Valid() {
			httpx.Error(w, http.StatusBadRequest, "unknown state "+raw)
			return
		}
	}
	limit, err := httpx.IntParam(r, "limit", 0)
	if err != nil || limit < 0 {
		httpx.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	f.Limit = limit
	jobs, err := h.svc.ListJobs(r.Context(), f)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	httpx.JSON(w, http.StatusOK, jobs)
}

func (h handler) get(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetJob(r.Context(), mux.Vars(r)["job_id"])
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h handler) schedule(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ScheduleJob(r.Context(), mux.Vars(r)["job_id"])
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	switch {
	case res.Success:
		httpx.JSON(w, http.StatusOK, res)
	case res.Retry:
		w.Header().Set("Retry-After", "5")
		httpx.JSON(w, http.StatusServiceUnavailable, res)
	default:
		httpx.JSON(w, http.StatusConflict, res)
	}
}

func (h handler) cancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.CancelJob(r.Context(), mux.Vars(r)["job_id"])
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

type tickRequest struct {
	ProcessTransitions *bool `json:"process_transitions"`
}

// TickResponse reports a transition sweep.
type TickResponse struct {
	Message   string `json:"message"`
	Activated int    `json:"activated"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// tick runs a transition sweep. An empty body counts as process_transitions.
func (h handler) tick(w http.ResponseWriter, r *http.Request) {
	var req tickRequest
	if err := httpx.Decode(r, &req, true); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ProcessTransitions != nil && !*req.ProcessTransitions {
		httpx.JSON(w, http.StatusOK, TickResponse{Message: "No action requested"})
		return
	}
	sum, err := h.svc.ProcessTransitions(r.Context())
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, TickResponse{
		Message:   "Transitions processed",
		Activated: sum.Activated,
		Completed: sum.Completed,
		Failed:    sum.Failed,
	})
}

func (h handler) run(w http.ResponseWriter, r *http.Request) {
	results, err := h.svc.RunPending(r.Context())
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, results)
}
