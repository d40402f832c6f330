// Package stalls exposes stall allocation, release and depot metrics over HTTP.
package stalls

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kilianp07/depotsched/api/httpx"
	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/core/resource"
	"github.com/kilianp07/depotsched/core/store"
)

// Service is the resource manager surface the handlers need.
type Service interface {
	ListStalls(ctx context.Context, f store.StallFilter) ([]model.Stall, error)
	AllocateStall(ctx context.Context, req resource.AllocationRequest) (resource.AllocationResult, error)
	ReleaseStall(ctx context.Context, stallID string) (model.Stall, error)
	MarkStallMaintenance(ctx context.Context, stallID string, offline bool) (model.Stall, error)
	TransitionVehicle(ctx context.Context, req resource.TransitionRequest) (resource.TransitionResult, error)
	GetDepotMetrics(ctx context.Context, depotID string) (resource.DepotMetrics, error)
}

type handler struct {
	svc Service
}

// Register mounts the stall and depot routes on r.
func Register(r *mux.Router, svc Service) {
	h := handler{svc: svc}
	r.HandleFunc("/api/stalls", h.list).Methods(http.MethodGet)
	r.HandleFunc("/api/stalls/allocate", h.allocate).Methods(http.MethodPost)
	r.HandleFunc("/api/stalls/transition", h.transition).Methods(http.MethodPost)
	r.HandleFunc("/api/stalls/{stall_id}/release", h.release).Methods(http.MethodPost)
	r.HandleFunc("/api/stalls/{stall_id}/maintenance", h.maintenance).Methods(http.MethodPost)
	r.HandleFunc("/api/depots/{depot_id}/metrics", h.metrics).Methods(http.MethodGet)
}

func (h handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.StallFilter{DepotID: q.Get("depot_id")}
	if raw := q.Get("status"); raw != "" {
		f.Status = model.StallStatus(raw)
		if !f.Status.Valid() {
			httpx.Error(w, http.StatusBadRequest, "unknown status "+raw)
			return
		}
	}
	if raw := q.Get("stall_type"); raw != "" {
		t, err := model.ParseStallType(raw)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Types = []model.StallType{t}
	}
	limit, err := httpx.IntParam(r, "limit", 0)
	if err != nil || limit < 0 {
		httpx.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	f.Limit = limit
	stalls, err := h.svc.ListStalls(r.Context(), f)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	if stalls == nil {
		stalls = []model.Stall{}
	}
	httpx.JSON(w, http.StatusOK, stalls)
}

func (h handler) allocate(w http.ResponseWriter, r *http.Request) {
	var req resource.AllocationRequest
	if err := httpx.Decode(r, &req, false); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.AllocateStall(r.Context(), req)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, allocationStatus(res), res)
}

// allocationStatus maps an allocation outcome onto its HTTP status.
func allocationStatus(res resource.AllocationResult) int {
	switch {
	case res.Success:
		return http.StatusCreated
	case res.Reason == resource.ReasonNoStalls:
		return http.StatusNotFound
	default:
		return http.StatusConflict
	}
}

func (h handler) release(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.ReleaseStall(r.Context(), mux.Vars(r)["stall_id"])
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

type maintenanceBody struct {
	Offline *bool `json:"offline"`
}

func (h handler) maintenance(w http.ResponseWriter, r *http.Request) {
	var body maintenanceBody
	if err := httpx.Decode(r, &body, false); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Offline == nil {
		httpx.JSON(w, http.StatusBadRequest, httpx.ErrorBody{Error: "validation failed", Fields: []string{"offline"}})
		return
	}
	st, err := h.svc.MarkStallMaintenance(r.Context(), mux.Vars(r)["stall_id"], *body.Offline)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h handler) transition(w http.ResponseWriter, r *http.Request) {
	var req resource.TransitionRequest
	if err := httpx.Decode(r, &req, false); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.TransitionVehicle(r.Context(), req)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h handler) metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetDepotMetrics(r.Context(), mux.Vars(r)["depot_id"])
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}
