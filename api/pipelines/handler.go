// Package pipelines exposes the vehicle service pipelines over HTTP.
package pipelines

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kilianp07/depotsched/api/httpx"
	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/core/pipeline"
)

// Service is the orchestrator surface the handlers need.
type Service interface {
	TriggerArrival(ctx context.Context, v model.Vehicle, available []model.Stall, durations map[model.ServiceType]int) (model.ServicePipeline, error)
	AdvancePipeline(ctx context.Context, vehicleID string) (model.ServicePipeline, error)
	DeployVehicle(ctx context.Context, vehicleID string) (model.ServicePipeline, error)
	Get(vehicleID string) (model.ServicePipeline, error)
	List() []model.ServicePipeline
	StateCounts() map[model.PipelineState]int
	Events(limit int) []model.TransitionEvent
}

// ArrivalRequest announces a vehicle at the depot. AvailableStalls, when
// present, replaces the store snapshot used for stall assignment.
type ArrivalRequest struct {
	VehicleID        string                    `json:"vehicle_id"`
	DepotID          string                    `json:"depot_id"`
	SoC              *float64                  `json:"soc"`
	IsMember         bool                      `json:"is_member"`
	AvailableStalls  []model.Stall             `json:"available_stalls,omitempty"`
	ServiceDurations map[model.ServiceType]int `json:"service_durations,omitempty"`
}

func (a ArrivalRequest) invalidFields() []string {
	var fields []string
	if a.VehicleID == "" {
		fields = append(fields, "vehicle_id")
	}
	if a.DepotID == "" && a.AvailableStalls == nil {
		fields = append(fields, "depot_id")
	}
	if a.SoC == nil || *a.SoC < 0 || *a.SoC > 1 {
		fields = append(fields, "soc")
	}
	for svc, minutes := range a.ServiceDurations {
		if !svc.Valid() || minutes < 1 {
			fields = append(fields, "service_durations")
			break
		}
	}
	return fields
}

type handler struct {
	svc Service
}

// Register mounts the pipeline routes on r.
func Register(r *mux.Router, svc Service) {
	h := handler{svc: svc}
	r.HandleFunc("/api/pipelines", h.list).Methods(http.MethodGet)
	r.HandleFunc("/api/pipelines/arrival", h.arrival).Methods(http.MethodPost)
	r.HandleFunc("/api/pipelines/events", h.events).Methods(http.MethodGet)
	r.HandleFunc("/api/pipelines/counts", h.counts).Methods(http.MethodGet)
	r.HandleFunc("/api/pipelines/{vehicle_id}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/api/pipelines/{vehicle_id}/advance", h.advance).Methods(http.MethodPost)
	r.HandleFunc("/api/pipelines/{vehicle_id}/deploy", h.deploy).Methods(http.MethodPost)
}

func (h handler) arrival(w http.ResponseWriter, r *http.Request) {
	var req ArrivalRequest
	if err := httpx.Decode(r, &req, false); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if fields := req.invalidFields(); len(fields) > 0 {
		httpx.JSON(w, http.StatusBadRequest, httpx.ErrorBody{Error: "validation failed", Fields: fields})
		return
	}
	v := model.Vehicle{ID: req.VehicleID, DepotID: req.DepotID, SoC: *req.SoC, IsMember: req.IsMember}
	p, err := h.svc.TriggerArrival(r.Context(), v, req.AvailableStalls, req.ServiceDurations)
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h handler) advance(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.AdvancePipeline(r.Context(), mux.Vars(r)["vehicle_id"])
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h handler) deploy(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.DeployVehicle(r.Context(), mux.Vars(r)["vehicle_id"])
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h handler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(mux.Vars(r)["vehicle_id"])
	if err != nil {
		httpx.Fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h handler) list(w http.ResponseWriter, r *http.Request) {
	state := model.PipelineState(r.URL.Query().Get("state"))
	out := []model.ServicePipeline{}
	for _, p := range h.svc.List() {
		if state == "" || p.State == state {
			out = append(out, p)
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h handler) events(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.IntParam(r, "limit", pipeline.DefaultEventLogCapacity)
	if err != nil || limit < 1 {
		httpx.Error(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	evs := h.svc.Events(limit)
	if evs == nil {
		evs = []model.TransitionEvent{}
	}
	httpx.JSON(w, http.StatusOK, evs)
}

func (h handler) counts(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, h.svc.StateCounts())
}
