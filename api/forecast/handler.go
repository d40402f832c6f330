// Package forecast exposes demand forecasts and energy arbitrage over HTTP.
package forecast

import (
	"math"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kilianp07/depotsched/api/httpx"
	"github.com/kilianp07/depotsched/core/clock"
	coreforecast "github.com/kilianp07/depotsched/core/forecast"
)

// StagedCounter reports how many vehicles are ready to deploy.
type StagedCounter func() int

// Options wires the forecast handlers.
type Options struct {
	Forecaster *coreforecast.Forecaster
	Clock      clock.Clock
	// Staged supplies the default for the staged query parameter.
	Staged StagedCounter
	// FleetSize is the default for the fleet query parameter.
	FleetSize int
}

type handler struct {
	opts Options
}

// Register mounts the forecast routes on r.
func Register(r *mux.Router, opts Options) {
	if opts.Forecaster == nil {
		opts.Forecaster = coreforecast.NewForecaster()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	h := handler{opts: opts}
	r.HandleFunc("/api/forecast/demand", h.demand).Methods(http.MethodGet)
	r.HandleFunc("/api/forecast/energy", h.energy).Methods(http.MethodGet)
	r.HandleFunc("/api/forecast/surge", h.getSurge).Methods(http.MethodGet)
	r.HandleFunc("/api/forecast/surge", h.setSurge).Methods(http.MethodPut, http.MethodPost)
}

func (h handler) demand(w http.ResponseWriter, r *http.Request) {
	m, err := httpx.FloatParam(r, "multiplier")
	if err != nil || m != nil && (*m <= 0 || math.IsNaN(*m) || math.IsInf(*m, 0)) {
		httpx.Error(w, http.StatusBadRequest, "multiplier must be a positive number")
		return
	}
	def := 0
	if h.opts.Staged != nil {
		def = h.opts.Staged()
	}
	staged, err := httpx.IntParam(r, "staged", def)
	if err != nil || staged < 0 {
		httpx.Error(w, http.StatusBadRequest, "staged must be a non-negative integer")
		return
	}
	httpx.JSON(w, http.StatusOK, h.opts.Forecaster.Forecast(h.opts.Clock.Now(), staged, m))
}

func (h handler) energy(w http.ResponseWriter, r *http.Request) {
	fleet, err := httpx.IntParam(r, "fleet", h.opts.FleetSize)
	if err != nil || fleet < 0 {
		httpx.Error(w, http.StatusBadRequest, "fleet must be a non-negative integer")
		return
	}
	httpx.JSON(w, http.StatusOK, coreforecast.ComputeArbitrage(fleet, h.opts.Clock.Now()))
}

type surgeBody struct {
	Multiplier float64 `json:"multiplier"`
}

func (h handler) getSurge(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, surgeBody{Multiplier: h.opts.Forecaster.SurgeMultiplier()})
}

func (h handler) setSurge(w http.ResponseWriter, r *http.Request) {
	var body surgeBody
	if err := httpx.Decode(r, &body, false); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.opts.Forecaster.SetSurgeMultiplier(body.Multiplier); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, body)
}
