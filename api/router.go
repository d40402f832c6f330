// Package api assembles the HTTP surface of the depot scheduler.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kilianp07/depotsched/api/forecast"
	"github.com/kilianp07/depotsched/api/httpx"
	"github.com/kilianp07/depotsched/api/jobs"
	"github.com/kilianp07/depotsched/api/journal"
	"github.com/kilianp07/depotsched/api/pipelines"
	"github.com/kilianp07/depotsched/api/stalls"
	"github.com/kilianp07/depotsched/core/clock"
	coreforecast "github.com/kilianp07/depotsched/core/forecast"
	corejournal "github.com/kilianp07/depotsched/core/journal"
	"github.com/kilianp07/depotsched/core/logger"
	"github.com/kilianp07/depotsched/core/model"
)

// BusStats exposes event bus health.
type BusStats interface {
	Dropped() uint64
	Subscribers() int
}

// Deps are the services behind the routes. Journal and Bus are optional.
type Deps struct {
	Stalls       stalls.Service
	Jobs         jobs.Service
	Pipelines    pipelines.Service
	Forecaster   *coreforecast.Forecaster
	FleetSize    int
	Journal      corejournal.Store
	JournalToken string
	Bus          BusStats
	Clock        clock.Clock
	Logger       logger.Logger
}

// Health is the /healthz payload.
type Health struct {
	Status         string `json:"status"`
	BusDropped     uint64 `json:"bus_dropped"`
	BusSubscribers int    `json:"bus_subscribers"`
	LivePipelines  int    `json:"live_pipelines"`
}

// NewRouter wires every route group with panic recovery and request logging.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(httpx.Recover, httpx.Logging(d.Logger))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		h := Health{Status: "ok"}
		if d.Bus != nil {
			h.BusDropped = d.Bus.Dropped()
			h.BusSubscribers = d.Bus.Subscribers()
		}
		if d.Pipelines != nil {
			h.LivePipelines = len(d.Pipelines.List())
		}
		httpx.JSON(w, http.StatusOK, h)
	}).Methods(http.MethodGet)

	stalls.Register(r, d.Stalls)
	jobs.Register(r, d.Jobs)
	pipelines.Register(r, d.Pipelines)
	forecast.Register(r, forecast.Options{
		Forecaster: d.Forecaster,
		Clock:      d.Clock,
		FleetSize:  d.FleetSize,
		Staged: func() int {
			return d.Pipelines.StateCounts()[model.PipelineStaging]
		},
	})
	if d.Journal != nil {
		journal.Register(r, d.Journal, d.JournalToken)
	}
	return r
}
