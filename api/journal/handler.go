// Package journal exposes the archived scheduling history over HTTP.
package journal

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/kilianp07/depotsched/api/httpx"
	corejournal "github.com/kilianp07/depotsched/core/journal"
)

// Register mounts GET /api/journal on r.
func Register(r *mux.Router, store corejournal.Store, token string) {
	r.Handle("/api/journal", NewHandler(store, token)).Methods(http.MethodGet)
}

// NewHandler returns a handler querying the journal. Requests must carry an
// Authorization header with "Bearer <token>" when token is non-empty.
func NewHandler(store corejournal.Store, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			httpx.Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		params := r.URL.Query()
		q := corejournal.Query{
			Kind:      corejournal.Kind(params.Get("kind")),
			DepotID:   params.Get("depot_id"),
			VehicleID: params.Get("vehicle_id"),
			JobID:     params.Get("job_id"),
		}
		var err error
		if q.Start, err = timeParam(params.Get("start")); err != nil {
			httpx.Error(w, http.StatusBadRequest, "start must be RFC3339")
			return
		}
		if q.End, err = timeParam(params.Get("end")); err != nil {
			httpx.Error(w, http.StatusBadRequest, "end must be RFC3339")
			return
		}
		if q.Limit, err = httpx.IntParam(r, "limit", 100); err != nil || q.Limit < 0 {
			httpx.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			httpx.Fail(w, err)
			return
		}
		if records == nil {
			records = []corejournal.Record{}
		}
		httpx.JSON(w, http.StatusOK, records)
	})
}

func timeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
