package stalls

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/kilianp07/depotsched/api/httpx"
	"github.com/kilianp07/depotsched/core/clock"
	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/core/resource"
	"github.com/kilianp07/depotsched/infra/store/memory"
)

func newRouter(t *testing.T, stalls ...model.Stall) (*mux.Router, *memory.Store) {
	t.Helper()
	st := memory.New()
	for _, s := range stalls {
		if err := st.PutStall(context.Background(), s); err != nil {
			t.Fatalf("put stall: %v", err)
		}
	}
	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	mgr, err := resource.NewManager(st, clk, nil, nil)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	r := mux.NewRouter()
	Register(r, mgr)
	return r, st
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(method, path, &buf))
	return rr
}

func fast(id string, num int) model.Stall {
	kw := 150.0
	return model.Stall{ID: id, DepotID: "d1", StallNumber: num, StallType: model.StallChargeFast, Status: model.StallAvailable, ChargerPowerKW: &kw}
}

func TestAllocateCreated(t *testing.T) {
	r, _ := newRouter(t, fast("s21", 21))
	rr := do(r, http.MethodPost, "/api/stalls/allocate", resource.AllocationRequest{
		VehicleID: "v1", DepotID: "d1", StallType: model.StallChargeFast, Urgency: 90})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", rr.Code, rr.Body.String())
	}
	var res resource.AllocationResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Success || res.StallNumber != 21 {
		t.Fatalf("unexpected result %#v", res)
	}

	rr = do(r, http.MethodPost, "/api/stalls/allocate", resource.AllocationRequest{
		VehicleID: "v2", DepotID: "d1", StallType: model.StallChargeFast, Urgency: 90})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rr.Code)
	}
}

func TestAllocateNoStallsOfType(t *testing.T) {
	r, _ := newRouter(t, fast("s21", 21))
	rr := do(r, http.MethodPost, "/api/stalls/allocate", resource.AllocationRequest{
		VehicleID: "v1", DepotID: "d1", StallType: model.StallServiceBay})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestAllocateValidationListsFields(t *testing.T) {
	r, _ := newRouter(t)
	rr := do(r, http.MethodPost, "/api/stalls/allocate", map[string]any{"stall_type": "charge_fast", "urgency": 101})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
	var body httpx.ErrorBody
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if len(body.Fields) != 3 {
		t.Fatalf("expected vehicle_id, depot_id and urgency, got %v", body.Fields)
	}
	rr = do(r, http.MethodPost, "/api/stalls/allocate", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty body should be rejected, got %d", rr.Code)
	}
}

func TestReleaseAndMaintenance(t *testing.T) {
	occupied := fast("s21", 21)
	occupied.Status = model.StallOccupied
	occupied.CurrentVehicleID = "v1"
	r, st := newRouter(t, occupied)

	for i := 0; i < 2; i++ {
		rr := do(r, http.MethodPost, "/api/stalls/s21/release", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("release %d: status %d", i, rr.Code)
		}
	}
	got, _ := st.GetStall(context.Background(), "s21")
	if got.Status != model.StallAvailable || got.CurrentVehicleID != "" {
		t.Fatalf("stall not released %#v", got)
	}

	rr := do(r, http.MethodPost, "/api/stalls/s21/maintenance", map[string]bool{"offline": true})
	if rr.Code != http.StatusOK {
		t.Fatalf("maintenance status %d", rr.Code)
	}
	got, _ = st.GetStall(context.Background(), "s21")
	if got.Status != model.StallMaintenance {
		t.Fatalf("expected maintenance got %s", got.Status)
	}
	if rr := do(r, http.MethodPost, "/api/stalls/s21/maintenance", map[string]any{}); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing offline should be rejected, got %d", rr.Code)
	}
	if rr := do(r, http.MethodPost, "/api/stalls/ghost/release", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestTransitionQueues(t *testing.T) {
	from := fast("s21", 21)
	from.Status = model.StallOccupied
	from.CurrentVehicleID = "v1"
	bay := model.Stall{ID: "s43", DepotID: "d1", StallNumber: 43, StallType: model.StallServiceBay, Status: model.StallOccupied, CurrentVehicleID: "v9"}
	r, _ := newRouter(t, from, bay)
	rr := do(r, http.MethodPost, "/api/stalls/transition", resource.TransitionRequest{
		VehicleID: "v1", FromStallID: "s21", ToStallType: model.StallServiceBay, DepotID: "d1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var res resource.TransitionResult
	_ = json.Unmarshal(rr.Body.Bytes(), &res)
	if !res.Released || !res.QueuedForWait || res.EstimatedWaitSeconds != 600 {
		t.Fatalf("unexpected transition %#v", res)
	}
}

func TestListAndMetrics(t *testing.T) {
	busy := fast("s22", 22)
	busy.Status = model.StallOccupied
	busy.CurrentVehicleID = "v2"
	r, _ := newRouter(t, fast("s21", 21), busy)

	rr := do(r, http.MethodGet, "/api/stalls?depot_id=d1&status=available", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var stalls []model.Stall
	_ = json.Unmarshal(rr.Body.Bytes(), &stalls)
	if len(stalls) != 1 || stalls[0].ID != "s21" {
		t.Fatalf("unexpected stalls %#v", stalls)
	}
	if rr := do(r, http.MethodGet, "/api/stalls?status=broken", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}

	rr = do(r, http.MethodGet, "/api/depots/d1/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var m resource.DepotMetrics
	_ = json.Unmarshal(rr.Body.Bytes(), &m)
	if len(m.Types) != 1 || m.Types[0].Total != 2 || m.Types[0].UtilizationPct != 50 {
		t.Fatalf("unexpected metrics %#v", m)
	}
}
