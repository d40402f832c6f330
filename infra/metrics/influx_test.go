package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/depotsched/core/metrics"
	"github.com/kilianp07/depotsched/core/model"
)

func captureServer(t *testing.T) (*httptest.Server, func() []string) {
	t.Helper()
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, strings.TrimSpace(string(b)))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), bodies...)
	}
}

func TestInfluxSink_RecordAllocation(t *testing.T) {
	srv, bodies := captureServer(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := coremetrics.AllocationRecord{
		DepotID:   "d1",
		StallType: model.StallChargeFast,
		Success:   false,
		Reason:    "All stalls occupied",
		Attempts:  1,
		Time:      now,
	}
	if err := sink.RecordAllocation(rec); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("allocation_event").
		AddTag("depot_id", "d1").
		AddTag("stall_type", "charge_fast").
		AddTag("success", "false").
		AddField("attempts", 1).
		AddField("reason", "All stalls occupied").
		SetTime(now)
	exp := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	got := bodies()
	if len(got) != 1 || got[0] != exp {
		t.Errorf("unexpected bodies: %#v", got)
	}
}

func TestInfluxSink_RecordJobTransition(t *testing.T) {
	srv, bodies := captureServer(t)
	sink := NewInfluxSink(srv.URL+"/api/v2/write", "token", "org", "bucket")
	defer sink.Close()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := coremetrics.JobTransitionRecord{
		JobID:    "j1",
		DepotID:  "d1",
		JobType:  model.JobCharge,
		From:     model.JobActive,
		To:       model.JobCompleted,
		Duration: 40 * time.Minute,
		Time:     now,
	}
	if err := sink.RecordJobTransition(rec); err != nil {
		t.Fatalf("record: %v", err)
	}
	p := write.NewPointWithMeasurement("job_transition").
		AddTag("depot_id", "d1").
		AddTag("job_type", string(model.JobCharge)).
		AddTag("from", string(model.JobActive)).
		AddTag("to", string(model.JobCompleted)).
		AddField("job_id", "j1").
		AddField("duration_s", 2400.0).
		SetTime(now)
	exp := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	got := bodies()
	if len(got) != 1 || got[0] != exp {
		t.Errorf("bodies: %#v", got)
	}
}

func TestInfluxSink_RecordUtilizationAndPipeline(t *testing.T) {
	srv, bodies := captureServer(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := sink.RecordDepotUtilization(coremetrics.UtilizationRecord{
		DepotID: "d1", StallType: model.StallServiceBay, Total: 4, Occupied: 3, Available: 1,
		UtilizationPct: 75, Time: now,
	}); err != nil {
		t.Fatalf("utilization: %v", err)
	}
	if err := sink.RecordPipelineTransition(coremetrics.PipelineTransitionRecord{
		DepotID: "d1", VehicleID: "v1", From: model.PipelineArrived, To: model.PipelineQueued, Time: now,
	}); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	got := bodies()
	if len(got) != 2 {
		t.Fatalf("expected two writes got %d", len(got))
	}
	if !strings.HasPrefix(got[0], "stall_utilization,depot_id=d1,stall_type=service_bay ") {
		t.Errorf("utilization body: %s", got[0])
	}
	if !strings.Contains(got[0], "utilization_pct=75") {
		t.Errorf("utilization pct missing: %s", got[0])
	}
	if !strings.HasPrefix(got[1], "pipeline_transition,depot_id=d1,from=ARRIVED,to=QUEUED ") {
		t.Errorf("pipeline body: %s", got[1])
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}
