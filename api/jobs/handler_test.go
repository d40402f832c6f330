package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/depotsched/api/httpx"
	"github.com/kilianp07/depotsched/core/clock"
	corejobs "github.com/kilianp07/depotsched/core/jobs"
	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/core/resource"
	"github.com/kilianp07/depotsched/infra/store/memory"
)

type env struct {
	router *mux.Router
	store  *memory.Store
	clock  *clock.Manual
}

func newEnv(t *testing.T, stalls ...model.Stall) env {
	t.Helper()
	st := memory.New()
	for _, s := range stalls {
		require.NoError(t, st.PutStall(context.Background(), s))
	}
	clk := clock.NewManual(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	rm, err := resource.NewManager(st, clk, nil, nil)
	require.NoError(t, err)
	sched, err := corejobs.NewScheduler(corejobs.Config{}, st, rm, nil, clk, rand.New(rand.NewSource(3)), nil, nil)
	require.NoError(t, err)
	r := mux.NewRouter()
	Register(r, sched)
	return env{router: r, store: st, clock: clk}
}

func (e env) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, httptest.NewRequest(method, path, &buf))
	return rr
}

func (e env) createJob(t *testing.T, jobType model.JobType) model.Job {
	t.Helper()
	rr := e.do(http.MethodPost, "/jobs", corejobs.JobRequest{VehicleID: "v1", DepotID: "d1", JobType: jobType})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var j model.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &j))
	return j
}

func bay(id string, num int) model.Stall {
	return model.Stall{ID: id, DepotID: "d1", StallNumber: num, StallType: model.StallServiceBay, Status: model.StallAvailable}
}

func TestCreateJobValidation(t *testing.T) {
	e := newEnv(t)
	rr := e.do(http.MethodPost, "/jobs", map[string]string{"job_type": "teleport"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body httpx.ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.ElementsMatch(t, []string{"vehicle_id", "depot_id", "job_type"}, body.Fields)
}

func TestScheduleLifecycle(t *testing.T) {
	e := newEnv(t, bay("s43", 43))
	j := e.createJob(t, model.JobMaintenance)
	assert.Equal(t, model.JobPending, j.State)

	rr := e.do(http.MethodPost, "/jobs/"+j.ID+"/schedule", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res corejobs.ScheduleResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "s43", res.ResourceID)
	assert.Equal(t, model.StallServiceBay, res.ResourceType)
	assert.Equal(t, 43, res.ResourceIndex)
	assert.NotNil(t, res.ScheduledStartAt)
	assert.Positive(t, res.ETASeconds)

	rr = e.do(http.MethodPost, "/scheduler/tick", map[string]bool{"process_transitions": true})
	require.Equal(t, http.StatusOK, rr.Code)
	var tick TickResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tick))
	assert.Equal(t, "Transitions processed", tick.Message)
	assert.Equal(t, 1, tick.Activated)

	e.clock.Advance(time.Duration(res.ETASeconds+1) * time.Second)
	rr = e.do(http.MethodPost, "/scheduler/tick", nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tick))
	assert.Equal(t, 1, tick.Completed)

	rr = e.do(http.MethodPost, "/jobs/"+j.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = e.do(http.MethodGet, "/jobs?state=COMPLETED", nil)
	var list []model.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, j.ID, list[0].ID)
}

func TestScheduleWithoutResourceAsksForRetry(t *testing.T) {
	e := newEnv(t)
	j := e.createJob(t, model.JobCharge)
	rr := e.do(http.MethodPost, "/jobs/"+j.ID+"/schedule", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	var res corejobs.ScheduleResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.True(t, res.Retry)
	assert.Equal(t, corejobs.ReasonNoResource, res.Reason)
}

func TestUnknownJob(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/jobs/nope/schedule", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/jobs/nope/cancel", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/jobs/nope", nil).Code)
}

func TestCancelReleasesStall(t *testing.T) {
	e := newEnv(t, bay("s43", 43))
	j := e.createJob(t, model.JobMaintenance)
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/jobs/"+j.ID+"/schedule", nil).Code)

	rr := e.do(http.MethodPost, "/jobs/"+j.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got model.Job
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, model.JobCancelled, got.State)
	st, err := e.store.GetStall(context.Background(), "s43")
	require.NoError(t, err)
	assert.Equal(t, model.StallAvailable, st.Status)
}

func TestRunPendingBatch(t *testing.T) {
	e := newEnv(t, bay("s43", 43))
	e.createJob(t, model.JobMaintenance)
	e.createJob(t, model.JobMaintenance)
	rr := e.do(http.MethodPost, "/scheduler/run", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var results []corejobs.ScheduleResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &results))
	require.Len(t, results, 2)
	wins := 0
	for _, r := range results {
		if r.Success {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}
