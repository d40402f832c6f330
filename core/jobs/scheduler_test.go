package jobs

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/depotsched/core/clock"
	"github.com/kilianp07/depotsched/core/events"
	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/core/resource"
	"github.com/kilianp07/depotsched/core/store"
	"github.com/kilianp07/depotsched/infra/store/memory"
	"github.com/kilianp07/depotsched/internal/eventbus"
)

var t0 = time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu       sync.Mutex
	statuses map[string][]model.VehicleStatus
}

func (r *recordingNotifier) NotifyVehicleStatus(_ context.Context, id string, s model.VehicleStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statuses == nil {
		r.statuses = map[string][]model.VehicleStatus{}
	}
	r.statuses[id] = append(r.statuses[id], s)
	return nil
}

type fixture struct {
	sched    *Scheduler
	store    Store
	mem      *memory.Store
	clock    *clock.Manual
	bus      *eventbus.Bus
	notifier *recordingNotifier
}

func newFixture(t *testing.T, st Store, stalls ...model.Stall) fixture {
	t.Helper()
	mem := memory.New()
	if st == nil {
		st = mem
	}
	for _, s := range stalls {
		require.NoError(t, st.PutStall(context.Background(), s))
	}
	clk := clock.NewManual(t0)
	bus := eventbus.New()
	rm, err := resource.NewManager(st, clk, bus, nil)
	require.NoError(t, err)
	n := &recordingNotifier{}
	sched, err := NewScheduler(Config{BatchSize: 20}, st, rm, n, clk, rand.New(rand.NewSource(7)), bus, nil)
	require.NoError(t, err)
	return fixture{sched: sched, store: st, mem: mem, clock: clk, bus: bus, notifier: n}
}

func chargeStall(id string, num int) model.Stall {
	return model.Stall{ID: id, DepotID: "d1", StallNumber: num, StallType: model.StallChargeStandard, Status: model.StallAvailable}
}

func TestSampleETAWithinProfile(t *testing.T) {
	f := newFixture(t, nil)
	for _, jt := range []model.JobType{model.JobCharge, model.JobDetailing, model.JobMaintenance, model.JobDowntimePark} {
		p := jt.DurationProfile()
		for i := 0; i < 500; i++ {
			eta := f.sched.SampleETA(jt)
			if eta < p.AvgSeconds-p.VarianceSeconds || eta > p.AvgSeconds+p.VarianceSeconds {
				t.Fatalf("%s eta %d outside profile %+v", jt, eta, p)
			}
		}
	}
}

func TestScheduleChargeJob(t *testing.T) {
	f := newFixture(t, nil, chargeStall("s1", 1))
	ctx := context.Background()
	sub := f.bus.Subscribe()
	job, err := f.sched.CreateJob(ctx, JobRequest{VehicleID: "v1", DepotID: "d1", JobType: model.JobCharge})
	require.NoError(t, err)

	res, err := f.sched.ScheduleJob(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, model.JobScheduled, res.State)
	assert.Equal(t, "s1", res.ResourceID)
	assert.Equal(t, model.StallChargeStandard, res.ResourceType)
	assert.Equal(t, 1, res.ResourceIndex)
	assert.GreaterOrEqual(t, res.ETASeconds, 1800)
	assert.LessOrEqual(t, res.ETASeconds, 3000)

	st, _ := f.store.GetStall(ctx, "s1")
	assert.Equal(t, model.StallReserved, st.Status)
	assert.Equal(t, job.ID, st.CurrentJobID)
	v, err := f.store.GetVehicle(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, model.VehicleEnRoute, v.Status)
	assert.Equal(t, []model.VehicleStatus{model.VehicleEnRoute}, f.notifier.statuses["v1"])

	ev := (<-sub).(events.JobEvent)
	assert.Equal(t, events.JobScheduled, ev.Type)
	assert.Equal(t, "s1", ev.ResourceID)

	again, err := f.sched.ScheduleJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, again.Success)
	assert.Equal(t, res.ETASeconds, again.ETASeconds)
}

func TestScheduleNoResourceStampsRetry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	job, err := f.sched.CreateJob(ctx, JobRequest{VehicleID: "v1", DepotID: "d1", JobType: model.JobMaintenance})
	require.NoError(t, err)
	res, err := f.sched.ScheduleJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Retry)
	assert.Equal(t, ReasonNoResource, res.Reason)

	got, _ := f.store.GetJob(ctx, job.ID)
	assert.Equal(t, model.JobPending, got.State)
	assert.Equal(t, "no_resource_available", got.Metadata[MetaScheduleStatus])
	assert.Equal(t, "true", got.Metadata[MetaRetry])
}

func TestScheduleUnknownJob(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.sched.ScheduleJob(context.Background(), "nope")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

// racingStore loses every stall compare-and-swap.
type racingStore struct{ *memory.Store }

func (racingStore) CompareAndSwapStall(context.Context, model.StallStatus, model.Stall) (bool, error) {
	return false, nil
}

func TestScheduleLostRaceLeavesJobUntouched(t *testing.T) {
	f := newFixture(t, racingStore{memory.New()}, chargeStall("s1", 1))
	ctx := context.Background()
	job, err := f.sched.CreateJob(ctx, JobRequest{VehicleID: "v1", DepotID: "d1", JobType: model.JobCharge})
	require.NoError(t, err)
	res, err := f.sched.ScheduleJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, res.Retry)
	assert.Equal(t, ReasonResourceRace, res.Reason)
	got, _ := f.store.GetJob(ctx, job.ID)
	assert.Equal(t, model.JobPending, got.State)
	assert.Empty(t, got.ResourceID)
	assert.Equal(t, job.UpdatedAt, got.UpdatedAt)
}

// failingJobStore errors on every job compare-and-swap.
type failingJobStore struct{ *memory.Store }

func (failingJobStore) CompareAndSwapJob(context.Context, model.JobState, model.Job) (bool, error) {
	return false, errors.New("connection reset")
}

func TestScheduleRollsBackStallWhenJobUpdateFails(t *testing.T) {
	f := newFixture(t, failingJobStore{memory.New()}, chargeStall("s1", 1))
	ctx := context.Background()
	job, err := f.sched.CreateJob(ctx, JobRequest{VehicleID: "v1", DepotID: "d1", JobType: model.JobCharge})
	require.NoError(t, err)
	_, err = f.sched.ScheduleJob(ctx, job.ID)
	require.Error(t, err)
	st, _ := f.store.GetStall(ctx, "s1")
	assert.Equal(t, model.StallAvailable, st.Status)
	assert.Empty(t, st.CurrentJobID)
}

func TestSweepActivatesDueJobs(t *testing.T) {
	f := newFixture(t, nil, chargeStall("s1", 1))
	ctx := context.Background()
	job, _ := f.sched.CreateJob(ctx, JobRequest{VehicleID: "v1", DepotID: "d1", JobType: model.JobCharge})
	_, err := f.sched.ScheduleJob(ctx, job.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	sum, err := f.sched.ProcessTransitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Activated)

	got, _ := f.store.GetJob(ctx, job.ID)
	assert.Equal(t, model.JobActive, got.State)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(t0.Add(time.Second)))
	st, _ := f.store.GetStall(ctx, "s1")
	assert.Equal(t, model.StallOccupied, st.Status)
	v, _ := f.store.GetVehicle(ctx, "v1")
	assert.Equal(t, model.VehicleInService, v.Status)
}

func TestSweepSkipsFutureJobs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	future := t0.Add(time.Hour)
	require.NoError(t, f.store.CreateJob(ctx, model.Job{ID: "j1", VehicleID: "v1", DepotID: "d1", JobType: model.JobCharge,
		State: model.JobScheduled, ScheduledStartAt: &future, CreatedAt: t0}))
	sum, err := f.sched.ProcessTransitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Activated)
}

func TestSweepCompletesElapsedJobs(t *testing.T) {
	busy := chargeStall("s1", 1)
	busy.Status = model.StallOccupied
	busy.CurrentVehicleID = "v1"
	busy.CurrentJobID = "j1"
	f := newFixture(t, nil, busy)
	ctx := context.Background()
	started := t0.Add(-2500 * time.Second)
	eta := 2400
	require.NoError(t, f.store.CreateJob(ctx, model.Job{ID: "j1", VehicleID: "v1", DepotID: "d1", JobType: model.JobCharge,
		State: model.JobActive, ResourceID: "s1", StartedAt: &started, ETASeconds: &eta, CreatedAt: t0}))
	sub := f.bus.Subscribe()

	sum, err := f.sched.ProcessTransitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Completed)

	got, _ := f.store.GetJob(ctx, "j1")
	assert.Equal(t, model.JobCompleted, got.State)
	assert.Empty(t, got.ResourceID)
	assert.Equal(t, "s1", got.Metadata[MetaReleasedResource])
	st, _ := f.store.GetStall(ctx, "s1")
	assert.Equal(t, model.StallAvailable, st.Status)
	assert.Empty(t, st.CurrentVehicleID)
	v, _ := f.store.GetVehicle(ctx, "v1")
	assert.Equal(t, model.VehicleIdle, v.Status)

	var completed *events.JobEvent
	for completed == nil {
		if ev, ok := (<-sub).(events.JobEvent); ok && ev.Type == events.JobCompleted {
			completed = &ev
		}
	}
	assert.Equal(t, 2500*time.Second, completed.Duration)
}

func TestSweepBatchBound(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	past := t0.Add(-time.Minute)
	for i := 0; i < 25; i++ {
		require.NoError(t, f.store.CreateJob(ctx, model.Job{ID: string(rune('a' + i)), VehicleID: "v", DepotID: "d1",
			JobType: model.JobCharge, State: model.JobScheduled, ScheduledStartAt: &past, CreatedAt: t0}))
	}
	sum, err := f.sched.ProcessTransitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, sum.Activated)
	sum, err = f.sched.ProcessTransitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Activated)
}

func TestCancelReleasesOnce(t *testing.T) {
	f := newFixture(t, nil, chargeStall("s1", 1))
	ctx := context.Background()
	job, _ := f.sched.CreateJob(ctx, JobRequest{VehicleID: "v1", DepotID: "d1", JobType: model.JobCharge})
	_, err := f.sched.ScheduleJob(ctx, job.ID)
	require.NoError(t, err)

	got, err := f.sched.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, got.State)
	assert.NotNil(t, got.CancelledAt)
	st, _ := f.store.GetStall(ctx, "s1")
	assert.Equal(t, model.StallAvailable, st.Status)

	// another vehicle takes the stall; a second cancel must not free it
	other, _ := f.sched.CreateJob(ctx, JobRequest{VehicleID: "v2", DepotID: "d1", JobType: model.JobCharge})
	_, err = f.sched.ScheduleJob(ctx, other.ID)
	require.NoError(t, err)
	_, err = f.sched.CancelJob(ctx, job.ID)
	assert.True(t, errors.Is(err, ErrIllegalTransition))
	st, _ = f.store.GetStall(ctx, "s1")
	assert.Equal(t, model.StallReserved, st.Status)
	assert.Equal(t, other.ID, st.CurrentJobID)
}

func TestCancelPendingJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	job, _ := f.sched.CreateJob(ctx, JobRequest{VehicleID: "v1", DepotID: "d1", JobType: model.JobDetailing})
	got, err := f.sched.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, got.State)
	res, err := f.sched.ScheduleJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, res.State)
}

func TestRunPendingSchedulesBatch(t *testing.T) {
	f := newFixture(t, nil, chargeStall("s1", 1), chargeStall("s2", 2))
	ctx := context.Background()
	for _, v := range []string{"v1", "v2", "v3"} {
		_, err := f.sched.CreateJob(ctx, JobRequest{VehicleID: v, DepotID: "d1", JobType: model.JobCharge})
		require.NoError(t, err)
	}
	results, err := f.sched.RunPending(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
	assert.False(t, results[2].Success)
	assert.True(t, results[2].Retry)
	assert.NotEqual(t, results[0].ResourceID, results[1].ResourceID)
}

func TestCreateJobValidation(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.sched.CreateJob(context.Background(), JobRequest{JobType: "WASH"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"vehicle_id", "depot_id", "job_type"}, verr.Fields)
}

func TestConcurrentScheduleSingleStall(t *testing.T) {
	f := newFixture(t, nil, chargeStall("s1", 1))
	ctx := context.Background()
	var ids []string
	for i := 0; i < 8; i++ {
		j, err := f.sched.CreateJob(ctx, JobRequest{VehicleID: "v", DepotID: "d1", JobType: model.JobCharge})
		require.NoError(t, err)
		ids = append(ids, j.ID)
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := f.sched.ScheduleJob(ctx, id)
			assert.NoError(t, err)
			if res.Success && res.State == model.JobScheduled {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestStallReassignedBeforeActivationIsNotReleased(t *testing.T) {
	f := newFixture(t, nil, chargeStall("s1", 1))
	ctx := context.Background()
	rm, err := resource.NewManager(f.store, f.clock, f.bus, nil)
	require.NoError(t, err)
	job, _ := f.sched.CreateJob(ctx, JobRequest{VehicleID: "vA", DepotID: "d1", JobType: model.JobCharge})
	_, err = f.sched.ScheduleJob(ctx, job.ID)
	require.NoError(t, err)

	_, err = rm.MarkStallMaintenance(ctx, "s1", true)
	require.NoError(t, err)
	_, err = rm.MarkStallMaintenance(ctx, "s1", false)
	require.NoError(t, err)
	alloc, err := rm.AllocateStall(ctx, resource.AllocationRequest{VehicleID: "vB", DepotID: "d1", StallType: model.StallChargeStandard, Urgency: 50})
	require.NoError(t, err)
	require.True(t, alloc.Success)

	f.clock.Advance(time.Second)
	sum, err := f.sched.ProcessTransitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Activated)
	assert.Equal(t, 1, sum.Failed)

	got, _ := f.store.GetJob(ctx, job.ID)
	assert.Equal(t, model.JobCancelled, got.State)
	assert.Empty(t, got.ResourceID)
	assert.Equal(t, "s1", got.Metadata[MetaLostResource])

	f.clock.Advance(2 * time.Hour)
	_, err = f.sched.ProcessTransitions(ctx)
	require.NoError(t, err)
	st, _ := f.store.GetStall(ctx, "s1")
	assert.Equal(t, model.StallReserved, st.Status)
	assert.Equal(t, "vB", st.CurrentVehicleID)
}

func TestCompletionLeavesReassignedStall(t *testing.T) {
	taken := chargeStall("s1", 1)
	taken.Status = model.StallOccupied
	taken.CurrentVehicleID = "v2"
	taken.CurrentJobID = "j2"
	f := newFixture(t, nil, taken)
	ctx := context.Background()
	started := t0.Add(-2500 * time.Second)
	eta := 2400
	require.NoError(t, f.store.CreateJob(ctx, model.Job{ID: "j1", VehicleID: "v1", DepotID: "d1", JobType: model.JobCharge,
		State: model.JobActive, ResourceID: "s1", StartedAt: &started, ETASeconds: &eta, CreatedAt: t0}))

	sum, err := f.sched.ProcessTransitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Completed)
	st, _ := f.store.GetStall(ctx, "s1")
	assert.Equal(t, model.StallOccupied, st.Status)
	assert.Equal(t, "j2", st.CurrentJobID)
	assert.Equal(t, "v2", st.CurrentVehicleID)
}

func TestCancelLeavesReassignedStall(t *testing.T) {
	taken := chargeStall("s1", 1)
	taken.Status = model.StallReserved
	taken.CurrentVehicleID = "v2"
	f := newFixture(t, nil, taken)
	ctx := context.Background()
	start := t0.Add(time.Hour)
	require.NoError(t, f.store.CreateJob(ctx, model.Job{ID: "j1", VehicleID: "v1", DepotID: "d1", JobType: model.JobCharge,
		State: model.JobScheduled, ResourceID: "s1", ScheduledStartAt: &start, CreatedAt: t0}))

	got, err := f.sched.CancelJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, got.State)
	st, _ := f.store.GetStall(ctx, "s1")
	assert.Equal(t, model.StallReserved, st.Status)
	assert.Equal(t, "v2", st.CurrentVehicleID)
}
