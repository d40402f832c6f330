package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/core/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStallRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	kw := 150.0
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	in := model.Stall{ID: "s1", DepotID: "d1", StallNumber: 21, StallType: model.StallChargeFast,
		Status: model.StallOccupied, ChargerPowerKW: &kw, CurrentVehicleID: "v1", SessionStartedAt: &started}
	require.NoError(t, s.PutStall(ctx, in))

	out, err := s.GetStall(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, in.StallType, out.StallType)
	assert.Equal(t, "v1", out.CurrentVehicleID)
	require.NotNil(t, out.ChargerPowerKW)
	assert.Equal(t, 150.0, *out.ChargerPowerKW)
	require.NotNil(t, out.SessionStartedAt)
	assert.True(t, out.SessionStartedAt.Equal(started))

	_, err = s.GetStall(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestSQLiteCompareAndSwapLosesRace(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.PutStall(ctx, model.Stall{ID: "s1", DepotID: "d1", StallNumber: 1,
		StallType: model.StallServiceBay, Status: model.StallAvailable}))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := model.Stall{ID: "s1", DepotID: "d1", StallNumber: 1, StallType: model.StallServiceBay,
				Status: model.StallReserved, CurrentVehicleID: fmt.Sprintf("v%d", i)}
			ok, err := s.CompareAndSwapStall(ctx, model.StallAvailable, next)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)

	_, err := s.CompareAndSwapStall(ctx, model.StallAvailable, model.Stall{ID: "ghost"})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestSQLiteListStallsByTypes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for i, st := range []model.StallType{model.StallChargeStandard, model.StallChargeFast, model.StallCleanDetail} {
		require.NoError(t, s.PutStall(ctx, model.Stall{ID: fmt.Sprintf("s%d", i), DepotID: "d1",
			StallNumber: i + 1, StallType: st, Status: model.StallAvailable}))
	}
	got, err := s.ListStalls(ctx, store.StallFilter{DepotID: "d1", Types: model.StallChargeFast.MatchingTypes(), Status: model.StallAvailable})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s0", got[0].ID)
	assert.Equal(t, "s1", got[1].ID)
}

func TestSQLiteJobLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	j := model.Job{ID: "j1", VehicleID: "v1", DepotID: "d1", JobType: model.JobCharge,
		State: model.JobPending, CreatedAt: now, UpdatedAt: now, Metadata: map[string]string{"source": "test"}}
	require.NoError(t, s.CreateJob(ctx, j))

	eta := 2400
	next := j.Clone()
	next.State = model.JobScheduled
	next.ResourceID = "s1"
	next.ETASeconds = &eta
	next.ScheduledStartAt = &now
	ok, err := s.CompareAndSwapJob(ctx, model.JobPending, next)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CompareAndSwapJob(ctx, model.JobPending, next)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobScheduled, got.State)
	require.NotNil(t, got.ETASeconds)
	assert.Equal(t, 2400, *got.ETASeconds)
	assert.Equal(t, "test", got.Metadata["source"])

	list, err := s.ListJobs(ctx, store.JobFilter{State: model.JobScheduled, Limit: 5})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLiteVehicleStatus(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.PutVehicle(ctx, model.Vehicle{ID: "v1", DepotID: "d1", SoC: 0.4, IsMember: true}))
	require.NoError(t, s.SetVehicleStatus(ctx, "v1", model.VehicleInService))
	v, err := s.GetVehicle(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, model.VehicleInService, v.Status)
	assert.True(t, v.IsMember)
	assert.InDelta(t, 0.4, v.SoC, 1e-9)
}

func TestSQLiteCompareAndSwapStallFor(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	held := model.Stall{ID: "s1", DepotID: "d1", StallNumber: 1, StallType: model.StallChargeStandard,
		Status: model.StallOccupied, CurrentVehicleID: "v1", CurrentJobID: "j1"}
	require.NoError(t, s.PutStall(ctx, held))

	ok, err := s.CompareAndSwapStallFor(ctx, model.StallOccupied, "j2", held.Vacated(model.StallAvailable))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndSwapStallFor(ctx, model.StallOccupied, "j1", held.Vacated(model.StallAvailable))
	require.NoError(t, err)
	assert.True(t, ok)
	got, err := s.GetStall(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got.CurrentJobID)
}
