package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/depotsched/core/events"
	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/internal/eventbus"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func sampleRecords() []Record {
	return []Record{
		{ID: "1", Timestamp: t0, Kind: KindJob, DepotID: "d1", VehicleID: "v1", JobID: "j1", Payload: json.RawMessage(`{}`)},
		{ID: "2", Timestamp: t0.Add(time.Minute), Kind: KindPipeline, DepotID: "d1", VehicleID: "v2", Payload: json.RawMessage(`{}`)},
		{ID: "3", Timestamp: t0.Add(2 * time.Minute), Kind: KindJob, DepotID: "d2", VehicleID: "v1", JobID: "j2", Payload: json.RawMessage(`{}`)},
	}
}

func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	for _, r := range sampleRecords() {
		require.NoError(t, st.Append(ctx, r))
	}

	all, err := st.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "1", all[0].ID)
	assert.True(t, all[2].Timestamp.Equal(t0.Add(2*time.Minute)))

	jobs, err := st.Query(ctx, Query{Kind: KindJob, VehicleID: "v1"})
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	window, err := st.Query(ctx, Query{Start: t0.Add(30 * time.Second), End: t0.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "2", window[0].ID)

	last, err := st.Query(ctx, Query{Limit: 1})
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "3", last[0].ID)

	byJob, err := st.Query(ctx, Query{JobID: "j2", DepotID: "d2"})
	require.NoError(t, err)
	require.Len(t, byJob, 1)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	exerciseStore(t, st)
}

func TestRotatingJSONLStore(t *testing.T) {
	st, err := NewRotatingJSONLStore(filepath.Join(t.TempDir(), "nested", "journal.jsonl"), 1, 3, 1)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	exerciseStore(t, st)
}

func TestRotatingJSONLStoreQueriesBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	st, err := NewRotatingJSONLStore(path, 1, 5, 1)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	blob, _ := json.Marshal(strings.Repeat("x", 600*1024))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		rec := Record{ID: fmt.Sprint(i), Timestamp: t0.Add(time.Duration(i) * time.Minute), Kind: KindPipelineArchived, Payload: blob}
		require.NoError(t, st.Append(ctx, rec))
		// backup names have millisecond resolution
		time.Sleep(5 * time.Millisecond)
	}
	backups, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "journal-*.jsonl"))
	require.NotEmpty(t, backups)

	got, err := st.Query(ctx, Query{Kind: KindPipelineArchived})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "0", got[0].ID)
	assert.Equal(t, "2", got[2].ID)
}

func TestConfigOpen(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, BackendMemory, c.Backend)
	require.NoError(t, c.Validate())

	st, err := Open(Config{Backend: BackendSQLite, Path: filepath.Join(t.TempDir(), "j.db")})
	require.NoError(t, err)
	_, ok := st.(*SQLiteStore)
	assert.True(t, ok)
	require.NoError(t, st.Close())

	_, err = Open(Config{Backend: "kafka"})
	assert.Error(t, err)
	assert.Error(t, Config{Backend: BackendJSONL, MaxSizeMB: -1, Path: "x"}.Validate())
}

func TestFromEvent(t *testing.T) {
	rec, ok, err := FromEvent(events.JobEvent{Type: events.JobCompleted, JobID: "j1", VehicleID: "v1", DepotID: "d1", Time: t0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindJob, rec.Kind)
	assert.Equal(t, "j1", rec.JobID)
	assert.NotEmpty(t, rec.ID)
	assert.Contains(t, string(rec.Payload), "JOB_COMPLETED")

	_, ok, err = FromEvent(events.UtilizationEvent{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStartRecorder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := eventbus.New()
	st := NewMemoryStore()
	done := StartRecorder(ctx, bus, st, nil)

	p := model.ServicePipeline{VehicleID: "v1", DepotID: "d1", State: model.PipelineDeployed}
	bus.Publish(events.PipelineArchived{Pipeline: p, Time: t0})
	bus.Publish(events.PipelineEvent{DepotID: "d1", Transition: model.TransitionEvent{VehicleID: "v1", FromState: model.PipelineStaging, ToState: model.PipelineDeployed, Timestamp: t0}})
	bus.Publish(events.UtilizationEvent{DepotID: "d1"})

	require.Eventually(t, func() bool {
		recs, _ := st.Query(context.Background(), Query{VehicleID: "v1"})
		return len(recs) == 2
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	archived, _ := st.Query(context.Background(), Query{Kind: KindPipelineArchived})
	require.Len(t, archived, 1)
	var back events.PipelineArchived
	require.NoError(t, json.Unmarshal(archived[0].Payload, &back))
	assert.Equal(t, model.PipelineDeployed, back.Pipeline.State)
}
