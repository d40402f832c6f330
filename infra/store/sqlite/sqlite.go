// Package sqlite persists stalls, jobs and vehicles in SQLite. Optimistic
// locking is expressed as conditional UPDATE statements: a statement that
// affects zero rows lost the race.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/core/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS stalls (
    id TEXT PRIMARY KEY,
    depot_id TEXT NOT NULL,
    stall_number INTEGER NOT NULL,
    stall_type TEXT NOT NULL,
    status TEXT NOT NULL,
    charger_power_kw REAL,
    current_vehicle_id TEXT NOT NULL DEFAULT '',
    current_job_id TEXT NOT NULL DEFAULT '',
    session_started_at INTEGER,
    estimated_completion_at INTEGER,
    UNIQUE(depot_id, stall_type, stall_number)
);
CREATE INDEX IF NOT EXISTS idx_stalls_depot_status ON stalls(depot_id, status);
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    vehicle_id TEXT NOT NULL,
    depot_id TEXT NOT NULL,
    job_type TEXT NOT NULL,
    state TEXT NOT NULL,
    resource_id TEXT NOT NULL DEFAULT '',
    scheduled_start_at INTEGER,
    started_at INTEGER,
    eta_seconds INTEGER,
    completed_at INTEGER,
    cancelled_at INTEGER,
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
CREATE TABLE IF NOT EXISTS vehicles (
    id TEXT PRIMARY KEY,
    depot_id TEXT NOT NULL DEFAULT '',
    soc REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT '',
    is_member INTEGER NOT NULL DEFAULT 0
);`

const stallColumns = `id, depot_id, stall_number, stall_type, status, charger_power_kw,
    current_vehicle_id, current_job_id, session_started_at, estimated_completion_at`

const jobColumns = `id, vehicle_id, depot_id, job_type, state, resource_id, scheduled_start_at,
    started_at, eta_seconds, completed_at, cancelled_at, metadata, created_at, updated_at`

// Store implements store.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database at dsn and ensures the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY
	// without weakening the conditional updates.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStall(r rowScanner) (model.Stall, error) {
	var (
		st             model.Stall
		stallType      string
		status         string
		power          sql.NullFloat64
		started, estim sql.NullInt64
	)
	if err := r.Scan(&st.ID, &st.DepotID, &st.StallNumber, &stallType, &status, &power,
		&st.CurrentVehicleID, &st.CurrentJobID, &started, &estim); err != nil {
		return st, err
	}
	st.StallType = model.StallType(stallType)
	st.Status = model.StallStatus(status)
	if power.Valid {
		p := power.Float64
		st.ChargerPowerKW = &p
	}
	st.SessionStartedAt = fromNull(started)
	st.EstimatedCompletionAt = fromNull(estim)
	return st, nil
}

func (s *Store) GetStall(ctx context.Context, id string) (model.Stall, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stallColumns+` FROM stalls WHERE id = ?`, id)
	st, err := scanStall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return st, fmt.Errorf("stall %s: %w", id, store.ErrNotFound)
	}
	return st, err
}

func (s *Store) ListStalls(ctx context.Context, f store.StallFilter) ([]model.Stall, error) {
	query := `SELECT ` + stallColumns + ` FROM stalls WHERE 1=1`
	var args []any
	if f.DepotID != "" {
		query += ` AND depot_id = ?`
		args = append(args, f.DepotID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if len(f.Types) > 0 {
		query += ` AND stall_type IN (?` + strings.Repeat(",?", len(f.Types)-1) + `)`
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	query += ` ORDER BY stall_number, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Stall
	for rows.Next() {
		st, err := scanStall(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

func stallArgs(st model.Stall) []any {
	var power any
	if st.ChargerPowerKW != nil {
		power = *st.ChargerPowerKW
	}
	return []any{st.DepotID, st.StallNumber, string(st.StallType), string(st.Status), power,
		st.CurrentVehicleID, st.CurrentJobID, toNull(st.SessionStartedAt), toNull(st.EstimatedCompletionAt)}
}

func (s *Store) PutStall(ctx context.Context, st model.Stall) error {
	if st.ID == "" {
		return fmt.Errorf("stall id is required")
	}
	args := append([]any{st.ID}, stallArgs(st)...)
	_, err := s.db.ExecContext(ctx, `INSERT INTO stalls (`+stallColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            depot_id = excluded.depot_id,
            stall_number = excluded.stall_number,
            stall_type = excluded.stall_type,
            status = excluded.status,
            charger_power_kw = excluded.charger_power_kw,
            current_vehicle_id = excluded.current_vehicle_id,
            current_job_id = excluded.current_job_id,
            session_started_at = excluded.session_started_at,
            estimated_completion_at = excluded.estimated_completion_at`, args...)
	return err
}

const updateStall = `UPDATE stalls SET depot_id = ?, stall_number = ?, stall_type = ?, status = ?,
    charger_power_kw = ?, current_vehicle_id = ?, current_job_id = ?, session_started_at = ?,
    estimated_completion_at = ? WHERE id = ?`

func (s *Store) UpdateStall(ctx context.Context, st model.Stall) error {
	args := append(stallArgs(st), st.ID)
	res, err := s.db.ExecContext(ctx, updateStall, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("stall %s: %w", st.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) CompareAndSwapStall(ctx context.Context, expected model.StallStatus, next model.Stall) (bool, error) {
	args := append(stallArgs(next), next.ID, string(expected))
	res, err := s.db.ExecContext(ctx, updateStall+` AND status = ?`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.GetStall(ctx, next.ID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) CompareAndSwapStallFor(ctx context.Context, expected model.StallStatus, jobID string, next model.Stall) (bool, error) {
	args := append(stallArgs(next), next.ID, string(expected), jobID)
	res, err := s.db.ExecContext(ctx, updateStall+` AND status = ? AND current_job_id = ?`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.GetStall(ctx, next.ID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func scanJob(r rowScanner) (model.Job, error) {
	var (
		j                               model.Job
		jobType, state, meta            string
		sched, started, done, cancelled sql.NullInt64
		eta                             sql.NullInt64
		created, updated                int64
	)
	if err := r.Scan(&j.ID, &j.VehicleID, &j.DepotID, &jobType, &state, &j.ResourceID, &sched,
		&started, &eta, &done, &cancelled, &meta, &created, &updated); err != nil {
		return j, err
	}
	j.JobType = model.JobType(jobType)
	j.State = model.JobState(state)
	j.ScheduledStartAt = fromNull(sched)
	j.StartedAt = fromNull(started)
	j.CompletedAt = fromNull(done)
	j.CancelledAt = fromNull(cancelled)
	if eta.Valid {
		v := int(eta.Int64)
		j.ETASeconds = &v
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &j.Metadata); err != nil {
			return j, fmt.Errorf("decode metadata: %w", err)
		}
	}
	j.CreatedAt = time.Unix(0, created).UTC()
	j.UpdatedAt = time.Unix(0, updated).UTC()
	return j, nil
}

func jobArgs(j model.Job) ([]any, error) {
	meta := "{}"
	if len(j.Metadata) > 0 {
		b, err := json.Marshal(j.Metadata)
		if err != nil {
			return nil, err
		}
		meta = string(b)
	}
	var eta any
	if j.ETASeconds != nil {
		eta = *j.ETASeconds
	}
	return []any{j.VehicleID, j.DepotID, string(j.JobType), string(j.State), j.ResourceID,
		toNull(j.ScheduledStartAt), toNull(j.StartedAt), eta, toNull(j.CompletedAt),
		toNull(j.CancelledAt), meta, j.CreatedAt.UnixNano(), j.UpdatedAt.UnixNano()}, nil
}

func (s *Store) CreateJob(ctx context.Context, j model.Job) error {
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}
	args, err := jobArgs(j)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, append([]any{j.ID}, args...)...)
	return err
}

func (s *Store) GetJob(ctx context.Context, id string) (model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return j, fmt.Errorf("job %s: %w", id, store.ErrNotFound)
	}
	return j, err
}

func (s *Store) ListJobs(ctx context.Context, f store.JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any
	if f.State != "" {
		query += ` AND state = ?`
		args = append(args, string(f.State))
	}
	query += ` ORDER BY created_at, rowid`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func (s *Store) CompareAndSwapJob(ctx context.Context, expected model.JobState, next model.Job) (bool, error) {
	args, err := jobArgs(next)
	if err != nil {
		return false, err
	}
	args = append(args, next.ID, string(expected))
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET vehicle_id = ?, depot_id = ?, job_type = ?,
        state = ?, resource_id = ?, scheduled_start_at = ?, started_at = ?, eta_seconds = ?,
        completed_at = ?, cancelled_at = ?, metadata = ?, created_at = ?, updated_at = ?
        WHERE id = ? AND state = ?`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.GetJob(ctx, next.ID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	var (
		v      model.Vehicle
		status string
		member int
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, depot_id, soc, status, is_member FROM vehicles WHERE id = ?`, id).
		Scan(&v.ID, &v.DepotID, &v.SoC, &status, &member)
	if errors.Is(err, sql.ErrNoRows) {
		return v, fmt.Errorf("vehicle %s: %w", id, store.ErrNotFound)
	}
	v.Status = model.VehicleStatus(status)
	v.IsMember = member != 0
	return v, err
}

func (s *Store) PutVehicle(ctx context.Context, v model.Vehicle) error {
	if v.ID == "" {
		return fmt.Errorf("vehicle id is required")
	}
	member := 0
	if v.IsMember {
		member = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO vehicles (id, depot_id, soc, status, is_member)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET depot_id = excluded.depot_id, soc = excluded.soc,
            status = excluded.status, is_member = excluded.is_member`,
		v.ID, v.DepotID, v.SoC, string(v.Status), member)
	return err
}

func (s *Store) SetVehicleStatus(ctx context.Context, id string, status model.VehicleStatus) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO vehicles (id, status) VALUES (?, ?)
        ON CONFLICT(id) DO UPDATE SET status = excluded.status`, id, string(status))
	return err
}

func toNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
