package jobs

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/depotsched/core/clock"
	"github.com/kilianp07/depotsched/core/events"
	"github.com/kilianp07/depotsched/core/logger"
	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/core/store"
	"github.com/kilianp07/depotsched/internal/eventbus"
)

// Metadata keys stamped on jobs by the scheduler.
const (
	MetaScheduleStatus   = "schedule_status"
	MetaRetry            = "retry"
	MetaLastAttemptAt    = "last_attempt_at"
	MetaReleasedResource = "released_resource_id"
	MetaLostResource     = "lost_resource_id"

	statusNoResource = "no_resource_available"
)

// Failure reasons reported in ScheduleResult.
const (
	ReasonNoResource   = "no resource available"
	ReasonResourceRace = "resource claimed concurrently"
	ReasonJobMoved     = "job left PENDING concurrently"
)

// Store is the persistence the scheduler needs.
type Store interface {
	store.JobStore
	store.StallStore
	store.VehicleStore
}

// Releaser returns a stall to the available pool on behalf of the job that
// holds it. released is false when the stall is no longer bound to jobID.
type Releaser interface {
	ReleaseStallFor(ctx context.Context, stallID, jobID string) (st model.Stall, released bool, err error)
}

// VehicleNotifier pushes vehicle status changes to the fleet.
type VehicleNotifier interface {
	NotifyVehicleStatus(ctx context.Context, vehicleID string, status model.VehicleStatus) error
}

// JobRequest is the intake payload for a new job.
type JobRequest struct {
	VehicleID string            `json:"vehicle_id"`
	DepotID   string            `json:"depot_id"`
	JobType   model.JobType     `json:"job_type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Validate enumerates missing or invalid fields.
func (r JobRequest) Validate() error {
	var fields []string
	if r.VehicleID == "" {
		fields = append(fields, "vehicle_id")
	}
	if r.DepotID == "" {
		fields = append(fields, "depot_id")
	}
	if !r.JobType.Valid() {
		fields = append(fields, "job_type")
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// ScheduleResult is the outcome of ScheduleJob.
type ScheduleResult struct {
	JobID            string          `json:"job_id"`
	Success          bool            `json:"success"`
	State            model.JobState  `json:"state"`
	ResourceID       string          `json:"resource_id,omitempty"`
	ResourceType     model.StallType `json:"resource_type,omitempty"`
	ResourceIndex    int             `json:"resource_index,omitempty"`
	ScheduledStartAt *time.Time      `json:"scheduled_start_at,omitempty"`
	ETASeconds       int             `json:"eta_seconds,omitempty"`
	Retry            bool            `json:"retry,omitempty"`
	Reason           string          `json:"reason,omitempty"`
}

// TransitionSummary counts what a sweep changed.
type TransitionSummary struct {
	Activated int `json:"activated"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Scheduler drives jobs through their lifecycle.
type Scheduler struct {
	store    Store
	releaser Releaser
	notifier VehicleNotifier
	clock    clock.Clock
	bus      eventbus.EventBus
	logger   logger.Logger
	cfg      Config

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewScheduler creates a Scheduler. notifier, bus and log are optional; a nil
// clock uses wall time and a nil rng is seeded from cfg.Seed or the clock.
func NewScheduler(cfg Config, st Store, releaser Releaser, notifier VehicleNotifier, clk clock.Clock, rng *rand.Rand, bus eventbus.EventBus, log logger.Logger) (*Scheduler, error) {
	if st == nil || releaser == nil {
		return nil, fmt.Errorf("jobs: nil store or releaser provided to NewScheduler")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if rng == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = clk.Now().UnixNano()
		}
		rng = rand.New(rand.NewSource(seed))
	}
	return &Scheduler{
		store:    st,
		releaser: releaser,
		notifier: notifier,
		clock:    clk,
		bus:      bus,
		logger:   logger.OrNop(log),
		cfg:      cfg,
		rng:      rng,
	}, nil
}

// SampleETA draws a duration in seconds for the job type: avg ± uniform(variance).
func (s *Scheduler) SampleETA(t model.JobType) int {
	p := t.DurationProfile()
	if p.VarianceSeconds <= 0 {
		return p.AvgSeconds
	}
	s.rngMu.Lock()
	offset := s.rng.Intn(2*p.VarianceSeconds+1) - p.VarianceSeconds
	s.rngMu.Unlock()
	return p.AvgSeconds + offset
}

// CreateJob validates and stores a new PENDING job.
func (s *Scheduler) CreateJob(ctx context.Context, req JobRequest) (model.Job, error) {
	if err := req.Validate(); err != nil {
		return model.Job{}, err
	}
	now := s.clock.Now()
	j := model.Job{
		ID:        uuid.NewString(),
		VehicleID: req.VehicleID,
		DepotID:   req.DepotID,
		JobType:   req.JobType,
		State:     model.JobPending,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateJob(ctx, j.Clone()); err != nil {
		return model.Job{}, fmt.Errorf("create job: %w", err)
	}
	s.logger.Infof("job %s created: %s for vehicle %s", j.ID, j.JobType, j.VehicleID)
	return j, nil
}

// GetJob returns a job by id.
func (s *Scheduler) GetJob(ctx context.Context, id string) (model.Job, error) {
	return s.store.GetJob(ctx, id)
}

// ListJobs returns jobs matching f.
func (s *Scheduler) ListJobs(ctx context.Context, f store.JobFilter) ([]model.Job, error) {
	return s.store.ListJobs(ctx, f)
}

// ScheduleJob reserves a stall for a PENDING job. Calling it on a job that
// already left PENDING is a successful no-op.
func (s *Scheduler) ScheduleJob(ctx context.Context, id string) (ScheduleResult, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return ScheduleResult{}, fmt.Errorf("get job %s: %w", id, err)
	}
	if job.State != model.JobPending {
		return resultFor(job, true), nil
	}
	next, err := NextState(job.State, EventSchedule)
	if err != nil {
		return ScheduleResult{}, err
	}

	required := job.JobType.RequiredStallType()
	candidates, err := s.store.ListStalls(ctx, store.StallFilter{
		DepotID: job.DepotID,
		Types:   required.MatchingTypes(),
		Status:  model.StallAvailable,
		Limit:   s.cfg.CandidateLimit,
	})
	if err != nil {
		return ScheduleResult{}, fmt.Errorf("list stalls: %w", err)
	}
	now := s.clock.Now()
	if len(candidates) == 0 {
		s.markNoResource(ctx, job, now)
		return ScheduleResult{JobID: job.ID, State: job.State, Retry: true, Reason: ReasonNoResource}, nil
	}

	stall := candidates[0]
	eta := s.SampleETA(job.JobType)
	done := now.Add(time.Duration(eta) * time.Second)
	claimed := stall.Vacated(model.StallReserved)
	claimed.CurrentVehicleID = job.VehicleID
	claimed.CurrentJobID = job.ID
	claimed.SessionStartedAt = &now
	claimed.EstimatedCompletionAt = &done
	ok, err := s.store.CompareAndSwapStall(ctx, model.StallAvailable, claimed)
	if err != nil {
		return ScheduleResult{}, fmt.Errorf("reserve stall %s: %w", stall.ID, err)
	}
	if !ok {
		s.logger.Debugf("job %s: stall %d claimed concurrently", job.ID, stall.StallNumber)
		return ScheduleResult{JobID: job.ID, State: job.State, Retry: true, Reason: ReasonResourceRace}, nil
	}

	updated := job.Clone()
	updated.State = next
	updated.ResourceID = stall.ID
	updated.ScheduledStartAt = &now
	updated.ETASeconds = &eta
	updated.UpdatedAt = now
	delete(updated.Metadata, MetaScheduleStatus)
	delete(updated.Metadata, MetaRetry)
	ok, err = s.store.CompareAndSwapJob(ctx, model.JobPending, updated)
	if err != nil || !ok {
		s.rollback(ctx, claimed)
		if err != nil {
			return ScheduleResult{}, fmt.Errorf("update job %s: %w", job.ID, err)
		}
		return ScheduleResult{JobID: job.ID, State: job.State, Reason: ReasonJobMoved}, nil
	}

	s.setVehicleStatus(ctx, job.VehicleID, model.VehicleEnRoute)
	s.publish(events.JobScheduled, updated, model.JobPending, 0, now)
	s.logger.Infof("job %s scheduled on stall %d, eta %ds", job.ID, stall.StallNumber, eta)
	res := resultFor(updated, true)
	res.ResourceType = stall.StallType
	res.ResourceIndex = stall.StallNumber
	return res, nil
}

// RunPending schedules up to one batch of PENDING jobs. Per-job store errors
// are reported in the result rather than aborting the batch.
func (s *Scheduler) RunPending(ctx context.Context) ([]ScheduleResult, error) {
	pending, err := s.store.ListJobs(ctx, store.JobFilter{State: model.JobPending, Limit: s.cfg.BatchSize})
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	results := make([]ScheduleResult, 0, len(pending))
	for _, j := range pending {
		res, err := s.ScheduleJob(ctx, j.ID)
		if err != nil {
			s.logger.Errorf("schedule job %s: %v", j.ID, err)
			res = ScheduleResult{JobID: j.ID, State: j.State, Retry: true, Reason: err.Error()}
		}
		results = append(results, res)
	}
	return results, nil
}

// ProcessTransitions runs the activation sweep followed by the completion
// sweep, each touching at most one batch of jobs.
func (s *Scheduler) ProcessTransitions(ctx context.Context) (TransitionSummary, error) {
	var sum TransitionSummary
	now := s.clock.Now()

	scheduled, err := s.store.ListJobs(ctx, store.JobFilter{State: model.JobScheduled})
	if err != nil {
		return sum, fmt.Errorf("list scheduled jobs: %w", err)
	}
	touched := 0
	for _, j := range scheduled {
		if touched >= s.cfg.BatchSize {
			break
		}
		if j.ScheduledStartAt == nil || j.ScheduledStartAt.After(now) {
			continue
		}
		touched++
		ok, err := s.activate(ctx, j, now)
		switch {
		case err != nil:
			sum.Failed++
			s.logger.Errorf("activate job %s: %v", j.ID, err)
		case ok:
			sum.Activated++
		}
	}

	active, err := s.store.ListJobs(ctx, store.JobFilter{State: model.JobActive})
	if err != nil {
		return sum, fmt.Errorf("list active jobs: %w", err)
	}
	touched = 0
	for _, j := range active {
		if touched >= s.cfg.BatchSize {
			break
		}
		if j.StartedAt == nil || j.ETASeconds == nil {
			continue
		}
		if now.Sub(*j.StartedAt) < time.Duration(*j.ETASeconds)*time.Second {
			continue
		}
		touched++
		ok, err := s.complete(ctx, j, now)
		switch {
		case err != nil:
			sum.Failed++
			s.logger.Errorf("complete job %s: %v", j.ID, err)
		case ok:
			sum.Completed++
		}
	}
	if sum.Activated+sum.Completed > 0 {
		s.logger.Debugw("transitions processed", map[string]any{
			"activated": sum.Activated,
			"completed": sum.Completed,
			"failed":    sum.Failed,
		})
	}
	return sum, nil
}

// CancelJob moves a non-terminal job to CANCELLED and releases its stall.
// Only the caller whose state change wins releases the stall.
func (s *Scheduler) CancelJob(ctx context.Context, id string) (model.Job, error) {
	for attempt := 0; attempt < 3; attempt++ {
		job, err := s.store.GetJob(ctx, id)
		if err != nil {
			return model.Job{}, fmt.Errorf("get job %s: %w", id, err)
		}
		next, err := NextState(job.State, EventCancel)
		if err != nil {
			return job, err
		}
		now := s.clock.Now()
		updated := job.Clone()
		updated.State = next
		updated.CancelledAt = &now
		updated.UpdatedAt = now
		resource := updated.ResourceID
		if resource != "" {
			updated.ResourceID = ""
			updated.Metadata = withMeta(updated.Metadata, MetaReleasedResource, resource)
		}
		ok, err := s.store.CompareAndSwapJob(ctx, job.State, updated)
		if err != nil {
			return model.Job{}, fmt.Errorf("cancel job %s: %w", id, err)
		}
		if !ok {
			continue
		}
		if job.State.HoldsResource() && resource != "" {
			s.release(ctx, job.ID, resource)
		}
		s.setVehicleStatus(ctx, job.VehicleID, model.VehicleIdle)
		s.publish(events.JobCancelled, updated, job.State, 0, now)
		s.logger.Infof("job %s cancelled from %s", id, job.State)
		return updated, nil
	}
	return model.Job{}, fmt.Errorf("cancel job %s: state kept changing", id)
}

// Run sweeps transitions and pending jobs every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Duration(s.cfg.TickSeconds) * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one transition sweep and one pending batch.
func (s *Scheduler) Tick(ctx context.Context) (TransitionSummary, []ScheduleResult) {
	sum, err := s.ProcessTransitions(ctx)
	if err != nil {
		s.logger.Errorf("process transitions: %v", err)
	}
	results, err := s.RunPending(ctx)
	if err != nil {
		s.logger.Errorf("run pending: %v", err)
	}
	return sum, results
}

func (s *Scheduler) activate(ctx context.Context, job model.Job, now time.Time) (bool, error) {
	next, err := NextState(job.State, EventActivate)
	if err != nil {
		return false, err
	}
	flipped := false
	if job.ResourceID != "" {
		if flipped, err = s.occupy(ctx, job); err != nil {
			if errors.Is(err, ErrResourceLost) {
				s.abandon(ctx, job, now)
			}
			return false, err
		}
	}
	updated := job.Clone()
	updated.State = next
	updated.StartedAt = &now
	updated.UpdatedAt = now
	ok, err := s.store.CompareAndSwapJob(ctx, model.JobScheduled, updated)
	if err != nil || !ok {
		if flipped {
			s.unoccupy(ctx, job)
		}
		return false, err
	}
	s.setVehicleStatus(ctx, job.VehicleID, model.VehicleInService)
	s.publish(events.JobActive, updated, job.State, 0, now)
	return true, nil
}

// occupy flips the job's reserved stall to occupied and reports whether this
// call made the change. It fails with ErrResourceLost when the stall was
// freed or handed to someone else.
func (s *Scheduler) occupy(ctx context.Context, job model.Job) (bool, error) {
	st, err := s.store.GetStall(ctx, job.ResourceID)
	if err != nil {
		return false, err
	}
	if st.CurrentJobID != job.ID {
		return false, fmt.Errorf("stall %s bound to %q: %w", st.ID, st.CurrentJobID, ErrResourceLost)
	}
	if st.Status == model.StallOccupied {
		return false, nil
	}
	next := st
	next.Status = model.StallOccupied
	ok, err := s.store.CompareAndSwapStallFor(ctx, model.StallReserved, job.ID, next)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("stall %s: %w", st.ID, ErrResourceLost)
	}
	return true, nil
}

// unoccupy undoes occupy after the job lost its activation race.
func (s *Scheduler) unoccupy(ctx context.Context, job model.Job) {
	st, err := s.store.GetStall(ctx, job.ResourceID)
	if err != nil {
		s.logger.Errorf("job %s: reading stall %s: %v", job.ID, job.ResourceID, err)
		return
	}
	st.Status = model.StallReserved
	if _, err := s.store.CompareAndSwapStallFor(ctx, model.StallOccupied, job.ID, st); err != nil {
		s.logger.Errorf("job %s: restoring reservation on stall %s: %v", job.ID, job.ResourceID, err)
	}
}

// abandon cancels a SCHEDULED job whose stall was taken from it. The stall
// belongs to its new holder and is left untouched.
func (s *Scheduler) abandon(ctx context.Context, job model.Job, now time.Time) {
	next, err := NextState(job.State, EventCancel)
	if err != nil {
		return
	}
	updated := job.Clone()
	updated.State = next
	updated.CancelledAt = &now
	updated.UpdatedAt = now
	updated.ResourceID = ""
	updated.Metadata = withMeta(updated.Metadata, MetaLostResource, job.ResourceID)
	ok, err := s.store.CompareAndSwapJob(ctx, model.JobScheduled, updated)
	if err != nil || !ok {
		return
	}
	s.logger.Warnf("job %s cancelled: stall %s was reassigned before activation", job.ID, job.ResourceID)
	s.setVehicleStatus(ctx, job.VehicleID, model.VehicleIdle)
	s.publish(events.JobCancelled, updated, job.State, 0, now)
}

// release frees the job's stall unless it has changed hands since.
func (s *Scheduler) release(ctx context.Context, jobID, stallID string) {
	st, released, err := s.releaser.ReleaseStallFor(ctx, stallID, jobID)
	switch {
	case err != nil:
		s.logger.Errorf("job %s: stall %s not released: %v", jobID, stallID, err)
	case !released:
		s.logger.Warnf("job %s: stall %s now held by job %q, left untouched", jobID, stallID, st.CurrentJobID)
	}
}

func (s *Scheduler) complete(ctx context.Context, job model.Job, now time.Time) (bool, error) {
	next, err := NextState(job.State, EventComplete)
	if err != nil {
		return false, err
	}
	updated := job.Clone()
	updated.State = next
	updated.CompletedAt = &now
	updated.UpdatedAt = now
	resource := updated.ResourceID
	if resource != "" {
		updated.ResourceID = ""
		updated.Metadata = withMeta(updated.Metadata, MetaReleasedResource, resource)
	}
	ok, err := s.store.CompareAndSwapJob(ctx, model.JobActive, updated)
	if err != nil || !ok {
		return false, err
	}
	if resource != "" {
		s.release(ctx, job.ID, resource)
	}
	s.setVehicleStatus(ctx, job.VehicleID, model.VehicleIdle)
	s.publish(events.JobCompleted, updated, job.State, now.Sub(*job.StartedAt), now)
	return true, nil
}

func (s *Scheduler) markNoResource(ctx context.Context, job model.Job, now time.Time) {
	updated := job.Clone()
	updated.Metadata = withMeta(updated.Metadata, MetaScheduleStatus, statusNoResource)
	updated.Metadata[MetaRetry] = "true"
	updated.Metadata[MetaLastAttemptAt] = now.Format(time.RFC3339)
	updated.UpdatedAt = now
	if _, err := s.store.CompareAndSwapJob(ctx, model.JobPending, updated); err != nil {
		s.logger.Warnf("job %s: stamping retry metadata: %v", job.ID, err)
	}
}

func (s *Scheduler) rollback(ctx context.Context, claimed model.Stall) {
	ok, err := s.store.CompareAndSwapStall(ctx, model.StallReserved, claimed.Vacated(model.StallAvailable))
	if err != nil {
		s.logger.Errorf("rollback stall %s: %v", claimed.ID, err)
		return
	}
	if !ok {
		s.logger.Warnf("rollback stall %s: status changed before rollback", claimed.ID)
		return
	}
	if s.bus != nil {
		s.bus.Publish(events.StallEvent{StallID: claimed.ID, DepotID: claimed.DepotID, Action: events.StallReservationRolled, Time: s.clock.Now()})
	}
}

func (s *Scheduler) setVehicleStatus(ctx context.Context, vehicleID string, status model.VehicleStatus) {
	if err := s.store.SetVehicleStatus(ctx, vehicleID, status); err != nil {
		s.logger.Warnf("vehicle %s status %s: %v", vehicleID, status, err)
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyVehicleStatus(ctx, vehicleID, status); err != nil {
			s.logger.Warnf("notify vehicle %s: %v", vehicleID, err)
		}
	}
}

func (s *Scheduler) publish(typ events.JobEventType, job model.Job, from model.JobState, d time.Duration, now time.Time) {
	if s.bus == nil {
		return
	}
	resource := job.ResourceID
	if resource == "" {
		resource = job.Metadata[MetaReleasedResource]
	}
	s.bus.Publish(events.JobEvent{
		Type:       typ,
		JobID:      job.ID,
		VehicleID:  job.VehicleID,
		DepotID:    job.DepotID,
		JobType:    job.JobType,
		ResourceID: resource,
		From:       from,
		To:         job.State,
		Duration:   d,
		Time:       now,
	})
}

func resultFor(j model.Job, ok bool) ScheduleResult {
	res := ScheduleResult{JobID: j.ID, Success: ok, State: j.State, ResourceID: j.ResourceID, ScheduledStartAt: j.ScheduledStartAt}
	if j.ETASeconds != nil {
		res.ETASeconds = *j.ETASeconds
	}
	return res
}

func withMeta(md map[string]string, k, v string) map[string]string {
	if md == nil {
		md = make(map[string]string)
	}
	md[k] = v
	return md
}
