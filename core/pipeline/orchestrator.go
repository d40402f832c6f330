package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/kilianp07/depotsched/core/clock"
	"github.com/kilianp07/depotsched/core/events"
	"github.com/kilianp07/depotsched/core/logger"
	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/core/store"
	"github.com/kilianp07/depotsched/internal/eventbus"
)

var (
	// ErrPipelineNotFound is returned for vehicles without a live pipeline.
	ErrPipelineNotFound = errors.New("pipeline not found")
	// ErrNotStaging is returned when deploying a vehicle that is not ready.
	ErrNotStaging = errors.New("pipeline is not staging")
	// ErrDepotRequired is returned when free stalls must be looked up for a
	// vehicle that names no depot.
	ErrDepotRequired = errors.New("depot id is required without a stall snapshot")
)

// Orchestrator builds and advances service pipelines.
type Orchestrator struct {
	cfg      Config
	repo     Repository
	log      *EventLog
	engine   ThresholdEngine
	stalls   store.StallStore
	vehicles store.VehicleStore
	clock    clock.Clock
	bus      eventbus.EventBus
	logger   logger.Logger

	// mu serialises read-modify-write cycles on the repository.
	mu       sync.Mutex
	rng      *rand.Rand
	deployed int
}

// NewOrchestrator creates an Orchestrator. stalls and vehicles are optional:
// without stalls callers must pass the free stall snapshot on arrival and
// blocked steps cannot be retried; without vehicles no status is written.
func NewOrchestrator(cfg Config, repo Repository, evlog *EventLog, engine ThresholdEngine, stalls store.StallStore, vehicles store.VehicleStore, clk clock.Clock, rng *rand.Rand, bus eventbus.EventBus, log logger.Logger) (*Orchestrator, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if repo == nil {
		repo = NewMemoryRepository()
	}
	if evlog == nil {
		evlog = NewEventLog(cfg.EventLogCapacity)
	}
	if engine == nil {
		engine = StaticThresholds{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(clk.Now().UnixNano()))
	}
	return &Orchestrator{
		cfg:      cfg,
		repo:     repo,
		log:      evlog,
		engine:   engine,
		stalls:   stalls,
		vehicles: vehicles,
		clock:    clk,
		rng:      rng,
		bus:      bus,
		logger:   logger.OrNop(log),
	}, nil
}

// NeededServices returns the ordered services for a vehicle: charge when
// below 90% state of charge plus the predicted needs, sorted by
// model.ServicePriority.
func NeededServices(v model.Vehicle, predicted []model.ServiceType) []model.ServiceType {
	want := make(map[model.ServiceType]bool)
	if v.NeedsCharge() {
		want[model.ServiceCharge] = true
	}
	for _, s := range predicted {
		if s.Valid() {
			want[s] = true
		}
	}
	out := make([]model.ServiceType, 0, len(want))
	for _, s := range model.ServicePriority {
		if want[s] {
			out = append(out, s)
		}
	}
	return out
}

// TriggerArrival builds a pipeline for an arriving vehicle and starts its
// first step. available is the snapshot of free stalls to soft-assign from;
// when nil it is read from the stall store. durations overrides the step
// length in minutes per service. A new arrival replaces any live pipeline
// of the same vehicle.
func (o *Orchestrator) TriggerArrival(ctx context.Context, v model.Vehicle, available []model.Stall, durations map[model.ServiceType]int) (model.ServicePipeline, error) {
	if err := v.Validate(); err != nil {
		return model.ServicePipeline{}, err
	}
	predicted, err := o.engine.PredictServiceNeeds(ctx, v)
	if err != nil {
		return model.ServicePipeline{}, fmt.Errorf("predict service needs: %w", err)
	}
	if available == nil && o.stalls != nil {
		if v.DepotID == "" {
			return model.ServicePipeline{}, ErrDepotRequired
		}
		available, err = o.stalls.ListStalls(ctx, store.StallFilter{DepotID: v.DepotID, Status: model.StallAvailable})
		if err != nil {
			return model.ServicePipeline{}, fmt.Errorf("list stalls: %w", err)
		}
	}
	services := NeededServices(v, predicted)
	rec := o.engine.ChargeRecommendation(v)

	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.Now()
	if old, ok := o.repo.Get(v.ID); ok {
		o.logger.Warnf("vehicle %s re-arrived while %s, replacing pipeline", v.ID, old.State)
	}
	free := append([]model.Stall(nil), available...)
	buffer := time.Duration(o.cfg.TransitionBufferMinutes) * time.Minute
	cursor := now
	p := model.ServicePipeline{
		VehicleID:        v.ID,
		DepotID:          v.DepotID,
		State:            model.PipelineArrived,
		CurrentStepIndex: -1,
		ArrivalTime:      now,
	}
	for i, svc := range services {
		minutes := durations[svc]
		if minutes <= 0 {
			minutes = o.cfg.DefaultStepMinutes
		}
		if i > 0 {
			cursor = cursor.Add(buffer)
		}
		step := model.PipelineStep{
			ServiceType:        svc,
			StallType:          svc.StallType(),
			DurationMinutes:    minutes,
			EstimatedStartTime: cursor,
			EstimatedEndTime:   cursor.Add(time.Duration(minutes) * time.Minute),
			Status:             model.StepPending,
		}
		if idx := pickStall(free, svc, rec); idx >= 0 {
			step.AssignedStallID = free[idx].ID
			step.AssignedStallNum = free[idx].StallNumber
			free = append(free[:idx], free[idx+1:]...)
		}
		cursor = step.EstimatedEndTime
		p.Steps = append(p.Steps, step)
	}
	p.EstimatedReadyTime = cursor

	o.transition(&p, model.PipelineQueued, fmt.Sprintf("Vehicle arrived with %d services queued", len(p.Steps)), now)
	o.repo.Put(p)
	o.setVehicleStatus(ctx, v.ID, model.VehicleInService)
	o.logger.Infof("vehicle %s arrived: %d steps, ready at %s", v.ID, len(p.Steps), p.EstimatedReadyTime.Format(time.RFC3339))
	return o.advanceLocked(ctx, v.ID)
}

// pickStall returns the index of the first stall suited to svc, honouring the
// charger class recommendation when one matches, or -1.
func pickStall(free []model.Stall, svc model.ServiceType, rec ChargeRecommendation) int {
	want := svc.StallType()
	fallback := -1
	for i, s := range free {
		if s.Status != model.StallAvailable {
			continue
		}
		if !want.IsCharge() {
			if s.StallType == want {
				return i
			}
			continue
		}
		if !s.StallType.IsCharge() {
			continue
		}
		if s.IsFastCharger() == rec.PreferFast {
			return i
		}
		if fallback < 0 {
			fallback = i
		}
	}
	return fallback
}

// AdvancePipeline completes the current step and starts the next one.
// Advancing a STAGING or DEPLOYED pipeline is a no-op. When the current step
// is blocked the orchestrator retries finding a stall for it instead.
func (o *Orchestrator) AdvancePipeline(ctx context.Context, vehicleID string) (model.ServicePipeline, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.advanceLocked(ctx, vehicleID)
}

func (o *Orchestrator) advanceLocked(ctx context.Context, vehicleID string) (model.ServicePipeline, error) {
	p, ok := o.repo.Get(vehicleID)
	if !ok {
		return model.ServicePipeline{}, fmt.Errorf("%w: %s", ErrPipelineNotFound, vehicleID)
	}
	if p.State == model.PipelineStaging || p.State == model.PipelineDeployed {
		return p, nil
	}
	now := o.clock.Now()

	if cur := p.CurrentStep(); cur != nil {
		if cur.Status == model.StepBlocked {
			if !o.retryBlocked(ctx, &p, cur) {
				return p, nil
			}
			o.startStep(&p, now)
			o.repo.Put(p)
			return p, nil
		}
		cur.Status = model.StepCompleted
		cur.Progress = 100
		cur.ActualEndTime = &now
	}

	p.CurrentStepIndex++
	if p.CurrentStepIndex >= len(p.Steps) {
		p.CurrentStepIndex = len(p.Steps)
		o.transition(&p, model.PipelineStaging, "All services complete, ready for deployment", now)
		o.repo.Put(p)
		return p, nil
	}
	next := p.CurrentStep()
	if next.AssignedStallID == "" {
		next.Status = model.StepBlocked
		o.transition(&p, model.PipelineQueued, fmt.Sprintf("Waiting for %s stall", next.StallType), now)
		o.repo.Put(p)
		return p, nil
	}
	o.startStep(&p, now)
	o.repo.Put(p)
	return p, nil
}

func (o *Orchestrator) startStep(p *model.ServicePipeline, now time.Time) {
	step := p.CurrentStep()
	step.Status = model.StepActive
	step.ActualStartTime = &now
	o.transition(p, model.PipelineInService, fmt.Sprintf("Started %s at stall #%d", step.ServiceType, step.AssignedStallNum), now)
}

// retryBlocked looks for a free stall for a blocked step. The assignment is
// soft: the stall is not reserved in the store.
func (o *Orchestrator) retryBlocked(ctx context.Context, p *model.ServicePipeline, step *model.PipelineStep) bool {
	if o.stalls == nil {
		return false
	}
	free, err := o.stalls.ListStalls(ctx, store.StallFilter{
		DepotID: p.DepotID,
		Types:   step.StallType.MatchingTypes(),
		Status:  model.StallAvailable,
	})
	if err != nil {
		o.logger.Errorf("retry blocked step for %s: %v", p.VehicleID, err)
		return false
	}
	rec := ChargeRecommendation{}
	if o.vehicles != nil {
		if v, err := o.vehicles.GetVehicle(ctx, p.VehicleID); err == nil {
			rec = o.engine.ChargeRecommendation(v)
		}
	}
	idx := pickStall(free, step.ServiceType, rec)
	if idx < 0 {
		return false
	}
	step.AssignedStallID = free[idx].ID
	step.AssignedStallNum = free[idx].StallNumber
	return true
}

// DeployVehicle releases a STAGING vehicle back to the fleet and archives its
// pipeline.
func (o *Orchestrator) DeployVehicle(ctx context.Context, vehicleID string) (model.ServicePipeline, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.repo.Get(vehicleID)
	if !ok {
		return model.ServicePipeline{}, fmt.Errorf("%w: %s", ErrPipelineNotFound, vehicleID)
	}
	if p.State != model.PipelineStaging {
		return p, fmt.Errorf("%w: %s is %s", ErrNotStaging, vehicleID, p.State)
	}
	now := o.clock.Now()
	p.DeployedAt = &now
	o.transition(&p, model.PipelineDeployed, "Vehicle deployed", now)
	o.repo.Delete(vehicleID)
	o.deployed++
	o.setVehicleStatus(ctx, vehicleID, model.VehicleDeployed)
	if o.bus != nil {
		o.bus.Publish(events.PipelineArchived{Pipeline: p.Clone(), Time: now})
	}
	return p, nil
}

// SimulateProgress nudges every in-service step forward by a random amount
// and advances pipelines whose step reached 100. It returns the number of
// pipelines advanced.
func (o *Orchestrator) SimulateProgress(ctx context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	advanced := 0
	for _, p := range o.repo.List() {
		if p.State != model.PipelineInService {
			continue
		}
		step := p.CurrentStep()
		if step == nil || step.Status != model.StepActive {
			continue
		}
		step.Progress += o.cfg.ProgressMin + o.rng.Intn(o.cfg.ProgressMax-o.cfg.ProgressMin+1)
		if step.Progress < 100 {
			o.repo.Put(p)
			continue
		}
		step.Progress = 100
		o.repo.Put(p)
		if _, err := o.advanceLocked(ctx, p.VehicleID); err != nil {
			return advanced, err
		}
		advanced++
	}
	return advanced, nil
}

// Run calls SimulateProgress every interval until ctx is done.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := o.SimulateProgress(ctx); err != nil {
				o.logger.Errorf("simulate progress: %v", err)
			}
		}
	}
}

// Get returns the live pipeline of a vehicle.
func (o *Orchestrator) Get(vehicleID string) (model.ServicePipeline, error) {
	p, ok := o.repo.Get(vehicleID)
	if !ok {
		return model.ServicePipeline{}, fmt.Errorf("%w: %s", ErrPipelineNotFound, vehicleID)
	}
	return p, nil
}

// List returns all live pipelines.
func (o *Orchestrator) List() []model.ServicePipeline { return o.repo.List() }

// StateCounts returns the number of live pipelines per state. DEPLOYED
// counts visits deployed since start, as deployed pipelines are archived.
func (o *Orchestrator) StateCounts() map[model.PipelineState]int {
	counts := make(map[model.PipelineState]int, len(model.PipelineStates))
	for _, s := range model.PipelineStates {
		counts[s] = 0
	}
	for _, p := range o.repo.List() {
		counts[p.State]++
	}
	o.mu.Lock()
	counts[model.PipelineDeployed] += o.deployed
	o.mu.Unlock()
	return counts
}

// Events returns up to limit transitions, newest first.
func (o *Orchestrator) Events(limit int) []model.TransitionEvent { return o.log.Recent(limit) }

func (o *Orchestrator) transition(p *model.ServicePipeline, to model.PipelineState, label string, now time.Time) {
	ev := model.TransitionEvent{
		Timestamp: now,
		VehicleID: p.VehicleID,
		FromState: p.State,
		ToState:   to,
		Label:     label,
	}
	p.State = to
	o.log.Append(ev)
	if o.bus != nil {
		o.bus.Publish(events.PipelineEvent{DepotID: p.DepotID, Transition: ev})
	}
	o.logger.Debugw("pipeline transition", map[string]any{
		"vehicle_id": p.VehicleID,
		"from":       ev.FromState,
		"to":         ev.ToState,
		"label":      label,
	})
}

func (o *Orchestrator) setVehicleStatus(ctx context.Context, vehicleID string, status model.VehicleStatus) {
	if o.vehicles == nil {
		return
	}
	if err := o.vehicles.SetVehicleStatus(ctx, vehicleID, status); err != nil {
		o.logger.Warnf("vehicle %s status %s: %v", vehicleID, status, err)
	}
}
