package resource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/depotsched/core/clock"
	"github.com/kilianp07/depotsched/core/events"
	"github.com/kilianp07/depotsched/core/logger"
	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/core/store"
	"github.com/kilianp07/depotsched/internal/eventbus"
)

// Failure reasons reported in AllocationResult.
const (
	ReasonAllOccupied = "All stalls occupied"
	ReasonConflict    = "Conflict: all candidates taken"
	ReasonNoStalls    = "No stalls of requested type"
)

const (
	// TransitionUrgency is the urgency used when moving a vehicle between stall types.
	TransitionUrgency = 80
	// DefaultWaitEstimate is reported when a transition cannot be placed immediately.
	// It is a flat approximation, not a computed ETA.
	DefaultWaitEstimate = 600 * time.Second
)

// AllocationRequest asks for a stall of a given type at a depot.
type AllocationRequest struct {
	VehicleID     string           `json:"vehicle_id"`
	StallType     model.StallType  `json:"stall_type"`
	DepotID       string           `json:"depot_id"`
	Urgency       int              `json:"urgency"`
	NextStallType *model.StallType `json:"next_stall_type,omitempty"`
	IsMember      bool             `json:"is_member"`
}

// Validate enumerates the missing or invalid fields.
func (r AllocationRequest) Validate() error {
	var fields []string
	if r.VehicleID == "" {
		fields = append(fields, "vehicle_id")
	}
	if r.DepotID == "" {
		fields = append(fields, "depot_id")
	}
	if !r.StallType.Valid() {
		fields = append(fields, "stall_type")
	}
	if r.Urgency < 0 || r.Urgency > 100 {
		fields = append(fields, "urgency")
	}
	if r.NextStallType != nil && !r.NextStallType.Valid() {
		fields = append(fields, "next_stall_type")
	}
	return validationError(fields)
}

// AllocationResult is the outcome of AllocateStall.
type AllocationResult struct {
	Success          bool   `json:"success"`
	StallID          string `json:"stall_id,omitempty"`
	StallNumber      int    `json:"stall_number,omitempty"`
	Reason           string `json:"reason,omitempty"`
	WaitlistPosition *int   `json:"waitlist_position,omitempty"`
}

// TransitionRequest moves a vehicle from its current stall to another type.
type TransitionRequest struct {
	VehicleID   string          `json:"vehicle_id"`
	FromStallID string          `json:"from_stall_id"`
	ToStallType model.StallType `json:"to_stall_type"`
	DepotID     string          `json:"depot_id"`
	IsMember    bool            `json:"is_member"`
}

// TransitionResult reports the release and the follow-up allocation.
type TransitionResult struct {
	Released             bool             `json:"released"`
	Allocation           AllocationResult `json:"allocation"`
	QueuedForWait        bool             `json:"queued_for_wait"`
	EstimatedWaitSeconds int              `json:"estimated_wait_seconds,omitempty"`
}

// Manager allocates, releases and reports on depot stalls.
type Manager struct {
	stalls store.StallStore
	scorer Scorer
	clock  clock.Clock
	bus    eventbus.EventBus
	logger logger.Logger
}

// NewManager creates a Manager. clk, bus and log are optional.
func NewManager(stalls store.StallStore, clk clock.Clock, bus eventbus.EventBus, log logger.Logger) (*Manager, error) {
	if stalls == nil {
		return nil, fmt.Errorf("resource: nil stall store")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{
		stalls: stalls,
		scorer: NewScorer(),
		clock:  clk,
		bus:    bus,
		logger: logger.OrNop(log),
	}, nil
}

// SetScorer replaces the ranking weights.
func (m *Manager) SetScorer(s Scorer) { m.scorer = s }

// ListStalls returns the stalls matching f.
func (m *Manager) ListStalls(ctx context.Context, f store.StallFilter) ([]model.Stall, error) {
	return m.stalls.ListStalls(ctx, f)
}

// RankCandidates returns the available stalls for req in the order
// AllocateStall would try them.
func (m *Manager) RankCandidates(ctx context.Context, req AllocationRequest) ([]Candidate, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	all, err := m.stalls.ListStalls(ctx, store.StallFilter{DepotID: req.DepotID, Types: req.StallType.MatchingTypes()})
	if err != nil {
		return nil, fmt.Errorf("list stalls: %w", err)
	}
	return m.scorer.Rank(all, req), nil
}

// AllocateStall reserves the best available stall for req.
func (m *Manager) AllocateStall(ctx context.Context, req AllocationRequest) (AllocationResult, error) {
	if err := req.Validate(); err != nil {
		return AllocationResult{}, err
	}
	all, err := m.stalls.ListStalls(ctx, store.StallFilter{DepotID: req.DepotID, Types: req.StallType.MatchingTypes()})
	if err != nil {
		return AllocationResult{}, fmt.Errorf("list stalls: %w", err)
	}
	if len(all) == 0 {
		res := AllocationResult{Reason: ReasonNoStalls}
		m.publishAllocation(req, res, 0)
		return res, nil
	}
	ranked := m.scorer.Rank(all, req)
	if len(ranked) == 0 {
		waiting := 0
		for _, s := range all {
			if s.Status != model.StallMaintenance {
				waiting++
			}
		}
		res := AllocationResult{Reason: ReasonAllOccupied, WaitlistPosition: &waiting}
		m.publishAllocation(req, res, 0)
		return res, nil
	}

	now := m.clock.Now()
	attempts := 0
	for _, c := range ranked {
		attempts++
		next := c.Stall.Vacated(model.StallReserved)
		next.CurrentVehicleID = req.VehicleID
		next.SessionStartedAt = &now
		ok, err := m.stalls.CompareAndSwapStall(ctx, model.StallAvailable, next)
		if err != nil {
			return AllocationResult{}, fmt.Errorf("reserve stall %s: %w", c.Stall.ID, err)
		}
		if !ok {
			m.logger.Debugf("stall %d taken concurrently, trying next candidate", c.Stall.StallNumber)
			continue
		}
		res := AllocationResult{Success: true, StallID: c.Stall.ID, StallNumber: c.Stall.StallNumber}
		m.logger.Debugw("stall allocated", map[string]any{
			"vehicle_id": req.VehicleID,
			"stall":      c.Stall.StallNumber,
			"score":      c.Score,
			"attempts":   attempts,
		})
		m.publishAllocation(req, res, attempts)
		return res, nil
	}
	res := AllocationResult{Reason: ReasonConflict}
	m.logger.Warnf("allocation for vehicle %s lost every race (%d candidates)", req.VehicleID, attempts)
	m.publishAllocation(req, res, attempts)
	return res, nil
}

// ReleaseStall returns a stall to the available pool and clears its occupant.
// Releasing an available stall is a no-op. A stall under maintenance stays
// offline.
func (m *Manager) ReleaseStall(ctx context.Context, stallID string) (model.Stall, error) {
	st, err := m.stalls.GetStall(ctx, stallID)
	if err != nil {
		return model.Stall{}, fmt.Errorf("get stall %s: %w", stallID, err)
	}
	switch st.Status {
	case model.StallAvailable, model.StallMaintenance:
		if st.CurrentVehicleID == "" && st.CurrentJobID == "" {
			return st, nil
		}
		st = st.Vacated(st.Status)
	case model.StallReserved, model.StallOccupied:
		st = st.Vacated(model.StallAvailable)
	}
	if err := m.stalls.UpdateStall(ctx, st); err != nil {
		return model.Stall{}, fmt.Errorf("release stall %s: %w", stallID, err)
	}
	m.publishStall(st, events.StallReleased)
	return st, nil
}

// ReleaseStallFor vacates the stall only while it is still bound to jobID.
// released is false when the stall has since been taken over or freed, in
// which case nothing is written.
func (m *Manager) ReleaseStallFor(ctx context.Context, stallID, jobID string) (st model.Stall, released bool, err error) {
	for attempt := 0; attempt < 3; attempt++ {
		st, err = m.stalls.GetStall(ctx, stallID)
		if err != nil {
			return model.Stall{}, false, fmt.Errorf("get stall %s: %w", stallID, err)
		}
		if jobID == "" || st.CurrentJobID != jobID {
			return st, false, nil
		}
		status := model.StallAvailable
		if st.Status == model.StallMaintenance {
			status = model.StallMaintenance
		}
		next := st.Vacated(status)
		ok, err := m.stalls.CompareAndSwapStallFor(ctx, st.Status, jobID, next)
		if err != nil {
			return model.Stall{}, false, fmt.Errorf("release stall %s: %w", stallID, err)
		}
		if ok {
			m.publishStall(next, events.StallReleased)
			return next, true, nil
		}
	}
	return st, false, nil
}

// MarkStallMaintenance takes a stall offline, evicting any occupant, or puts
// it back into service. Bringing a stall back does not check for sessions.
func (m *Manager) MarkStallMaintenance(ctx context.Context, stallID string, offline bool) (model.Stall, error) {
	st, err := m.stalls.GetStall(ctx, stallID)
	if err != nil {
		return model.Stall{}, fmt.Errorf("get stall %s: %w", stallID, err)
	}
	action := events.StallMaintenanceOff
	status := model.StallAvailable
	if offline {
		action = events.StallMaintenanceOn
		status = model.StallMaintenance
		if st.Status.HoldsOccupant() {
			m.logger.Warnf("stall %d pre-empted for maintenance, evicting vehicle %s", st.StallNumber, st.CurrentVehicleID)
		}
	}
	st = st.Vacated(status)
	if err := m.stalls.UpdateStall(ctx, st); err != nil {
		return model.Stall{}, fmt.Errorf("update stall %s: %w", stallID, err)
	}
	m.publishStall(st, action)
	return st, nil
}

// TransitionVehicle frees the vehicle's current stall and tries to place it
// on a stall of the next type. The release happens even if the new
// allocation fails.
func (m *Manager) TransitionVehicle(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	var fields []string
	if req.VehicleID == "" {
		fields = append(fields, "vehicle_id")
	}
	if req.FromStallID == "" {
		fields = append(fields, "from_stall_id")
	}
	if req.DepotID == "" {
		fields = append(fields, "depot_id")
	}
	if !req.ToStallType.Valid() {
		fields = append(fields, "to_stall_type")
	}
	if err := validationError(fields); err != nil {
		return TransitionResult{}, err
	}
	if _, err := m.ReleaseStall(ctx, req.FromStallID); err != nil {
		return TransitionResult{}, err
	}
	alloc, err := m.AllocateStall(ctx, AllocationRequest{
		VehicleID: req.VehicleID,
		StallType: req.ToStallType,
		DepotID:   req.DepotID,
		Urgency:   TransitionUrgency,
		IsMember:  req.IsMember,
	})
	if err != nil {
		return TransitionResult{Released: true}, err
	}
	res := TransitionResult{Released: true, Allocation: alloc}
	if !alloc.Success {
		res.QueuedForWait = true
		res.EstimatedWaitSeconds = int(DefaultWaitEstimate / time.Second)
	}
	return res, nil
}

// IsNotFound reports whether err stems from an unknown stall id.
func IsNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }

func (m *Manager) publishAllocation(req AllocationRequest, res AllocationResult, attempts int) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.AllocationEvent{
		DepotID:     req.DepotID,
		VehicleID:   req.VehicleID,
		StallType:   req.StallType,
		StallID:     res.StallID,
		StallNumber: res.StallNumber,
		Success:     res.Success,
		Reason:      res.Reason,
		Attempts:    attempts,
		Time:        m.clock.Now(),
	})
}

func (m *Manager) publishStall(st model.Stall, action events.StallAction) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.StallEvent{StallID: st.ID, DepotID: st.DepotID, Action: action, Time: m.clock.Now()})
}
