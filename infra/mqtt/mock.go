package mqtt

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilianp07/depotsched/core/model"
)

// MockPublisher records notifications and events in memory. It stands in for
// PahoClient when MQTT is disabled in tests.
type MockPublisher struct {
	mu       sync.Mutex
	Statuses map[string][]model.VehicleStatus
	Events   []any
	FailIDs  map[string]bool
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		Statuses: make(map[string][]model.VehicleStatus),
		FailIDs:  make(map[string]bool),
	}
}

// NotifyVehicleStatus records the status or fails for configured vehicles.
func (m *MockPublisher) NotifyVehicleStatus(_ context.Context, vehicleID string, status model.VehicleStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailIDs[vehicleID] {
		return fmt.Errorf("publish failed")
	}
	m.Statuses[vehicleID] = append(m.Statuses[vehicleID], status)
	return nil
}

// PublishEvent records the event.
func (m *MockPublisher) PublishEvent(_ context.Context, ev any) error {
	m.mu.Lock()
	m.Events = append(m.Events, ev)
	m.mu.Unlock()
	return nil
}

// Last returns the most recent status published for vehicleID.
func (m *MockPublisher) Last(vehicleID string) (model.VehicleStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.Statuses[vehicleID]
	if len(s) == 0 {
		return "", false
	}
	return s[len(s)-1], true
}

// EventCount returns how many events were recorded.
func (m *MockPublisher) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Events)
}
