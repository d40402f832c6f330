package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/kilianp07/depotsched/core/model"
)

// ErrIllegalTransition is returned when an event is not allowed from the job's state.
var ErrIllegalTransition = errors.New("illegal job transition")

// Lifecycle events.
const (
	EventSchedule = "schedule"
	EventActivate = "activate"
	EventComplete = "complete"
	EventCancel   = "cancel"
)

var lifecycle = fsm.Events{
	{Name: EventSchedule, Src: []string{string(model.JobPending)}, Dst: string(model.JobScheduled)},
	{Name: EventActivate, Src: []string{string(model.JobScheduled)}, Dst: string(model.JobActive)},
	{Name: EventComplete, Src: []string{string(model.JobActive)}, Dst: string(model.JobCompleted)},
	{Name: EventCancel, Src: []string{
		string(model.JobPending), string(model.JobScheduled), string(model.JobActive),
	}, Dst: string(model.JobCancelled)},
}

// NextState returns the state reached by firing event from the given state.
func NextState(from model.JobState, event string) (model.JobState, error) {
	m := fsm.NewFSM(string(from), lifecycle, fsm.Callbacks{})
	if err := m.Event(context.Background(), event); err != nil {
		return "", fmt.Errorf("%w: %s from %s", ErrIllegalTransition, event, from)
	}
	return model.JobState(m.Current()), nil
}
