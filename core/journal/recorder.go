package journal

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/kilianp07/depotsched/core/events"
	"github.com/kilianp07/depotsched/core/logger"
	"github.com/kilianp07/depotsched/internal/eventbus"
)

// FromEvent converts a bus event into a Record. The second result is false
// for events that are not journaled.
func FromEvent(ev any) (Record, bool, error) {
	var rec Record
	switch e := ev.(type) {
	case events.AllocationEvent:
		rec = Record{Timestamp: e.Time, Kind: KindAllocation, DepotID: e.DepotID, VehicleID: e.VehicleID}
	case events.StallEvent:
		rec = Record{Timestamp: e.Time, Kind: KindStall, DepotID: e.DepotID}
	case events.JobEvent:
		rec = Record{Timestamp: e.Time, Kind: KindJob, DepotID: e.DepotID, VehicleID: e.VehicleID, JobID: e.JobID}
	case events.PipelineEvent:
		rec = Record{Timestamp: e.Transition.Timestamp, Kind: KindPipeline, DepotID: e.DepotID, VehicleID: e.Transition.VehicleID}
	case events.PipelineArchived:
		rec = Record{Timestamp: e.Time, Kind: KindPipelineArchived, DepotID: e.Pipeline.DepotID, VehicleID: e.Pipeline.VehicleID}
	default:
		return Record{}, false, nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return Record{}, false, err
	}
	rec.ID = uuid.NewString()
	rec.Payload = payload
	return rec, true, nil
}

// StartRecorder subscribes to bus and appends every journaled event to st
// until ctx is canceled. The returned channel is closed once the recorder exits.
func StartRecorder(ctx context.Context, bus eventbus.EventBus, st Store, log logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || st == nil {
		close(done)
		return done
	}
	log = logger.OrNop(log)
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				rec, keep, err := FromEvent(ev)
				if err != nil {
					log.Warnf("journal encode %T: %v", ev, err)
					continue
				}
				if !keep {
					continue
				}
				if err := st.Append(ctx, rec); err != nil {
					log.Errorf("journal append %s: %v", rec.Kind, err)
				}
			}
		}
	}()
	return done
}
