package metrics

import (
	"context"

	"github.com/kilianp07/depotsched/core/events"
	coremetrics "github.com/kilianp07/depotsched/core/metrics"
	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/infra/logger"
	"github.com/kilianp07/depotsched/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records metrics for events.
// It stops when the context is canceled. The returned channel is closed once
// the collector has unsubscribed.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || sink == nil {
		close(done)
		return done
	}
	log := logger.New("metrics-collector")
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
				if err := Record(sink, ev); err != nil {
					log.Warnf("record %T: %v", ev, err)
				}
			}
		}
	}()
	return done
}

// Record translates a single bus event into the matching sink record.
// Events without a metric counterpart are ignored.
func Record(sink coremetrics.MetricsSink, ev any) error {
	switch e := ev.(type) {
	case events.AllocationEvent:
		return sink.RecordAllocation(coremetrics.AllocationRecord{
			DepotID:   e.DepotID,
			StallType: e.StallType,
			Success:   e.Success,
			Reason:    e.Reason,
			Attempts:  e.Attempts,
			Time:      e.Time,
		})
	case events.JobEvent:
		if r, ok := sink.(coremetrics.JobTransitionRecorder); ok {
			return r.RecordJobTransition(coremetrics.JobTransitionRecord{
				JobID:    e.JobID,
				DepotID:  e.DepotID,
				JobType:  e.JobType,
				From:     e.From,
				To:       e.To,
				Duration: e.Duration,
				Time:     e.Time,
			})
		}
	case events.UtilizationEvent:
		if r, ok := sink.(coremetrics.UtilizationRecorder); ok {
			return r.RecordDepotUtilization(coremetrics.UtilizationRecord{
				DepotID:        e.DepotID,
				StallType:      e.StallType,
				Total:          e.Total,
				Occupied:       e.Occupied,
				Available:      e.Available,
				Maintenance:    e.Maintenance,
				UtilizationPct: e.UtilizationPct,
				Time:           e.Time,
			})
		}
	case events.PipelineEvent:
		if r, ok := sink.(coremetrics.PipelineTransitionRecorder); ok {
			return r.RecordPipelineTransition(pipelineRecord(e))
		}
	}
	return nil
}

func pipelineRecord(e events.PipelineEvent) coremetrics.PipelineTransitionRecord {
	tr := e.Transition
	from := tr.FromState
	if from == "" {
		from = model.PipelineState("NONE")
	}
	return coremetrics.PipelineTransitionRecord{
		DepotID:   e.DepotID,
		VehicleID: tr.VehicleID,
		From:      from,
		To:        tr.ToState,
		Time:      tr.Timestamp,
	}
}
