package metrics

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordAllocation forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordAllocation(rec AllocationRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordAllocation(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordJobTransition forwards job transitions to sinks that support them.
func (m *MultiSink) RecordJobTransition(rec JobTransitionRecord) error {
	for _, s := range m.Sinks {
		if r, ok := s.(JobTransitionRecorder); ok {
			if err := r.RecordJobTransition(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordDepotUtilization forwards utilization snapshots.
func (m *MultiSink) RecordDepotUtilization(rec UtilizationRecord) error {
	for _, s := range m.Sinks {
		if r, ok := s.(UtilizationRecorder); ok {
			if err := r.RecordDepotUtilization(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordPipelineTransition forwards pipeline transitions.
func (m *MultiSink) RecordPipelineTransition(rec PipelineTransitionRecord) error {
	for _, s := range m.Sinks {
		if r, ok := s.(PipelineTransitionRecorder); ok {
			if err := r.RecordPipelineTransition(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close flushes and closes every sink that holds a connection.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		Close(s)
	}
}

// Close releases s when it holds a connection.
func Close(s MetricsSink) {
	if c, ok := s.(interface{ Close() }); ok {
		c.Close()
	}
}
