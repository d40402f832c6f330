package metrics

import (
	"strconv"

	coremetrics "github.com/kilianp07/depotsched/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records scheduling activity in Prometheus metrics.
type PromSink struct {
	allocations *prometheus.CounterVec
	attempts    *prometheus.HistogramVec
	jobs        *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	utilization *prometheus.GaugeVec
	stalls      *prometheus.GaugeVec
	pipelines   *prometheus.CounterVec
}

// NewPromSink registers metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depot_allocations_total",
			Help: "Stall allocation attempts by outcome",
		}, []string{"depot_id", "stall_type", "success"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "depot_allocation_attempts",
			Help:    "Compare-and-swap tries per allocation",
			Buckets: []float64{1, 2, 3, 5, 8},
		}, []string{"depot_id", "stall_type"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depot_job_transitions_total",
			Help: "Job lifecycle transitions",
		}, []string{"depot_id", "job_type", "from", "to"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "depot_job_active_seconds",
			Help:    "Realized active duration of completed jobs",
			Buckets: prometheus.ExponentialBuckets(300, 2, 7),
		}, []string{"depot_id", "job_type"}),
		utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "depot_stall_utilization_percent",
			Help: "Occupied share of in-service stalls",
		}, []string{"depot_id", "stall_type"}),
		stalls: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "depot_stalls",
			Help: "Stall counts by status",
		}, []string{"depot_id", "stall_type", "status"}),
		pipelines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "depot_pipeline_transitions_total",
			Help: "Service pipeline state changes",
		}, []string{"depot_id", "from", "to"}),
	}
	var err error
	if s.allocations, err = register(reg, s.allocations); err != nil {
		return nil, err
	}
	if s.attempts, err = register(reg, s.attempts); err != nil {
		return nil, err
	}
	if s.jobs, err = register(reg, s.jobs); err != nil {
		return nil, err
	}
	if s.jobDuration, err = register(reg, s.jobDuration); err != nil {
		return nil, err
	}
	if s.utilization, err = register(reg, s.utilization); err != nil {
		return nil, err
	}
	if s.stalls, err = register(reg, s.stalls); err != nil {
		return nil, err
	}
	if s.pipelines, err = register(reg, s.pipelines); err != nil {
		return nil, err
	}
	return s, nil
}

// register adds c to reg, reusing an identical collector that is already there.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordAllocation counts an allocation outcome.
func (s *PromSink) RecordAllocation(rec coremetrics.AllocationRecord) error {
	st := string(rec.StallType)
	s.allocations.WithLabelValues(rec.DepotID, st, strconv.FormatBool(rec.Success)).Inc()
	if rec.Attempts > 0 {
		s.attempts.WithLabelValues(rec.DepotID, st).Observe(float64(rec.Attempts))
	}
	return nil
}

// RecordJobTransition counts a job transition and observes active time on completion.
func (s *PromSink) RecordJobTransition(rec coremetrics.JobTransitionRecord) error {
	jt := string(rec.JobType)
	s.jobs.WithLabelValues(rec.DepotID, jt, string(rec.From), string(rec.To)).Inc()
	if rec.Duration > 0 {
		s.jobDuration.WithLabelValues(rec.DepotID, jt).Observe(rec.Duration.Seconds())
	}
	return nil
}

// RecordDepotUtilization sets the utilization and per-status gauges.
func (s *PromSink) RecordDepotUtilization(rec coremetrics.UtilizationRecord) error {
	st := string(rec.StallType)
	s.utilization.WithLabelValues(rec.DepotID, st).Set(rec.UtilizationPct)
	s.stalls.WithLabelValues(rec.DepotID, st, "occupied").Set(float64(rec.Occupied))
	s.stalls.WithLabelValues(rec.DepotID, st, "available").Set(float64(rec.Available))
	s.stalls.WithLabelValues(rec.DepotID, st, "maintenance").Set(float64(rec.Maintenance))
	return nil
}

// RecordPipelineTransition counts a pipeline state change.
func (s *PromSink) RecordPipelineTransition(rec coremetrics.PipelineTransitionRecord) error {
	s.pipelines.WithLabelValues(rec.DepotID, string(rec.From), string(rec.To)).Inc()
	return nil
}
