package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/depotsched/core/metrics"
	"github.com/kilianp07/depotsched/infra/logger"
)

// InfluxSink writes scheduling records to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying HTTP client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordAllocation writes one allocation_event point.
func (s *InfluxSink) RecordAllocation(rec coremetrics.AllocationRecord) error {
	p := write.NewPointWithMeasurement("allocation_event").
		AddTag("depot_id", rec.DepotID).
		AddTag("stall_type", string(rec.StallType)).
		AddTag("success", strconv.FormatBool(rec.Success)).
		AddField("attempts", rec.Attempts).
		AddField("reason", rec.Reason).
		SetTime(rec.Time)
	return s.write(p)
}

// RecordJobTransition writes one job_transition point.
func (s *InfluxSink) RecordJobTransition(rec coremetrics.JobTransitionRecord) error {
	p := write.NewPointWithMeasurement("job_transition").
		AddTag("depot_id", rec.DepotID).
		AddTag("job_type", string(rec.JobType)).
		AddTag("from", string(rec.From)).
		AddTag("to", string(rec.To)).
		AddField("job_id", rec.JobID).
		AddField("duration_s", round3(rec.Duration.Seconds())).
		SetTime(rec.Time)
	return s.write(p)
}

// RecordDepotUtilization writes one stall_utilization point.
func (s *InfluxSink) RecordDepotUtilization(rec coremetrics.UtilizationRecord) error {
	p := write.NewPointWithMeasurement("stall_utilization").
		AddTag("depot_id", rec.DepotID).
		AddTag("stall_type", string(rec.StallType)).
		AddField("total", rec.Total).
		AddField("occupied", rec.Occupied).
		AddField("available", rec.Available).
		AddField("maintenance", rec.Maintenance).
		AddField("utilization_pct", round3(rec.UtilizationPct)).
		SetTime(rec.Time)
	return s.write(p)
}

// RecordPipelineTransition writes one pipeline_transition point.
func (s *InfluxSink) RecordPipelineTransition(rec coremetrics.PipelineTransitionRecord) error {
	p := write.NewPointWithMeasurement("pipeline_transition").
		AddTag("depot_id", rec.DepotID).
		AddTag("from", string(rec.From)).
		AddTag("to", string(rec.To)).
		AddField("vehicle_id", rec.VehicleID).
		SetTime(rec.Time)
	return s.write(p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
