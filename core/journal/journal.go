// Package journal archives job, pipeline and allocation history for later
// inspection. Records are appended by a bus subscriber and queried by the API.
package journal

import (
	"context"
	"encoding/json"
	"time"
)

// Kind classifies a journal record.
type Kind string

const (
	KindAllocation       Kind = "allocation"
	KindJob              Kind = "job"
	KindPipeline         Kind = "pipeline_transition"
	KindPipelineArchived Kind = "pipeline_archived"
	KindStall            Kind = "stall"
)

// Record is one archived occurrence.
type Record struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      Kind            `json:"kind"`
	DepotID   string          `json:"depot_id,omitempty"`
	VehicleID string          `json:"vehicle_id,omitempty"`
	JobID     string          `json:"job_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Query defines filters for retrieving records. Zero values match everything.
type Query struct {
	Start     time.Time
	End       time.Time
	Kind      Kind
	DepotID   string
	VehicleID string
	JobID     string
	// Limit keeps the most recent matches when positive.
	Limit int
}

// Matches reports whether r satisfies every filter of q except Limit.
func (q Query) Matches(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.DepotID != "" && r.DepotID != q.DepotID {
		return false
	}
	if q.VehicleID != "" && r.VehicleID != q.VehicleID {
		return false
	}
	if q.JobID != "" && r.JobID != q.JobID {
		return false
	}
	return true
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// tail keeps the last n records when n is positive.
func tail(recs []Record, n int) []Record {
	if n > 0 && len(recs) > n {
		return recs[len(recs)-n:]
	}
	return recs
}
