// Package e2e drives the assembled depot scheduler against real brokers and
// time-series storage started with testcontainers.
package e2e

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxReader queries the measurements written by the influx metrics sink.
type InfluxReader struct {
	org    string
	bucket string
	client influxdb2.Client
	query  api.QueryAPI
}

// NewInfluxReader creates a reader for an already running server.
func NewInfluxReader(url, org, bucket, token string) *InfluxReader {
	c := influxdb2.NewClient(url, token)
	return &InfluxReader{org: org, bucket: bucket, client: c, query: c.QueryAPI(org)}
}

// EnsureBucket creates the bucket when the server was set up without it.
func (r *InfluxReader) EnsureBucket(ctx context.Context) error {
	org, err := r.client.OrganizationsAPI().FindOrganizationByName(ctx, r.org)
	if err != nil {
		return fmt.Errorf("find org: %w", err)
	}
	buckets := r.client.BucketsAPI()
	if b, err := buckets.FindBucketByName(ctx, r.bucket); err == nil && b != nil {
		return nil
	}
	if _, err := buckets.CreateBucketWithName(ctx, org, r.bucket); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// CountPoints returns how many points of measurement carry tag=value in the
// last hour.
func (r *InfluxReader) CountPoints(ctx context.Context, measurement, tag, value string) (int, error) {
	flux := fmt.Sprintf(`from(bucket:%q) |> range(start:-1h) |> filter(fn:(r) => r._measurement == %q and r.%s == %q)`,
		r.bucket, measurement, tag, value)
	res, err := r.query.Query(ctx, flux)
	if err != nil {
		return 0, err
	}
	defer func() { _ = res.Close() }()
	n := 0
	for res.Next() {
		n++
	}
	return n, res.Err()
}

// Close releases the underlying client resources.
func (r *InfluxReader) Close() { r.client.Close() }
