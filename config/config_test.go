package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/depotsched/core/journal"
	"github.com/kilianp07/depotsched/infra/logger"
)

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

//nolint:gocyclo
func TestLoad(t *testing.T) {
	path := writeConfig(t, "config.yaml", `server:
  addr: ":9000"
store:
  backend: "sqlite"
  path: "file:depot.db"
  seed_file: "depot.yaml"
scheduler:
  batch_size: 10
  seed: 7
pipeline:
  event_log_capacity: 50
mqtt:
  enabled: true
  broker: "tcp://localhost:1883"
  client_id: "cli"
  topic_prefix: "yard"
  qos:
    status: 1
metrics:
  prometheus_port: "9100"
  sinks:
    - type: "nop"
journal:
  backend: "jsonl"
  path: "journal.jsonl"
logging:
  backend: "logrus"
  level: "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"server.addr", cfg.Server.Addr, ":9000"},
		{"store.backend", cfg.Store.Backend, "sqlite"},
		{"store.seed_file", cfg.Store.SeedFile, "depot.yaml"},
		{"scheduler.batch_size", cfg.Scheduler.BatchSize, 10},
		{"scheduler.seed", cfg.Scheduler.Seed, int64(7)},
		{"scheduler.tick_seconds", cfg.Scheduler.TickSeconds, 30},
		{"pipeline.event_log_capacity", cfg.Pipeline.EventLogCapacity, 50},
		{"pipeline.default_step_minutes", cfg.Pipeline.DefaultStepMinutes, 30},
		{"mqtt.broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"mqtt.topic_prefix", cfg.MQTT.TopicPrefix, "yard"},
		{"mqtt.qos.status", cfg.MQTT.QoS["status"], byte(1)},
		{"metrics.port", cfg.Metrics.PrometheusPort, "9100"},
		{"metrics_sink", len(cfg.Metrics.Sinks) == 1 && cfg.Metrics.Sinks[0].Type == "nop", true},
		{"journal.backend", cfg.Journal.Backend, journal.BackendJSONL},
		{"logging.backend", cfg.Logging.Backend, logger.BackendLogrus},
		{"forecast.fleet_size", cfg.Forecast.FleetSize, 10},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: %v", c.name, c.got)
		}
	}
}

func TestLoadJSONWithEnvOverride(t *testing.T) {
	path := writeConfig(t, "config.json", `{"server":{"addr":":7000"},"scheduler":{"batch_size":5}}`)
	t.Setenv("K_SERVER__ADDR", ":7100")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7100", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Scheduler.BatchSize)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 20, cfg.Scheduler.BatchSize)
	assert.Equal(t, 200, cfg.Pipeline.EventLogCapacity)
	assert.Equal(t, "9090", cfg.Metrics.PrometheusPort)
	assert.Equal(t, journal.BackendMemory, cfg.Journal.Backend)
	assert.False(t, cfg.MQTT.Enabled)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"store":    "store:\n  backend: redis\n",
		"mqtt":     "mqtt:\n  enabled: true\n",
		"pipeline": "pipeline:\n  progress_min: 30\n  progress_max: 10\n",
		"forecast": "forecast:\n  surge_multiplier: -1\n",
		"sentry":   "sentry:\n  traces_sample_rate: 2\n",
		"journal":  "journal:\n  backend: kafka\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "c.yaml", data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), name)
		})
	}
	_, err := Load(writeConfig(t, "c.toml", "x=1"))
	assert.Error(t, err)
}
