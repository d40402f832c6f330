package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/kilianp07/depotsched/core/forecast"
	"github.com/kilianp07/depotsched/core/jobs"
)

func execute(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	return out, rootCmd.Execute()
}

func TestForecastDemandCommand(t *testing.T) {
	out, err := execute(t, "forecast", "demand", "--at", "2025-03-04T17:00:00Z", "--multiplier", "2", "--staged", "5")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var d forecast.Demand
	if err := json.Unmarshal(out.Bytes(), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.CurrentHour.VehiclesNeeded != 20 || d.CurrentHour.Deficit != 15 {
		t.Fatalf("unexpected demand %#v", d.CurrentHour)
	}
}

func TestForecastEnergyCommand(t *testing.T) {
	out, err := execute(t, "forecast", "energy", "--at", "2025-03-04T23:00:00Z", "--fleet", "4")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var a forecast.Arbitrage
	if err := json.Unmarshal(out.Bytes(), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.FleetSize != 4 || a.CurrentTier != forecast.TierOffPeak {
		t.Fatalf("unexpected arbitrage %#v", a)
	}
}

func TestForecastRejectsBadTime(t *testing.T) {
	if _, err := execute(t, "forecast", "energy", "--at", "tomorrow"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTickCommandOnEmptyStore(t *testing.T) {
	t.Setenv("K_LOGGING__LEVEL", "error")
	out, err := execute(t, "tick", "--config", "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var res tickOutput
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Transitions != (jobs.TransitionSummary{}) || len(res.Scheduled) != 0 {
		t.Fatalf("unexpected tick %#v", res)
	}
}

func TestForecastEnergyCSV(t *testing.T) {
	out, err := execute(t, "forecast", "energy", "--at", "2025-03-04T12:00:00Z", "--format", "csv")
	t.Cleanup(func() { forecastFormat = "json" })
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !bytes.HasPrefix(out.Bytes(), []byte("hour,tier,kwh,cost\n")) {
		t.Fatalf("unexpected csv %q", out.String())
	}
}
