// Package export writes forecast plans as JSON, CSV or an HTML chart.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kilianp07/depotsched/core/forecast"
)

// WriteJSON encodes v to w.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteEnergyCSV writes the hourly charging plan with one row per hour.
func WriteEnergyCSV(w io.Writer, hours []forecast.HourCost) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"hour", "tier", "kwh", "cost"}); err != nil {
		return err
	}
	for _, h := range hours {
		rec := []string{
			strconv.Itoa(h.Hour),
			string(h.Tier),
			strconv.FormatFloat(h.KWh, 'f', -1, 64),
			strconv.FormatFloat(h.Cost, 'f', 4, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDemandCSV writes the hourly vehicle demand with one row per hour.
func WriteDemandCSV(w io.Writer, hours []forecast.HourDemand) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"hour", "vehicles_needed", "deficit"}); err != nil {
		return err
	}
	for _, h := range hours {
		if err := cw.Write([]string{strconv.Itoa(h.Hour), strconv.Itoa(h.VehiclesNeeded), strconv.Itoa(h.Deficit)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Format names an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
)

// ParseFormat validates a user supplied format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatCSV, FormatHTML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q", s)
	}
}

// WriteEnergyChart renders the hourly energy plan as a bar chart page.
func WriteEnergyChart(w io.Writer, hours []forecast.HourCost) error {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Charging plan"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Hour"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "kWh"}),
	)
	x := make([]string, 0, len(hours))
	kwh := make([]opts.BarData, 0, len(hours))
	cost := make([]opts.BarData, 0, len(hours))
	for _, h := range hours {
		x = append(x, fmt.Sprintf("%02d:00", h.Hour))
		kwh = append(kwh, opts.BarData{Name: string(h.Tier), Value: h.KWh})
		cost = append(cost, opts.BarData{Name: string(h.Tier), Value: h.Cost})
	}
	bar.SetXAxis(x).AddSeries("kWh", kwh).AddSeries("Cost", cost)
	if err := bar.Render(w); err != nil {
		return fmt.Errorf("render energy chart: %w", err)
	}
	return nil
}

// WriteDemandChart renders vehicles needed and deficit per hour as lines.
func WriteDemandChart(w io.Writer, hours []forecast.HourDemand) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Vehicle demand"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Hour"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Vehicles"}),
	)
	x := make([]string, 0, len(hours))
	needed := make([]opts.LineData, 0, len(hours))
	deficit := make([]opts.LineData, 0, len(hours))
	for _, h := range hours {
		x = append(x, fmt.Sprintf("%02d:00", h.Hour))
		needed = append(needed, opts.LineData{Value: h.VehiclesNeeded})
		deficit = append(deficit, opts.LineData{Value: h.Deficit})
	}
	line.SetXAxis(x).AddSeries("Needed", needed).AddSeries("Deficit", deficit)
	if err := line.Render(w); err != nil {
		return fmt.Errorf("render demand chart: %w", err)
	}
	return nil
}
