package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/depotsched/core/forecast"
	"github.com/kilianp07/depotsched/pkg/export"
)

var (
	forecastMultiplier float64
	forecastStaged     int
	forecastFleet      int
	forecastAt         string
	forecastFormat     string
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Offline demand and energy forecasts",
}

var forecastDemandCmd = &cobra.Command{
	Use:   "demand",
	Short: "Print the hourly vehicle demand of a day",
	RunE: func(cmd *cobra.Command, args []string) error {
		now, err := forecastTime()
		if err != nil {
			return err
		}
		if forecastMultiplier <= 0 {
			return fmt.Errorf("multiplier must be positive")
		}
		if forecastStaged < 0 {
			return fmt.Errorf("staged must be non-negative")
		}
		format, err := export.ParseFormat(forecastFormat)
		if err != nil {
			return err
		}
		d := forecast.Forecast(now, forecastStaged, forecastMultiplier)
		switch format {
		case export.FormatCSV:
			return export.WriteDemandCSV(cmd.OutOrStdout(), d.Hours)
		case export.FormatHTML:
			return export.WriteDemandChart(cmd.OutOrStdout(), d.Hours)
		}
		return export.WriteJSON(cmd.OutOrStdout(), d)
	},
}

var forecastEnergyCmd = &cobra.Command{
	Use:   "energy",
	Short: "Print the time-of-use charging cost of a fleet",
	RunE: func(cmd *cobra.Command, args []string) error {
		now, err := forecastTime()
		if err != nil {
			return err
		}
		if forecastFleet < 0 {
			return fmt.Errorf("fleet must be non-negative")
		}
		format, err := export.ParseFormat(forecastFormat)
		if err != nil {
			return err
		}
		a := forecast.ComputeArbitrage(forecastFleet, now)
		switch format {
		case export.FormatCSV:
			return export.WriteEnergyCSV(cmd.OutOrStdout(), a.Hours)
		case export.FormatHTML:
			return export.WriteEnergyChart(cmd.OutOrStdout(), a.Hours)
		}
		return export.WriteJSON(cmd.OutOrStdout(), a)
	},
}

func forecastTime() (time.Time, error) {
	if forecastAt == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, forecastAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at must be RFC3339: %w", err)
	}
	return t, nil
}

func init() {
	forecastCmd.PersistentFlags().StringVar(&forecastFormat, "format", "json", "output format: json, csv or html")
	forecastCmd.PersistentFlags().StringVar(&forecastAt, "at", "", "reference time (RFC3339), defaults to now")
	forecastDemandCmd.Flags().Float64Var(&forecastMultiplier, "multiplier", 1, "surge multiplier")
	forecastDemandCmd.Flags().IntVar(&forecastStaged, "staged", 0, "vehicles staged and ready")
	forecastEnergyCmd.Flags().IntVar(&forecastFleet, "fleet", 10, "fleet size")
	forecastCmd.AddCommand(forecastDemandCmd, forecastEnergyCmd)
	rootCmd.AddCommand(forecastCmd)
}
