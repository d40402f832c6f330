package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kilianp07/depotsched/core/model"
	"github.com/kilianp07/depotsched/core/store"
)

var stallsDepot string

var stallsCmd = &cobra.Command{
	Use:   "stalls",
	Short: "Stall related commands",
}

var stallsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stalls of the configured store",
	RunE:  runStallsLs,
}

var stallsMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print per-type utilization of a depot",
	RunE:  runStallsMetrics,
}

func init() {
	stallsCmd.PersistentFlags().StringVar(&stallsDepot, "depot", "", "depot id")
	stallsCmd.AddCommand(stallsLsCmd, stallsMetricsCmd)
	rootCmd.AddCommand(stallsCmd)
}

func runStallsLs(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer closeService(svc)
	stalls, err := svc.Resources.ListStalls(commandContext(cmd), store.StallFilter{DepotID: stallsDepot})
	if err != nil {
		return err
	}
	if stalls == nil {
		stalls = []model.Stall{}
	}
	return printJSON(cmd.OutOrStdout(), stalls)
}

func runStallsMetrics(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer closeService(svc)
	m, err := svc.Resources.GetDepotMetrics(commandContext(cmd), stallsDepot)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), m)
}
