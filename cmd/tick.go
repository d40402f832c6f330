package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kilianp07/depotsched/core/jobs"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduler sweep against the configured store and print the outcome",
	RunE:  runTick,
}

func init() {
	rootCmd.AddCommand(tickCmd)
}

type tickOutput struct {
	Transitions jobs.TransitionSummary `json:"transitions"`
	Scheduled   []jobs.ScheduleResult  `json:"scheduled"`
}

func runTick(cmd *cobra.Command, args []string) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer closeService(svc)
	sum, results := svc.Scheduler.Tick(commandContext(cmd))
	if results == nil {
		results = []jobs.ScheduleResult{}
	}
	return printJSON(cmd.OutOrStdout(), tickOutput{Transitions: sum, Scheduled: results})
}
