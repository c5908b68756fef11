package cmd

import (
	"github.com/spf13/cobra"

	"farmkpi/internal/config"
	"farmkpi/internal/observability"
	"farmkpi/internal/ui"
	"farmkpi/internal/warehouse"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List the available KPI jobs",
	Run:   runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		ui.ShowError(err)
		return
	}

	// Listing needs no connection, the service stays offline.
	svc := warehouse.NewService(cfg.Warehouse, observability.NewNopLogger())
	runner := newRunner(svc, observability.NewNopLogger(), cfg)

	for _, job := range runner.Jobs() {
		cmd.Printf("  %-18s %s\n", ui.ColorBold(job.Name()), job.Description())
	}
}
