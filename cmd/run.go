package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"farmkpi/internal/config"
	"farmkpi/internal/kpi"
	"farmkpi/internal/kpi/commission"
	"farmkpi/internal/kpi/payroll"
	"farmkpi/internal/kpi/revenue"
	"farmkpi/internal/observability"
	"farmkpi/internal/responsibility"
	"farmkpi/internal/ui"
	"farmkpi/internal/warehouse"
	pkgerrors "farmkpi/pkg/errors"
	"farmkpi/pkg/models"
)

var (
	runFarmerID   int64
	runMonthsBack int
	runDryRun     bool
)

var runCmd = &cobra.Command{
	Use:   "run [job]",
	Short: "Run KPI jobs against the warehouse",
	Long: `Run one KPI job by name, or all of them in order when no name is given.

Each job extracts from the source schema, attributes client figures to the
responsible farmer and replaces its reporting table. With --farmer-id both
the extraction and the destructive part of the load are scoped to that
farmer, so everyone else's rows survive.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Int64Var(&runFarmerID, "farmer-id", 0, "Recompute for a single farmer only")
	runCmd.Flags().IntVar(&runMonthsBack, "months-back", 0, "Trailing months of historical revenue (default from config)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Extract and attribute without touching the reporting tables")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := warehouse.ValidateConfig(cfg.Warehouse); err != nil {
		ui.ShowError(err)
		return fmt.Errorf("warehouse is not configured, run 'farmkpi setup' first")
	}

	logger := newLogger(cfg.Logging)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc := warehouse.NewService(cfg.Warehouse, logger)

	spinner := ui.NewSpinner("Connecting to warehouse...")
	spinner.Start()
	if err := svc.Connect(ctx); err != nil {
		spinner.Stop(false, "Connection failed")
		ui.ShowError(err)
		return err
	}
	spinner.Stop(true, fmt.Sprintf("Connected to %s/%s", cfg.Warehouse.Host, cfg.Warehouse.Database))
	defer svc.Close()

	runner := newRunner(svc, logger, cfg)

	opts := kpi.Options{
		MonthsBack: cfg.Jobs.MonthsBack,
		DryRun:     runDryRun,
	}
	if cmd.Flags().Changed("farmer-id") {
		opts.FarmerID = &runFarmerID
	}
	if cmd.Flags().Changed("months-back") {
		opts.MonthsBack = runMonthsBack
	}

	var reports []kpi.Report
	if len(args) == 1 {
		report, err := runner.RunJob(ctx, args[0], opts)
		if err != nil {
			return err
		}
		reports = []kpi.Report{report}
	} else {
		reports = runner.RunAll(ctx, opts)
	}

	fmt.Println()
	ui.RenderReports(os.Stdout, reports)

	if n := ui.FailureCount(reports); n > 0 {
		recordFailures(reports)
		return fmt.Errorf("%d of %d jobs failed", n, len(reports))
	}
	if runDryRun {
		ui.ShowInfo("Dry run, reporting tables were not modified")
	}
	return nil
}

// recordFailures appends job errors to the persistent error log under
// ~/.farmkpi so a failed nightly run leaves a trace beyond stderr.
func recordFailures(reports []kpi.Report) {
	handler, err := pkgerrors.NewErrorHandler(pkgerrors.DefaultErrorHandlerConfig())
	if err != nil {
		return
	}
	defer handler.Close()

	for _, r := range reports {
		if r.Err != nil {
			handler.Handle(r.Err)
		}
	}
}

// newRunner wires the full job set. The two commission variants share a
// table and are distinguished by the is_current_month column, so both
// can run in the same invocation.
func newRunner(svc *warehouse.Service, logger *observability.Logger, cfg *models.Config) *kpi.Runner {
	store := warehouse.NewStore(svc, cfg.Warehouse.Schema)
	resolver := responsibility.NewResolver(store, logger)
	loader := warehouse.NewLoader(svc, logger, cfg.Reporting.BatchSize, cfg.Jobs.MaxRetries)

	src, dst := cfg.Warehouse.Schema, cfg.Reporting.Schema
	return kpi.NewRunner(logger,
		revenue.New(svc, loader, resolver, logger, src, dst),
		commission.New(svc, loader, logger, src, dst, true),
		commission.New(svc, loader, logger, src, dst, false),
		payroll.New(svc, loader, logger, src, dst),
	)
}
