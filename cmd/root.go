package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"farmkpi/internal/observability"
	"farmkpi/pkg/models"
)

var (
	verbose bool

	rootCmd = &cobra.Command{
		Use:   "farmkpi",
		Short: "Compute farmer KPIs from the brokerage warehouse",
		Long: "farmkpi - batch KPI jobs for the farmer desk. Extracts revenue, commission\n" +
			"and payroll figures from the PostgreSQL warehouse, attributes each client's\n" +
			"numbers to the farmer responsible at the time, and replaces the reporting tables.",
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	home, err := os.UserHomeDir()
	if err == nil {
		viper.AddConfigPath(home + "/.farmkpi")
	}

	viper.SetEnvPrefix("FARMKPI")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is okay, setup writes it later
	}
}

// newLogger builds the application logger from the logging section,
// honoring the --verbose flag over the configured level.
func newLogger(cfg models.Logging) *observability.Logger {
	level := observability.ParseLevel(cfg.Level)
	if verbose {
		level = observability.DebugLevel
	}

	var encoder observability.LogEncoder = &observability.TextEncoder{}
	if cfg.Format == "json" {
		encoder = &observability.JSONEncoder{}
	}

	output := os.Stderr
	if cfg.File != "" {
		if f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600); err == nil {
			output = f
		}
	}

	return observability.NewLogger(observability.LoggerConfig{
		Level:   level,
		Output:  output,
		Service: "farmkpi",
		Encoder: encoder,
	})
}
