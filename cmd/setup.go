package cmd

import (
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"farmkpi/internal/config"
	"farmkpi/internal/ui"
	"farmkpi/internal/warehouse"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Initial warehouse configuration",
	Run:   runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) {
	if config.Exists() {
		var overwrite bool
		prompt := &survey.Confirm{
			Message: "Configuration already exists. Do you want to overwrite it?",
			Default: false,
		}
		survey.AskOne(prompt, &overwrite)
		if !overwrite {
			fmt.Println("Setup cancelled.")
			return
		}
	}

	cfg, err := ui.NewSetupWizard().Run()
	if err != nil {
		ui.ShowError(err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		ui.ShowError(fmt.Errorf("failed to save configuration: %w", err))
		os.Exit(1)
	}
	ui.ShowSuccess(fmt.Sprintf("Configuration saved to %s", config.GetConfigFile()))

	var test bool
	survey.AskOne(&survey.Confirm{
		Message: "Test the warehouse connection now?",
		Default: true,
	}, &test)
	if !test {
		return
	}

	logger := newLogger(cfg.Logging)
	svc := warehouse.NewService(cfg.Warehouse, logger)

	spinner := ui.NewSpinner("Connecting to warehouse...")
	spinner.Start()
	if err := svc.Connect(cmd.Context()); err != nil {
		spinner.Stop(false, "Connection failed")
		ui.ShowError(err)
		os.Exit(1)
	}
	spinner.Stop(true, "Connection verified")
	svc.Close()
}
