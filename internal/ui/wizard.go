package ui

import (
	"fmt"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"

	"farmkpi/pkg/models"
)

// SetupWizard collects the warehouse connection and reporting settings
// interactively.
type SetupWizard struct {
	currentStep int
	totalSteps  int
}

// NewSetupWizard creates a new setup wizard
func NewSetupWizard() *SetupWizard {
	return &SetupWizard{
		currentStep: 1,
		totalSteps:  3,
	}
}

// Run executes the setup wizard
func (w *SetupWizard) Run() (*models.Config, error) {
	ShowHeader("farmkpi - Warehouse Setup")

	config := &models.Config{}

	steps := []func(*models.Config) error{
		w.warehouseStep,
		w.reportingStep,
		w.jobsStep,
	}
	for _, step := range steps {
		if err := step(config); err != nil {
			if err == terminal.InterruptErr {
				return nil, fmt.Errorf("setup cancelled")
			}
			return nil, err
		}
	}

	config.ApplyDefaults()
	return config, nil
}

func (w *SetupWizard) stepHeader(title string) {
	fmt.Printf("\n%s %s\n", ColorBold(fmt.Sprintf("[%d/%d]", w.currentStep, w.totalSteps)), ColorBold(title))
	w.currentStep++
}

func (w *SetupWizard) warehouseStep(config *models.Config) error {
	w.stepHeader("PostgreSQL Warehouse")

	questions := []*survey.Question{
		{
			Name:     "host",
			Prompt:   &survey.Input{Message: "Host:"},
			Validate: survey.Required,
		},
		{
			Name: "port",
			Prompt: &survey.Input{
				Message: "Port:",
				Default: "5432",
			},
			Validate: validatePort,
		},
		{
			Name:     "database",
			Prompt:   &survey.Input{Message: "Database:"},
			Validate: survey.Required,
		},
		{
			Name:     "username",
			Prompt:   &survey.Input{Message: "Username:"},
			Validate: survey.Required,
		},
		{
			Name: "password",
			Prompt: &survey.Password{
				Message: "Password:",
				Help:    "Leave empty to provide it via FARMKPI_WAREHOUSE_PASSWORD instead",
			},
		},
		{
			Name: "schema",
			Prompt: &survey.Input{
				Message: "Source schema:",
				Default: "gammadata",
			},
		},
		{
			Name: "sslmode",
			Prompt: &survey.Select{
				Message: "SSL mode:",
				Options: []string{"require", "verify-full", "disable"},
				Default: "require",
			},
		},
	}

	answers := struct {
		Host     string
		Port     string
		Database string
		Username string
		Password string
		Schema   string
		SSLMode  string `survey:"sslmode"`
	}{}
	if err := survey.Ask(questions, &answers); err != nil {
		return err
	}

	port, _ := strconv.Atoi(answers.Port)
	config.Warehouse = models.Warehouse{
		Host:     answers.Host,
		Port:     port,
		Database: answers.Database,
		Username: answers.Username,
		Password: answers.Password,
		Schema:   answers.Schema,
		SSLMode:  answers.SSLMode,
	}
	return nil
}

func (w *SetupWizard) reportingStep(config *models.Config) error {
	w.stepHeader("Reporting Schema")

	questions := []*survey.Question{
		{
			Name: "schema",
			Prompt: &survey.Input{
				Message: "Destination schema for KPI tables:",
				Default: "analysis",
			},
		},
		{
			Name: "batchsize",
			Prompt: &survey.Input{
				Message: "Insert batch size:",
				Default: "10000",
			},
			Validate: validatePositiveInt,
		},
	}

	answers := struct {
		Schema    string
		BatchSize string `survey:"batchsize"`
	}{}
	if err := survey.Ask(questions, &answers); err != nil {
		return err
	}

	batchSize, _ := strconv.Atoi(answers.BatchSize)
	config.Reporting = models.Reporting{
		Schema:    answers.Schema,
		BatchSize: batchSize,
	}
	return nil
}

func (w *SetupWizard) jobsStep(config *models.Config) error {
	w.stepHeader("Job Defaults")

	monthsBack := "11"
	if err := survey.AskOne(&survey.Input{
		Message: "Trailing months for historical revenue:",
		Default: "11",
	}, &monthsBack, survey.WithValidator(validatePositiveInt)); err != nil {
		return err
	}

	n, _ := strconv.Atoi(monthsBack)
	config.Jobs.MonthsBack = n
	return nil
}

func validatePort(val interface{}) error {
	s, ok := val.(string)
	if !ok {
		return fmt.Errorf("expected a string value")
	}
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535")
	}
	return nil
}

func validatePositiveInt(val interface{}) error {
	s, ok := val.(string)
	if !ok {
		return fmt.Errorf("expected a string value")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fmt.Errorf("value must be a positive number")
	}
	return nil
}
