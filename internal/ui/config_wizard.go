package ui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"labhub/pkg/models"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
)

// ErrWizardCancelled is returned when the user aborts the wizard
var ErrWizardCancelled = errors.New("configuration cancelled")

// ConfigWizard provides an interactive configuration setup. It starts from
// a base configuration (usually the defaults) and only overwrites what the
// user answers.
type ConfigWizard struct {
	currentStep int
	totalSteps  int
	ask         func(qs []*survey.Question, response interface{}) error
	askOne      func(p survey.Prompt, response interface{}) error
}

// NewConfigWizard creates a new configuration wizard
func NewConfigWizard() *ConfigWizard {
	return &ConfigWizard{
		currentStep: 1,
		totalSteps:  5,
		ask: func(qs []*survey.Question, response interface{}) error {
			return survey.Ask(qs, response)
		},
		askOne: func(p survey.Prompt, response interface{}) error {
			return survey.AskOne(p, response)
		},
	}
}

type sourceAnswers struct {
	Driver   string
	Host     string
	Port     string
	Database string
	Username string
	Password string
}

type warehouseAnswers struct {
	Driver    string
	Path      string
	Host      string
	Account   string
	Database  string
	Username  string
	Password  string
	Warehouse string
	Schema    string
}

type pipelineAnswers struct {
	DescriptionsFile string
	BatchSize        string
	RefreshViews     bool
	ArchiveDir       string
}

// Run executes the configuration wizard
func (w *ConfigWizard) Run(base *models.Config) (*models.Config, error) {
	ShowHeader("LabHub - Configuration Setup")

	cfg := *base
	steps := []func(*models.Config) error{
		w.configureSourceStep,
		w.configureWarehouseStep,
		w.configurePipelineStep,
		w.configureLoggingStep,
		w.reviewConfiguration,
	}
	for _, step := range steps {
		if err := step(&cfg); err != nil {
			if errors.Is(err, terminal.InterruptErr) {
				return nil, ErrWizardCancelled
			}
			return nil, err
		}
	}
	return &cfg, nil
}

func (w *ConfigWizard) configureSourceStep(cfg *models.Config) error {
	w.showProgress("Operational Source")

	questions := []*survey.Question{
		{
			Name: "driver",
			Prompt: &survey.Select{
				Message: "Source database:",
				Options: []string{"sqlserver", "postgres"},
				Default: orDefault(cfg.Source.Driver, "sqlserver"),
			},
		},
		{
			Name:     "host",
			Prompt:   &survey.Input{Message: "Host:", Default: cfg.Source.Host},
			Validate: survey.Required,
		},
		{
			Name:     "port",
			Prompt:   &survey.Input{Message: "Port:", Default: strconv.Itoa(cfg.Source.Port)},
			Validate: validatePort,
		},
		{
			Name:     "database",
			Prompt:   &survey.Input{Message: "Database:", Default: orDefault(cfg.Source.Database, "LabInventory")},
			Validate: survey.Required,
		},
		{
			Name:     "username",
			Prompt:   &survey.Input{Message: "Username:", Default: cfg.Source.Username},
			Validate: survey.Required,
		},
		{
			Name: "password",
			Prompt: &survey.Password{
				Message: "Password:",
				Help:    "Stored encrypted. Use env:NAME or keyring:NAME to keep it out of the file.",
			},
		},
	}

	var answers sourceAnswers
	if err := w.ask(questions, &answers); err != nil {
		return err
	}
	applySourceAnswers(cfg, answers)

	w.currentStep++
	return nil
}

func applySourceAnswers(cfg *models.Config, a sourceAnswers) {
	cfg.Source.Driver = a.Driver
	cfg.Source.Host = strings.TrimSpace(a.Host)
	if port, err := strconv.Atoi(a.Port); err == nil {
		cfg.Source.Port = port
	}
	if a.Driver == "postgres" && cfg.Source.Port == 1433 {
		cfg.Source.Port = 5432
	}
	cfg.Source.Database = strings.TrimSpace(a.Database)
	cfg.Source.Username = strings.TrimSpace(a.Username)
	if a.Password != "" {
		cfg.Source.Password = a.Password
	}
}

func (w *ConfigWizard) configureWarehouseStep(cfg *models.Config) error {
	w.showProgress("Warehouse")

	var answers warehouseAnswers
	driverPrompt := &survey.Select{
		Message: "Warehouse engine:",
		Options: []string{"duckdb", "postgres", "snowflake"},
		Default: orDefault(cfg.Warehouse.Driver, "duckdb"),
		Help:    "DuckDB keeps the warehouse in a local file",
	}
	if err := w.askOne(driverPrompt, &answers.Driver); err != nil {
		return err
	}

	var questions []*survey.Question
	switch answers.Driver {
	case "duckdb":
		questions = append(questions, &survey.Question{
			Name:     "path",
			Prompt:   &survey.Input{Message: "Database file:", Default: orDefault(cfg.Warehouse.Path, "labhub.duckdb")},
			Validate: survey.Required,
		})
	case "postgres":
		questions = append(questions,
			&survey.Question{Name: "host", Prompt: &survey.Input{Message: "Host:", Default: cfg.Warehouse.Host}, Validate: survey.Required},
			&survey.Question{Name: "database", Prompt: &survey.Input{Message: "Database:", Default: cfg.Warehouse.Database}, Validate: survey.Required},
			&survey.Question{Name: "username", Prompt: &survey.Input{Message: "Username:", Default: cfg.Warehouse.Username}},
			&survey.Question{Name: "password", Prompt: &survey.Password{Message: "Password:"}},
		)
	case "snowflake":
		questions = append(questions,
			&survey.Question{
				Name:     "account",
				Prompt:   &survey.Input{Message: "Account:", Default: cfg.Warehouse.Account, Help: "Account identifier, e.g. xy12345.eu-west-1"},
				Validate: survey.Required,
			},
			&survey.Question{Name: "database", Prompt: &survey.Input{Message: "Database:", Default: cfg.Warehouse.Database}, Validate: survey.Required},
			&survey.Question{Name: "warehouse", Prompt: &survey.Input{Message: "Compute warehouse:", Default: orDefault(cfg.Warehouse.Warehouse, "COMPUTE_WH")}},
			&survey.Question{Name: "username", Prompt: &survey.Input{Message: "Username:", Default: cfg.Warehouse.Username}, Validate: survey.Required},
			&survey.Question{Name: "password", Prompt: &survey.Password{Message: "Password:"}},
		)
	}
	questions = append(questions, &survey.Question{
		Name:     "schema",
		Prompt:   &survey.Input{Message: "Schema:", Default: orDefault(cfg.Warehouse.Schema, "dw")},
		Validate: survey.Required,
	})

	if err := w.ask(questions, &answers); err != nil {
		return err
	}
	applyWarehouseAnswers(cfg, answers)

	w.currentStep++
	return nil
}

func applyWarehouseAnswers(cfg *models.Config, a warehouseAnswers) {
	cfg.Warehouse.Driver = a.Driver
	cfg.Warehouse.Schema = strings.TrimSpace(a.Schema)
	switch a.Driver {
	case "duckdb":
		cfg.Warehouse.Path = strings.TrimSpace(a.Path)
	case "postgres":
		cfg.Warehouse.Host = strings.TrimSpace(a.Host)
		if cfg.Warehouse.Port == 0 {
			cfg.Warehouse.Port = 5432
		}
		cfg.Warehouse.Database = a.Database
		cfg.Warehouse.Username = a.Username
	case "snowflake":
		cfg.Warehouse.Account = strings.TrimSpace(a.Account)
		cfg.Warehouse.Database = a.Database
		cfg.Warehouse.Warehouse = a.Warehouse
		cfg.Warehouse.Username = a.Username
	}
	if a.Password != "" {
		cfg.Warehouse.Password = a.Password
	}
}

func (w *ConfigWizard) configurePipelineStep(cfg *models.Config) error {
	w.showProgress("Pipeline")

	questions := []*survey.Question{
		{
			Name: "descriptionsFile",
			Prompt: &survey.Input{
				Message: "Product descriptions CSV (optional):",
				Default: cfg.Enrichment.DescriptionsFile,
				Help:    "CSV with ProductID and Description columns",
			},
		},
		{
			Name:     "batchSize",
			Prompt:   &survey.Input{Message: "Staging batch size:", Default: strconv.Itoa(cfg.Pipeline.BatchSize)},
			Validate: validatePositive,
		},
		{
			Name:   "refreshViews",
			Prompt: &survey.Confirm{Message: "Refresh reporting views after each run?", Default: cfg.Pipeline.RefreshViews},
		},
		{
			Name: "archiveDir",
			Prompt: &survey.Input{
				Message: "Quarantine archive directory (optional):",
				Default: cfg.Quarantine.ArchiveDir,
			},
		},
	}

	var answers pipelineAnswers
	if err := w.ask(questions, &answers); err != nil {
		return err
	}
	applyPipelineAnswers(cfg, answers)

	w.currentStep++
	return nil
}

func applyPipelineAnswers(cfg *models.Config, a pipelineAnswers) {
	cfg.Enrichment.DescriptionsFile = strings.TrimSpace(a.DescriptionsFile)
	if n, err := strconv.Atoi(a.BatchSize); err == nil && n > 0 {
		cfg.Pipeline.BatchSize = n
	}
	cfg.Pipeline.RefreshViews = a.RefreshViews
	cfg.Quarantine.ArchiveDir = strings.TrimSpace(a.ArchiveDir)
}

func (w *ConfigWizard) configureLoggingStep(cfg *models.Config) error {
	w.showProgress("Logging")

	questions := []*survey.Question{
		{
			Name: "level",
			Prompt: &survey.Select{
				Message: "Log level:",
				Options: []string{"debug", "info", "warn", "error"},
				Default: orDefault(cfg.Logging.Level, "info"),
			},
		},
		{
			Name: "format",
			Prompt: &survey.Select{
				Message: "Log format:",
				Options: []string{"console", "json"},
				Default: orDefault(cfg.Logging.Format, "console"),
				Help:    "Use json when logs are shipped to a collector",
			},
		},
	}

	answers := struct {
		Level  string
		Format string
	}{}
	if err := w.ask(questions, &answers); err != nil {
		return err
	}
	cfg.Logging.Level = answers.Level
	cfg.Logging.Format = answers.Format

	w.currentStep++
	return nil
}

func (w *ConfigWizard) reviewConfiguration(cfg *models.Config) error {
	w.showProgress("Review Configuration")

	fmt.Fprintln(out, "\n"+ColorInfo("Configuration Summary:"))
	fmt.Fprintln(out, strings.Repeat("─", 50))
	fmt.Fprint(out, Summary(cfg))
	fmt.Fprintln(out, strings.Repeat("─", 50))

	confirm := false
	prompt := &survey.Confirm{
		Message: "Save this configuration?",
		Default: true,
	}
	if err := w.askOne(prompt, &confirm); err != nil {
		return err
	}
	if !confirm {
		return ErrWizardCancelled
	}
	return nil
}

// Summary describes cfg without secrets
func Summary(cfg *models.Config) string {
	var b strings.Builder
	fmt.Fprintln(&b, ColorBold("Source:"))
	fmt.Fprintf(&b, "  Driver:    %s\n", cfg.Source.Driver)
	fmt.Fprintf(&b, "  Endpoint:  %s:%d/%s\n", cfg.Source.Host, cfg.Source.Port, cfg.Source.Database)
	fmt.Fprintf(&b, "  Username:  %s\n", cfg.Source.Username)

	fmt.Fprintln(&b, ColorBold("Warehouse:"))
	fmt.Fprintf(&b, "  Driver:    %s\n", cfg.Warehouse.Driver)
	switch cfg.Warehouse.Driver {
	case "duckdb":
		fmt.Fprintf(&b, "  File:      %s\n", cfg.Warehouse.Path)
	case "snowflake":
		fmt.Fprintf(&b, "  Account:   %s\n", cfg.Warehouse.Account)
	default:
		fmt.Fprintf(&b, "  Host:      %s\n", cfg.Warehouse.Host)
	}
	fmt.Fprintf(&b, "  Schema:    %s\n", cfg.Warehouse.Schema)

	fmt.Fprintln(&b, ColorBold("Pipeline:"))
	descriptions := cfg.Enrichment.DescriptionsFile
	if descriptions == "" {
		descriptions = "(none)"
	}
	fmt.Fprintf(&b, "  Descriptions:  %s\n", descriptions)
	fmt.Fprintf(&b, "  Batch size:    %d\n", cfg.Pipeline.BatchSize)
	fmt.Fprintf(&b, "  Refresh views: %t\n", cfg.Pipeline.RefreshViews)
	return b.String()
}

func (w *ConfigWizard) showProgress(step string) {
	fmt.Fprintf(out, "\n%s [Step %d/%d] %s\n\n",
		ColorProgress("►"),
		w.currentStep,
		w.totalSteps,
		ColorBold(step),
	)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func validatePort(val interface{}) error {
	s, _ := val.(string)
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535")
	}
	return nil
}

func validatePositive(val interface{}) error {
	s, _ := val.(string)
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive number")
	}
	return nil
}
