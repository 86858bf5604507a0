package ui

import (
	"fmt"
	"strings"

	"labhub/internal/pipeline"

	"github.com/AlecAivazis/survey/v2"
)

// UI holds the output mode of a command
type UI struct {
	Verbose bool
	Quiet   bool
	spinner *Spinner
}

// NewUI creates a new UI instance
func NewUI(verbose, quiet bool) *UI {
	return &UI{
		Verbose: verbose,
		Quiet:   quiet,
	}
}

// Printf prints formatted output if not in quiet mode
func (u *UI) Printf(format string, args ...interface{}) {
	if !u.Quiet {
		fmt.Fprintf(out, format, args...)
	}
}

// Println prints a line if not in quiet mode
func (u *UI) Println(args ...interface{}) {
	if !u.Quiet {
		fmt.Fprintln(out, args...)
	}
}

// VerbosePrintf prints formatted output only in verbose mode
func (u *UI) VerbosePrintf(format string, args ...interface{}) {
	if u.Verbose && !u.Quiet {
		fmt.Fprintf(out, format, args...)
	}
}

// StartProgress starts a progress indicator with a message
func (u *UI) StartProgress(message string) {
	if !u.Quiet {
		u.spinner = NewSpinner(message)
		u.spinner.Start()
	}
}

// StopProgress stops the progress indicator
func (u *UI) StopProgress(success bool, message string) {
	if u.spinner != nil {
		u.spinner.Stop(success, message)
		u.spinner = nil
	}
}

// Warning prints a warning message
func (u *UI) Warning(message string) {
	if !u.Quiet {
		ShowWarning(message)
	}
}

// Error prints an error, including in quiet mode
func (u *UI) Error(err error) {
	ShowError(err)
}

// Info prints an information message
func (u *UI) Info(message string) {
	if !u.Quiet {
		ShowInfo(message)
	}
}

// Success prints a success message
func (u *UI) Success(message string) {
	if !u.Quiet {
		ShowSuccess(message)
	}
}

// ShowRunReport prints the outcome of a refresh
func (u *UI) ShowRunReport(r *pipeline.RunReport, v *Visualizer) {
	if u.Quiet || r == nil {
		return
	}

	PrintSection("Warehouse Refresh")
	PrintKeyValue("Run", r.RunID)
	PrintKeyValue("Outcome", outcomeText(r.Outcome))
	PrintKeyValue("States", joinStates(r.States))
	PrintKeyValue("Duration", formatDuration(r.Duration()))
	PrintKeyValue("Committed", fmt.Sprintf("%t", r.Committed))

	if len(r.Dimensions) > 0 {
		PrintSection("Dimensions")
		fmt.Fprint(out, v.UpsertSummary(r.Dimensions))
	}

	if r.Facts.Extracted > 0 || r.Facts.Staged > 0 {
		PrintSection("Facts")
		PrintKeyValue("Extracted", fmt.Sprintf("%d", r.Facts.Extracted))
		PrintKeyValue("Resolved new", fmt.Sprintf("%d", r.Facts.New))
		PrintKeyValue("Inserted", fmt.Sprintf("%d", r.Facts.Inserted))
		PrintKeyValue("Rows before/after", fmt.Sprintf("%d / %d", r.Facts.Before, r.Facts.After))
	}

	if gate := r.GateReport(); gate != nil && (u.Verbose || !gate.Passed) {
		PrintSection("Data Quality")
		fmt.Fprint(out, v.QualityReport(gate))
	}

	if r.QuarantineID != "" {
		PrintSection("Quarantine")
		PrintKeyValue("Batch", r.QuarantineID)
		PrintKeyValue("Rows", fmt.Sprintf("%d", r.Quarantined))
		if r.ArchivePath != "" {
			PrintKeyValue("Archive", r.ArchivePath)
		}
	}

	if r.ViewsRefreshed > 0 {
		PrintKeyValue("Views refreshed", fmt.Sprintf("%d", r.ViewsRefreshed))
	}

	if r.Inspection != nil {
		PrintSection("Inspection")
		fmt.Fprint(out, v.Inspection(r.Inspection))
	}
	fmt.Fprintln(out)
}

func outcomeText(o pipeline.Outcome) string {
	switch o {
	case pipeline.OutcomeSuccess:
		return ColorSuccess(string(o))
	case pipeline.OutcomeAborted, pipeline.OutcomeQuarantined, pipeline.OutcomeSkipped:
		return ColorWarning(string(o))
	default:
		return ColorError(string(o))
	}
}

func joinStates(states []pipeline.State) string {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	return strings.Join(names, " → ")
}

// Input displays a text input prompt
func Input(message, defaultValue, help string) (string, error) {
	var result string
	prompt := &survey.Input{
		Message: message,
		Default: defaultValue,
		Help:    help,
	}

	err := survey.AskOne(prompt, &result)
	return result, err
}

// Password displays a password input prompt
func Password(message, help string) (string, error) {
	var result string
	prompt := &survey.Password{
		Message: message,
		Help:    help,
	}

	err := survey.AskOne(prompt, &result)
	return result, err
}

// Select displays a selection prompt
func Select(message string, options []string, defaultValue string) (string, error) {
	var result string
	prompt := &survey.Select{
		Message:  message,
		Options:  options,
		Default:  defaultValue,
		PageSize: 10,
	}

	err := survey.AskOne(prompt, &result)
	return result, err
}

// Confirm shows a yes/no prompt
func Confirm(message string, defaultValue bool) (bool, error) {
	result := defaultValue
	prompt := &survey.Confirm{
		Message: message,
		Default: defaultValue,
	}

	err := survey.AskOne(prompt, &result)
	return result, err
}

// ShowLogo displays the application logo
func ShowLogo() {
	logo := `
   _          _     _   _       _
  | |    __ _| |__ | | | |_   _| |__
  | |   / _` + "`" + ` | '_ \| |_| | | | | '_ \
  | |__| (_| | |_) |  _  | |_| | |_) |
  |_____\__,_|_.__/|_| |_|\__,_|_.__/
      Laboratory inventory warehouse
`
	fmt.Fprintln(out, ColorInfo(logo))
}
