package ui

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	apperrors "labhub/pkg/errors"

	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
)

var (
	// Check if output supports colors
	supportsColor = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	// Color functions
	ColorSuccess  = colorFunc(ansi.Green)
	ColorError    = colorFunc(ansi.Red)
	ColorWarning  = colorFunc(ansi.Yellow)
	ColorInfo     = colorFunc(ansi.Cyan)
	ColorProgress = colorFunc(ansi.Blue)
	ColorBold     = colorFunc("default+b")
	ColorDim      = colorFunc("default+h")

	out io.Writer = os.Stdout
)

// colorFunc returns a function that colors text if supported
func colorFunc(color string) func(string) string {
	return func(text string) string {
		if supportsColor {
			return ansi.Color(text, color)
		}
		return text
	}
}

// SupportsColor reports whether stdout is a terminal
func SupportsColor() bool {
	return supportsColor
}

// ShowHeader displays a formatted header
func ShowHeader(title string) {
	width := 50
	padding := (width - len(title) - 2) / 2
	if padding < 0 {
		padding = 0
	}
	right := width - 2 - padding - len(title)
	if right < 0 {
		right = 0
	}

	fmt.Fprintln(out, "\n+"+strings.Repeat("-", width-2)+"+")
	fmt.Fprintf(out, "|%s%s%s|\n",
		strings.Repeat(" ", padding),
		ColorBold(title),
		strings.Repeat(" ", right),
	)
	fmt.Fprintln(out, "+"+strings.Repeat("-", width-2)+"+")
}

// ShowError displays an error with its code and suggestions
func ShowError(err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		fmt.Fprintf(out, "\n%s %s\n", ColorError("ERROR:"), err.Error())
		if suggestion := getSuggestion(err.Error()); suggestion != "" {
			fmt.Fprintf(out, "\n  %s %s\n", ColorInfo("TIP:"), ColorInfo(suggestion))
		}
		return
	}

	fmt.Fprintf(out, "\n%s %s\n", ColorError(fmt.Sprintf("ERROR [%s]:", appErr.Code)), appErr.Message)
	if appErr.Cause != nil {
		fmt.Fprintf(out, "  %s\n", ColorDim(appErr.Cause.Error()))
	}

	suggestions := appErr.Suggestions
	if len(suggestions) == 0 {
		if s := getSuggestion(err.Error()); s != "" {
			suggestions = []string{s}
		}
	}
	for _, s := range suggestions {
		fmt.Fprintf(out, "  %s %s\n", ColorInfo("TIP:"), ColorInfo(s))
	}
}

// ShowSuccess displays a success message
func ShowSuccess(message string) {
	fmt.Fprintf(out, "%s %s\n", ColorSuccess("SUCCESS:"), message)
}

// ShowWarning displays a warning message
func ShowWarning(message string) {
	fmt.Fprintf(out, "%s %s\n", ColorWarning("WARNING:"), ColorWarning(message))
}

// ShowInfo displays an info message
func ShowInfo(message string) {
	fmt.Fprintf(out, "%s %s\n", ColorInfo("INFO:"), message)
}

// PrintSection prints a section header
func PrintSection(title string) {
	fmt.Fprintf(out, "\n%s %s\n", ColorBold("▶"), ColorBold(title))
	fmt.Fprintln(out, strings.Repeat("─", 50))
}

// PrintKeyValue prints a key-value pair in a formatted way
func PrintKeyValue(key, value string) {
	fmt.Fprintf(out, "  %-20s %s\n", ColorDim(key+":"), value)
}

// getSuggestion returns helpful suggestions based on error messages
func getSuggestion(message string) string {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "login failed") || strings.Contains(lower, "authentication failed"):
		return "Check the username and password reference in labhub.yaml"
	case strings.Contains(lower, "connection refused"):
		return "Verify the host, port and network access to the database"
	case strings.Contains(lower, "does not exist") || strings.Contains(lower, "catalog error"):
		return "Run 'labhub init' to create the warehouse schema"
	case strings.Contains(lower, "permission denied"):
		return "Ensure the configured user may create and modify tables in the warehouse schema"
	case strings.Contains(lower, "database is locked") || strings.Contains(lower, "could not set lock"):
		return "Another process holds the DuckDB file, stop it or use a different path"
	default:
		return ""
	}
}
