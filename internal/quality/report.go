package quality

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Format is an output format for a gate report
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Render writes r in the given format
func Render(r *Report, format Format) (string, error) {
	switch format {
	case FormatText, "":
		return renderText(r), nil
	case FormatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode report: %w", err)
		}
		return string(data), nil
	case FormatMarkdown:
		return renderMarkdown(r), nil
	}
	return "", fmt.Errorf("unsupported report format: %s", format)
}

func renderText(r *Report) string {
	var buf bytes.Buffer

	buf.WriteString(strings.Repeat("=", 40) + "\n")
	fmt.Fprintf(&buf, "%s: %s\n", strings.ToUpper(r.Title), r.Timestamp.Format("2006-01-02 15:04"))
	fmt.Fprintf(&buf, "Scope: %s\n", r.Scope)
	buf.WriteString(strings.Repeat("=", 40) + "\n")

	for _, res := range r.Results {
		fmt.Fprintf(&buf, "%-5s | %s: %s\n", res.Status, res.Name, valueText(res))
	}

	buf.WriteString(strings.Repeat("=", 40) + "\n")
	if r.Passed {
		buf.WriteString("STATUS: HEALTHY\n")
	} else {
		buf.WriteString("STATUS: ISSUES DETECTED\n")
	}
	return buf.String()
}

func renderMarkdown(r *Report) string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", r.Title)
	fmt.Fprintf(&buf, "**Generated:** %s  \n", r.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&buf, "**Scope:** %s  \n", r.Scope)
	fmt.Fprintf(&buf, "**Passed:** %t\n\n", r.Passed)

	buf.WriteString("| Check | Status | Critical | Value |\n")
	buf.WriteString("|-------|--------|----------|-------|\n")
	for _, res := range r.Results {
		fmt.Fprintf(&buf, "| %s | %s | %t | %s |\n", res.Name, res.Status, res.Critical, valueText(res))
	}
	return buf.String()
}

func valueText(res Result) string {
	if res.Error != "" {
		return "error: " + res.Error
	}
	if res.Value == nil {
		return "N/A"
	}
	return FormatValue(*res.Value)
}

// FormatValue prints whole numbers without a fraction
func FormatValue(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.4f", v)
}
