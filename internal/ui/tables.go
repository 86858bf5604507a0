package ui

import (
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"

	"labhub/internal/history"
	"labhub/internal/observability"
	"labhub/internal/quality"
	"labhub/internal/warehouse"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

// Visualizer renders pipeline results as terminal tables
type Visualizer struct {
	useColor bool
}

// NewVisualizer creates a visualizer. Colors are used only when useColor is
// set and stdout is a terminal.
func NewVisualizer(useColor bool) *Visualizer {
	return &Visualizer{useColor: useColor && supportsColor}
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func (v *Visualizer) status(s quality.Status) string {
	if !v.useColor {
		return string(s)
	}
	switch s {
	case quality.StatusPass:
		return color.GreenString(string(s))
	case quality.StatusWarn:
		return color.YellowString(string(s))
	default:
		return color.RedString(string(s))
	}
}

// QualityReport renders a gate report with one row per check
func (v *Visualizer) QualityReport(r *quality.Report) string {
	var buf strings.Builder
	if r == nil {
		return ""
	}

	fmt.Fprintf(&buf, "%s (%s, %s)\n\n", r.Title, r.Scope, r.Timestamp.Format("2006-01-02 15:04:05"))
	table := newTable(&buf, "Status", "Check", "Scope", "Critical", "Value", "Time")
	for _, res := range r.Results {
		value := "-"
		if res.Value != nil {
			value = quality.FormatValue(*res.Value)
		}
		if res.Error != "" {
			value = truncate(res.Error, 60)
		}
		critical := ""
		if res.Critical {
			critical = "yes"
		}
		table.Append([]string{
			v.status(res.Status),
			res.Name,
			string(res.Scope),
			critical,
			value,
			formatDuration(res.Duration),
		})
	}
	table.Render()

	verdict := "STATUS: HEALTHY"
	if !r.Passed {
		verdict = "STATUS: ISSUES DETECTED"
		if v.useColor {
			verdict = color.RedString(verdict)
		}
	} else if v.useColor {
		verdict = color.GreenString(verdict)
	}
	fmt.Fprintf(&buf, "\n%s\n", verdict)
	return buf.String()
}

// UpsertSummary renders per-table dimension load counts
func (v *Visualizer) UpsertSummary(dims map[string]warehouse.UpsertResult) string {
	var buf strings.Builder
	tables := make([]string, 0, len(dims))
	for name := range dims {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	table := newTable(&buf, "Table", "Staged", "Updated", "Inserted")
	for _, name := range tables {
		res := dims[name]
		table.Append([]string{
			name,
			fmt.Sprintf("%d", res.Staged),
			fmt.Sprintf("%d", res.Updated),
			fmt.Sprintf("%d", res.Inserted),
		})
	}
	table.Render()
	return buf.String()
}

// Health renders a health report
func (v *Visualizer) Health(r observability.HealthReport) string {
	var buf strings.Builder
	names := make([]string, 0, len(r.Components))
	for name := range r.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	table := newTable(&buf, "Component", "Status", "Time", "Message")
	for _, name := range names {
		res := r.Components[name]
		status := string(res.Status)
		if v.useColor {
			switch res.Status {
			case observability.HealthStatusUp:
				status = color.GreenString(status)
			case observability.HealthStatusDegraded:
				status = color.YellowString(status)
			default:
				status = color.RedString(status)
			}
		}
		table.Append([]string{name, status, formatDuration(res.Duration), truncate(res.Message, 70)})
	}
	table.Render()
	return buf.String()
}

// Batches renders quarantine batch summaries
func (v *Visualizer) Batches(batches []warehouse.BatchSummary) string {
	var buf strings.Builder
	table := newTable(&buf, "Batch", "Run", "Quarantined", "Rows", "Failed Checks")
	for _, b := range batches {
		table.Append([]string{
			b.ID,
			shortID(b.RunID),
			b.QuarantinedAt.Local().Format("2006-01-02 15:04"),
			fmt.Sprintf("%d", b.Rows),
			truncate(b.FailedChecks, 60),
		})
	}
	table.Render()
	return buf.String()
}

// FactRows renders fact or quarantine rows
func (v *Visualizer) FactRows(rows []warehouse.FactRow) string {
	var buf strings.Builder
	table := newTable(&buf, warehouse.FactColumnNames...)
	for _, r := range rows {
		values := r.Values()
		cells := make([]string, len(values))
		for i, val := range values {
			cells[i] = cell(val)
		}
		table.Append(cells)
	}
	table.Render()
	return buf.String()
}

// Runs renders the run ledger
func (v *Visualizer) Runs(runs []history.RunRecord) string {
	var buf strings.Builder
	table := newTable(&buf, "Run", "Started", "Duration", "Outcome", "State", "Inserted", "Quarantined")
	for _, r := range runs {
		outcome := r.Outcome
		if v.useColor {
			switch outcome {
			case "success":
				outcome = color.GreenString(outcome)
			case "aborted", "quarantined", "skipped":
				outcome = color.YellowString(outcome)
			default:
				outcome = color.RedString(outcome)
			}
		}
		table.Append([]string{
			shortID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			formatDuration(r.Duration()),
			outcome,
			r.FinalState,
			fmt.Sprintf("%d", r.RowsInserted),
			fmt.Sprintf("%d", r.Quarantined),
		})
	}
	table.Render()
	return buf.String()
}

// ResultSet renders a view query result
func (v *Visualizer) ResultSet(rs *warehouse.ResultSet) string {
	var buf strings.Builder
	if rs == nil {
		return ""
	}
	table := newTable(&buf, rs.Columns...)
	table.AppendBulk(rs.Rows)
	table.Render()
	fmt.Fprintf(&buf, "(%d rows)\n", len(rs.Rows))
	return buf.String()
}

// Inspection renders the post-run inspection report
func (v *Visualizer) Inspection(ins *warehouse.Inspection) string {
	var buf strings.Builder
	if ins == nil {
		return ""
	}

	counts := newTable(&buf, "Table", "Rows")
	for _, tc := range ins.Tables {
		counts.Append([]string{tc.Table, fmt.Sprintf("%d", tc.Rows)})
	}
	counts.Render()

	nullKeys := fmt.Sprintf("%d", ins.NullKeys)
	if ins.NullKeys > 0 && v.useColor {
		nullKeys = color.RedString(nullKeys)
	}
	fmt.Fprintf(&buf, "\nFact rows with missing keys: %s\n\n", nullKeys)

	top := newTable(&buf, "Top Product", "Transactions")
	for _, p := range ins.TopProducts {
		top.Append([]string{p.ProductName, fmt.Sprintf("%d", p.Transactions)})
	}
	top.Render()
	return buf.String()
}

func cell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case driver.Valuer:
		inner, err := val.Value()
		if err != nil || inner == nil {
			return "NULL"
		}
		return fmt.Sprintf("%v", inner)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
