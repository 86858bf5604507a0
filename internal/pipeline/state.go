package pipeline

import (
	"encoding/json"
	"time"

	"labhub/internal/etl"
	"labhub/internal/history"
	"labhub/internal/quality"
	"labhub/internal/warehouse"
)

// State is a step of the run state machine
type State string

const (
	StateStart               State = "Start"
	StateDimensionsLoaded    State = "DimensionsLoaded"
	StateDimensionsValidated State = "DimensionsValidated"
	StateAborted             State = "Aborted"
	StateFactsLoaded         State = "FactsLoaded"
	StateFactsValidated      State = "FactsValidated"
	StateQuarantined         State = "Quarantined"
	StateViewsRefreshed      State = "ViewsRefreshed"
	StateDone                State = "Done"
)

// Outcome classifies a finished run
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeAborted     Outcome = "aborted"
	OutcomeQuarantined Outcome = "quarantined"
	OutcomeFailed      Outcome = "failed"
	OutcomeSkipped     Outcome = "skipped"
)

// RunReport is the structured result of one run. It is returned for every
// outcome, including errors.
type RunReport struct {
	RunID          string                            `json:"run_id"`
	StartedAt      time.Time                         `json:"started_at"`
	FinishedAt     time.Time                         `json:"finished_at"`
	States         []State                           `json:"states"`
	Outcome        Outcome                           `json:"outcome"`
	Committed      bool                              `json:"committed"`
	Dimensions     map[string]warehouse.UpsertResult `json:"dimensions"`
	Facts          etl.FactLoadResult                `json:"facts"`
	DimensionGate  *quality.Report                   `json:"dimension_gate,omitempty"`
	FullGate       *quality.Report                   `json:"full_gate,omitempty"`
	QuarantineID   string                            `json:"quarantine_batch,omitempty"`
	Quarantined    int                               `json:"quarantined_rows"`
	ArchivePath    string                            `json:"archive_path,omitempty"`
	ViewsRefreshed int                               `json:"views_refreshed"`
	Inspection     *warehouse.Inspection             `json:"inspection,omitempty"`
	Error          string                            `json:"error,omitempty"`
}

func newRunReport(runID string, started time.Time) *RunReport {
	return &RunReport{
		RunID:      runID,
		StartedAt:  started,
		Dimensions: make(map[string]warehouse.UpsertResult),
	}
}

func (r *RunReport) enter(s State) {
	r.States = append(r.States, s)
}

// FinalState is the last state the run reached
func (r *RunReport) FinalState() State {
	if len(r.States) == 0 {
		return ""
	}
	return r.States[len(r.States)-1]
}

// Duration is the wall time of the run
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Blocked reports whether a quality gate stopped the run
func (r *RunReport) Blocked() bool {
	return r.Outcome == OutcomeAborted || r.Outcome == OutcomeQuarantined
}

// GateReport returns the gate report that decided the run, if any
func (r *RunReport) GateReport() *quality.Report {
	if r.FullGate != nil {
		return r.FullGate
	}
	return r.DimensionGate
}

// Record converts the report for the run ledger
func (r *RunReport) Record() history.RunRecord {
	rec := history.RunRecord{
		ID:           r.RunID,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		Outcome:      string(r.Outcome),
		FinalState:   string(r.FinalState()),
		Committed:    r.Committed,
		RowsInserted: r.Facts.Inserted,
		Quarantined:  r.Quarantined,
		BatchID:      r.QuarantineID,
		Error:        r.Error,
	}
	if data, err := json.Marshal(r); err == nil {
		rec.Report = data
	}
	return rec
}
