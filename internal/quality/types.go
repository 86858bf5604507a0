package quality

import (
	"time"

	apperrors "labhub/pkg/errors"
)

// Scope selects which checks a gate run executes
type Scope string

const (
	ScopeDimensions Scope = "dimensions"
	ScopeFacts      Scope = "facts"
	ScopeAll        Scope = "all"
)

// ParseScope validates a scope name
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeDimensions, ScopeFacts, ScopeAll:
		return Scope(s), nil
	case "":
		return ScopeAll, nil
	}
	return "", apperrors.ValidationError("scope", s, "want dimensions, facts or all")
}

// includes reports whether a run at scope s executes a check declared
// with scope c
func (s Scope) includes(c Scope) bool {
	return s == ScopeAll || s == c
}

// Expectation is the condition a check value must satisfy to pass
type Expectation string

const (
	ExpectZero     Expectation = "zero"
	ExpectPositive Expectation = "positive"
)

func (e Expectation) met(v float64) bool {
	if e == ExpectPositive {
		return v > 0
	}
	return v == 0
}

// Status is the outcome of one check
type Status string

const (
	StatusPass  Status = "PASS"
	StatusWarn  Status = "WARN"
	StatusFail  Status = "FAIL"
	StatusError Status = "ERROR"
)

// Check is one aggregate assertion. Query must return a single row with a
// single numeric column; NULL counts as zero.
type Check struct {
	Name     string      `json:"name"`
	Scope    Scope       `json:"scope"`
	Query    string      `json:"query"`
	Expect   Expectation `json:"expect"`
	Critical bool        `json:"critical"`
}

// Result is the outcome of one check
type Result struct {
	Name     string        `json:"name"`
	Scope    Scope         `json:"scope"`
	Critical bool          `json:"critical"`
	Value    *float64      `json:"value,omitempty"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Report is the structured outcome of one gate run
type Report struct {
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	Scope     Scope     `json:"scope"`
	Results   []Result  `json:"checks"`
	Passed    bool      `json:"passed"`
}

// Failures returns the results that flipped the pass flag
func (r *Report) Failures() []Result {
	return r.filter(func(res Result) bool {
		return res.Status == StatusFail || res.Status == StatusError
	})
}

// Warnings returns non-critical failures
func (r *Report) Warnings() []Result {
	return r.filter(func(res Result) bool { return res.Status == StatusWarn })
}

// FailedNames lists the names of Failures
func (r *Report) FailedNames() []string {
	var names []string
	for _, res := range r.Failures() {
		names = append(names, res.Name)
	}
	return names
}

func (r *Report) filter(keep func(Result) bool) []Result {
	if r == nil {
		return nil
	}
	var out []Result
	for _, res := range r.Results {
		if keep(res) {
			out = append(out, res)
		}
	}
	return out
}
