package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusUp       HealthStatus = "UP"
	HealthStatusDown     HealthStatus = "DOWN"
	HealthStatusDegraded HealthStatus = "DEGRADED"
)

// HealthCheck represents a health check
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) HealthResult
}

// HealthResult represents the result of a health check
type HealthResult struct {
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Duration  time.Duration          `json:"duration_ms"`
	Timestamp time.Time              `json:"timestamp"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	Status     HealthStatus            `json:"status"`
	Timestamp  time.Time               `json:"timestamp"`
	Components map[string]HealthResult `json:"components"`
}

// HealthManager runs registered checks for the /healthz endpoint
type HealthManager struct {
	mu      sync.RWMutex
	checks  map[string]HealthCheck
	timeout time.Duration
	logger  *Logger
}

// NewHealthManager creates a new health manager
func NewHealthManager(timeout time.Duration, logger *Logger) *HealthManager {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &HealthManager{
		checks:  make(map[string]HealthCheck),
		timeout: timeout,
		logger:  logger,
	}
}

// RegisterCheck registers a health check
func (hm *HealthManager) RegisterCheck(check HealthCheck) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[check.Name()] = check
}

// CheckHealth runs every check in name order. DOWN outranks DEGRADED.
func (hm *HealthManager) CheckHealth(ctx context.Context) HealthReport {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checks))
	checks := make(map[string]HealthCheck, len(hm.checks))
	for name, check := range hm.checks {
		names = append(names, name)
		checks[name] = check
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	report := HealthReport{
		Status:     HealthStatusUp,
		Timestamp:  time.Now(),
		Components: make(map[string]HealthResult, len(names)),
	}

	for _, name := range names {
		start := time.Now()
		result := checks[name].Check(ctx)
		result.Duration = time.Since(start)
		result.Timestamp = time.Now()
		report.Components[name] = result

		switch result.Status {
		case HealthStatusDown:
			report.Status = HealthStatusDown
		case HealthStatusDegraded:
			if report.Status == HealthStatusUp {
				report.Status = HealthStatusDegraded
			}
		}
	}

	if report.Status != HealthStatusUp {
		hm.logger.WarnWithFields("Health check not healthy", map[string]interface{}{
			"status": string(report.Status),
		})
	}

	return report
}

// HealthHandler returns an HTTP handler for health checks
func (hm *HealthManager) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := hm.CheckHealth(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status == HealthStatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(report)
	}
}

// FuncHealthCheck adapts a function to HealthCheck. A returned error marks
// the component DOWN.
type FuncHealthCheck struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncHealthCheck creates a health check from fn
func NewFuncHealthCheck(name string, fn func(ctx context.Context) error) *FuncHealthCheck {
	return &FuncHealthCheck{name: name, fn: fn}
}

// Name returns the component name
func (f *FuncHealthCheck) Name() string {
	return f.name
}

// Check runs the wrapped function
func (f *FuncHealthCheck) Check(ctx context.Context) HealthResult {
	if err := f.fn(ctx); err != nil {
		return HealthResult{Status: HealthStatusDown, Message: err.Error()}
	}
	return HealthResult{Status: HealthStatusUp}
}

// StatusHealthCheck reports a status computed by the caller, e.g. the
// outcome of the last scheduled run.
type StatusHealthCheck struct {
	name string
	fn   func() (HealthStatus, string)
}

// NewStatusHealthCheck creates a health check from fn
func NewStatusHealthCheck(name string, fn func() (HealthStatus, string)) *StatusHealthCheck {
	return &StatusHealthCheck{name: name, fn: fn}
}

// Name returns the component name
func (s *StatusHealthCheck) Name() string {
	return s.name
}

// Check returns the caller's status
func (s *StatusHealthCheck) Check(ctx context.Context) HealthResult {
	status, msg := s.fn()
	return HealthResult{Status: status, Message: msg}
}
