package errors

// DegradationHandler receives the warning raised when an operation falls
// back to its degraded path.
type DegradationHandler func(*AppError)

// GracefulDegradation provides fallback options when primary operations fail
type GracefulDegradation struct {
	handler DegradationHandler
}

// NewGracefulDegradation creates a new graceful degradation handler. A nil
// handler discards degradation warnings.
func NewGracefulDegradation(handler DegradationHandler) *GracefulDegradation {
	if handler == nil {
		handler = func(*AppError) {}
	}
	return &GracefulDegradation{handler: handler}
}

// WithFallback executes a primary function with a fallback option
func (gd *GracefulDegradation) WithFallback(
	primary func() error,
	fallback func() error,
	degradationMessage string,
) error {
	err := primary()
	if err == nil {
		return nil
	}

	gd.handler(Wrap(err, ErrCodeServiceUnavailable, degradationMessage).
		WithSeverity(SeverityWarning).
		AsRecoverable())

	if fallbackErr := fallback(); fallbackErr != nil {
		return Wrap(err, ErrCodeInternal, "Primary and fallback operations failed").
			WithContext("fallback_error", fallbackErr.Error())
	}

	return nil
}
