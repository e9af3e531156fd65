// Package errs defines the core's error taxonomy as distinct types so
// callers branch with errors.As instead of matching error strings.
package errs

import "fmt"

// TransientExternal wraps a failed remote call: timeout, network error, or
// 5xx. Callers retry with exponential backoff and surface the error after
// the configured attempt budget is exhausted.
type TransientExternal struct {
	Dependency string
	Err        error
}

func (e *TransientExternal) Error() string {
	return fmt.Sprintf("transient external failure calling %s: %v", e.Dependency, e.Err)
}

func (e *TransientExternal) Unwrap() error { return e.Err }

// InvalidExternalResponse wraps a well-formed call that returned a
// malformed reply: unknown action, out-of-range confidence, or a
// configured fallback sentinel in the reasoning text.
type InvalidExternalResponse struct {
	Dependency string
	Reason     string
}

func (e *InvalidExternalResponse) Error() string {
	return fmt.Sprintf("invalid response from %s: %s", e.Dependency, e.Reason)
}

// PolicyRejection is returned by the Risk Gatekeeper when it refuses a
// decision. Not retried; the reason code is the sole payload a caller needs.
type PolicyRejection struct {
	ReasonCode string
}

func (e *PolicyRejection) Error() string {
	return fmt.Sprintf("policy rejected: %s", e.ReasonCode)
}

// CircuitOpen is returned when a caller did not attempt the remote call
// because the breaker guarding it is OPEN. Treated as TransientExternal for
// aggregation purposes but never itself triggers a retry.
type CircuitOpen struct {
	Dependency string
}

func (e *CircuitOpen) Error() string {
	return fmt.Sprintf("circuit open for %s", e.Dependency)
}

// DataIntegrity is returned when a persisted record fails validation on
// load, or a duplicate decision_id is detected. The caller quarantines the
// offending file and continues.
type DataIntegrity struct {
	Detail string
}

func (e *DataIntegrity) Error() string {
	return fmt.Sprintf("data integrity violation: %s", e.Detail)
}

// ReplayTimestampError is returned by the Risk Gatekeeper's market-hours
// check when operating in replay mode and the supplied timestamp cannot be
// parsed. Fatal to the current cycle in replay mode; never raised in live
// mode (live mode degrades instead, see risk.Validate).
type ReplayTimestampError struct {
	Raw string
}

func (e *ReplayTimestampError) Error() string {
	return fmt.Sprintf("replay mode: unparseable timestamp %q, refusing wall-clock fallback", e.Raw)
}

// Fatal marks a condition the process cannot run with: invalid
// configuration, unmountable storage, a port contract violated at startup.
type Fatal struct {
	Reason string
	Err    error
}

func (e *Fatal) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("fatal: %s", e.Reason)
}

func (e *Fatal) Unwrap() error { return e.Err }
