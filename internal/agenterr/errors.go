// Package agenterr generalizes the teacher's flat error-code map into
// the closed §7 error taxonomy: IllegalArgument, SimulatorError,
// PlistError, XcodebuildTestError, and BundleError, plus the
// device/app-level codes surfaced on the CLI's JSON error envelope.
package agenterr

import "fmt"

// Code is a standardized, stable error identifier.
type Code string

const (
	// §7 taxonomy.
	IllegalArgument     Code = "ILLEGAL_ARGUMENT"
	SimulatorError      Code = "SIMULATOR_ERROR"
	PlistErrorCode      Code = "PLIST_ERROR"
	XcodebuildTestError Code = "XCODEBUILD_TEST_ERROR"
	BundleError         Code = "BUNDLE_ERROR"

	// Device/app level codes, carried over from the CLI's envelope.
	DeviceNotFound      Code = "DEVICE_NOT_FOUND"
	DeviceNotBooted     Code = "DEVICE_NOT_BOOTED"
	DeviceRequired      Code = "DEVICE_REQUIRED"
	AppNotFound         Code = "APP_NOT_FOUND"
	AppLaunchFailed     Code = "APP_LAUNCH_FAILED"
	SimulatorTimeout    Code = "SIMULATOR_TIMEOUT"
	InternalError       Code = "INTERNAL_ERROR"
)

// AgentError is a standardized, structured error carrying a stable
// Code, a human message, and optional machine-readable details.
type AgentError struct {
	Code    Code
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *AgentError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As chains.
func (e *AgentError) Unwrap() error { return e.cause }

// New creates an AgentError with no details.
func New(code Code, message string) *AgentError {
	return &AgentError{Code: code, Message: message}
}

// Wrap creates an AgentError that preserves err in its Unwrap chain.
func Wrap(code Code, err error) *AgentError {
	return &AgentError{Code: code, Message: err.Error(), cause: err}
}

// WithDetails attaches machine-readable details and returns e for
// chaining at the call site.
func (e *AgentError) WithDetails(details map[string]interface{}) *AgentError {
	e.Details = details
	return e
}

// IllegalArgumentError constructs the Prepare-time validation failure
// of §4.1 (missing bundle, wrong extension, UI test on too-old
// toolchain, hostless logic test on a real device).
func IllegalArgumentError(reason string) *AgentError {
	return New(IllegalArgument, reason)
}

// SimulatorErrorFromOutput wraps an unrecognized, non-transient
// vendor-tool failure (§4.3) carrying the combined output as a detail.
func SimulatorErrorFromOutput(combinedOutput string) *AgentError {
	return New(SimulatorError, "simulator tool failed").
		WithDetails(map[string]interface{}{"output": combinedOutput})
}

// PlistErrorAt wraps a navigation failure positioned at field.
func PlistErrorAt(field string, err error) *AgentError {
	return Wrap(PlistErrorCode, err).WithDetails(map[string]interface{}{"field": field})
}

// XcodebuildTestErrorf reports programmer error: structural misuse of
// the Session Coordinator's state machine (e.g. Run before Prepare).
func XcodebuildTestErrorf(format string, args ...interface{}) *AgentError {
	return New(XcodebuildTestError, fmt.Sprintf(format, args...))
}

// BundleErrorf reports zero or multiple candidate bundles found in an
// extracted archive.
func BundleErrorf(format string, args ...interface{}) *AgentError {
	return New(BundleError, fmt.Sprintf(format, args...))
}
