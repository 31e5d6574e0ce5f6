package deploy

import (
	"errors"
	"fmt"

	"github.com/stewardhq/steward/pkg/archive"
	"github.com/stewardhq/steward/pkg/awsapi"
)

// ErrorClass classifies a reconciliation failure for handling and
// reporting.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates an invalid or incomplete spec,
	// detected before any remote mutation is attempted.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassRemote indicates a provider call failed for a reason other
	// than absence. Remote failures abort the current policy's pass.
	ErrorClassRemote ErrorClass = "remote"

	// ErrorClassLifecycle indicates bundle lifecycle misuse, a programming
	// error rather than an operational one.
	ErrorClassLifecycle ErrorClass = "lifecycle"
)

// DeployError is a classified reconciliation error carrying the policy
// and operation context it occurred in.
type DeployError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Policy is the policy name being reconciled, if applicable.
	Policy string `json:"policy,omitempty"`

	// Operation is the reconciliation step that failed.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *DeployError) Error() string {
	if e.Policy != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (policy=%s, operation=%s): %s",
			e.Class, e.Message, e.Policy, e.Operation, e.unwrapMessage())
	}
	if e.Policy != "" {
		return fmt.Sprintf("[%s] %s (policy=%s): %s", e.Class, e.Message, e.Policy, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for chain inspection.
func (e *DeployError) Unwrap() error {
	return e.Err
}

func (e *DeployError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality for errors.Is.
func (e *DeployError) Is(target error) bool {
	t, ok := target.(*DeployError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NewConfigurationError creates a configuration-class error.
func NewConfigurationError(policy, message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassConfiguration,
		Message: message,
		Policy:  policy,
		Err:     err,
	}
}

// NewRemoteError creates a remote-class error for a failed provider call.
func NewRemoteError(policy, operation string, err error) *DeployError {
	return &DeployError{
		Class:     ErrorClassRemote,
		Message:   "remote call failed",
		Policy:    policy,
		Operation: operation,
		Err:       err,
	}
}

// IsConfiguration reports whether err is a configuration-class failure.
func IsConfiguration(err error) bool {
	var de *DeployError
	return errors.As(err, &de) && de.Class == ErrorClassConfiguration
}

// IsRemote reports whether err is a remote-class failure.
func IsRemote(err error) bool {
	var de *DeployError
	return errors.As(err, &de) && de.Class == ErrorClassRemote
}

// IsLifecycle reports whether err is bundle lifecycle misuse, either
// classified here or raised directly by the archive layer.
func IsLifecycle(err error) bool {
	var de *DeployError
	if errors.As(err, &de) && de.Class == ErrorClassLifecycle {
		return true
	}
	var le *archive.LifecycleError
	return errors.As(err, &le)
}

// IsNotFound reports whether err is the provider's absence response.
// Absence is a normal reconciliation branch, re-exported here so callers
// above the provider layer need not import it.
func IsNotFound(err error) bool {
	return awsapi.IsNotFound(err)
}

// classify wraps a provider error as a remote failure unless it is
// already classified.
func classify(policy, operation string, err error) error {
	if err == nil {
		return nil
	}
	var de *DeployError
	if errors.As(err, &de) {
		return err
	}
	var le *archive.LifecycleError
	if errors.As(err, &le) {
		return &DeployError{
			Class:     ErrorClassLifecycle,
			Message:   "bundle lifecycle violation",
			Policy:    policy,
			Operation: operation,
			Err:       err,
		}
	}
	return NewRemoteError(policy, operation, err)
}
