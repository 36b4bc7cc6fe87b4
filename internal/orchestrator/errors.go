package orchestrator

import (
	"errors"
	"fmt"
)

// ErrInstanceAlreadyExists indicates the (room, user) pair already has an
// active instance. Detected synchronously before dispatch.
var ErrInstanceAlreadyExists = errors.New("instance already exists for this room and user")

// ConfigurationError indicates a room has no provider image configured.
// Fatal for the create pipeline; never retried.
type ConfigurationError struct {
	RoomID string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("room %s is misconfigured: %s", e.RoomID, e.Reason)
}

// ProvisioningError wraps a gateway pipeline failure (retries exhausted,
// timeout, or unusable provider data), preserving the cause.
type ProvisioningError struct {
	InstanceID string
	Err        error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning failed for instance %s: %v", e.InstanceID, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

// OperationError is the catch-all for unexpected failures inside a pipeline
// stage, tagged with the instance and the action.
type OperationError struct {
	InstanceID string
	Action     string
	Err        error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %s failed for instance %s: %v", e.Action, e.InstanceID, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
