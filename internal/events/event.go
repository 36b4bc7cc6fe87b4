package events

import "time"

// OperationType identifies which instance action an event stream belongs to.
type OperationType string

const (
	OpCreate    OperationType = "CREATE"
	OpStart     OperationType = "START"
	OpStop      OperationType = "STOP"
	OpTerminate OperationType = "TERMINATE"
)

// Status is the progress stage reported by a single OperationEvent.
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusRequesting   Status = "REQUESTING"
	StatusProvisioning Status = "PROVISIONING"
	StatusRunning      Status = "RUNNING"
	StatusStarting     Status = "STARTING"
	StatusStopping     Status = "STOPPING"
	StatusStopped      Status = "STOPPED"
	StatusTerminating  Status = "TERMINATING"
	StatusTerminated   Status = "TERMINATED"
	StatusFailed       Status = "FAILED"
)

// OperationEvent is one progress notification for an in-flight operation.
// Events with the same OperationID are delivered in emission order; the
// progress percentage never decreases and exactly one terminal event
// (Progress 100, or FAILED with Progress 0) closes the stream.
type OperationEvent struct {
	OperationID   string        `json:"operationId"`
	InstanceID    string        `json:"instanceId,omitempty"`
	Status        Status        `json:"status"`
	Progress      int           `json:"progress"`
	Message       string        `json:"message"`
	OperationType OperationType `json:"operationType"`
	Error         string        `json:"error,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
	Address       string        `json:"address,omitempty"`
}

// Terminal reports whether the event closes its operation's stream.
func (e OperationEvent) Terminal() bool {
	if e.Status == StatusFailed {
		return true
	}
	return e.Progress >= 100
}
