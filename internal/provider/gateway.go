package provider

import (
	"context"
	"fmt"
	"time"
)

// LaunchResult is the outcome of a confirmed launch: the provider-assigned
// resource identifier and the network address, once the resource is running.
type LaunchResult struct {
	ResourceID string
	Address    string
}

// StartResult carries the (possibly changed) address after a confirmed start.
type StartResult struct {
	Address string
}

// Gateway wraps the cloud provider's asynchronous control plane. Every
// operation blocks until the provider confirms the target state — "stop"
// resolves only when the resource is actually stopped, not when the stop
// was merely accepted.
type Gateway interface {
	Launch(ctx context.Context, imageID string) (*LaunchResult, error)
	Start(ctx context.Context, resourceID string) (*StartResult, error)
	Stop(ctx context.Context, resourceID string) error
	Terminate(ctx context.Context, resourceID string) error
}

// Error wraps a failed gateway operation with the action name, preserving
// the underlying cause for diagnostics.
type Error struct {
	Action string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Action, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options tunes the gateway's waiters, retry policy, and timeouts.
type Options struct {
	// PollInterval is the delay between successive waiter polls.
	PollInterval time.Duration
	// MaxPolls caps how many times a waiter polls before giving up.
	MaxPolls int
	// RetryBudget bounds the attempts for each provider call.
	RetryBudget int
	// BaseBackoff and MaxBackoff shape the exponential backoff between
	// retry attempts; jitter is applied on top.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// AttemptTimeout bounds one provider call; OperationTimeout bounds a
	// whole retried sequence including its waiters.
	AttemptTimeout   time.Duration
	OperationTimeout time.Duration
}
