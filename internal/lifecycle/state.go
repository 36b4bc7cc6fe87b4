package lifecycle

import (
	"context"
	"fmt"

	"range-instance-backend/internal/model"
	"range-instance-backend/internal/provider"
)

// Action is an operation requested against an instance's lifecycle.
type Action string

const (
	ActionStart     Action = "start"
	ActionStop      Action = "stop"
	ActionTerminate Action = "terminate"
)

// InvalidTransitionError reports a rejected (state, action) pair. It carries
// everything a caller needs to explain the rejection.
type InvalidTransitionError struct {
	InstanceID string
	State      model.InstanceState
	Action     Action
	Reason     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for instance %s: cannot %s while %s: %s",
		e.InstanceID, e.Action, e.State, e.Reason)
}

// outcome is one cell of the transition table.
type outcome struct {
	allowed bool
	reason  string // set when rejected
}

// transitions is the entire state machine: every (state, action) pair has a
// defined outcome.
var transitions = map[model.InstanceState]map[Action]outcome{
	model.StateNotStarted: {
		ActionStart:     {reason: "instance must be provisioned through the provider first"},
		ActionStop:      {reason: "instance has not been provisioned"},
		ActionTerminate: {reason: "nothing exists on the provider to terminate"},
	},
	model.StateRunning: {
		ActionStart:     {reason: "instance is already running"},
		ActionStop:      {allowed: true},
		ActionTerminate: {allowed: true},
	},
	model.StatePaused: {
		ActionStart:     {allowed: true},
		ActionStop:      {reason: "instance is already stopped"},
		ActionTerminate: {allowed: true},
	},
	model.StateTerminated: {
		ActionStart:     {reason: "instance has been terminated"},
		ActionStop:      {reason: "instance has been terminated"},
		ActionTerminate: {reason: "instance is already terminated"},
	},
}

// CanTransition reports whether action is legal in state, with the rejection
// reason when it is not.
func CanTransition(state model.InstanceState, action Action) (bool, string) {
	row, ok := transitions[state]
	if !ok {
		return false, fmt.Sprintf("unknown lifecycle state %q", state)
	}
	cell, ok := row[action]
	if !ok {
		return false, fmt.Sprintf("unknown action %q", action)
	}
	return cell.allowed, cell.reason
}

// Check validates action against the instance's current state, returning a
// typed InvalidTransitionError on rejection.
func Check(inst *model.Instance, action Action) error {
	allowed, reason := CanTransition(inst.State, action)
	if !allowed {
		return &InvalidTransitionError{
			InstanceID: inst.ID,
			State:      inst.State,
			Action:     action,
			Reason:     reason,
		}
	}
	return nil
}

// Result carries whatever the gateway reported back for a completed action.
// Only start refreshes the address.
type Result struct {
	Address string
}

// Execute validates the action and, when legal, delegates it to the gateway.
// The gateway blocks until the provider confirms the target state.
func Execute(ctx context.Context, inst *model.Instance, action Action, gw provider.Gateway) (*Result, error) {
	if err := Check(inst, action); err != nil {
		return nil, err
	}

	switch action {
	case ActionStart:
		res, err := gw.Start(ctx, inst.ResourceID)
		if err != nil {
			return nil, err
		}
		return &Result{Address: res.Address}, nil
	case ActionStop:
		if err := gw.Stop(ctx, inst.ResourceID); err != nil {
			return nil, err
		}
		return &Result{}, nil
	case ActionTerminate:
		if err := gw.Terminate(ctx, inst.ResourceID); err != nil {
			return nil, err
		}
		return &Result{}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}
