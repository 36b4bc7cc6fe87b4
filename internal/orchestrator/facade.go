package orchestrator

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"range-instance-backend/config"
	"range-instance-backend/internal/events"
	"range-instance-backend/internal/model"
	"range-instance-backend/internal/store"
)

// OperationHandle is returned synchronously to the caller of an async
// operation. The caller subscribes to ChannelAddress for the ordered
// progress event stream correlated by OperationID.
type OperationHandle struct {
	OperationID       string               `json:"operationId"`
	InstanceID        string               `json:"instanceId,omitempty"`
	OperationType     events.OperationType `json:"operationType"`
	Status            string               `json:"status"`
	Message           string               `json:"message"`
	EstimatedDuration int                  `json:"estimatedDuration"` // seconds
	Timestamp         time.Time            `json:"timestamp"`
	ChannelAddress    string               `json:"channelAddress"`
}

const handleStatusAccepted = "ACCEPTED"

// Facade is the synchronous front door for async instance operations. It
// validates what can be validated without touching the provider, dispatches
// the pipeline, and returns a handle immediately; everything after dispatch
// is reported only through the progress channel.
type Facade struct {
	orch      *Orchestrator
	store     store.Store
	notifier  *events.Notifier
	estimates config.InstanceConfig
}

// NewFacade wires the facade over an orchestrator.
func NewFacade(orch *Orchestrator, s store.Store, n *events.Notifier, estimates config.InstanceConfig) *Facade {
	return &Facade{orch: orch, store: s, notifier: n, estimates: estimates}
}

// CreateAsync dispatches a create+provision pipeline for (roomID, userID).
// An existing active instance for the pair is rejected synchronously. A
// NOT_STARTED record without a resource id is the residue of a failed
// create and does not block a retry; the pipeline replaces it.
func (f *Facade) CreateAsync(ctx context.Context, roomID, userID string) (*OperationHandle, error) {
	if existing, err := f.store.GetInstanceForRoom(ctx, roomID, userID); err == nil {
		if existing.State != model.StateNotStarted || existing.ResourceID != "" {
			return nil, ErrInstanceAlreadyExists
		}
	} else if !errors.Is(err, store.ErrInstanceNotFound) {
		return nil, err
	}

	opID := uuid.NewString()
	go func() {
		// Pipelines run to completion; there is no cancellation API,
		// so they are detached from the request context.
		if _, err := f.orch.CreateAndProvision(context.Background(), opID, roomID, userID); err != nil {
			log.Printf("op=%s create pipeline returned error: %v", opID, err)
		}
	}()

	return f.handle(opID, "", events.OpCreate, userID,
		"Instance creation accepted", f.estimates.EstimateCreateSec), nil
}

// StartAsync dispatches a start pipeline for an existing instance.
func (f *Facade) StartAsync(ctx context.Context, instanceID string) (*OperationHandle, error) {
	return f.dispatch(ctx, instanceID, events.OpStart,
		"Instance start accepted", f.estimates.EstimateStartSec, f.orch.Start)
}

// StopAsync dispatches a stop pipeline for an existing instance.
func (f *Facade) StopAsync(ctx context.Context, instanceID string) (*OperationHandle, error) {
	return f.dispatch(ctx, instanceID, events.OpStop,
		"Instance stop accepted", f.estimates.EstimateStopSec, f.orch.Stop)
}

// TerminateAsync dispatches a terminate pipeline for an existing instance.
func (f *Facade) TerminateAsync(ctx context.Context, instanceID string) (*OperationHandle, error) {
	return f.dispatch(ctx, instanceID, events.OpTerminate,
		"Instance termination accepted", f.estimates.EstimateTerminateSec, f.orch.Terminate)
}

func (f *Facade) dispatch(
	ctx context.Context,
	instanceID string,
	opType events.OperationType,
	message string,
	estimate int,
	run func(ctx context.Context, opID, instanceID string) error,
) (*OperationHandle, error) {
	// Not-found is the one pipeline error the caller still gets
	// synchronously; after this lookup they only have the channel.
	inst, err := f.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	opID := uuid.NewString()
	go func() {
		if err := run(context.Background(), opID, instanceID); err != nil {
			log.Printf("op=%s instance=%s %s pipeline returned error: %v", opID, instanceID, opType, err)
		}
	}()

	return f.handle(opID, instanceID, opType, inst.UserID, message, estimate), nil
}

func (f *Facade) handle(opID, instanceID string, opType events.OperationType, userID, message string, estimate int) *OperationHandle {
	return &OperationHandle{
		OperationID:       opID,
		InstanceID:        instanceID,
		OperationType:     opType,
		Status:            handleStatusAccepted,
		Message:           message,
		EstimatedDuration: estimate,
		Timestamp:         time.Now().UTC(),
		ChannelAddress:    f.notifier.ChannelAddress(userID),
	}
}
