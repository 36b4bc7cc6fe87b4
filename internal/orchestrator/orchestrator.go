package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"range-instance-backend/internal/events"
	"range-instance-backend/internal/lifecycle"
	"range-instance-backend/internal/model"
	"range-instance-backend/internal/provider"
	"range-instance-backend/internal/store"
)

// PushDispatcher receives the owning user of a finished operation so a
// terminal browser push can go out. Optional; best-effort.
type PushDispatcher interface {
	Dispatch(userID, message string)
}

// Orchestrator coordinates the persistent instance record, the state
// machine, and the provider gateway, emitting progress events along the way.
// Database state is mutated only here, after provider-confirmed transitions.
type Orchestrator struct {
	store    store.Store
	gateway  provider.Gateway
	notifier *events.Notifier
	push     PushDispatcher // may be nil
	ttl      time.Duration  // zero disables expiry

	// one mutex per instance id; serializes mutating operations so
	// back-to-back requests on the same instance cannot interleave.
	opMu sync.Map
}

// New creates an orchestrator. push may be nil when browser notifications
// are not configured.
func New(s store.Store, gw provider.Gateway, n *events.Notifier, push PushDispatcher, ttl time.Duration) *Orchestrator {
	return &Orchestrator{
		store:    s,
		gateway:  gw,
		notifier: n,
		push:     push,
		ttl:      ttl,
	}
}

// StatusSnapshot is a point-in-time view of a user's instance in a room.
// Exists is false when no instance has been created; the zero snapshot is
// returned rather than an error.
type StatusSnapshot struct {
	RoomID     string              `json:"roomId"`
	UserID     string              `json:"userId"`
	Exists     bool                `json:"exists"`
	InstanceID string              `json:"instanceId,omitempty"`
	State      model.InstanceState `json:"state"`
	Address    string              `json:"address,omitempty"`
	CreatedAt  *time.Time          `json:"createdAt,omitempty"`
	ExpiresAt  *time.Time          `json:"expiresAt,omitempty"`
}

// StateNotCreated is reported in snapshots when no instance exists.
const StateNotCreated model.InstanceState = "NOT_CREATED"

func (o *Orchestrator) lock(key string) func() {
	v, _ := o.opMu.LoadOrStore(key, &sync.Mutex{})
	mtx := v.(*sync.Mutex)
	mtx.Lock()
	return mtx.Unlock
}

func (o *Orchestrator) emit(userID string, ev events.OperationEvent) {
	ev.Timestamp = time.Now().UTC()
	o.notifier.Publish(userID, ev)
}

func (o *Orchestrator) pushTerminal(userID, message string) {
	if o.push == nil {
		return
	}
	o.push.Dispatch(userID, message)
}

// CreateAndProvision resolves the room's image, persists a NOT_STARTED
// record, launches the resource, and promotes the record to RUNNING once
// the provider confirms it. A failed launch leaves the NOT_STARTED record
// in place for retry or cleanup.
func (o *Orchestrator) CreateAndProvision(ctx context.Context, opID, roomID, userID string) (*model.Instance, error) {
	unlock := o.lock("create:" + roomID + ":" + userID)
	defer unlock()

	o.emit(userID, events.OperationEvent{
		OperationID:   opID,
		Status:        events.StatusInitializing,
		Progress:      5,
		Message:       "Resolving room configuration",
		OperationType: events.OpCreate,
	})

	room, err := o.store.GetRoomByID(ctx, roomID)
	if err != nil {
		o.fail(userID, opID, "", events.OpCreate, err)
		return nil, err
	}
	if room.ImageID == "" {
		cfgErr := &ConfigurationError{RoomID: roomID, Reason: "no provider image configured"}
		o.fail(userID, opID, "", events.OpCreate, cfgErr)
		return nil, cfgErr
	}

	// A resourceless NOT_STARTED record left by an earlier failed create
	// is replaced; anything else means the pair raced another create.
	prev, err := o.store.GetInstanceForRoom(ctx, roomID, userID)
	switch {
	case err == nil && prev.State == model.StateNotStarted && prev.ResourceID == "":
		if err := o.store.DeleteInstance(ctx, prev.ID); err != nil {
			opErr := &OperationError{InstanceID: prev.ID, Action: "create", Err: err}
			o.fail(userID, opID, prev.ID, events.OpCreate, opErr)
			return nil, opErr
		}
	case err == nil:
		o.fail(userID, opID, prev.ID, events.OpCreate, ErrInstanceAlreadyExists)
		return nil, ErrInstanceAlreadyExists
	case !errors.Is(err, store.ErrInstanceNotFound):
		opErr := &OperationError{Action: "create", Err: err}
		o.fail(userID, opID, "", events.OpCreate, opErr)
		return nil, opErr
	}

	inst := &model.Instance{
		ID:        uuid.NewString(),
		UserID:    userID,
		RoomID:    roomID,
		State:     model.StateNotStarted,
		CreatedAt: time.Now().UTC(),
	}
	if o.ttl > 0 {
		expiry := inst.CreatedAt.Add(o.ttl)
		inst.ExpiresAt = &expiry
	}
	if err := o.store.CreateInstance(ctx, inst); err != nil {
		opErr := &OperationError{InstanceID: inst.ID, Action: "create", Err: err}
		o.fail(userID, opID, inst.ID, events.OpCreate, opErr)
		return nil, opErr
	}

	o.emit(userID, events.OperationEvent{
		OperationID:   opID,
		InstanceID:    inst.ID,
		Status:        events.StatusRequesting,
		Progress:      15,
		Message:       "Requesting compute resource",
		OperationType: events.OpCreate,
	})
	o.emit(userID, events.OperationEvent{
		OperationID:   opID,
		InstanceID:    inst.ID,
		Status:        events.StatusProvisioning,
		Progress:      40,
		Message:       "Provisioning instance, this may take a while",
		OperationType: events.OpCreate,
	})

	res, err := o.gateway.Launch(ctx, room.ImageID)
	if err != nil {
		provErr := &ProvisioningError{InstanceID: inst.ID, Err: err}
		o.fail(userID, opID, inst.ID, events.OpCreate, provErr)
		return nil, provErr
	}

	inst.ResourceID = res.ResourceID
	inst.Address = res.Address
	inst.State = model.StateRunning
	if err := o.store.UpdateInstance(ctx, inst); err != nil {
		opErr := &OperationError{InstanceID: inst.ID, Action: "create", Err: err}
		o.fail(userID, opID, inst.ID, events.OpCreate, opErr)
		return nil, opErr
	}

	o.emit(userID, events.OperationEvent{
		OperationID:   opID,
		InstanceID:    inst.ID,
		Status:        events.StatusRunning,
		Progress:      100,
		Message:       "Instance is running",
		OperationType: events.OpCreate,
		Address:       inst.Address,
	})
	o.pushTerminal(userID, "Your training room instance is ready.")
	log.Printf("op=%s instance=%s create pipeline complete, address=%s", opID, inst.ID, inst.Address)
	return inst, nil
}

// Start powers a paused instance back on and refreshes its address.
func (o *Orchestrator) Start(ctx context.Context, opID, instanceID string) error {
	return o.perform(ctx, opID, instanceID, lifecycle.ActionStart)
}

// Stop stops a running instance, moving it to PAUSED.
func (o *Orchestrator) Stop(ctx context.Context, opID, instanceID string) error {
	return o.perform(ctx, opID, instanceID, lifecycle.ActionStop)
}

// Terminate tears the instance down on the provider and deletes the record.
func (o *Orchestrator) Terminate(ctx context.Context, opID, instanceID string) error {
	err := o.perform(ctx, opID, instanceID, lifecycle.ActionTerminate)
	if err == nil {
		// The record is gone; nothing can operate on this id again.
		o.opMu.Delete(instanceID)
	}
	return err
}

// stageFor maps an action to its mid-pipeline and terminal event shape.
func stageFor(action lifecycle.Action) (opType events.OperationType, stage, terminal events.Status, stageMsg, terminalMsg, pushMsg string) {
	switch action {
	case lifecycle.ActionStart:
		return events.OpStart, events.StatusStarting, events.StatusRunning,
			"Starting instance", "Instance is running", "Your instance has started."
	case lifecycle.ActionStop:
		return events.OpStop, events.StatusStopping, events.StatusStopped,
			"Stopping instance", "Instance has stopped", "Your instance has stopped."
	default:
		return events.OpTerminate, events.StatusTerminating, events.StatusTerminated,
			"Terminating instance", "Instance has been terminated", "Your instance has been terminated."
	}
}

// perform is the shared skeleton of every mutating operation:
// validate -> INITIALIZING -> REQUESTING -> stage event -> gateway ->
// persist + terminal event, with a single FAILED path.
func (o *Orchestrator) perform(ctx context.Context, opID, instanceID string, action lifecycle.Action) error {
	unlock := o.lock(instanceID)
	defer unlock()

	opType, stage, terminal, stageMsg, terminalMsg, pushMsg := stageFor(action)

	inst, err := o.store.GetInstance(ctx, instanceID)
	if err != nil {
		// No record means no owning user, so there is no channel to
		// report on; the error surfaces to logs and tests only.
		log.Printf("op=%s instance=%s %s aborted: %v", opID, instanceID, action, err)
		return err
	}

	o.emit(inst.UserID, events.OperationEvent{
		OperationID:   opID,
		InstanceID:    inst.ID,
		Status:        events.StatusInitializing,
		Progress:      5,
		Message:       "Validating requested operation",
		OperationType: opType,
	})

	// A NOT_STARTED record without a resource id has nothing behind it on
	// the provider; terminating it is record cleanup, not a transition.
	if action == lifecycle.ActionTerminate && inst.State == model.StateNotStarted && inst.ResourceID == "" {
		if err := o.store.DeleteInstance(ctx, inst.ID); err != nil {
			opErr := &OperationError{InstanceID: inst.ID, Action: string(action), Err: err}
			o.fail(inst.UserID, opID, inst.ID, opType, opErr)
			return opErr
		}
		o.emit(inst.UserID, events.OperationEvent{
			OperationID:   opID,
			InstanceID:    inst.ID,
			Status:        terminal,
			Progress:      100,
			Message:       terminalMsg,
			OperationType: opType,
		})
		o.pushTerminal(inst.UserID, pushMsg)
		log.Printf("op=%s instance=%s cleaned up unprovisioned record", opID, inst.ID)
		return nil
	}

	if err := lifecycle.Check(inst, action); err != nil {
		o.fail(inst.UserID, opID, inst.ID, opType, err)
		return err
	}

	o.emit(inst.UserID, events.OperationEvent{
		OperationID:   opID,
		InstanceID:    inst.ID,
		Status:        events.StatusRequesting,
		Progress:      15,
		Message:       "Contacting cloud provider",
		OperationType: opType,
	})
	o.emit(inst.UserID, events.OperationEvent{
		OperationID:   opID,
		InstanceID:    inst.ID,
		Status:        stage,
		Progress:      40,
		Message:       stageMsg,
		OperationType: opType,
	})

	res, err := lifecycle.Execute(ctx, inst, action, o.gateway)
	if err != nil {
		wrapped := error(&ProvisioningError{InstanceID: inst.ID, Err: err})
		o.fail(inst.UserID, opID, inst.ID, opType, wrapped)
		return wrapped
	}

	switch action {
	case lifecycle.ActionStart:
		inst.State = model.StateRunning
		inst.Address = res.Address
		err = o.store.UpdateInstance(ctx, inst)
	case lifecycle.ActionStop:
		inst.State = model.StatePaused
		err = o.store.UpdateInstance(ctx, inst)
	case lifecycle.ActionTerminate:
		err = o.store.DeleteInstance(ctx, inst.ID)
	}
	if err != nil {
		opErr := &OperationError{InstanceID: inst.ID, Action: string(action), Err: err}
		o.fail(inst.UserID, opID, inst.ID, opType, opErr)
		return opErr
	}

	ev := events.OperationEvent{
		OperationID:   opID,
		InstanceID:    inst.ID,
		Status:        terminal,
		Progress:      100,
		Message:       terminalMsg,
		OperationType: opType,
	}
	if action == lifecycle.ActionStart {
		ev.Address = inst.Address
	}
	o.emit(inst.UserID, ev)
	o.pushTerminal(inst.UserID, pushMsg)
	log.Printf("op=%s instance=%s %s pipeline complete", opID, inst.ID, action)
	return nil
}

// fail emits the single terminal FAILED event for an operation.
func (o *Orchestrator) fail(userID, opID, instanceID string, opType events.OperationType, cause error) {
	o.emit(userID, events.OperationEvent{
		OperationID:   opID,
		InstanceID:    instanceID,
		Status:        events.StatusFailed,
		Progress:      0,
		Message:       "Operation failed",
		OperationType: opType,
		Error:         cause.Error(),
	})
	o.pushTerminal(userID, "An operation on your instance failed.")
	log.Printf("op=%s instance=%s pipeline failed: %v", opID, instanceID, cause)
}

// GetStatus returns the lifecycle state of an instance.
func (o *Orchestrator) GetStatus(ctx context.Context, instanceID string) (model.InstanceState, error) {
	inst, err := o.store.GetInstance(ctx, instanceID)
	if err != nil {
		return "", err
	}
	return inst.State, nil
}

// GetInstance loads the raw record; used by the facade for synchronous
// pre-dispatch validation.
func (o *Orchestrator) GetInstance(ctx context.Context, instanceID string) (*model.Instance, error) {
	return o.store.GetInstance(ctx, instanceID)
}

// GetStatusForRoom returns a point-in-time snapshot for a (room, user)
// pair. When no instance exists the snapshot says so instead of erroring,
// which keeps the read idempotent.
func (o *Orchestrator) GetStatusForRoom(ctx context.Context, roomID, userID string) (*StatusSnapshot, error) {
	inst, err := o.store.GetInstanceForRoom(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, store.ErrInstanceNotFound) {
			return &StatusSnapshot{RoomID: roomID, UserID: userID, State: StateNotCreated}, nil
		}
		return nil, fmt.Errorf("status lookup failed: %w", err)
	}
	return &StatusSnapshot{
		RoomID:     roomID,
		UserID:     userID,
		Exists:     true,
		InstanceID: inst.ID,
		State:      inst.State,
		Address:    inst.Address,
		CreatedAt:  &inst.CreatedAt,
		ExpiresAt:  inst.ExpiresAt,
	}, nil
}
