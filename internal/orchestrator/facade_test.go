package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"range-instance-backend/config"
	"range-instance-backend/internal/events"
	"range-instance-backend/internal/model"
	"range-instance-backend/internal/provider"
	"range-instance-backend/internal/store"
)

func testEstimates() config.InstanceConfig {
	return config.InstanceConfig{
		EstimateCreateSec:    90,
		EstimateStartSec:     30,
		EstimateStopSec:      30,
		EstimateTerminateSec: 45,
	}
}

func newTestFacade(s store.Store, gw provider.Gateway, pub events.Publisher) *Facade {
	n := events.NewNotifier(pub, "instances.events")
	orch := New(s, gw, n, nil, 0)
	return NewFacade(orch, s, n, testEstimates())
}

func TestCreateAsync_ReturnsAcceptedHandle(t *testing.T) {
	s := newTestStore(t, "facade_create")
	seedRoom(t, s, "room-1", "image-42")
	gw := &fakeGateway{launchResult: provider.LaunchResult{ResourceID: "101", Address: "192.0.2.10"}}
	f := newTestFacade(s, gw, &capturePublisher{})

	h, err := f.CreateAsync(context.Background(), "room-1", "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, h.OperationID)
	assert.Empty(t, h.InstanceID) // not known until the pipeline creates it
	assert.Equal(t, events.OpCreate, h.OperationType)
	assert.Equal(t, "ACCEPTED", h.Status)
	assert.Equal(t, 90, h.EstimatedDuration)
	assert.Equal(t, "instances.events.user-1", h.ChannelAddress)
	assert.False(t, h.Timestamp.IsZero())

	// The detached pipeline lands the instance in RUNNING.
	assert.Eventually(t, func() bool {
		inst, err := s.GetInstanceForRoom(context.Background(), "room-1", "user-1")
		return err == nil && inst.State == model.StateRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreateAsync_RejectsExistingInstance(t *testing.T) {
	s := newTestStore(t, "facade_conflict")
	seedRoom(t, s, "room-1", "image-42")
	seedInstance(t, s, model.StateRunning)
	gw := &fakeGateway{}
	f := newTestFacade(s, gw, &capturePublisher{})

	_, err := f.CreateAsync(context.Background(), "room-1", "user-1")
	assert.ErrorIs(t, err, ErrInstanceAlreadyExists)
	assert.Equal(t, 0, gw.launchCalls)
}

func TestCreateAsync_RetryAfterFailedCreate(t *testing.T) {
	s := newTestStore(t, "facade_create_retry")
	seedRoom(t, s, "room-1", "image-42")
	gw := &fakeGateway{
		launchFailures: 1,
		launchResult:   provider.LaunchResult{ResourceID: "101", Address: "192.0.2.10"},
	}
	f := newTestFacade(s, gw, &capturePublisher{})

	_, err := f.CreateAsync(context.Background(), "room-1", "user-1")
	require.NoError(t, err)

	// The first pipeline fails at the provider and leaves its record.
	require.Eventually(t, func() bool {
		inst, err := s.GetInstanceForRoom(context.Background(), "room-1", "user-1")
		return err == nil && inst.State == model.StateNotStarted && inst.ResourceID == ""
	}, 2*time.Second, 10*time.Millisecond)

	// The residue does not brick the pair: the retry is accepted and
	// lands the instance in RUNNING.
	_, err = f.CreateAsync(context.Background(), "room-1", "user-1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		inst, err := s.GetInstanceForRoom(context.Background(), "room-1", "user-1")
		return err == nil && inst.State == model.StateRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartAsync_UnknownInstanceFailsSynchronously(t *testing.T) {
	s := newTestStore(t, "facade_start_missing")
	f := newTestFacade(s, &fakeGateway{}, &capturePublisher{})

	_, err := f.StartAsync(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrInstanceNotFound)
}

func TestStopAsync_DispatchesPipeline(t *testing.T) {
	s := newTestStore(t, "facade_stop")
	seedInstance(t, s, model.StateRunning)
	pub := &capturePublisher{}
	f := newTestFacade(s, &fakeGateway{}, pub)

	h, err := f.StopAsync(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "inst-1", h.InstanceID)
	assert.Equal(t, events.OpStop, h.OperationType)
	assert.Equal(t, 30, h.EstimatedDuration)
	assert.Equal(t, "instances.events.user-1", h.ChannelAddress)

	assert.Eventually(t, func() bool {
		inst, err := s.GetInstance(context.Background(), "inst-1")
		return err == nil && inst.State == model.StatePaused
	}, 2*time.Second, 10*time.Millisecond)

	// Every event of the pipeline correlates to the handle's operation id.
	for _, ev := range pub.captured() {
		assert.Equal(t, h.OperationID, ev.OperationID)
	}
}

func TestTerminateAsync_DeletesRecord(t *testing.T) {
	s := newTestStore(t, "facade_terminate")
	seedInstance(t, s, model.StateRunning)
	f := newTestFacade(s, &fakeGateway{}, &capturePublisher{})

	h, err := f.TerminateAsync(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, events.OpTerminate, h.OperationType)
	assert.Equal(t, 45, h.EstimatedDuration)

	assert.Eventually(t, func() bool {
		_, err := s.GetInstance(context.Background(), "inst-1")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}
