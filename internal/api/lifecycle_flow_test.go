package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"range-instance-backend/config"
	"range-instance-backend/internal/events"
	"range-instance-backend/internal/model"
	"range-instance-backend/internal/orchestrator"
	"range-instance-backend/internal/store"
)

// recordingPublisher keeps every delivered event grouped by subject.
type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]events.OperationEvent
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(map[string][]events.OperationEvent)}
}

func (p *recordingPublisher) Publish(subject string, payload []byte) error {
	var ev events.OperationEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[subject] = append(p.events[subject], ev)
	return nil
}

func (p *recordingPublisher) forSubject(subject string) []events.OperationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.OperationEvent, len(p.events[subject]))
	copy(out, p.events[subject])
	return out
}

// TestFullLifecycleOverHTTP drives create, stop, start, and terminate
// through the HTTP surface and checks both the persisted state and the
// event stream the owning user would observe.
func TestFullLifecycleOverHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:flow_e2e?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Room{}, &model.Instance{}, &model.PushSubscription{}))
	s := store.NewGormStore(db)
	require.NoError(t, s.UpsertRooms(context.Background(), []model.Room{
		{ID: "room-1", Name: "Forensics Lab", ImageID: "image-42"},
	}))

	pub := newRecordingPublisher()
	n := events.NewNotifier(pub, "instances.events")
	orch := orchestrator.New(s, &stubGateway{}, n, nil, 0)
	facade := orchestrator.NewFacade(orch, s, n, config.InstanceConfig{
		EstimateCreateSec: 90, EstimateStartSec: 30,
		EstimateStopSec: 30, EstimateTerminateSec: 45,
	})
	r := NewRouter(&config.ServerConfig{
		RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTLSeconds: 1,
	}, facade, orch, s, nil)

	subject := "instances.events.user-1"
	waitForState := func(want model.InstanceState) *model.Instance {
		var inst *model.Instance
		require.Eventually(t, func() bool {
			got, err := s.GetInstanceForRoom(context.Background(), "room-1", "user-1")
			if err != nil || got.State != want {
				return false
			}
			inst = got
			return true
		}, 2*time.Second, 10*time.Millisecond)
		return inst
	}

	// Create.
	w := doRequest(r, http.MethodPost, "/instances/async?roomId=room-1&userId=user-1")
	require.Equal(t, http.StatusOK, w.Code)
	createHandle := decodeBody(t, w)
	assert.Equal(t, subject, createHandle["channelAddress"])
	inst := waitForState(model.StateRunning)
	assert.NotEmpty(t, inst.Address)

	// Stop, then start again, then terminate.
	w = doRequest(r, http.MethodPost, "/instances/"+inst.ID+"/stop/async")
	require.Equal(t, http.StatusOK, w.Code)
	waitForState(model.StatePaused)

	w = doRequest(r, http.MethodPost, "/instances/"+inst.ID+"/start/async")
	require.Equal(t, http.StatusOK, w.Code)
	waitForState(model.StateRunning)

	w = doRequest(r, http.MethodDelete, "/instances/"+inst.ID+"/async")
	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool {
		_, err := s.GetInstance(context.Background(), inst.ID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	// The status read reports the record gone.
	w = doRequest(r, http.MethodGet, "/rooms/room-1/instance_details?userId=user-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "NOT_CREATED", decodeBody(t, w)["state"])

	// Every event went to the owner's subject, and each operation's
	// stream ends with exactly one terminal event.
	evs := pub.forSubject(subject)
	require.NotEmpty(t, evs)
	byOp := make(map[string][]events.OperationEvent)
	for _, ev := range evs {
		byOp[ev.OperationID] = append(byOp[ev.OperationID], ev)
	}
	require.Len(t, byOp, 4)
	for opID, stream := range byOp {
		terminals := 0
		lastProgress := -1
		for i, ev := range stream {
			assert.GreaterOrEqual(t, ev.Progress, lastProgress, "op %s event %d", opID, i)
			lastProgress = ev.Progress
			if ev.Terminal() {
				terminals++
				assert.Equal(t, len(stream)-1, i, "op %s terminal event must be last", opID)
				assert.Equal(t, 100, ev.Progress)
			}
		}
		assert.Equal(t, 1, terminals, "op %s", opID)
	}

	// Nothing leaked onto another user's subject.
	assert.Empty(t, pub.forSubject("instances.events.user-2"))
}

// TestCreateFailureReportedOnChannel verifies that a provider failure after
// dispatch is reported only through the channel, as a FAILED terminal event.
func TestCreateFailureReportedOnChannel(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:flow_fail?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Room{}, &model.Instance{}, &model.PushSubscription{}))
	s := store.NewGormStore(db)
	// A room with no image makes the pipeline fail before the provider.
	require.NoError(t, s.UpsertRooms(context.Background(), []model.Room{
		{ID: "room-1", Name: "Broken Room", ImageID: ""},
	}))

	pub := newRecordingPublisher()
	n := events.NewNotifier(pub, "instances.events")
	orch := orchestrator.New(s, &stubGateway{}, n, nil, 0)
	facade := orchestrator.NewFacade(orch, s, n, config.InstanceConfig{EstimateCreateSec: 90})
	r := NewRouter(&config.ServerConfig{
		RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTLSeconds: 1,
	}, facade, orch, s, nil)

	// The handle is still ACCEPTED; the failure is asynchronous.
	w := doRequest(r, http.MethodPost, "/instances/async?roomId=room-1&userId=user-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ACCEPTED", decodeBody(t, w)["status"])

	var last events.OperationEvent
	require.Eventually(t, func() bool {
		evs := pub.forSubject("instances.events.user-1")
		if len(evs) == 0 {
			return false
		}
		last = evs[len(evs)-1]
		return last.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, events.StatusFailed, last.Status)
	assert.Equal(t, 0, last.Progress)
	assert.NotEmpty(t, last.Error)
}
