package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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
	"range-instance-backend/internal/provider"
	"range-instance-backend/internal/store"
)

type dropPublisher struct{}

func (dropPublisher) Publish(subject string, payload []byte) error { return nil }

// stubGateway succeeds every operation immediately.
type stubGateway struct {
	mu          sync.Mutex
	launchCalls int
}

func (g *stubGateway) Launch(ctx context.Context, imageID string) (*provider.LaunchResult, error) {
	g.mu.Lock()
	g.launchCalls++
	g.mu.Unlock()
	return &provider.LaunchResult{ResourceID: "101", Address: "192.0.2.10"}, nil
}

func (g *stubGateway) Start(ctx context.Context, resourceID string) (*provider.StartResult, error) {
	return &provider.StartResult{Address: "192.0.2.10"}, nil
}

func (g *stubGateway) Stop(ctx context.Context, resourceID string) error      { return nil }
func (g *stubGateway) Terminate(ctx context.Context, resourceID string) error { return nil }

func newTestRouter(t *testing.T, dbName string) (*gin.Engine, store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:"+dbName+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Room{}, &model.Instance{}, &model.PushSubscription{}))
	s := store.NewGormStore(db)

	n := events.NewNotifier(dropPublisher{}, "instances.events")
	orch := orchestrator.New(s, &stubGateway{}, n, nil, 0)
	facade := orchestrator.NewFacade(orch, s, n, config.InstanceConfig{
		EstimateCreateSec: 90, EstimateStartSec: 30,
		EstimateStopSec: 30, EstimateTerminateSec: 45,
	})

	cfg := &config.ServerConfig{
		RateLimitPerSec: 1000,
		RateLimitBurst:  1000,
		CacheTTLSeconds: 1,
	}
	return NewRouter(cfg, facade, orch, s, nil), s
}

func seedTestInstance(t *testing.T, s store.Store, state model.InstanceState) {
	t.Helper()
	require.NoError(t, s.CreateInstance(context.Background(), &model.Instance{
		ID: "inst-1", ResourceID: "101", Address: "192.0.2.10",
		UserID: "user-1", RoomID: "room-1", State: state,
		CreatedAt: time.Now().UTC(),
	}))
}

func doRequest(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestCreateInstance_ReturnsHandle(t *testing.T) {
	r, s := newTestRouter(t, "api_create")
	require.NoError(t, s.UpsertRooms(context.Background(), []model.Room{
		{ID: "room-1", Name: "Room 1", ImageID: "image-42"},
	}))

	w := doRequest(r, http.MethodPost, "/instances/async?roomId=room-1&userId=user-1")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "ACCEPTED", body["status"])
	assert.Equal(t, "CREATE", body["operationType"])
	assert.Equal(t, "instances.events.user-1", body["channelAddress"])
	assert.NotEmpty(t, body["operationId"])
	assert.EqualValues(t, 90, body["estimatedDuration"])

	assert.Eventually(t, func() bool {
		inst, err := s.GetInstanceForRoom(context.Background(), "room-1", "user-1")
		return err == nil && inst.State == model.StateRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreateInstance_MissingParams(t *testing.T) {
	r, _ := newTestRouter(t, "api_create_params")

	w := doRequest(r, http.MethodPost, "/instances/async?roomId=room-1")
	require.Equal(t, http.StatusBadRequest, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, CodeOperationFailed, body["errorCode"])
	assert.EqualValues(t, http.StatusBadRequest, body["httpStatus"])
	assert.Equal(t, "/instances/async", body["path"])
}

func TestCreateInstance_Conflict(t *testing.T) {
	r, s := newTestRouter(t, "api_create_conflict")
	seedTestInstance(t, s, model.StateRunning)

	w := doRequest(r, http.MethodPost, "/instances/async?roomId=room-1&userId=user-1")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeOperationFailed, decodeBody(t, w)["errorCode"])
}

func TestStartInstance_NotFound(t *testing.T) {
	r, _ := newTestRouter(t, "api_start_missing")

	w := doRequest(r, http.MethodPost, "/instances/ghost/start/async")
	require.Equal(t, http.StatusNotFound, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, CodeInstanceNotFound, body["errorCode"])
	assert.Equal(t, "/instances/ghost/start/async", body["path"])
}

func TestStopInstance_Accepted(t *testing.T) {
	r, s := newTestRouter(t, "api_stop")
	seedTestInstance(t, s, model.StateRunning)

	w := doRequest(r, http.MethodPost, "/instances/inst-1/stop/async")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "ACCEPTED", body["status"])
	assert.Equal(t, "STOP", body["operationType"])
	assert.Equal(t, "inst-1", body["instanceId"])

	assert.Eventually(t, func() bool {
		inst, err := s.GetInstance(context.Background(), "inst-1")
		return err == nil && inst.State == model.StatePaused
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTerminateInstance_Accepted(t *testing.T) {
	r, s := newTestRouter(t, "api_terminate")
	seedTestInstance(t, s, model.StatePaused)

	w := doRequest(r, http.MethodDelete, "/instances/inst-1/async")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "TERMINATE", decodeBody(t, w)["operationType"])

	assert.Eventually(t, func() bool {
		_, err := s.GetInstance(context.Background(), "inst-1")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetRoomInstanceDetails(t *testing.T) {
	r, s := newTestRouter(t, "api_details")

	// No instance yet: the read succeeds with a "not created" snapshot.
	w := doRequest(r, http.MethodGet, "/rooms/room-1/instance_details?userId=user-9")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["exists"])
	assert.Equal(t, "NOT_CREATED", body["state"])

	seedTestInstance(t, s, model.StateRunning)
	w = doRequest(r, http.MethodGet, "/rooms/room-1/instance_details?userId=user-1")
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, true, body["exists"])
	assert.Equal(t, "inst-1", body["instanceId"])
	assert.Equal(t, "RUNNING", body["state"])
	assert.Equal(t, "192.0.2.10", body["address"])
}

func TestGetRoomInstanceDetails_RequiresUser(t *testing.T) {
	r, _ := newTestRouter(t, "api_details_nouser")

	w := doRequest(r, http.MethodGet, "/rooms/room-1/instance_details")
	require.Equal(t, http.StatusBadRequest, w.Code)
}
