package events

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturePublisher records deliveries in order.
type capturePublisher struct {
	mu       sync.Mutex
	err      error
	subjects []string
	payloads [][]byte
}

func (p *capturePublisher) Publish(subject string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, payload)
	return nil
}

func TestChannelAddress_PerUser(t *testing.T) {
	n := NewNotifier(&capturePublisher{}, "instances.events")
	assert.Equal(t, "instances.events.user-1", n.ChannelAddress("user-1"))
	assert.Equal(t, "instances.events.user-2", n.ChannelAddress("user-2"))
}

func TestPublish_DeliversInOrderToOwnersSubject(t *testing.T) {
	pub := &capturePublisher{}
	n := NewNotifier(pub, "instances.events")

	for i, status := range []Status{StatusInitializing, StatusRequesting, StatusRunning} {
		n.Publish("user-1", OperationEvent{
			OperationID: "op-1",
			Status:      status,
			Progress:    i * 50,
		})
	}

	require.Len(t, pub.payloads, 3)
	for _, subject := range pub.subjects {
		assert.Equal(t, "instances.events.user-1", subject)
	}

	var statuses []Status
	for _, payload := range pub.payloads {
		var ev OperationEvent
		require.NoError(t, json.Unmarshal(payload, &ev))
		statuses = append(statuses, ev.Status)
	}
	assert.Equal(t, []Status{StatusInitializing, StatusRequesting, StatusRunning}, statuses)
}

func TestPublish_DeliveryFailureIsSwallowed(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	n := NewNotifier(pub, "instances.events")

	// Must not panic or propagate; fire-and-forget.
	n.Publish("user-1", OperationEvent{OperationID: "op-1", Status: StatusFailed})
	assert.Empty(t, pub.payloads)
}

func TestTerminal(t *testing.T) {
	assert.True(t, OperationEvent{Status: StatusFailed, Progress: 0}.Terminal())
	assert.True(t, OperationEvent{Status: StatusRunning, Progress: 100}.Terminal())
	assert.False(t, OperationEvent{Status: StatusRequesting, Progress: 15}.Terminal())
}
