package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the narrow transport the notifier pushes payloads through.
// Abstracted so tests can capture deliveries without a broker.
type Publisher interface {
	Publish(subject string, payload []byte) error
}

// NatsPublisher implements Publisher over a NATS connection.
type NatsPublisher struct {
	nc *nats.Conn
}

// ConnectNats dials the broker with reconnect handling.
func ConnectNats(url string) (*NatsPublisher, error) {
	opts := []nats.Option{
		nats.Name("range-instance-backend"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected to %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsPublisher{nc: nc}, nil
}

func (p *NatsPublisher) Publish(subject string, payload []byte) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	return p.nc.Publish(subject, payload)
}

// Close drains in-flight messages before dropping the connection.
func (p *NatsPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// Notifier pushes ordered OperationEvents onto a per-user subject.
// Delivery is best-effort and fire-and-forget: a failure is logged and
// never fails the operation that emitted the event. There is no buffering
// or replay; a subscriber that attaches late misses earlier events.
type Notifier struct {
	pub    Publisher
	prefix string
}

// NewNotifier creates a notifier publishing under the given subject prefix.
func NewNotifier(pub Publisher, subjectPrefix string) *Notifier {
	return &Notifier{pub: pub, prefix: subjectPrefix}
}

// ChannelAddress returns the subject a user must subscribe to for their
// progress events. This is the channel address placed in operation handles.
func (n *Notifier) ChannelAddress(userID string) string {
	return n.prefix + "." + userID
}

// Publish delivers one event to the owning user's subject.
func (n *Notifier) Publish(userID string, ev OperationEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("op=%s instance=%s failed to encode event: %v", ev.OperationID, ev.InstanceID, err)
		return
	}
	if err := n.pub.Publish(n.ChannelAddress(userID), payload); err != nil {
		log.Printf("op=%s instance=%s event delivery failed (dropped): %v", ev.OperationID, ev.InstanceID, err)
	}
}
