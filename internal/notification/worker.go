package notification

import (
	"context"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"range-instance-backend/internal/model"
)

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real implementation of Sender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// job is one terminal-event push request for a user.
type job struct {
	UserID  string
	Message string
}

// WorkerPool sends terminal operation pushes to a user's registered browser
// subscriptions. Delivery is best-effort; like the progress channel, a
// failed push never fails the operation that requested it.
type WorkerPool struct {
	size    int
	jobs    chan job
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan job, size),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("push worker %d started", id)
	for {
		select {
		case j := <-wp.jobs:
			wp.sendForUser(ctx, j)
		case <-ctx.Done():
			log.Printf("push worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues a push for all of a user's subscriptions.
func (wp *WorkerPool) Dispatch(userID, message string) {
	wp.jobs <- job{UserID: userID, Message: message}
}

func (wp *WorkerPool) sendForUser(ctx context.Context, j job) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Where("user_id = ?", j.UserID).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("error fetching subscriptions for user %s: %v", j.UserID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	log.Printf("sending %d pushes for user %s", len(subscriptions), j.UserID)
	for _, sub := range subscriptions {
		wp.sendOne(ctx, sub, []byte(j.Message))
	}
}

func (wp *WorkerPool) sendOne(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("error sending push to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// A 410 means the browser dropped the subscription; prune it.
	if resp.StatusCode == http.StatusGone {
		log.Printf("subscription for endpoint %s is expired, deleting", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
