package model

import "time"

// PushSubscription holds the information for a browser push subscription.
// Subscriptions are keyed to the owning user so terminal operation events
// can be pushed even after the user closed the page.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	UserID    string    `gorm:"size:64;not null;index"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
