package model

import "time"

// InstanceState is the lifecycle state of a provisioned compute instance.
type InstanceState string

const (
	StateNotStarted InstanceState = "NOT_STARTED"
	StateRunning    InstanceState = "RUNNING"
	StatePaused     InstanceState = "PAUSED"
	StateTerminated InstanceState = "TERMINATED"
)

// Instance represents one provisioned (or provisioning) compute resource
// backing a single user's session in a training room.
//
// ResourceID is the provider-assigned identifier; it stays empty until the
// provider accepts the launch, and an instance without one must be in
// NOT_STARTED. At most one row exists per (room, user) pair.
type Instance struct {
	ID         string        `gorm:"primaryKey;size:64"`
	ResourceID string        `gorm:"size:128;index"`
	Address    string        `gorm:"size:64"`
	UserID     string        `gorm:"size:64;not null;uniqueIndex:idx_room_user"`
	RoomID     string        `gorm:"size:64;not null;uniqueIndex:idx_room_user"`
	State      InstanceState `gorm:"size:32;not null"`
	CreatedAt  time.Time     `gorm:"not null"`
	UpdatedAt  time.Time
	ExpiresAt  *time.Time
}
