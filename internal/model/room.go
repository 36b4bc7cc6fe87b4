package model

import "time"

// Room is a catalog entry describing a training scenario and the provider
// image used to launch instances for it.
type Room struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"size:256;not null"`
	Description string `gorm:"size:1024"`
	ImageID     string `gorm:"size:128"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
