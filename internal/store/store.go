package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"range-instance-backend/internal/model"
)

var (
	// ErrInstanceNotFound indicates the referenced instance has no record.
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrRoomNotFound indicates the referenced room is not in the catalog.
	ErrRoomNotFound = errors.New("room not found")
)

// Store defines the interface for all database operations on instances
// and the room catalog.
type Store interface {
	DB() *gorm.DB

	CreateInstance(ctx context.Context, inst *model.Instance) error
	GetInstance(ctx context.Context, id string) (*model.Instance, error)
	GetInstanceForRoom(ctx context.Context, roomID, userID string) (*model.Instance, error)
	UpdateInstance(ctx context.Context, inst *model.Instance) error
	DeleteInstance(ctx context.Context, id string) error
	ListExpiredInstances(ctx context.Context, now time.Time) ([]model.Instance, error)

	GetRoomByID(ctx context.Context, id string) (*model.Room, error)
	UpsertRooms(ctx context.Context, rooms []model.Room) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying gorm handle for collaborators that run their
// own queries (subscription handlers, notification workers).
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) CreateInstance(ctx context.Context, inst *model.Instance) error {
	if err := s.db.WithContext(ctx).Create(inst).Error; err != nil {
		return fmt.Errorf("failed to create instance record: %w", err)
	}
	return nil
}

func (s *gormStore) GetInstance(ctx context.Context, id string) (*model.Instance, error) {
	var inst model.Instance
	err := s.db.WithContext(ctx).First(&inst, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to fetch instance %s: %w", id, err)
	}
	return &inst, nil
}

func (s *gormStore) GetInstanceForRoom(ctx context.Context, roomID, userID string) (*model.Instance, error) {
	var inst model.Instance
	err := s.db.WithContext(ctx).
		First(&inst, "room_id = ? AND user_id = ?", roomID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to fetch instance for room %s user %s: %w", roomID, userID, err)
	}
	return &inst, nil
}

func (s *gormStore) UpdateInstance(ctx context.Context, inst *model.Instance) error {
	if err := s.db.WithContext(ctx).Save(inst).Error; err != nil {
		return fmt.Errorf("failed to update instance %s: %w", inst.ID, err)
	}
	return nil
}

func (s *gormStore) DeleteInstance(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&model.Instance{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", id, err)
	}
	return nil
}

func (s *gormStore) ListExpiredInstances(ctx context.Context, now time.Time) ([]model.Instance, error) {
	var instances []model.Instance
	err := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ? AND state <> ?", now, model.StateTerminated).
		Find(&instances).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired instances: %w", err)
	}
	return instances, nil
}

func (s *gormStore) GetRoomByID(ctx context.Context, id string) (*model.Room, error) {
	var room model.Room
	err := s.db.WithContext(ctx).First(&room, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to fetch room %s: %w", id, err)
	}
	return &room, nil
}

// UpsertRooms seeds or refreshes catalog entries in one batch.
func (s *gormStore) UpsertRooms(ctx context.Context, rooms []model.Room) error {
	if len(rooms) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "image_id", "updated_at"}),
	}).Create(&rooms).Error
	if err != nil {
		return fmt.Errorf("batch upsert rooms failed: %w", err)
	}
	return nil
}
