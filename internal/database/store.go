package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/zaqqye/seb_monitor/internal/models"
)

// Store is the GORM-backed persistence of the monitoring core.
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	return err
}

func (s *Store) CreateConnection(ctx context.Context, conn *models.ClientConnection) error {
	return s.DB.WithContext(ctx).Create(conn).Error
}

func (s *Store) UpdateConnection(ctx context.Context, conn *models.ClientConnection) error {
	res := s.DB.WithContext(ctx).Model(&models.ClientConnection{}).
		Where("id = ?", conn.ID).
		Updates(map[string]any{
			"status":       conn.Status,
			"updated_at":   conn.UpdatedAt,
			"last_seen_at": conn.LastSeenAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ArchiveConnection soft-deletes the connection row.
func (s *Store) ArchiveConnection(ctx context.Context, id string) error {
	res := s.DB.WithContext(ctx).Where("id = ?", id).Delete(&models.ClientConnection{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) ListConnections(ctx context.Context) ([]models.ClientConnection, error) {
	var conns []models.ClientConnection
	err := s.DB.WithContext(ctx).Order("created_at ASC").Find(&conns).Error
	return conns, err
}

func (s *Store) GetExam(ctx context.Context, id uint) (models.Exam, error) {
	var exam models.Exam
	if err := s.DB.WithContext(ctx).First(&exam, id).Error; err != nil {
		return models.Exam{}, notFound(err)
	}
	return exam, nil
}

func (s *Store) IndicatorDefinitions(ctx context.Context, examID uint) ([]models.IndicatorDefinition, error) {
	var defs []models.IndicatorDefinition
	err := s.DB.WithContext(ctx).
		Preload("Thresholds").
		Where("exam_id = ?", examID).
		Order("id ASC").
		Find(&defs).Error
	return defs, err
}

func (s *Store) CreateNotification(ctx context.Context, n *models.PendingNotification) error {
	return s.DB.WithContext(ctx).Create(n).Error
}

func (s *Store) AcknowledgeNotification(ctx context.Context, id string, at time.Time) error {
	res := s.DB.WithContext(ctx).Model(&models.PendingNotification{}).
		Where("id = ?", id).
		Updates(map[string]any{"acknowledged": true, "updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteNotifications(ctx context.Context, connectionID string) error {
	return s.DB.WithContext(ctx).Where("connection_id = ?", connectionID).Delete(&models.PendingNotification{}).Error
}

func (s *Store) ListPendingNotifications(ctx context.Context) ([]models.PendingNotification, error) {
	var list []models.PendingNotification
	err := s.DB.WithContext(ctx).Where("acknowledged = ?", false).Order("created_at ASC").Find(&list).Error
	return list, err
}

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
