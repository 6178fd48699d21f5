package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MOhammedRiaad/EMS-sub005/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NotificationService stores in-app notifications and pushes them to any
// connected dashboard session of the target user.
type NotificationService struct {
	db     *gorm.DB
	logger *logrus.Logger
	hub    *NotificationHub
}

func NewNotificationService(db *gorm.DB, logger *logrus.Logger) *NotificationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &NotificationService{db: db, logger: logger}
}

// SetHub 注入可选的实时推送 hub（未设置时只落库）
func (s *NotificationService) SetHub(hub *NotificationHub) {
	s.hub = hub
}

// CreateNotification 落库并尽力推送一条站内通知
func (s *NotificationService) CreateNotification(ctx context.Context, input *NotificationInput) error {
	if input == nil {
		return fmt.Errorf("input required")
	}
	if input.UserID == "" || input.TenantID == "" {
		return fmt.Errorf("user and tenant required")
	}

	dataJSON := ""
	if input.Data != nil {
		b, err := json.Marshal(input.Data)
		if err != nil {
			return fmt.Errorf("invalid notification data: %w", err)
		}
		dataJSON = string(b)
	}

	notification := &models.Notification{
		UserID:   input.UserID,
		TenantID: input.TenantID,
		Title:    input.Title,
		Message:  input.Message,
		Type:     input.Type,
		Data:     dataJSON,
	}
	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		return fmt.Errorf("store notification: %w", err)
	}

	if s.hub != nil {
		s.hub.Push(input.UserID, notification)
	}
	return nil
}

// ListNotifications 返回用户的通知（新到旧）
func (s *NotificationService) ListNotifications(ctx context.Context, tenantID, userID string, limit int) ([]models.Notification, error) {
	if limit < 1 {
		limit = 50
	}
	var notifications []models.Notification
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		return nil, err
	}
	return notifications, nil
}
