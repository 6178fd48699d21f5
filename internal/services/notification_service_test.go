package services

import (
	"context"
	"testing"

	"github.com/MOhammedRiaad/EMS-sub005/internal/models"

	"github.com/sirupsen/logrus"
)

func TestNotificationService_CreateNotification(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := NewNotificationService(db, logrus.New())

	err := svc.CreateNotification(context.Background(), &NotificationInput{
		UserID:   "user-1",
		TenantID: "tenant-1",
		Title:    "New lead",
		Message:  "Anna signed up",
		Type:     "automation",
		Data:     map[string]interface{}{"leadId": "lead-1"},
	})
	if err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}

	var stored models.Notification
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("load notification: %v", err)
	}
	if stored.UserID != "user-1" || stored.Title != "New lead" {
		t.Errorf("stored = %+v", stored)
	}
	if stored.Data == "" {
		t.Error("data not serialized")
	}
}

func TestNotificationService_CreateNotification_Validation(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := NewNotificationService(db, logrus.New())

	if err := svc.CreateNotification(context.Background(), nil); err == nil {
		t.Error("expected error for nil input")
	}
	if err := svc.CreateNotification(context.Background(), &NotificationInput{UserID: "u"}); err == nil {
		t.Error("expected error without tenant")
	}
	if err := svc.CreateNotification(context.Background(), &NotificationInput{TenantID: "t"}); err == nil {
		t.Error("expected error without user")
	}
}

func TestNotificationService_ListNotifications(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := NewNotificationService(db, logrus.New())

	for i := 0; i < 3; i++ {
		if err := svc.CreateNotification(context.Background(), &NotificationInput{
			UserID: "user-1", TenantID: "tenant-1", Title: "n", Type: "info",
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if err := svc.CreateNotification(context.Background(), &NotificationInput{
		UserID: "user-2", TenantID: "tenant-1", Title: "other user", Type: "info",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	notifications, err := svc.ListNotifications(context.Background(), "tenant-1", "user-1", 0)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(notifications) != 3 {
		t.Errorf("expected 3 notifications, got %d", len(notifications))
	}

	limited, err := svc.ListNotifications(context.Background(), "tenant-1", "user-1", 2)
	if err != nil {
		t.Fatalf("ListNotifications limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 notifications, got %d", len(limited))
	}
}
