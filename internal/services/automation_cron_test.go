package services

import (
	"context"
	"testing"
	"time"

	"github.com/MOhammedRiaad/EMS-sub005/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var cronTestTime = time.Date(2026, time.June, 15, 8, 0, 0, 0, time.UTC)

func newTestCronService(t *testing.T, db *gorm.DB) *CronTriggerService {
	t.Helper()
	trigger := NewTriggerService(db, logrus.New())
	trigger.SetNow(func() time.Time { return cronTestTime })
	svc := NewCronTriggerService(db, logrus.New(), trigger, CronOptions{
		InactiveAfterDays: 30,
		ReminderLeadHours: 24,
		ReminderWindow:    15 * time.Minute,
	})
	svc.SetNow(func() time.Time { return cronTestTime })
	return svc
}

func seedClient(t *testing.T, db *gorm.DB, client *models.Client) {
	t.Helper()
	if err := db.Create(client).Error; err != nil {
		t.Fatalf("seed client: %v", err)
	}
}

func TestCronTriggerService_ScanBirthdays(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := newTestCronService(t, db)
	seedRule(t, db, "tenant-1", models.TriggerBirthday, true,
		models.AutomationAction{Type: models.ActionSendEmail, Order: 0})

	birthday := time.Date(1990, time.June, 15, 0, 0, 0, 0, time.UTC)
	otherDay := time.Date(1990, time.June, 16, 0, 0, 0, 0, time.UTC)
	seedClient(t, db, &models.Client{ID: "c-birthday", TenantID: "tenant-1", Email: "a@b.c", Birthday: &birthday})
	seedClient(t, db, &models.Client{ID: "c-other", TenantID: "tenant-1", Birthday: &otherDay})
	seedClient(t, db, &models.Client{ID: "c-none", TenantID: "tenant-1"})

	svc.ScanBirthdays(context.Background())

	var executions []models.AutomationExecution
	if err := db.Find(&executions).Error; err != nil {
		t.Fatalf("load executions: %v", err)
	}
	if len(executions) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(executions))
	}
	if executions[0].EntityID != "c-birthday" {
		t.Errorf("entity = %q", executions[0].EntityID)
	}
}

func TestCronTriggerService_ScanInactiveClients(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := newTestCronService(t, db)
	seedRule(t, db, "tenant-1", models.TriggerInactiveClient, true,
		models.AutomationAction{Type: models.ActionSendEmail, Order: 0})

	// crossed the 30-day threshold within the last day: fires
	crossing := cronTestTime.AddDate(0, 0, -30).Add(-2 * time.Hour)
	// long past the threshold: already fired on an earlier scan, stays quiet
	longGone := cronTestTime.AddDate(0, 0, -60)
	// still active
	recent := cronTestTime.AddDate(0, 0, -5)

	seedClient(t, db, &models.Client{ID: "c-crossing", TenantID: "tenant-1", LastSessionAt: &crossing})
	seedClient(t, db, &models.Client{ID: "c-long-gone", TenantID: "tenant-1", LastSessionAt: &longGone})
	seedClient(t, db, &models.Client{ID: "c-recent", TenantID: "tenant-1", LastSessionAt: &recent})

	svc.ScanInactiveClients(context.Background())

	var executions []models.AutomationExecution
	if err := db.Find(&executions).Error; err != nil {
		t.Fatalf("load executions: %v", err)
	}
	if len(executions) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(executions))
	}
	if executions[0].EntityID != "c-crossing" {
		t.Errorf("entity = %q", executions[0].EntityID)
	}
}

func TestCronTriggerService_ScanUpcomingSessions(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := newTestCronService(t, db)
	seedRule(t, db, "tenant-1", models.TriggerSessionReminder, true,
		models.AutomationAction{Type: models.ActionSendWhatsApp, Order: 0})

	seedClient(t, db, &models.Client{ID: "c-1", TenantID: "tenant-1", FirstName: "Anna", Phone: "+49"})

	inWindow := cronTestTime.Add(24*time.Hour + 5*time.Minute)
	tooSoon := cronTestTime.Add(2 * time.Hour)
	cancelledStart := cronTestTime.Add(24*time.Hour + 5*time.Minute)

	sessions := []*models.BookedSession{
		{ID: "s-due", TenantID: "tenant-1", ClientID: "c-1", StartTime: inWindow, Status: "scheduled"},
		{ID: "s-soon", TenantID: "tenant-1", ClientID: "c-1", StartTime: tooSoon, Status: "scheduled"},
		{ID: "s-cancelled", TenantID: "tenant-1", ClientID: "c-1", StartTime: cancelledStart, Status: "cancelled"},
	}
	for _, session := range sessions {
		if err := db.Create(session).Error; err != nil {
			t.Fatalf("seed session: %v", err)
		}
	}

	svc.ScanUpcomingSessions(context.Background())

	var executions []models.AutomationExecution
	if err := db.Find(&executions).Error; err != nil {
		t.Fatalf("load executions: %v", err)
	}
	if len(executions) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(executions))
	}

	// the stored context must carry the session and the loaded client
	tc, err := DecodeTriggerContext(executions[0].Context)
	if err != nil {
		t.Fatalf("decode context: %v", err)
	}
	if tc.Session == nil || tc.Session.ID != "s-due" {
		t.Errorf("context session missing: %+v", tc.Session)
	}
	if tc.Client == nil || tc.Client.FirstName != "Anna" {
		t.Errorf("context client missing: %+v", tc.Client)
	}
}
