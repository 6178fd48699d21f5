package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/MOhammedRiaad/EMS-sub005/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var schedulerTestTime = time.Date(2026, time.February, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, db *gorm.DB, mailer Mailer, notifier Notifier, opts SchedulerOptions) *SchedulerService {
	t.Helper()
	dispatcher := NewActionDispatcher(mailer, nil, notifier, NewTemplateRenderer("https://portal.test"), logrus.New())
	s := NewSchedulerService(db, logrus.New(), dispatcher, opts)
	s.SetNow(func() time.Time { return schedulerTestTime })
	return s
}

func seedExecution(t *testing.T, db *gorm.DB, ruleID uint, tc *TriggerContext, dueAt time.Time) *models.AutomationExecution {
	t.Helper()
	snapshot := ""
	if tc != nil {
		var err error
		snapshot, err = tc.Encode()
		if err != nil {
			t.Fatalf("encode context: %v", err)
		}
	}
	execution := &models.AutomationExecution{
		ID:        uuid.NewString(),
		RuleID:    ruleID,
		TenantID:  "tenant-1",
		EntityID:  "client-1",
		Status:    models.ExecutionPending,
		NextRunAt: dueAt,
		Context:   snapshot,
	}
	if err := db.Create(execution).Error; err != nil {
		t.Fatalf("seed execution: %v", err)
	}
	return execution
}

func reloadExecution(t *testing.T, db *gorm.DB, id string) *models.AutomationExecution {
	t.Helper()
	var execution models.AutomationExecution
	if err := db.First(&execution, "id = ?", id).Error; err != nil {
		t.Fatalf("reload execution %s: %v", id, err)
	}
	return &execution
}

func TestScheduler_TwoStepFlow(t *testing.T) {
	db := newAutomationTestDB(t)
	mailer := &stubMailer{}
	s := newTestScheduler(t, db, mailer, nil, SchedulerOptions{})

	rule := seedRule(t, db, "tenant-1", models.TriggerNewLead, true,
		models.AutomationAction{Type: models.ActionSendEmail, DelayMinutes: 0, Order: 0,
			Payload: `{"subject":"Welcome {{clientName}}","body":"Hi"}`},
		models.AutomationAction{Type: models.ActionSendEmail, DelayMinutes: 1440, Order: 1,
			Payload: `{"subject":"Checking in","body":"Still there?"}`},
	)
	tc := &TriggerContext{TenantID: "tenant-1", Client: &models.Client{ID: "client-1", FirstName: "Anna", Email: "anna@example.com"}}
	execution := seedExecution(t, db, rule.ID, tc, schedulerTestTime)

	if err := s.ProcessDueExecutions(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	got := reloadExecution(t, db, execution.ID)
	if got.Status != models.ExecutionPending {
		t.Fatalf("after step 0: status = %s", got.Status)
	}
	if got.CurrentStepIndex != 1 {
		t.Fatalf("after step 0: index = %d", got.CurrentStepIndex)
	}
	wantNext := schedulerTestTime.Add(1440 * time.Minute)
	if got.NextRunAt.Unix() != wantNext.Unix() {
		t.Errorf("next_run_at = %v, want %v", got.NextRunAt, wantNext)
	}
	if len(mailer.calls) != 1 || mailer.calls[0].Subject != "Welcome Anna" {
		t.Fatalf("first step mail: %+v", mailer.calls)
	}

	// a tick before the second step is due must not touch the row
	if err := s.ProcessDueExecutions(context.Background()); err != nil {
		t.Fatalf("idle tick: %v", err)
	}
	if len(mailer.calls) != 1 {
		t.Fatalf("idle tick dispatched: %d calls", len(mailer.calls))
	}

	// jump past the second step's delay
	s.SetNow(func() time.Time { return schedulerTestTime.Add(1441 * time.Minute) })
	if err := s.ProcessDueExecutions(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	got = reloadExecution(t, db, execution.ID)
	if got.Status != models.ExecutionCompleted {
		t.Fatalf("final status = %s", got.Status)
	}
	if len(mailer.calls) != 2 || mailer.calls[1].Subject != "Checking in" {
		t.Fatalf("second step mail: %+v", mailer.calls)
	}
}

func TestScheduler_DispatchFailureIsTerminal(t *testing.T) {
	db := newAutomationTestDB(t)
	mailer := &stubMailer{failTimes: 10}
	s := newTestScheduler(t, db, mailer, nil, SchedulerOptions{})

	rule := seedRule(t, db, "tenant-1", models.TriggerNewLead, true,
		models.AutomationAction{Type: models.ActionSendEmail, Order: 0, Payload: `{"subject":"hi"}`},
		models.AutomationAction{Type: models.ActionSendEmail, Order: 1, Payload: `{"subject":"later"}`},
	)
	tc := &TriggerContext{TenantID: "tenant-1", Email: "anna@example.com"}
	execution := seedExecution(t, db, rule.ID, tc, schedulerTestTime)

	if err := s.ProcessDueExecutions(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got := reloadExecution(t, db, execution.ID)
	if got.Status != models.ExecutionFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if got.LastError == "" {
		t.Error("failed execution must record the error")
	}
	if got.CurrentStepIndex != 0 {
		t.Errorf("failed step must not advance: index = %d", got.CurrentStepIndex)
	}

	// failed rows are terminal: further ticks never pick them up again
	if err := s.ProcessDueExecutions(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	again := reloadExecution(t, db, execution.ID)
	if again.Status != models.ExecutionFailed || again.CurrentStepIndex != 0 {
		t.Errorf("terminal row changed: %+v", again)
	}
}

func TestScheduler_SkippedStepAdvances(t *testing.T) {
	db := newAutomationTestDB(t)
	mailer := &stubMailer{}
	notifier := &stubNotifier{}
	s := newTestScheduler(t, db, mailer, notifier, SchedulerOptions{})

	rule := seedRule(t, db, "tenant-1", models.TriggerNewLead, true,
		// no recipient email in the context: this step is skipped, not failed
		models.AutomationAction{Type: models.ActionSendEmail, Order: 0, Payload: `{"subject":"hi"}`},
		models.AutomationAction{Type: models.ActionSendNotification, Order: 1, Payload: `{"title":"New lead"}`},
	)
	tc := &TriggerContext{TenantID: "tenant-1", UserID: "user-1"}
	execution := seedExecution(t, db, rule.ID, tc, schedulerTestTime)

	// both steps have zero delay, so two ticks walk the whole flow
	for i := 0; i < 2; i++ {
		if err := s.ProcessDueExecutions(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	got := reloadExecution(t, db, execution.ID)
	if got.Status != models.ExecutionCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	if len(mailer.calls) != 0 {
		t.Errorf("skipped step must not send mail")
	}
	if len(notifier.inputs) != 1 {
		t.Errorf("notification step not dispatched: %d", len(notifier.inputs))
	}
}

func TestScheduler_FailOpenCompletions(t *testing.T) {
	db := newAutomationTestDB(t)
	s := newTestScheduler(t, db, &stubMailer{}, nil, SchedulerOptions{})
	tc := &TriggerContext{TenantID: "tenant-1"}

	emptyRule := seedRule(t, db, "tenant-1", models.TriggerNewLead, true)
	oneStep := seedRule(t, db, "tenant-1", models.TriggerNewLead, true,
		models.AutomationAction{Type: models.ActionSendEmail, Order: 0},
	)

	noActions := seedExecution(t, db, emptyRule.ID, tc, schedulerTestTime)
	orphan := seedExecution(t, db, 9999, tc, schedulerTestTime) // rule never existed
	beyond := seedExecution(t, db, oneStep.ID, tc, schedulerTestTime)
	if err := db.Model(&models.AutomationExecution{}).Where("id = ?", beyond.ID).
		Update("current_step_index", 5).Error; err != nil {
		t.Fatalf("set step index: %v", err)
	}

	if err := s.ProcessDueExecutions(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	for _, id := range []string{noActions.ID, orphan.ID, beyond.ID} {
		got := reloadExecution(t, db, id)
		if got.Status != models.ExecutionCompleted {
			t.Errorf("execution %s: status = %s, want COMPLETED", id, got.Status)
		}
		if got.LastError != "" {
			t.Errorf("execution %s: unexpected error %q", id, got.LastError)
		}
	}
}

func TestScheduler_InvalidPayloadFails(t *testing.T) {
	db := newAutomationTestDB(t)
	s := newTestScheduler(t, db, &stubMailer{}, nil, SchedulerOptions{})

	rule := seedRule(t, db, "tenant-1", models.TriggerNewLead, true,
		models.AutomationAction{Type: models.ActionSendEmail, Order: 0, Payload: `{not json`},
	)
	tc := &TriggerContext{TenantID: "tenant-1", Email: "anna@example.com"}
	execution := seedExecution(t, db, rule.ID, tc, schedulerTestTime)

	if err := s.ProcessDueExecutions(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got := reloadExecution(t, db, execution.ID)
	if got.Status != models.ExecutionFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if !strings.Contains(got.LastError, "invalid action payload") {
		t.Errorf("last_error = %q", got.LastError)
	}
}

func TestScheduler_CancelledNeverSelected(t *testing.T) {
	db := newAutomationTestDB(t)
	mailer := &stubMailer{}
	s := newTestScheduler(t, db, mailer, nil, SchedulerOptions{})

	rule := seedRule(t, db, "tenant-1", models.TriggerNewLead, true,
		models.AutomationAction{Type: models.ActionSendEmail, Order: 0, Payload: `{"subject":"hi"}`},
	)
	tc := &TriggerContext{TenantID: "tenant-1", Email: "anna@example.com"}
	execution := seedExecution(t, db, rule.ID, tc, schedulerTestTime)
	if err := db.Model(&models.AutomationExecution{}).Where("id = ?", execution.ID).
		Update("status", models.ExecutionCancelled).Error; err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := s.ProcessDueExecutions(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(mailer.calls) != 0 {
		t.Errorf("cancelled execution dispatched")
	}
	got := reloadExecution(t, db, execution.ID)
	if got.Status != models.ExecutionCancelled {
		t.Errorf("status = %s, want CANCELLED", got.Status)
	}
}

func TestScheduler_RetryUntilSuccess(t *testing.T) {
	db := newAutomationTestDB(t)
	mailer := &stubMailer{failTimes: 2}
	s := newTestScheduler(t, db, mailer, nil, SchedulerOptions{
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
	})

	rule := seedRule(t, db, "tenant-1", models.TriggerNewLead, true,
		models.AutomationAction{Type: models.ActionSendEmail, Order: 0, Payload: `{"subject":"hi"}`},
	)
	tc := &TriggerContext{TenantID: "tenant-1", Email: "anna@example.com"}
	execution := seedExecution(t, db, rule.ID, tc, schedulerTestTime)

	if err := s.ProcessDueExecutions(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got := reloadExecution(t, db, execution.ID)
	if got.Status != models.ExecutionCompleted {
		t.Fatalf("status = %s, want COMPLETED after retries", got.Status)
	}
	if len(mailer.calls) != 1 {
		t.Errorf("expected exactly one successful send, got %d", len(mailer.calls))
	}
}

func TestScheduler_ManyDueExecutionsOneTick(t *testing.T) {
	db := newAutomationTestDB(t)
	mailer := &stubMailer{}
	s := newTestScheduler(t, db, mailer, nil, SchedulerOptions{Workers: 1})

	rule := seedRule(t, db, "tenant-1", models.TriggerNewLead, true,
		models.AutomationAction{Type: models.ActionSendEmail, Order: 0, Payload: `{"subject":"hi"}`},
	)
	tc := &TriggerContext{TenantID: "tenant-1", Email: "anna@example.com"}
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, seedExecution(t, db, rule.ID, tc, schedulerTestTime).ID)
	}

	if err := s.ProcessDueExecutions(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	for _, id := range ids {
		if got := reloadExecution(t, db, id); got.Status != models.ExecutionCompleted {
			t.Errorf("execution %s: status = %s", id, got.Status)
		}
	}
	if len(mailer.calls) != 5 {
		t.Errorf("expected 5 sends, got %d", len(mailer.calls))
	}
}
