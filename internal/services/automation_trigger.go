package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/MOhammedRiaad/EMS-sub005/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// UsageRecorder 用量计费协作方，调用方不关心结果
type UsageRecorder interface {
	RecordMetric(ctx context.Context, tenantID, metric string, amount int, window string, metadata map[string]interface{})
}

// TriggerService turns business events into automation executions. Each
// matching active rule of the resolved tenant gets one new PENDING execution;
// repeated triggers are deliberately not deduplicated.
type TriggerService struct {
	db     *gorm.DB
	logger *logrus.Logger
	tracer trace.Tracer
	usage  UsageRecorder
	now    func() time.Time
}

func NewTriggerService(db *gorm.DB, logger *logrus.Logger) *TriggerService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TriggerService{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("ems.automation.trigger"),
		now:    time.Now,
	}
}

// SetUsageRecorder 注入用量计费协作方
func (s *TriggerService) SetUsageRecorder(usage UsageRecorder) {
	s.usage = usage
}

// SetNow overrides the clock, for tests.
func (s *TriggerService) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// TriggerEvent evaluates all active rules of the event's tenant for the given
// trigger type and creates one execution per match. An event without tenant
// scope is a logged no-op, not an error.
func (s *TriggerService) TriggerEvent(ctx context.Context, triggerType models.TriggerType, tc *TriggerContext) error {
	ctx, span := s.tracer.Start(ctx, "automation.trigger_event")
	defer span.End()
	span.SetAttributes(attribute.String("automation.trigger.type", string(triggerType)))

	if tc == nil {
		tc = &TriggerContext{}
	}
	tenantID := tc.ResolveTenantID()
	if tenantID == "" {
		s.logger.Infof("automation: event %s carries no tenant scope, skipping", triggerType)
		return nil
	}
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	var rules []models.AutomationRule
	if err := s.db.WithContext(ctx).
		Preload("Actions").
		Where("trigger_type = ? AND tenant_id = ? AND is_active = ?", triggerType, tenantID, true).
		Find(&rules).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("load automation rules: %w", err)
	}
	if len(rules) == 0 {
		return nil
	}

	snapshot, err := tc.Encode()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("encode trigger context: %w", err)
	}

	now := s.now()
	created := 0
	for _, rule := range rules {
		actions := rule.Actions
		sort.SliceStable(actions, func(i, j int) bool { return actions[i].Order < actions[j].Order })

		firstDelay := 0
		if len(actions) > 0 {
			firstDelay = actions[0].DelayMinutes
		}

		execution := &models.AutomationExecution{
			ID:               uuid.NewString(),
			RuleID:           rule.ID,
			TenantID:         tenantID,
			EntityID:         tc.EntityID(),
			CurrentStepIndex: 0,
			Status:           models.ExecutionPending,
			NextRunAt:        now.Add(time.Duration(firstDelay) * time.Minute),
			Context:          snapshot,
		}
		if err := s.db.WithContext(ctx).Create(execution).Error; err != nil {
			s.logger.Warnf("automation: create execution for rule %d failed: %v", rule.ID, err)
			continue
		}
		created++
		s.logger.Infof("automation: rule %q matched %s, execution %s scheduled at %s",
			rule.Name, triggerType, execution.ID, execution.NextRunAt.Format(time.RFC3339))

		if s.usage != nil {
			s.usage.RecordMetric(ctx, tenantID, "automation_executions", 1, "month", map[string]interface{}{
				"rule_id":      rule.ID,
				"trigger_type": string(triggerType),
			})
		}
	}

	span.SetAttributes(attribute.Int("automation.trigger.executions_created", created))
	return nil
}
