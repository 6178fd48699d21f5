package services

import (
	"context"
	"sync"
	"time"

	"github.com/MOhammedRiaad/EMS-sub005/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// SchedulerOptions 执行调度器的可调参数
type SchedulerOptions struct {
	TickInterval    time.Duration // polling cadence, default 1 minute
	Workers         int           // concurrent executions per tick
	DispatchTimeout time.Duration // upper bound per channel call
	MaxAttempts     int           // dispatch attempts before FAILED, 1 = no retry
	RetryBackoff    time.Duration // base backoff between attempts, doubled each retry
}

func (o *SchedulerOptions) applyDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Minute
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.DispatchTimeout <= 0 {
		o.DispatchTimeout = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
}

// SchedulerService advances due automation executions one step per tick.
// Executions are independent and processed concurrently by a bounded worker
// pool; step order within one execution is sequential because a row is
// handled by exactly one worker per tick. Ticks themselves never overlap.
//
// Rows are selected by (status, next_run_at) without a lease or version
// column: a single scheduler instance is assumed. Running two instances
// against the same database can double-process a row.
type SchedulerService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	tracer     trace.Tracer
	dispatcher *ActionDispatcher
	opts       SchedulerOptions
	now        func() time.Time
}

func NewSchedulerService(db *gorm.DB, logger *logrus.Logger, dispatcher *ActionDispatcher, opts SchedulerOptions) *SchedulerService {
	if logger == nil {
		logger = logrus.New()
	}
	opts.applyDefaults()
	return &SchedulerService{
		db:         db,
		logger:     logger,
		tracer:     otel.Tracer("ems.automation.scheduler"),
		dispatcher: dispatcher,
		opts:       opts,
		now:        time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (s *SchedulerService) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Start runs the polling loop until the context is cancelled.
func (s *SchedulerService) Start(ctx context.Context) {
	s.logger.Infof("automation: scheduler started, tick %s, %d workers", s.opts.TickInterval, s.opts.Workers)

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("automation: scheduler stopped")
			return
		case <-ticker.C:
			if err := s.ProcessDueExecutions(ctx); err != nil {
				s.logger.Errorf("automation: tick failed: %v", err)
			}
		}
	}
}

// ProcessDueExecutions loads every pending execution whose next_run_at has
// passed and advances each one step. One execution's failure never aborts
// the remaining ones.
func (s *SchedulerService) ProcessDueExecutions(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "automation.process_due")
	defer span.End()

	now := s.now()
	var executions []models.AutomationExecution
	if err := s.db.WithContext(ctx).
		Preload("Rule").
		Preload("Rule.Actions", func(db *gorm.DB) *gorm.DB { return db.Order("step_order ASC") }).
		Where("status = ? AND next_run_at <= ?", models.ExecutionPending, now).
		Find(&executions).Error; err != nil {
		span.RecordError(err)
		return err
	}
	if len(executions) == 0 {
		return nil
	}

	jobs := make(chan *models.AutomationExecution)
	var wg sync.WaitGroup
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for execution := range jobs {
				s.advance(ctx, execution)
			}
		}()
	}
	for i := range executions {
		jobs <- &executions[i]
	}
	close(jobs)
	wg.Wait()

	span.SetAttributes(attribute.Int("automation.scheduler.processed", len(executions)))
	s.logger.Debugf("automation: tick processed %d executions", len(executions))
	return nil
}

// advance runs one step and persists the row regardless of the branch taken.
func (s *SchedulerService) advance(ctx context.Context, execution *models.AutomationExecution) {
	s.executeStep(ctx, execution)
	if err := s.db.WithContext(ctx).Save(execution).Error; err != nil {
		s.logger.Errorf("automation: persist execution %s failed: %v", execution.ID, err)
	}
}

// executeStep is the state machine transition for a single due execution.
func (s *SchedulerService) executeStep(ctx context.Context, execution *models.AutomationExecution) {
	ctx, span := s.tracer.Start(ctx, "automation.execute_step")
	defer span.End()
	span.SetAttributes(
		attribute.String("automation.execution.id", execution.ID),
		attribute.Int("automation.execution.step", execution.CurrentStepIndex),
	)

	// Rule deleted out from under the execution, or rule has no actions:
	// natural completion, not an error, so orphans never linger.
	actions := execution.Rule.Actions
	if execution.Rule.ID == 0 || len(actions) == 0 {
		execution.Status = models.ExecutionCompleted
		s.logger.Infof("automation: execution %s completed (no rule or actions)", execution.ID)
		return
	}

	// Action list shrunk below the step pointer after an edit: same policy.
	if execution.CurrentStepIndex >= len(actions) {
		execution.Status = models.ExecutionCompleted
		s.logger.Infof("automation: execution %s completed (step %d beyond %d actions)",
			execution.ID, execution.CurrentStepIndex, len(actions))
		return
	}

	action := actions[execution.CurrentStepIndex]
	payload, err := action.PayloadMap()
	if err != nil {
		execution.Status = models.ExecutionFailed
		execution.LastError = "invalid action payload: " + err.Error()
		s.logger.Warnf("automation: execution %s failed: %s", execution.ID, execution.LastError)
		return
	}
	tc, err := DecodeTriggerContext(execution.Context)
	if err != nil {
		execution.Status = models.ExecutionFailed
		execution.LastError = "invalid execution context: " + err.Error()
		s.logger.Warnf("automation: execution %s failed: %s", execution.ID, execution.LastError)
		return
	}

	result := s.dispatchWithRetry(ctx, action.Type, payload, tc)
	span.SetAttributes(attribute.String("automation.dispatch.outcome", string(result.Outcome)))

	if result.Outcome == DispatchFailed {
		// Fatal to this execution only. No step skip, never revisited.
		execution.Status = models.ExecutionFailed
		execution.LastError = result.Err.Error()
		s.logger.Warnf("automation: execution %s step %d failed: %v", execution.ID, execution.CurrentStepIndex, result.Err)
		return
	}

	if result.Outcome == DispatchSkipped {
		s.logger.Infof("automation: execution %s step %d skipped: %s", execution.ID, execution.CurrentStepIndex, result.Reason)
	}

	// Sent and Skipped both advance.
	execution.CurrentStepIndex++
	if execution.CurrentStepIndex < len(actions) {
		next := actions[execution.CurrentStepIndex]
		execution.NextRunAt = s.now().Add(time.Duration(next.DelayMinutes) * time.Minute)
		return
	}
	execution.Status = models.ExecutionCompleted
	s.logger.Infof("automation: execution %s completed after %d steps", execution.ID, len(actions))
}

// dispatchWithRetry applies the per-call timeout and the bounded retry
// policy. With MaxAttempts = 1 this is a single attempt, matching the
// no-retry default.
func (s *SchedulerService) dispatchWithRetry(ctx context.Context, kind models.ActionKind, payload map[string]interface{}, tc *TriggerContext) DispatchResult {
	backoff := s.opts.RetryBackoff
	var result DispatchResult

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return failed(ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			s.logger.Warnf("automation: dispatch retry %d/%d for %s", attempt, s.opts.MaxAttempts, kind)
		}

		callCtx, cancel := context.WithTimeout(ctx, s.opts.DispatchTimeout)
		result = s.dispatcher.PerformAction(callCtx, kind, payload, tc)
		cancel()

		if result.Outcome != DispatchFailed {
			return result
		}
	}
	return result
}
