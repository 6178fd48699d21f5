package services

import (
	"context"
	"time"

	"github.com/MOhammedRiaad/EMS-sub005/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CronOptions 周期性触发源的可调参数
type CronOptions struct {
	BirthdaySpec      string // cron spec for the daily birthday scan
	InactiveSpec      string // cron spec for the daily inactivity scan
	ReminderSpec      string // cron spec for the session reminder scan
	InactiveAfterDays int    // days without a session before INACTIVE_CLIENT fires
	ReminderLeadHours int    // hours before start time when SESSION_REMINDER fires
	ReminderWindow    time.Duration // width of the reminder scan window, matches the scan cadence
}

func (o *CronOptions) applyDefaults() {
	if o.BirthdaySpec == "" {
		o.BirthdaySpec = "0 8 * * *"
	}
	if o.InactiveSpec == "" {
		o.InactiveSpec = "30 8 * * *"
	}
	if o.ReminderSpec == "" {
		o.ReminderSpec = "*/15 * * * *"
	}
	if o.InactiveAfterDays <= 0 {
		o.InactiveAfterDays = 30
	}
	if o.ReminderLeadHours <= 0 {
		o.ReminderLeadHours = 24
	}
	if o.ReminderWindow <= 0 {
		o.ReminderWindow = 15 * time.Minute
	}
}

// CronTriggerService fires the time-based trigger types (BIRTHDAY,
// INACTIVE_CLIENT, SESSION_REMINDER) by scanning business entities on a
// schedule and handing matches to the trigger dispatcher. Each scan fires a
// window exactly once; the engine itself never deduplicates.
type CronTriggerService struct {
	db      *gorm.DB
	logger  *logrus.Logger
	trigger *TriggerService
	opts    CronOptions
	cron    *cron.Cron
	now     func() time.Time
}

func NewCronTriggerService(db *gorm.DB, logger *logrus.Logger, trigger *TriggerService, opts CronOptions) *CronTriggerService {
	if logger == nil {
		logger = logrus.New()
	}
	opts.applyDefaults()
	return &CronTriggerService{
		db:      db,
		logger:  logger,
		trigger: trigger,
		opts:    opts,
		cron:    cron.New(),
		now:     time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (s *CronTriggerService) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Start registers the scan jobs and starts the cron runner.
func (s *CronTriggerService) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.opts.BirthdaySpec, func() { s.ScanBirthdays(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.opts.InactiveSpec, func() { s.ScanInactiveClients(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.opts.ReminderSpec, func() { s.ScanUpcomingSessions(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Infof("automation: cron triggers started (birthday %q, inactive %q, reminder %q)",
		s.opts.BirthdaySpec, s.opts.InactiveSpec, s.opts.ReminderSpec)
	return nil
}

// Stop halts the cron runner and waits for running jobs.
func (s *CronTriggerService) Stop() {
	<-s.cron.Stop().Done()
}

// ScanBirthdays fires BIRTHDAY for every client whose birthday falls on
// today's month/day.
func (s *CronTriggerService) ScanBirthdays(ctx context.Context) {
	var clients []models.Client
	if err := s.db.WithContext(ctx).Where("birthday IS NOT NULL").Find(&clients).Error; err != nil {
		s.logger.Errorf("automation: birthday scan failed: %v", err)
		return
	}

	today := s.now()
	fired := 0
	for i := range clients {
		client := clients[i]
		if client.Birthday == nil {
			continue
		}
		if client.Birthday.Month() != today.Month() || client.Birthday.Day() != today.Day() {
			continue
		}
		tc := &TriggerContext{TenantID: client.TenantID, ClientID: client.ID, Client: &client}
		if err := s.trigger.TriggerEvent(ctx, models.TriggerBirthday, tc); err != nil {
			s.logger.Warnf("automation: birthday trigger for client %s failed: %v", client.ID, err)
			continue
		}
		fired++
	}
	s.logger.Infof("automation: birthday scan checked %d clients, fired %d", len(clients), fired)
}

// ScanInactiveClients fires INACTIVE_CLIENT for clients whose last session
// crossed the inactivity threshold within the past day, so a client fires
// once per threshold crossing rather than every day thereafter.
func (s *CronTriggerService) ScanInactiveClients(ctx context.Context) {
	now := s.now()
	threshold := now.AddDate(0, 0, -s.opts.InactiveAfterDays)
	windowStart := threshold.AddDate(0, 0, -1)

	var clients []models.Client
	if err := s.db.WithContext(ctx).
		Where("last_session_at IS NOT NULL AND last_session_at <= ? AND last_session_at > ?", threshold, windowStart).
		Find(&clients).Error; err != nil {
		s.logger.Errorf("automation: inactivity scan failed: %v", err)
		return
	}

	for i := range clients {
		client := clients[i]
		tc := &TriggerContext{TenantID: client.TenantID, ClientID: client.ID, Client: &client}
		if err := s.trigger.TriggerEvent(ctx, models.TriggerInactiveClient, tc); err != nil {
			s.logger.Warnf("automation: inactivity trigger for client %s failed: %v", client.ID, err)
		}
	}
	if len(clients) > 0 {
		s.logger.Infof("automation: inactivity scan fired for %d clients", len(clients))
	}
}

// ScanUpcomingSessions fires SESSION_REMINDER for scheduled sessions whose
// start time enters the reminder window on this scan.
func (s *CronTriggerService) ScanUpcomingSessions(ctx context.Context) {
	now := s.now()
	windowStart := now.Add(time.Duration(s.opts.ReminderLeadHours) * time.Hour)
	windowEnd := windowStart.Add(s.opts.ReminderWindow)

	var sessions []models.BookedSession
	if err := s.db.WithContext(ctx).
		Where("status = ? AND start_time >= ? AND start_time < ?", "scheduled", windowStart, windowEnd).
		Find(&sessions).Error; err != nil {
		s.logger.Errorf("automation: session reminder scan failed: %v", err)
		return
	}

	for i := range sessions {
		session := sessions[i]
		tc := &TriggerContext{
			TenantID: session.TenantID,
			ClientID: session.ClientID,
			Session:  &session,
		}
		if session.ClientID != "" {
			var client models.Client
			if err := s.db.WithContext(ctx).First(&client, "id = ?", session.ClientID).Error; err == nil {
				tc.Client = &client
			}
		}
		if err := s.trigger.TriggerEvent(ctx, models.TriggerSessionReminder, tc); err != nil {
			s.logger.Warnf("automation: reminder trigger for session %s failed: %v", session.ID, err)
		}
	}
	if len(sessions) > 0 {
		s.logger.Infof("automation: reminder scan fired for %d sessions", len(sessions))
	}
}
