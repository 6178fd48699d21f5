package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MOhammedRiaad/EMS-sub005/internal/config"
	"github.com/MOhammedRiaad/EMS-sub005/internal/models"
	"github.com/MOhammedRiaad/EMS-sub005/internal/services"
	"github.com/MOhammedRiaad/EMS-sub005/pkg/mailer"
	"github.com/MOhammedRiaad/EMS-sub005/pkg/whatsapp"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// runCmd starts the automation worker without the HTTP surface: the
// scheduler loop plus the cron trigger scans. Useful to run the engine as a
// separate process from the API server.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the automation worker (scheduler + cron triggers)",
	Run:   run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) {
	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port)
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.AutoMigrate(
		&models.AutomationRule{}, &models.AutomationAction{}, &models.AutomationExecution{},
		&models.Notification{}, &models.UsageRecord{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	mailClient := mailer.New(&mailer.Config{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
	}, appLogger)
	var messenger services.Messenger
	if cfg.WhatsApp.Enabled {
		messenger = whatsapp.NewClient(&whatsapp.Config{
			BaseURL:       cfg.WhatsApp.BaseURL,
			AccessToken:   cfg.WhatsApp.AccessToken,
			PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
			Timeout:       cfg.WhatsApp.Timeout,
			MaxRetries:    cfg.WhatsApp.MaxRetries,
			RetryDelay:    time.Second,
		}, appLogger)
	}
	notificationService := services.NewNotificationService(db, appLogger)

	renderer := services.NewTemplateRenderer(cfg.Portal.BaseURL)
	dispatcher := services.NewActionDispatcher(mailClient, messenger, notificationService, renderer, appLogger)
	usageService := services.NewUsageService(db, appLogger)
	triggerService := services.NewTriggerService(db, appLogger)
	triggerService.SetUsageRecorder(usageService)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := services.NewSchedulerService(db, appLogger, dispatcher, services.SchedulerOptions{
		TickInterval:    cfg.Automation.TickInterval,
		Workers:         cfg.Automation.Workers,
		DispatchTimeout: cfg.Automation.DispatchTimeout,
		MaxAttempts:     cfg.Automation.MaxAttempts,
		RetryBackoff:    cfg.Automation.RetryBackoff,
	})
	go scheduler.Start(ctx)

	cronTriggers := services.NewCronTriggerService(db, appLogger, triggerService, services.CronOptions{
		InactiveAfterDays: cfg.Automation.InactiveAfterDays,
		ReminderLeadHours: cfg.Automation.ReminderLeadHours,
	})
	if err := cronTriggers.Start(ctx); err != nil {
		appLogger.Fatalf("Failed to start cron triggers: %v", err)
	}
	defer cronTriggers.Stop()

	appLogger.Info("Automation worker running, press Ctrl+C to stop")
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Automation worker stopped")
}
