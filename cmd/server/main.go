package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MOhammedRiaad/EMS-sub005/internal/config"
	"github.com/MOhammedRiaad/EMS-sub005/internal/handlers"
	"github.com/MOhammedRiaad/EMS-sub005/internal/middleware"
	"github.com/MOhammedRiaad/EMS-sub005/internal/models"
	"github.com/MOhammedRiaad/EMS-sub005/internal/observability"
	"github.com/MOhammedRiaad/EMS-sub005/internal/services"
	"github.com/MOhammedRiaad/EMS-sub005/pkg/mailer"
	"github.com/MOhammedRiaad/EMS-sub005/pkg/whatsapp"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	// 读取配置文件（默认 ./config.yml）并初始化日志
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	// OpenTelemetry 初始化（可选）
	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	dsn := buildDSN(cfg)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}

	// 根据需要迁移（此处默认迁移，生产可改为条件控制）
	if err := db.AutoMigrate(
		&models.Tenant{}, &models.User{}, &models.Client{}, &models.Lead{}, &models.BookedSession{},
		&models.Notification{}, &models.UsageRecord{},
		&models.AutomationRule{}, &models.AutomationAction{}, &models.AutomationExecution{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// 渠道协作方
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

	notificationHub := services.NewNotificationHub()
	go notificationHub.Run()
	notificationService := services.NewNotificationService(db, appLogger)
	notificationService.SetHub(notificationHub)

	// 自动化引擎
	renderer := services.NewTemplateRenderer(cfg.Portal.BaseURL)
	dispatcher := services.NewActionDispatcher(mailClient, messenger, notificationService, renderer, appLogger)
	usageService := services.NewUsageService(db, appLogger)
	triggerService := services.NewTriggerService(db, appLogger)
	triggerService.SetUsageRecorder(usageService)
	ruleService := services.NewRuleService(db, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := services.NewSchedulerService(db, appLogger, dispatcher, services.SchedulerOptions{
		TickInterval:    cfg.Automation.TickInterval,
		Workers:         cfg.Automation.Workers,
		DispatchTimeout: cfg.Automation.DispatchTimeout,
		MaxAttempts:     cfg.Automation.MaxAttempts,
		RetryBackoff:    cfg.Automation.RetryBackoff,
	})
	cronTriggers := services.NewCronTriggerService(db, appLogger, triggerService, services.CronOptions{
		InactiveAfterDays: cfg.Automation.InactiveAfterDays,
		ReminderLeadHours: cfg.Automation.ReminderLeadHours,
	})

	if cfg.Automation.Enabled {
		go scheduler.Start(ctx)
		if err := cronTriggers.Start(ctx); err != nil {
			appLogger.Fatalf("Failed to start cron triggers: %v", err)
		}
		defer cronTriggers.Stop()
	} else {
		appLogger.Warn("automation engine disabled by config")
	}

	// 初始化 Gin
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimitMiddleware(cfg))
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)

	// 管理类 API：全部在租户作用域内
	api := r.Group("/api")
	api.Use(middleware.TenantMiddleware())
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(ruleService, triggerService))
	handlers.RegisterNotificationRoutes(api, handlers.NewNotificationHandler(notificationService, notificationHub))

	// 启动服务器
	listenAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: listenAddr, Handler: r}
	go func() {
		appLogger.Infof("Starting server on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}
	appLogger.Info("Server exited")
}

// buildDSN 组装 Postgres DSN，env 覆盖配置文件
func buildDSN(cfg *config.Config) string {
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		return dsn
	}
	host := getenvDefault("DB_HOST", cfg.Database.Host)
	user := getenvDefault("DB_USER", cfg.Database.User)
	pass := getenvDefault("DB_PASSWORD", cfg.Database.Password)
	name := getenvDefault("DB_NAME", cfg.Database.Name)
	port := getenvDefault("DB_PORT", fmt.Sprintf("%d", cfg.Database.Port))
	ssl := getenvDefault("DB_SSLMODE", "disable")
	tz := getenvDefault("DB_TIMEZONE", "UTC")
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		host, user, pass, name, port, ssl, tz)
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
