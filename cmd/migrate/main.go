package main

import (
	"fmt"
	"log"
	"os"

	"github.com/MOhammedRiaad/EMS-sub005/internal/config"
	"github.com/MOhammedRiaad/EMS-sub005/internal/models"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
	cfg := config.Load()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	err = db.AutoMigrate(
		&models.Tenant{},
		&models.User{},
		&models.Client{},
		&models.Lead{},
		&models.BookedSession{},
		&models.Notification{},
		&models.UsageRecord{},
		&models.AutomationRule{},
		&models.AutomationAction{},
		&models.AutomationExecution{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	// 创建索引
	log.Println("Creating additional indexes...")

	// 调度器的选取查询：status + next_run_at
	db.Exec("CREATE INDEX IF NOT EXISTS idx_executions_status_next_run ON automation_executions(status, next_run_at)")
	// 触发查询：trigger_type + tenant + is_active
	db.Exec("CREATE INDEX IF NOT EXISTS idx_rules_trigger_tenant ON automation_rules(trigger_type, tenant_id, is_active)")
	// 执行记录列表：tenant + created_at
	db.Exec("CREATE INDEX IF NOT EXISTS idx_executions_tenant_created ON automation_executions(tenant_id, created_at)")
	// 定时扫描
	db.Exec("CREATE INDEX IF NOT EXISTS idx_clients_last_session ON clients(last_session_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_status_start ON booked_sessions(status, start_time)")

	log.Println("Indexes created successfully!")
}
