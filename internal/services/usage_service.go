package services

import (
	"context"
	"encoding/json"

	"github.com/MOhammedRiaad/EMS-sub005/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// UsageService persists usage-metering events. Callers fire and forget:
// a failed write is logged and never propagated, metering must not block
// the automation path.
type UsageService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewUsageService(db *gorm.DB, logger *logrus.Logger) *UsageService {
	if logger == nil {
		logger = logrus.New()
	}
	return &UsageService{db: db, logger: logger}
}

// RecordMetric 记录一条用量事件
func (s *UsageService) RecordMetric(ctx context.Context, tenantID, metric string, amount int, window string, metadata map[string]interface{}) {
	metaJSON := ""
	if metadata != nil {
		if b, err := json.Marshal(metadata); err == nil {
			metaJSON = string(b)
		}
	}

	record := &models.UsageRecord{
		TenantID: tenantID,
		Metric:   metric,
		Amount:   amount,
		Window:   window,
		Metadata: metaJSON,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		s.logger.Warnf("usage: record metric %s for tenant %s failed: %v", metric, tenantID, err)
	}
}
