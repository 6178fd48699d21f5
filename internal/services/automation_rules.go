package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MOhammedRiaad/EMS-sub005/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RuleService 自动化规则与执行记录的管理服务
type RuleService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewRuleService(db *gorm.DB, logger *logrus.Logger) *RuleService {
	if logger == nil {
		logger = logrus.New()
	}
	return &RuleService{db: db, logger: logger}
}

// RuleCondition 规则条件（保留字段，引擎当前不求值）
type RuleCondition struct {
	Field string      `json:"field"`
	Op    string      `json:"op"`
	Value interface{} `json:"value"`
}

// RuleActionRequest 规则中单个步骤的请求体
type RuleActionRequest struct {
	Type         models.ActionKind      `json:"type" binding:"required"`
	DelayMinutes int                    `json:"delay_minutes" binding:"min=0"`
	Payload      map[string]interface{} `json:"payload"`
	Order        int                    `json:"order"`
}

// AutomationRuleRequest 创建/更新规则的请求体
type AutomationRuleRequest struct {
	Name        string              `json:"name" binding:"required"`
	TriggerType models.TriggerType  `json:"trigger_type" binding:"required"`
	Conditions  []RuleCondition     `json:"conditions"`
	Actions     []RuleActionRequest `json:"actions" binding:"dive"`
	IsActive    *bool               `json:"is_active"`
}

// ExecutionListRequest 执行记录列表请求
type ExecutionListRequest struct {
	Page   int                    `form:"page,default=1"`
	Limit  int                    `form:"limit,default=50"`
	RuleID uint                   `form:"rule_id"`
	Status models.ExecutionStatus `form:"status"`
}

// CreateRule 创建租户的自动化规则
func (s *RuleService) CreateRule(ctx context.Context, tenantID string, req *AutomationRuleRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if tenantID == "" {
		return nil, fmt.Errorf("tenant required")
	}
	if !req.TriggerType.IsValid() {
		return nil, fmt.Errorf("unsupported trigger type: %s", req.TriggerType)
	}

	actions, err := buildActions(req.Actions)
	if err != nil {
		return nil, err
	}
	condJSON, err := json.Marshal(req.Conditions)
	if err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	rule := &models.AutomationRule{
		TenantID:    tenantID,
		Name:        req.Name,
		TriggerType: req.TriggerType,
		Conditions:  string(condJSON),
		IsActive:    active,
		Actions:     actions,
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	return rule, nil
}

// UpdateRule 整体替换规则定义（含动作列表）
func (s *RuleService) UpdateRule(ctx context.Context, tenantID string, id uint, req *AutomationRuleRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if !req.TriggerType.IsValid() {
		return nil, fmt.Errorf("unsupported trigger type: %s", req.TriggerType)
	}

	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&rule).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("rule not found")
		}
		return nil, err
	}

	actions, err := buildActions(req.Actions)
	if err != nil {
		return nil, err
	}
	condJSON, err := json.Marshal(req.Conditions)
	if err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}

	rule.Name = req.Name
	rule.TriggerType = req.TriggerType
	rule.Conditions = string(condJSON)
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rule_id = ?", rule.ID).Delete(&models.AutomationAction{}).Error; err != nil {
			return err
		}
		for i := range actions {
			actions[i].RuleID = rule.ID
		}
		rule.Actions = actions
		return tx.Save(&rule).Error
	})
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// DeleteRule 删除规则，其执行记录随外键级联删除
func (s *RuleService) DeleteRule(ctx context.Context, tenantID string, id uint) error {
	result := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Delete(&models.AutomationRule{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("rule not found")
	}
	return nil
}

// GetRule 按租户读取单条规则
func (s *RuleService) GetRule(ctx context.Context, tenantID string, id uint) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	err := s.db.WithContext(ctx).
		Preload("Actions", func(db *gorm.DB) *gorm.DB { return db.Order("step_order ASC") }).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&rule).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("rule not found")
		}
		return nil, err
	}
	return &rule, nil
}

// ListRules 返回租户的全部规则
func (s *RuleService) ListRules(ctx context.Context, tenantID string) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := s.db.WithContext(ctx).
		Preload("Actions", func(db *gorm.DB) *gorm.DB { return db.Order("step_order ASC") }).
		Where("tenant_id = ?", tenantID).
		Order("id DESC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// ListExecutions 分页返回租户的执行记录
func (s *RuleService) ListExecutions(ctx context.Context, tenantID string, req *ExecutionListRequest) ([]models.AutomationExecution, int64, error) {
	if req == nil {
		req = &ExecutionListRequest{}
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	limit := req.Limit
	if limit < 1 {
		limit = 50
	}

	query := s.db.WithContext(ctx).Model(&models.AutomationExecution{}).Where("tenant_id = ?", tenantID)
	if req.RuleID != 0 {
		query = query.Where("rule_id = ?", req.RuleID)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var executions []models.AutomationExecution
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&executions).Error
	if err != nil {
		return nil, 0, err
	}
	return executions, total, nil
}

// CancelExecution marks a pending execution CANCELLED. Terminal executions
// cannot be cancelled; the scheduler never selects a cancelled row again.
func (s *RuleService) CancelExecution(ctx context.Context, tenantID, id string) error {
	result := s.db.WithContext(ctx).
		Model(&models.AutomationExecution{}).
		Where("id = ? AND tenant_id = ? AND status = ?", id, tenantID, models.ExecutionPending).
		Update("status", models.ExecutionCancelled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("pending execution not found")
	}
	return nil
}

func buildActions(reqs []RuleActionRequest) ([]models.AutomationAction, error) {
	actions := make([]models.AutomationAction, 0, len(reqs))
	for i, a := range reqs {
		if !a.Type.IsValid() {
			return nil, fmt.Errorf("unsupported action type: %s", a.Type)
		}
		if a.DelayMinutes < 0 {
			return nil, fmt.Errorf("action %d: delay must be >= 0", i)
		}
		payloadJSON, err := json.Marshal(a.Payload)
		if err != nil {
			return nil, fmt.Errorf("action %d: invalid payload: %w", i, err)
		}
		order := a.Order
		if order == 0 {
			order = i
		}
		actions = append(actions, models.AutomationAction{
			Type:         a.Type,
			DelayMinutes: a.DelayMinutes,
			Payload:      string(payloadJSON),
			Order:        order,
		})
	}
	return actions, nil
}
