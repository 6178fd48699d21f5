package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// TriggerType 自动化触发事件类型
type TriggerType string

const (
	TriggerNewLead           TriggerType = "NEW_LEAD"
	TriggerInactiveClient    TriggerType = "INACTIVE_CLIENT"
	TriggerBirthday          TriggerType = "BIRTHDAY"
	TriggerSessionCompleted  TriggerType = "SESSION_COMPLETED"
	TriggerSessionReminder   TriggerType = "SESSION_REMINDER"
	TriggerLeadStatusChanged TriggerType = "LEAD_STATUS_CHANGED"
)

// IsValid checks if the trigger type is one of the supported events.
func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerNewLead, TriggerInactiveClient, TriggerBirthday,
		TriggerSessionCompleted, TriggerSessionReminder, TriggerLeadStatusChanged:
		return true
	default:
		return false
	}
}

// ActionKind 单个自动化步骤执行的渠道操作
type ActionKind string

const (
	ActionSendEmail        ActionKind = "SEND_EMAIL"
	ActionSendWhatsApp     ActionKind = "SEND_WHATSAPP"
	ActionSendNotification ActionKind = "SEND_NOTIFICATION"
	// Declared in the taxonomy but carry no dispatch behavior yet.
	ActionSendSMS      ActionKind = "SEND_SMS"
	ActionCreateTask   ActionKind = "CREATE_TASK"
	ActionUpdateStatus ActionKind = "UPDATE_STATUS"
)

// IsValid checks if the action kind is part of the taxonomy.
func (k ActionKind) IsValid() bool {
	switch k {
	case ActionSendEmail, ActionSendWhatsApp, ActionSendNotification,
		ActionSendSMS, ActionCreateTask, ActionUpdateStatus:
		return true
	default:
		return false
	}
}

// ExecutionStatus 自动化执行实例状态
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionCancelled ExecutionStatus = "CANCELLED"
)

// IsTerminal reports whether the status can never change again.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// AutomationRule 租户级自动化规则定义
// Conditions is reserved: stored/returned but not evaluated by the engine.
type AutomationRule struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	TenantID    string         `gorm:"index;not null" json:"tenant_id"`
	Name        string         `gorm:"not null" json:"name"`
	TriggerType TriggerType    `gorm:"index;not null" json:"trigger_type"`
	Conditions  string         `gorm:"type:text" json:"conditions"` // JSON, reserved
	// No column default: the create path always writes the value, and a
	// default:true tag would make GORM drop an explicit false on insert.
	IsActive  bool           `json:"is_active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Actions []AutomationAction `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"actions,omitempty"`
}

// AutomationAction 规则中的一个有延迟的步骤
// Order is the authoritative sequence key; slice position is not trusted.
type AutomationAction struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	RuleID       uint       `gorm:"index" json:"rule_id"`
	Type         ActionKind `gorm:"not null" json:"type"`
	DelayMinutes int        `gorm:"default:0" json:"delay_minutes"`
	Payload      string     `gorm:"type:text" json:"payload"` // JSON: channel-specific fields
	Order        int        `gorm:"column:step_order" json:"order"`
}

// PayloadMap decodes the JSON payload. An empty payload decodes to an empty map.
func (a *AutomationAction) PayloadMap() (map[string]interface{}, error) {
	payload := map[string]interface{}{}
	if a.Payload == "" {
		return payload, nil
	}
	if err := json.Unmarshal([]byte(a.Payload), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// AutomationExecution 规则针对单个实体的一次运行实例
// Created by the trigger dispatcher, mutated only by the scheduler, never
// deleted by the engine (kept for audit). Cascade-deleted with its rule.
type AutomationExecution struct {
	ID               string          `gorm:"primaryKey" json:"id"`
	RuleID           uint            `gorm:"index" json:"rule_id"`
	TenantID         string          `gorm:"index" json:"tenant_id"`
	EntityID         string          `json:"entity_id"`
	CurrentStepIndex int             `gorm:"default:0" json:"current_step_index"`
	Status           ExecutionStatus `gorm:"index;default:'PENDING'" json:"status"`
	NextRunAt        time.Time       `gorm:"index" json:"next_run_at"`
	Context          string          `gorm:"type:text" json:"context"` // JSON snapshot, immutable after creation
	LastError        string          `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`

	Rule AutomationRule `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"rule,omitempty"`
}
