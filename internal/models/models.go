package models

import (
	"time"

	"gorm.io/gorm"
)

// 租户（工作室/商户），所有业务数据的隔离边界
type Tenant struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"not null" json:"name"`
	StudioName string    `json:"studio_name"`
	PortalURL  string    `json:"portal_url"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// 用户（租户内的操作者/业主）
type User struct {
	ID        string         `gorm:"primaryKey" json:"id"`
	TenantID  string         `gorm:"index" json:"tenant_id"`
	Email     string         `gorm:"index" json:"email"`
	FirstName string         `json:"first_name"`
	LastName  string         `json:"last_name"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// 客户
type Client struct {
	ID            string         `gorm:"primaryKey" json:"id"`
	TenantID      string         `gorm:"index;not null" json:"tenant_id"`
	UserID        string         `gorm:"index" json:"user_id"`
	FirstName     string         `json:"first_name"`
	Name          string         `json:"name"`
	Email         string         `gorm:"index" json:"email"`
	Phone         string         `json:"phone"`
	Birthday      *time.Time     `json:"birthday"`
	LastSessionAt *time.Time     `json:"last_session_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// 潜在客户
type Lead struct {
	ID        string         `gorm:"primaryKey" json:"id"`
	TenantID  string         `gorm:"index;not null" json:"tenant_id"`
	FirstName string         `json:"first_name"`
	Name      string         `json:"name"`
	Email     string         `gorm:"index" json:"email"`
	Phone     string         `json:"phone"`
	Status    string         `gorm:"default:'new'" json:"status"` // new, contacted, converted, lost
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// 预约课程/会话
type BookedSession struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	TenantID  string    `gorm:"index;not null" json:"tenant_id"`
	ClientID  string    `gorm:"index" json:"client_id"`
	StartTime time.Time `gorm:"index" json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    string    `gorm:"default:'scheduled'" json:"status"` // scheduled, completed, cancelled, no_show
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// 站内通知
type Notification struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    string     `gorm:"index;not null" json:"user_id"`
	TenantID  string     `gorm:"index;not null" json:"tenant_id"`
	Title     string     `json:"title"`
	Message   string     `gorm:"type:text" json:"message"`
	Type      string     `gorm:"default:'info'" json:"type"`
	Data      string     `gorm:"type:text" json:"data"` // JSON passthrough
	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// 用量计费记录
type UsageRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  string    `gorm:"index;not null" json:"tenant_id"`
	Metric    string    `gorm:"index;not null" json:"metric"`
	Amount    int       `gorm:"default:1" json:"amount"`
	Window    string    `json:"window"` // hour, day, month
	Metadata  string    `gorm:"type:text" json:"metadata"` // JSON
	CreatedAt time.Time `json:"created_at"`
}
