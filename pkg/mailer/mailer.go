package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config SMTP 邮件配置
type Config struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	From     string        `yaml:"from"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Host:    "localhost",
		Port:    587,
		From:    "no-reply@localhost",
		Timeout: 30 * time.Second,
	}
}

// Mailer 通过 SMTP 发送自动化邮件
type Mailer struct {
	config *Config
	logger *logrus.Logger

	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// MailerInterface 定义邮件客户端接口
type MailerInterface interface {
	SendMail(ctx context.Context, to, subject, textBody, htmlBody string) error
	SendTemplatedMail(ctx context.Context, to, templateID string, vars map[string]interface{}) error
}

// New 创建新的 Mailer
func New(config *Config, logger *logrus.Logger) *Mailer {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Mailer{config: config, logger: logger, send: smtp.SendMail}
}

// SendMail 发送已渲染好的邮件，textBody 与 htmlBody 至少一个非空
func (m *Mailer) SendMail(ctx context.Context, to, subject, textBody, htmlBody string) error {
	if to == "" {
		return fmt.Errorf("recipient required")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	msg := m.buildMessage(to, subject, textBody, htmlBody)
	addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)

	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	if err := m.send(addr, auth, m.config.From, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	m.logger.Debugf("mailer: sent %q to %s", subject, to)
	return nil
}

// SendTemplatedMail 发送由邮件服务商托管模板渲染的邮件。模板变量以
// JSON 头的形式随邮件传递（X-Template-ID / X-Template-Vars），由下游
// 中继展开；没有中继时退化为发送变量摘要。
func (m *Mailer) SendTemplatedMail(ctx context.Context, to, templateID string, vars map[string]interface{}) error {
	if to == "" {
		return fmt.Errorf("recipient required")
	}
	if templateID == "" {
		return fmt.Errorf("template id required")
	}

	varsJSON, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("marshal template vars: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "X-Template-ID: %s\r\n", templateID)
	fmt.Fprintf(&b, "X-Template-Vars: %s\r\n", varsJSON)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Template %s\r\n", templateID)

	addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)
	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	if err := m.send(addr, auth, m.config.From, []string{to}, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	m.logger.Debugf("mailer: sent template %s to %s", templateID, to)
	return nil
}

func (m *Mailer) buildMessage(to, subject, textBody, htmlBody string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")

	if htmlBody != "" {
		b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
		b.WriteString(htmlBody)
	} else {
		b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
		b.WriteString(textBody)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}
