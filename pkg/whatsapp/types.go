package whatsapp

import "time"

// Config WhatsApp Business Cloud API 客户端配置
type Config struct {
	BaseURL       string        `yaml:"base_url"`
	AccessToken   string        `yaml:"access_token"`
	PhoneNumberID string        `yaml:"phone_number_id"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "https://graph.facebook.com/v19.0",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
	}
}

// Parameter 模板占位参数
type Parameter struct {
	Type string `json:"type"` // text
	Text string `json:"text,omitempty"`
}

// Component 模板消息组件（header/body/button）
type Component struct {
	Type       string      `json:"type"`
	SubType    string      `json:"sub_type,omitempty"`
	Index      string      `json:"index,omitempty"`
	Parameters []Parameter `json:"parameters,omitempty"`
}

type templatePayload struct {
	Name       string      `json:"name"`
	Language   language    `json:"language"`
	Components []Component `json:"components,omitempty"`
}

type language struct {
	Code string `json:"code"`
}

type textPayload struct {
	Body string `json:"body"`
}

type messageRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Template         *templatePayload `json:"template,omitempty"`
	Text             *textPayload     `json:"text,omitempty"`
}

// MessageResponse 发送结果
type MessageResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Messages         []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// ErrorResponse Cloud API 错误响应
type ErrorResponse struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}
