package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client WhatsApp Business Cloud API HTTP 客户端
type Client struct {
	baseURL       string
	accessToken   string
	phoneNumberID string
	httpClient    *http.Client
	logger        *logrus.Logger
	config        *Config
}

// MessengerInterface 定义消息客户端接口
type MessengerInterface interface {
	SendTemplateMessage(ctx context.Context, tenantID, to, templateName string, components []Component) error
	SendFreeFormMessage(ctx context.Context, tenantID, to, text string) error
}

// NewClient 创建新的 WhatsApp 客户端
func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		baseURL:       config.BaseURL,
		accessToken:   config.AccessToken,
		phoneNumberID: config.PhoneNumberID,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
		config: config,
	}
}

// SendTemplateMessage 发送结构化模板消息
func (c *Client) SendTemplateMessage(ctx context.Context, tenantID, to, templateName string, components []Component) error {
	req := &messageRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template: &templatePayload{
			Name:       templateName,
			Language:   language{Code: "en"},
			Components: components,
		},
	}

	var resp MessageResponse
	if err := c.doRequestWithRetry(ctx, req, &resp); err != nil {
		return fmt.Errorf("send template message: %w", err)
	}
	c.logger.Debugf("whatsapp: template %s sent to tenant %s recipient %s", templateName, tenantID, to)
	return nil
}

// SendFreeFormMessage 发送自由文本消息（仅 24h 会话窗口内有效）
func (c *Client) SendFreeFormMessage(ctx context.Context, tenantID, to, text string) error {
	req := &messageRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &textPayload{Body: text},
	}

	var resp MessageResponse
	if err := c.doRequestWithRetry(ctx, req, &resp); err != nil {
		return fmt.Errorf("send free-form message: %w", err)
	}
	c.logger.Debugf("whatsapp: text sent to tenant %s recipient %s", tenantID, to)
	return nil
}

func (c *Client) createRequest(ctx context.Context, body interface{}) (*http.Request, error) {
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	return req, nil
}

func (c *Client) doRequest(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debugf("WhatsApp API Request: %s %s", req.Method, req.URL.String())
	c.logger.Debugf("WhatsApp API Response: %d %s", resp.StatusCode, string(body))

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return fmt.Errorf("API error [%d]: %s (code: %d)", resp.StatusCode, errResp.Error.Message, errResp.Error.Code)
		}
		return fmt.Errorf("API error [%d]: %s", resp.StatusCode, string(body))
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) doRequestWithRetry(ctx context.Context, body interface{}, result interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
			c.logger.Warnf("WhatsApp API retry attempt %d/%d", attempt, c.config.MaxRetries)
		}

		req, err := c.createRequest(ctx, body)
		if err != nil {
			return err
		}

		if err := c.doRequest(req, result); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("request failed after %d retries: %w", c.config.MaxRetries, lastErr)
}
