package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MOhammedRiaad/EMS-sub005/internal/models"
	"github.com/MOhammedRiaad/EMS-sub005/pkg/whatsapp"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Mailer 邮件渠道协作方
type Mailer interface {
	SendMail(ctx context.Context, to, subject, textBody, htmlBody string) error
	SendTemplatedMail(ctx context.Context, to, templateID string, vars map[string]interface{}) error
}

// Messenger 消息渠道协作方（WhatsApp）
type Messenger interface {
	SendTemplateMessage(ctx context.Context, tenantID, to, templateName string, components []whatsapp.Component) error
	SendFreeFormMessage(ctx context.Context, tenantID, to, text string) error
}

// NotificationInput 站内通知的创建参数
type NotificationInput struct {
	UserID   string
	TenantID string
	Title    string
	Message  string
	Type     string
	Data     map[string]interface{}
}

// Notifier 站内通知协作方
type Notifier interface {
	CreateNotification(ctx context.Context, input *NotificationInput) error
}

// DispatchOutcome 单次渠道调用的三态结果
type DispatchOutcome string

const (
	DispatchSent    DispatchOutcome = "sent"
	DispatchSkipped DispatchOutcome = "skipped"
	DispatchFailed  DispatchOutcome = "failed"
)

// DispatchResult carries the outcome of one action dispatch. Skipped is a
// configuration gap (missing recipient, inert action kind), never a failure;
// the scheduler advances the step on Sent and Skipped alike.
type DispatchResult struct {
	Outcome DispatchOutcome
	Reason  string
	Err     error
}

func sent() DispatchResult                { return DispatchResult{Outcome: DispatchSent} }
func skipped(reason string) DispatchResult { return DispatchResult{Outcome: DispatchSkipped, Reason: reason} }
func failed(err error) DispatchResult      { return DispatchResult{Outcome: DispatchFailed, Err: err} }

// ActionDispatcher maps an action kind + payload to a single channel call.
// Every call is a hard external I/O boundary; the dispatcher itself never
// retries — retry policy lives in the scheduler.
type ActionDispatcher struct {
	mailer    Mailer
	messenger Messenger
	notifier  Notifier
	renderer  *TemplateRenderer
	logger    *logrus.Logger
	tracer    trace.Tracer
}

func NewActionDispatcher(mailer Mailer, messenger Messenger, notifier Notifier, renderer *TemplateRenderer, logger *logrus.Logger) *ActionDispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	if renderer == nil {
		renderer = NewTemplateRenderer("")
	}
	return &ActionDispatcher{
		mailer:    mailer,
		messenger: messenger,
		notifier:  notifier,
		renderer:  renderer,
		logger:    logger,
		tracer:    otel.Tracer("ems.automation.dispatch"),
	}
}

// PerformAction executes one automation step against its channel.
func (d *ActionDispatcher) PerformAction(ctx context.Context, kind models.ActionKind, payload map[string]interface{}, tc *TriggerContext) DispatchResult {
	ctx, span := d.tracer.Start(ctx, "automation.perform_action")
	defer span.End()
	span.SetAttributes(attribute.String("automation.action.kind", string(kind)))

	if payload == nil {
		payload = map[string]interface{}{}
	}
	if tc == nil {
		tc = &TriggerContext{}
	}

	var result DispatchResult
	switch kind {
	case models.ActionSendEmail:
		result = d.sendEmail(ctx, payload, tc)
	case models.ActionSendWhatsApp:
		result = d.sendWhatsApp(ctx, payload, tc)
	case models.ActionSendNotification:
		result = d.sendNotification(ctx, payload, tc)
	case models.ActionSendSMS, models.ActionCreateTask, models.ActionUpdateStatus:
		// Declared in the taxonomy, no dispatch behavior yet.
		d.logger.Debugf("automation: action kind %s has no dispatcher, skipping", kind)
		result = skipped("action kind not dispatched")
	default:
		d.logger.Warnf("automation: unknown action kind %q, skipping", kind)
		result = skipped("unknown action kind")
	}

	span.SetAttributes(attribute.String("automation.action.outcome", string(result.Outcome)))
	if result.Err != nil {
		span.RecordError(result.Err)
	}
	return result
}

func (d *ActionDispatcher) sendEmail(ctx context.Context, payload map[string]interface{}, tc *TriggerContext) DispatchResult {
	to := tc.RecipientEmail()
	if to == "" {
		d.logger.Infof("automation: no recipient email for entity %s, skipping", tc.EntityID())
		return skipped("no recipient email")
	}
	if d.mailer == nil {
		return failed(fmt.Errorf("mailer not configured"))
	}

	if templateID := stringField(payload, "templateId"); templateID != "" {
		if err := d.mailer.SendTemplatedMail(ctx, to, templateID, tc.AsMap()); err != nil {
			return failed(fmt.Errorf("templated mail to %s: %w", to, err))
		}
		return sent()
	}

	subject := d.renderer.Render(stringField(payload, "subject"), tc)
	body := d.renderer.Render(stringField(payload, "body"), tc)
	htmlBody := d.renderer.Render(stringField(payload, "htmlBody"), tc)
	if err := d.mailer.SendMail(ctx, to, subject, body, htmlBody); err != nil {
		return failed(fmt.Errorf("mail to %s: %w", to, err))
	}
	return sent()
}

func (d *ActionDispatcher) sendWhatsApp(ctx context.Context, payload map[string]interface{}, tc *TriggerContext) DispatchResult {
	to := tc.RecipientPhone()
	if to == "" {
		d.logger.Infof("automation: no recipient phone for entity %s, skipping", tc.EntityID())
		return skipped("no recipient phone")
	}
	if d.messenger == nil {
		return failed(fmt.Errorf("messenger not configured"))
	}
	tenantID := tc.ResolveTenantID()

	if templateName := stringField(payload, "templateName"); templateName != "" {
		components := d.renderComponents(payload["components"], tc)
		if err := d.messenger.SendTemplateMessage(ctx, tenantID, to, templateName, components); err != nil {
			return failed(fmt.Errorf("whatsapp template %s to %s: %w", templateName, to, err))
		}
		return sent()
	}

	text := stringField(payload, "body")
	if text == "" {
		text = stringField(payload, "text")
	}
	text = d.renderer.Render(text, tc)
	if err := d.messenger.SendFreeFormMessage(ctx, tenantID, to, text); err != nil {
		return failed(fmt.Errorf("whatsapp text to %s: %w", to, err))
	}
	return sent()
}

func (d *ActionDispatcher) sendNotification(ctx context.Context, payload map[string]interface{}, tc *TriggerContext) DispatchResult {
	userID := tc.NotifyUserID()
	tenantID := tc.ResolveTenantID()
	if userID == "" || tenantID == "" {
		d.logger.Infof("automation: notification needs user and tenant (user=%q tenant=%q), skipping", userID, tenantID)
		return skipped("missing user or tenant")
	}
	if d.notifier == nil {
		return failed(fmt.Errorf("notifier not configured"))
	}

	notifType := stringField(payload, "type")
	if notifType == "" {
		notifType = "automation"
	}
	data, _ := payload["data"].(map[string]interface{})

	input := &NotificationInput{
		UserID:   userID,
		TenantID: tenantID,
		Title:    d.renderer.Render(stringField(payload, "title"), tc),
		Message:  d.renderer.Render(stringField(payload, "message"), tc),
		Type:     notifType,
		Data:     data,
	}
	if err := d.notifier.CreateNotification(ctx, input); err != nil {
		return failed(fmt.Errorf("notification for user %s: %w", userID, err))
	}
	return sent()
}

// renderComponents rebuilds the template component tree from the raw payload,
// rendering each text parameter through the template renderer.
func (d *ActionDispatcher) renderComponents(raw interface{}, tc *TriggerContext) []whatsapp.Component {
	if raw == nil {
		return nil
	}
	// Round-trip through JSON: payloads come out of a JSON column and the
	// component shape matches the wire format exactly.
	b, err := json.Marshal(raw)
	if err != nil {
		d.logger.Warnf("automation: invalid whatsapp components: %v", err)
		return nil
	}
	var components []whatsapp.Component
	if err := json.Unmarshal(b, &components); err != nil {
		d.logger.Warnf("automation: invalid whatsapp components: %v", err)
		return nil
	}
	for i := range components {
		for j := range components[i].Parameters {
			if components[i].Parameters[j].Text != "" {
				components[i].Parameters[j].Text = d.renderer.Render(components[i].Parameters[j].Text, tc)
			}
		}
	}
	return components
}

func stringField(payload map[string]interface{}, key string) string {
	v, _ := payload[key].(string)
	return v
}
