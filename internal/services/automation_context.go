package services

import (
	"encoding/json"

	"github.com/MOhammedRiaad/EMS-sub005/internal/models"
)

// TriggerContext is the snapshot of event data captured when a trigger fires.
// It travels with the execution (serialized into the row) and is immutable
// once the execution is created. Typed fields cover what the engine itself
// reads; Vars is the escape hatch for channel-specific extras.
type TriggerContext struct {
	TenantID string `json:"tenant_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	LeadID   string `json:"lead_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`

	Client  *models.Client        `json:"client,omitempty"`
	Lead    *models.Lead          `json:"lead,omitempty"`
	User    *models.User          `json:"user,omitempty"`
	Session *models.BookedSession `json:"session,omitempty"`
	Tenant  *models.Tenant        `json:"tenant,omitempty"`

	Vars map[string]interface{} `json:"vars,omitempty"`
}

// ResolveTenantID resolves the owning tenant: explicit tenant id first, then
// the client's, then the lead's. Empty means automation cannot run.
func (tc *TriggerContext) ResolveTenantID() string {
	if tc == nil {
		return ""
	}
	if tc.TenantID != "" {
		return tc.TenantID
	}
	if tc.Client != nil && tc.Client.TenantID != "" {
		return tc.Client.TenantID
	}
	if tc.Lead != nil && tc.Lead.TenantID != "" {
		return tc.Lead.TenantID
	}
	return ""
}

// EntityID returns the id of the entity that triggered the run, best effort.
func (tc *TriggerContext) EntityID() string {
	if tc.ClientID != "" {
		return tc.ClientID
	}
	if tc.Client != nil && tc.Client.ID != "" {
		return tc.Client.ID
	}
	if tc.LeadID != "" {
		return tc.LeadID
	}
	if tc.Lead != nil && tc.Lead.ID != "" {
		return tc.Lead.ID
	}
	return "unknown"
}

// RecipientEmail resolves the email target: context → client → lead.
func (tc *TriggerContext) RecipientEmail() string {
	if tc.Email != "" {
		return tc.Email
	}
	if tc.Client != nil && tc.Client.Email != "" {
		return tc.Client.Email
	}
	if tc.Lead != nil && tc.Lead.Email != "" {
		return tc.Lead.Email
	}
	return ""
}

// RecipientPhone resolves the phone target: context → client → lead.
func (tc *TriggerContext) RecipientPhone() string {
	if tc.Phone != "" {
		return tc.Phone
	}
	if tc.Client != nil && tc.Client.Phone != "" {
		return tc.Client.Phone
	}
	if tc.Lead != nil && tc.Lead.Phone != "" {
		return tc.Lead.Phone
	}
	return ""
}

// NotifyUserID resolves the in-app notification target: explicit user id,
// then the client's owning user, then the embedded user entity.
func (tc *TriggerContext) NotifyUserID() string {
	if tc.UserID != "" {
		return tc.UserID
	}
	if tc.Client != nil && tc.Client.UserID != "" {
		return tc.Client.UserID
	}
	if tc.User != nil && tc.User.ID != "" {
		return tc.User.ID
	}
	return ""
}

// Encode serializes the context for storage on the execution row.
func (tc *TriggerContext) Encode() (string, error) {
	b, err := json.Marshal(tc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// AsMap flattens the context into a generic map for collaborators that take
// raw template variables (templated mail sends).
func (tc *TriggerContext) AsMap() map[string]interface{} {
	out := map[string]interface{}{}
	b, err := json.Marshal(tc)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(b, &out)
	return out
}

// DecodeTriggerContext restores a stored context snapshot. An empty snapshot
// decodes to an empty context.
func DecodeTriggerContext(raw string) (*TriggerContext, error) {
	tc := &TriggerContext{}
	if raw == "" {
		return tc, nil
	}
	if err := json.Unmarshal([]byte(raw), tc); err != nil {
		return nil, err
	}
	return tc, nil
}
