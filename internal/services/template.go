package services

import (
	"strings"
)

// sessionTimeLayout mirrors the locale datetime string shown in the portal.
const sessionTimeLayout = "Monday, Jan 2, 2006 at 3:04 PM"

// TemplateRenderer substitutes the fixed token vocabulary in message texts.
// Pure and synchronous: unmatched tokens stay verbatim, empty input passes
// through unchanged.
type TemplateRenderer struct {
	portalURL string
}

func NewTemplateRenderer(portalURL string) *TemplateRenderer {
	return &TemplateRenderer{portalURL: portalURL}
}

// Render substitutes every resolvable token in text using the context.
func (r *TemplateRenderer) Render(text string, tc *TriggerContext) string {
	if text == "" {
		return text
	}
	if tc == nil {
		tc = &TriggerContext{}
	}

	name := displayName(tc)
	pairs := []string{
		"{{userName}}", name,
		"{{clientName}}", name,
		"{{leadName}}", name,
		"{{sessionTime}}", sessionTime(tc),
		"{{studioName}}", studioName(tc),
		"{{portalUrl}}", r.portalURL,
	}
	if tc.Client != nil && tc.Client.Email != "" {
		pairs = append(pairs, "{{client.email}}", tc.Client.Email)
	}
	if tc.Lead != nil && tc.Lead.Email != "" {
		pairs = append(pairs, "{{lead.email}}", tc.Lead.Email)
	}

	return strings.NewReplacer(pairs...).Replace(text)
}

// displayName resolves the generic name token:
// client.firstName → client.name → user.firstName → lead.firstName → lead.name → "Customer".
func displayName(tc *TriggerContext) string {
	if tc.Client != nil {
		if tc.Client.FirstName != "" {
			return tc.Client.FirstName
		}
		if tc.Client.Name != "" {
			return tc.Client.Name
		}
	}
	if tc.User != nil && tc.User.FirstName != "" {
		return tc.User.FirstName
	}
	if tc.Lead != nil {
		if tc.Lead.FirstName != "" {
			return tc.Lead.FirstName
		}
		if tc.Lead.Name != "" {
			return tc.Lead.Name
		}
	}
	return "Customer"
}

func sessionTime(tc *TriggerContext) string {
	if tc.Session != nil && !tc.Session.StartTime.IsZero() {
		return tc.Session.StartTime.Format(sessionTimeLayout)
	}
	return "your session time"
}

func studioName(tc *TriggerContext) string {
	if tc.Tenant != nil && tc.Tenant.StudioName != "" {
		return tc.Tenant.StudioName
	}
	if tc.Tenant != nil && tc.Tenant.Name != "" {
		return tc.Tenant.Name
	}
	if v, ok := stringVar(tc, "studioName"); ok {
		return v
	}
	return "our studio"
}

func stringVar(tc *TriggerContext, key string) (string, bool) {
	if tc.Vars == nil {
		return "", false
	}
	v, ok := tc.Vars[key].(string)
	return v, ok && v != ""
}
