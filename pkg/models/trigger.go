package models

// TriggerKind identifies the inbound surface a workflow listens on.
type TriggerKind string

const (
	TriggerKindWebhook  TriggerKind = "webhook"
	TriggerKindSchedule TriggerKind = "schedule"
	TriggerKindEmail    TriggerKind = "email"
	TriggerKindForm     TriggerKind = "form"
	TriggerKindEvent    TriggerKind = "event"
)

// TriggerConfig attaches an inbound trigger to a workflow. A single inbound
// event may match triggers on several workflows and fan out to one run each.
type TriggerConfig struct {
	ID      string                `json:"id"   validate:"required"`
	Kind    TriggerKind           `json:"kind" validate:"required"`
	Enabled bool                  `json:"enabled"`
	Webhook *WebhookTriggerConfig `json:"webhook,omitempty"`
	Email   *EmailTriggerConfig   `json:"email,omitempty"`
	Form    *FormTriggerConfig    `json:"form,omitempty"`
	Event   *EventTriggerConfig   `json:"event,omitempty"`
}

// WebhookTriggerConfig registers an HTTP endpoint. When Secret is set the
// router verifies an HMAC-SHA256 signature over the raw payload.
type WebhookTriggerConfig struct {
	WebhookID string `json:"webhook_id" validate:"required"`
	Secret    string `json:"secret,omitempty"`
	Method    string `json:"method,omitempty"`
}

// EmailTriggerConfig matches inbound email events. Patterns are regular
// expressions; empty patterns match everything.
type EmailTriggerConfig struct {
	FromPattern    string `json:"from_pattern,omitempty"`
	SubjectPattern string `json:"subject_pattern,omitempty"`
}

// FormTriggerConfig matches inbound form submissions by form identity and
// required field presence.
type FormTriggerConfig struct {
	FormID         string   `json:"form_id" validate:"required"`
	RequiredFields []string `json:"required_fields,omitempty"`
}

// EventTriggerConfig matches named external events with an optional
// field-equality filter.
type EventTriggerConfig struct {
	Name   string         `json:"name" validate:"required"`
	Filter map[string]any `json:"filter,omitempty"`
}

// EmailEvent is one inbound email delivery.
type EmailEvent struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	MessageID string `json:"message_id"`
}

// FormSubmission is one inbound form post.
type FormSubmission struct {
	FormID string         `json:"form_id"`
	Fields map[string]any `json:"fields"`
}
