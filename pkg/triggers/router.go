// Package triggers maps inbound events onto workflow runs. A single inbound
// event may match triggers on several workflows and fan out to one run each.
package triggers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/veloflow/veloflow/pkg/models"
	"github.com/veloflow/veloflow/pkg/persistence"
)

var (
	ErrWebhookNotFound  = errors.New("webhook not found")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMethodNotAllowed = errors.New("method not allowed for webhook")
)

// Starter launches a workflow run. The execution engine satisfies it.
type Starter interface {
	Run(ctx context.Context, workflowID string, triggerData map[string]any, userID string) (string, error)
}

// WebhookRequest is one inbound webhook delivery, carried raw so the
// signature can be verified over the exact bytes received.
type WebhookRequest struct {
	WebhookID string
	Method    string
	Headers   map[string]string
	Body      []byte
	Payload   map[string]any
}

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Webhook-Signature"

type Router struct {
	store   persistence.WorkflowRepository
	starter Starter
	logger  *slog.Logger
}

func NewRouter(store persistence.WorkflowRepository, starter Starter, logger *slog.Logger) *Router {
	return &Router{
		store:   store,
		starter: starter,
		logger:  logger.With("module", "trigger_router"),
	}
}

// RouteWebhook resolves the webhook by its registered ID, verifies the
// signature when the trigger carries a secret, and starts the owning
// workflow. Webhook IDs are unique, so at most one run starts.
func (r *Router) RouteWebhook(ctx context.Context, req WebhookRequest) ([]string, error) {
	workflows, err := r.store.WorkflowsByStatus(ctx, models.WorkflowStatusActive)
	if err != nil {
		return nil, err
	}

	for _, wf := range workflows {
		for _, trigger := range wf.Triggers {
			if !trigger.Enabled || trigger.Kind != models.TriggerKindWebhook || trigger.Webhook == nil {
				continue
			}

			if trigger.Webhook.WebhookID != req.WebhookID {
				continue
			}

			if trigger.Webhook.Method != "" && !strings.EqualFold(trigger.Webhook.Method, req.Method) {
				return nil, fmt.Errorf("%w: %s requires %s", ErrMethodNotAllowed, req.WebhookID, trigger.Webhook.Method)
			}

			if trigger.Webhook.Secret != "" {
				if err := verifySignature(trigger.Webhook.Secret, req.Body, req.Headers[SignatureHeader]); err != nil {
					r.logger.Warn("Rejected webhook with bad signature", "webhook_id", req.WebhookID)

					return nil, err
				}
			}

			executionID, err := r.start(ctx, wf, map[string]any{
				"webhook_id": req.WebhookID,
				"method":     req.Method,
				"headers":    headersMap(req.Headers),
				"payload":    req.Payload,
			})
			if err != nil {
				return nil, err
			}

			return []string{executionID}, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrWebhookNotFound, req.WebhookID)
}

// RouteEmail matches the inbound email against every active workflow's email
// triggers and starts one run per match.
func (r *Router) RouteEmail(ctx context.Context, email models.EmailEvent) ([]string, error) {
	workflows, err := r.store.WorkflowsByStatus(ctx, models.WorkflowStatusActive)
	if err != nil {
		return nil, err
	}

	var executionIDs []string

	for _, wf := range workflows {
		for _, trigger := range wf.Triggers {
			if !trigger.Enabled || trigger.Kind != models.TriggerKindEmail || trigger.Email == nil {
				continue
			}

			matched, err := matchEmail(trigger.Email, email)
			if err != nil {
				r.logger.Warn("Skipping email trigger with bad pattern",
					"workflow_id", wf.ID, "trigger_id", trigger.ID, "error", err)

				continue
			}

			if !matched {
				continue
			}

			executionID, err := r.start(ctx, wf, map[string]any{
				"from":       email.From,
				"to":         email.To,
				"subject":    email.Subject,
				"body":       email.Body,
				"message_id": email.MessageID,
			})
			if err != nil {
				return executionIDs, err
			}

			executionIDs = append(executionIDs, executionID)

			break // one run per workflow per inbound event
		}
	}

	return executionIDs, nil
}

// RouteForm matches the submission against form triggers by form ID and
// required field presence, starting one run per matching workflow.
func (r *Router) RouteForm(ctx context.Context, submission models.FormSubmission) ([]string, error) {
	workflows, err := r.store.WorkflowsByStatus(ctx, models.WorkflowStatusActive)
	if err != nil {
		return nil, err
	}

	var executionIDs []string

	for _, wf := range workflows {
		for _, trigger := range wf.Triggers {
			if !trigger.Enabled || trigger.Kind != models.TriggerKindForm || trigger.Form == nil {
				continue
			}

			if !matchForm(trigger.Form, submission) {
				continue
			}

			executionID, err := r.start(ctx, wf, map[string]any{
				"form_id": submission.FormID,
				"fields":  submission.Fields,
			})
			if err != nil {
				return executionIDs, err
			}

			executionIDs = append(executionIDs, executionID)

			break
		}
	}

	return executionIDs, nil
}

func (r *Router) start(ctx context.Context, wf *models.Workflow, triggerData map[string]any) (string, error) {
	executionID, err := r.starter.Run(ctx, wf.ID, triggerData, "")
	if err != nil {
		return "", fmt.Errorf("starting workflow %s: %w", wf.ID, err)
	}

	r.logger.Info("Trigger started workflow run", "workflow_id", wf.ID, "execution_id", executionID)

	return executionID, nil
}

// verifySignature compares the provided hex HMAC-SHA256 against one computed
// over the raw body. Comparison is constant time.
func verifySignature(secret string, body []byte, provided string) error {
	if provided == "" {
		return ErrInvalidSignature
	}

	provided = strings.TrimPrefix(provided, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(provided))) {
		return ErrInvalidSignature
	}

	return nil
}

// Signature computes the hex HMAC-SHA256 clients must send for a payload.
func Signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hex.EncodeToString(mac.Sum(nil))
}

func matchEmail(config *models.EmailTriggerConfig, email models.EmailEvent) (bool, error) {
	if config.FromPattern != "" {
		matched, err := regexp.MatchString(config.FromPattern, email.From)
		if err != nil {
			return false, fmt.Errorf("from pattern: %w", err)
		}

		if !matched {
			return false, nil
		}
	}

	if config.SubjectPattern != "" {
		matched, err := regexp.MatchString(config.SubjectPattern, email.Subject)
		if err != nil {
			return false, fmt.Errorf("subject pattern: %w", err)
		}

		if !matched {
			return false, nil
		}
	}

	return true, nil
}

func matchForm(config *models.FormTriggerConfig, submission models.FormSubmission) bool {
	if config.FormID != submission.FormID {
		return false
	}

	for _, field := range config.RequiredFields {
		if _, ok := submission.Fields[field]; !ok {
			return false
		}
	}

	return true
}

func headersMap(headers map[string]string) map[string]any {
	out := make(map[string]any, len(headers))
	for k, v := range headers {
		out[k] = v
	}

	return out
}
