package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2/clientcredentials"

	"regwatch-ai/backend/internal/config"
	"regwatch-ai/backend/internal/repository"
	"regwatch-ai/backend/pkg/models"
)

// Sink delivers one artifact to a downstream target.
type Sink interface {
	Deliver(ctx context.Context, artifact *models.Artifact, key string) error
}

// StatusError is a non-2xx acknowledgment from a webhook.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status %d: %s", e.Code, e.Body)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// ErrNotDeliverable is returned for artifacts a sink cannot format.
var ErrNotDeliverable = errors.New("artifact not deliverable by this sink")

// HTTPClient returns the client used for webhook calls: an OAuth2
// client-credentials client when a token URL is configured, a plain client
// otherwise.
func HTTPClient(ctx context.Context, cfg config.DispatchConfig) *http.Client {
	if cfg.OAuth2.TokenURL == "" {
		return &http.Client{}
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.OAuth2.ClientID,
		ClientSecret: cfg.OAuth2.ClientSecret,
		TokenURL:     cfg.OAuth2.TokenURL,
		Scopes:       cfg.OAuth2.Scopes,
	}
	return cc.Client(ctx)
}

// WebhookSink posts task artifacts to the task-management webhook, one
// request per task.
type WebhookSink struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookSink creates a WebhookSink. A nil client uses http.DefaultClient.
func NewWebhookSink(url, secret string, client *http.Client) *WebhookSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookSink{url: url, secret: secret, client: client}
}

// Deliver implements Sink.
func (s *WebhookSink) Deliver(ctx context.Context, artifact *models.Artifact, key string) error {
	if artifact.Task == nil {
		return ErrNotDeliverable
	}
	body, err := json.Marshal(TaskPayloadFor(artifact))
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)
	if s.secret != "" {
		req.Header.Set("X-Webhook-Secret", s.secret)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return nil
}

// TaskPayloadFor formats a task artifact for the task-management webhook.
func TaskPayloadFor(a *models.Artifact) models.TaskPayload {
	p := models.TaskPayload{
		Organization: a.OrganizationID,
		Title:        a.Title,
		Status:       "pending",
		Risk:         a.Risk,
		Standards:    a.Standards,
		RegulationID: a.DocumentID,
		Instructions: []models.Instruction{},
		GeneratedBy:  "ai",
	}
	if a.Source == models.SourceFallback {
		p.GeneratedBy = "fallback"
	}
	if p.Standards == nil {
		p.Standards = []string{}
	}
	if a.DueDate != nil {
		p.DueDate = a.DueDate.UTC().Format(time.RFC3339)
	}
	if a.Task != nil {
		p.Description = a.Task.Description
		if p.Risk == "" {
			p.Risk = a.Task.Risk
		}
		for _, inst := range a.Task.Instructions {
			p.Instructions = append(p.Instructions, models.Instruction{
				Step:        inst.Step,
				Description: inst.Description,
			})
		}
	}
	return p
}

// AssessmentSink stores question-set artifacts as pre-assessments.
type AssessmentSink struct {
	store repository.AssessmentStore
}

// NewAssessmentSink creates an AssessmentSink over store.
func NewAssessmentSink(store repository.AssessmentStore) *AssessmentSink {
	return &AssessmentSink{store: store}
}

// Deliver implements Sink.
func (s *AssessmentSink) Deliver(ctx context.Context, artifact *models.Artifact, _ string) error {
	if len(artifact.Questions) == 0 {
		return ErrNotDeliverable
	}
	return s.store.SaveAssessment(ctx, PreAssessmentFor(artifact))
}

// AssessmentID is the id under which the pre-assessment for artifactID is
// saved. Artifact ids that are not UUIDs map to a name-based UUID, so the id
// can be recovered from the ledger's artifact id.
func AssessmentID(artifactID string) string {
	if _, err := uuid.Parse(artifactID); err == nil {
		return artifactID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(artifactID)).String()
}

// PreAssessmentFor converts a question-set artifact into an unanswered
// pre-assessment.
func PreAssessmentFor(a *models.Artifact) *models.PreAssessment {
	id := AssessmentID(a.ID)
	questions := make([]models.Question, len(a.Questions))
	for i, q := range a.Questions {
		questions[i] = models.Question{ID: q.ID, Text: q.Text}
	}
	return &models.PreAssessment{
		ID:              id,
		OrganizationID:  a.OrganizationID,
		RegulationID:    a.DocumentID,
		RegulationTitle: a.Title,
		AssessmentDate:  a.CreatedAt.UTC(),
		Questions:       questions,
		GeneratedBy:     a.Source,
	}
}
