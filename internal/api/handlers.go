package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"regwatch-ai/backend/internal/apperrors"
	"regwatch-ai/backend/internal/auth"
	"regwatch-ai/backend/internal/dispatch"
	"regwatch-ai/backend/internal/logging"
	"regwatch-ai/backend/internal/pipeline"
	"regwatch-ai/backend/internal/webhooklog"
	"regwatch-ai/backend/pkg/models"
)

const (
	serviceName    = "regwatch-ai"
	serviceVersion = "1.0.0"
)

// Runner executes pipeline triggers.
type Runner interface {
	Run(ctx context.Context, trig pipeline.Trigger) (*pipeline.RunResult, error)
}

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server implements ServerInterface and the unauthenticated routes.
type Server struct {
	runner   Runner
	store    Pinger
	webhooks webhooklog.Log
	logger   *logging.Logger
	now      func() time.Time
}

var _ ServerInterface = (*Server)(nil)

// NewServer creates a new Server.
func NewServer(runner Runner, store Pinger, webhooks webhooklog.Log, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		runner:   runner,
		store:    store,
		webhooks: webhooks,
		logger:   logger.With("component", "api"),
		now:      time.Now,
	}
}

// RegisterPublic mounts the routes that sit outside /api/v1.
func (s *Server) RegisterPublic(router EchoRouter) {
	router.GET("/", s.Index)
	router.GET("/health", s.Health)
	router.POST("/webhook/preassessment", s.ReceivePreassessment)
	router.GET("/webhook/received", s.ListReceived)
	router.DELETE("/webhook/received", s.ClearReceived)
}

// Index lists the available endpoints.
// (GET /)
func (s *Server) Index(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"message": "RegWatch AI API",
		"status":  "running",
		"endpoints": map[string]string{
			"health":                "/health",
			"docs":                  "/docs",
			"suggest_regulators":    "/api/v1/regulators/suggest/{organization_id}",
			"match_circulars":       "/api/v1/circulars/match",
			"generate_assessment":   "/api/v1/assessment/generate",
			"generate_tasks":        "/api/v1/tasks/generate",
			"run_pipeline":          "/api/v1/pipeline/run",
			"preassessment_webhook": "POST /webhook/preassessment",
			"view_webhooks":         "GET /webhook/received",
			"clear_webhooks":        "DELETE /webhook/received",
		},
	})
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Store     string    `json:"store"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// Health pings the store.
// (GET /health)
func (s *Server) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := HealthStatus{
		Status:    "healthy",
		Store:     "connected",
		Timestamp: s.now().UTC(),
		Service:   serviceName,
		Version:   serviceVersion,
	}
	code := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", "error", err)
		status.Status, status.Store = "unhealthy", "unavailable"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// SuggestRegulators (POST /api/v1/regulators/suggest)
func (s *Server) SuggestRegulators(c echo.Context) error {
	var req OrganizationRequest
	if err := c.Bind(&req); err != nil {
		return writeProblem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	return s.suggest(c, req.OrganizationId)
}

// SuggestRegulatorsForOrganization (POST /api/v1/regulators/suggest/{organization_id})
func (s *Server) SuggestRegulatorsForOrganization(c echo.Context, organizationId string) error {
	return s.suggest(c, organizationId)
}

func (s *Server) suggest(c echo.Context, organizationID string) error {
	org, err := s.organization(c, organizationID)
	if err != nil {
		return s.problem(c, err)
	}
	res, err := s.run(c, pipeline.Trigger{
		OrganizationID: org,
		Mode:           models.ModeSuggestRegulators,
	})
	if err != nil {
		return s.problem(c, err)
	}

	resp := RegulatorSuggestionResponse{
		OrganizationId:      res.OrganizationID,
		CompanyName:         res.OrganizationName,
		SuggestedRegulators: []string{},
	}
	if artifacts := res.Artifacts(); len(artifacts) > 0 {
		resp.SuggestedRegulators = artifacts[0].Regulators
		resp.GeneratedBy = generatedBy(artifacts[0].Source)
	}
	return c.JSON(http.StatusOK, resp)
}

// MatchCirculars (POST /api/v1/circulars/match)
func (s *Server) MatchCirculars(c echo.Context) error {
	var req OrganizationRequest
	if err := c.Bind(&req); err != nil {
		return writeProblem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}

	org, err := s.organization(c, req.OrganizationId)
	if err != nil {
		return s.problem(c, err)
	}
	res, err := s.run(c, pipeline.Trigger{
		OrganizationID: org,
		Mode:           models.ModeMatchCirculars,
	})
	if err != nil {
		return s.problem(c, err)
	}

	resp := CircularMatchResponse{
		OrganizationId:    res.OrganizationID,
		CompanyName:       res.OrganizationName,
		Regulators:        res.Regulators,
		RegulatorsSource:  res.RegulatorsSource,
		TotalCandidates:   res.TotalCandidates,
		Circulars:         []models.CircularMatch{},
		RejectedCirculars: []models.CircularMatch{},
	}
	if resp.Regulators == nil {
		resp.Regulators = []string{}
	}
	for _, a := range res.Artifacts() {
		switch {
		case a.Match == nil:
		case a.Match.Relevant:
			resp.Circulars = append(resp.Circulars, *a.Match)
		default:
			resp.RejectedCirculars = append(resp.RejectedCirculars, *a.Match)
		}
	}
	resp.TotalRelevantCirculars = len(resp.Circulars)
	return c.JSON(http.StatusOK, resp)
}

// GenerateAssessment (POST /api/v1/assessment/generate)
func (s *Server) GenerateAssessment(c echo.Context) error {
	var req AssessmentRequest
	if err := c.Bind(&req); err != nil {
		return writeProblem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	if strings.TrimSpace(req.RegulationId) == "" {
		return s.problem(c, apperrors.Invalid("regulation_id", "is required"))
	}

	org, err := s.organization(c, deref(req.OrganizationId))
	if err != nil {
		return s.problem(c, err)
	}
	res, err := s.run(c, pipeline.Trigger{
		OrganizationID: org,
		Mode:           models.ModeGenerateQuestions,
		DocumentID:     req.RegulationId,
	})
	if err != nil {
		return s.problem(c, err)
	}

	artifacts := res.Artifacts()
	if len(artifacts) == 0 {
		return s.problem(c, errors.New("no question set was produced"))
	}
	// PreAssessmentFor is what the assessment sink persisted. A repeat of an
	// already delivered question set reports the assessment saved first.
	assessment := dispatch.PreAssessmentFor(artifacts[0])
	saved := false
	if out, ok := deliveryFor(res, artifacts[0].ID); ok {
		assessment.ID = dispatch.AssessmentID(out.DeliveredArtifactID())
		saved = out.Delivered()
	}
	resp := PreAssessmentResponse{
		AssessmentId:    assessment.ID,
		RegulationId:    assessment.RegulationID,
		RegulationTitle: assessment.RegulationTitle,
		AssessmentDate:  assessment.AssessmentDate,
		TotalQuestions:  len(assessment.Questions),
		Questions:       assessment.Questions,
		AssessmentScore: assessment.AssessmentScore,
		GeneratedBy:     generatedBy(assessment.GeneratedBy),
		Saved:           saved,
	}
	return c.JSON(http.StatusOK, resp)
}

// GenerateTasks (POST /api/v1/tasks/generate)
func (s *Server) GenerateTasks(c echo.Context) error {
	var req TaskRequest
	if err := c.Bind(&req); err != nil {
		return writeProblem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	if strings.TrimSpace(req.RegulationId) == "" {
		return s.problem(c, apperrors.Invalid("regulation_id", "is required"))
	}

	org, err := s.organization(c, deref(req.OrganizationId))
	if err != nil {
		return s.problem(c, err)
	}
	res, err := s.run(c, pipeline.Trigger{
		OrganizationID: org,
		Mode:           models.ModeGenerateTasks,
		DocumentID:     req.RegulationId,
		Risk:           deref(req.Risk),
	})
	if err != nil {
		return s.problem(c, err)
	}

	resp := TaskBreakdownResponse{
		CompanyName:    res.OrganizationName,
		CircularTitle:  res.SourceTitle,
		TasksDelivered: res.DeliverySuccess,
		Tasks:          []models.TaskPayload{},
		Deliveries:     []dispatch.Outcome{},
	}
	for _, u := range res.Units {
		for _, a := range u.Artifacts {
			resp.Tasks = append(resp.Tasks, dispatch.TaskPayloadFor(a))
		}
		resp.Deliveries = append(resp.Deliveries, u.Deliveries...)
	}
	resp.TotalTasks = len(resp.Tasks)
	return c.JSON(http.StatusOK, resp)
}

// RunPipeline (POST /api/v1/pipeline/run)
func (s *Server) RunPipeline(c echo.Context) error {
	var req PipelineRunRequest
	if err := c.Bind(&req); err != nil {
		return writeProblem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}

	org, err := s.organization(c, deref(req.OrganizationId))
	if err != nil {
		return s.problem(c, err)
	}
	res, err := s.run(c, pipeline.Trigger{
		OrganizationID: org,
		Mode:           models.Mode(req.Mode),
		DocumentID:     deref(req.DocumentId),
		Risk:           deref(req.Risk),
	})
	if err != nil {
		return s.problem(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) run(c echo.Context, trig pipeline.Trigger) (*pipeline.RunResult, error) {
	res, err := s.runner.Run(c.Request().Context(), trig)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("run produced no result")
	}
	return res, nil
}

func (s *Server) organization(c echo.Context, requested string) (string, error) {
	return auth.ResolveOrganization(c.Request().Context(), requested)
}

// deliveryFor finds the dispatch outcome of one artifact.
func deliveryFor(res *pipeline.RunResult, artifactID string) (dispatch.Outcome, bool) {
	for _, u := range res.Units {
		for _, out := range u.Deliveries {
			if out.ArtifactID == artifactID {
				return out, true
			}
		}
	}
	return dispatch.Outcome{}, false
}

// PreassessmentWebhookPayload is the body of an inbound pre-assessment
// webhook.
type PreassessmentWebhookPayload struct {
	OrganizationID  string `json:"organization_id"`
	PreassessmentID string `json:"preassessment_id"`
	RegulationID    string `json:"regulation_id"`
}

// ReceivePreassessment records an inbound webhook.
// (POST /webhook/preassessment)
func (s *Server) ReceivePreassessment(c echo.Context) error {
	var payload PreassessmentWebhookPayload
	if err := c.Bind(&payload); err != nil {
		return writeProblem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	for _, f := range []struct{ name, value string }{
		{"organization_id", payload.OrganizationID},
		{"preassessment_id", payload.PreassessmentID},
		{"regulation_id", payload.RegulationID},
	} {
		if strings.TrimSpace(f.value) == "" {
			return s.problem(c, apperrors.Invalid(f.name, "is required"))
		}
	}

	entry := s.webhooks.Record(webhooklog.Entry{
		OrganizationID:  payload.OrganizationID,
		PreassessmentID: payload.PreassessmentID,
		RegulationID:    payload.RegulationID,
	})
	s.logger.Info("pre-assessment webhook received",
		"organization_id", entry.OrganizationID,
		"preassessment_id", entry.PreassessmentID,
		"regulation_id", entry.RegulationID,
	)
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "success",
		"message":     "Webhook received successfully",
		"received_at": entry.ReceivedAt,
		"payload":     payload,
	})
}

// ListReceived (GET /webhook/received)
func (s *Server) ListReceived(c echo.Context) error {
	entries := s.webhooks.List()
	return c.JSON(http.StatusOK, map[string]any{
		"total_received": len(entries),
		"webhooks":       entries,
	})
}

// ClearReceived (DELETE /webhook/received)
func (s *Server) ClearReceived(c echo.Context) error {
	n := s.webhooks.Clear()
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("Cleared %d webhooks", n),
		"cleared": n,
	})
}

// problem maps err onto an RFC 7807 response.
func (s *Server) problem(c echo.Context, err error) error {
	if verr, ok := apperrors.AsValidation(err); ok {
		switch verr.Code {
		case apperrors.CodeNotFound:
			return writeProblem(c, http.StatusNotFound, "Not Found", verr.Error())
		case apperrors.CodeForbidden:
			return writeProblem(c, http.StatusForbidden, "Forbidden", verr.Error())
		}
		return writeProblem(c, http.StatusBadRequest, "Bad Request", verr.Error())
	}
	if apperrors.IsStoreUnavailable(err) {
		s.logger.Error("store unavailable", "path", c.Path(), "error", err)
		return writeProblem(c, http.StatusServiceUnavailable, "Service Unavailable", "the document store is unavailable")
	}
	s.logger.Error("request failed", "path", c.Path(), "error", err)
	return writeProblem(c, http.StatusInternalServerError, "Internal Server Error", "an unexpected error occurred")
}

// writeProblem writes an RFC 7807 Problem Details JSON error response
func writeProblem(c echo.Context, status int, title, detail string) error {
	body, err := json.Marshal(ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
	if err != nil {
		return err
	}
	return c.Blob(status, "application/problem+json", body)
}

// ProblemErrorHandler renders errors escaping handlers (routing, binding,
// middleware) as problems.
func ProblemErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	detail := "an unexpected error occurred"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if msg, ok := he.Message.(string); ok {
			detail = msg
		} else {
			detail = http.StatusText(status)
		}
	}
	_ = writeProblem(c, status, http.StatusText(status), detail)
}

func generatedBy(source models.Source) string {
	if source == models.SourceFallback {
		return "fallback"
	}
	return "ai"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
