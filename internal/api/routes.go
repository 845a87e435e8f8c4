// Package api serves the RegWatch HTTP API. The request and response types
// and the route table in this file mirror openapi.yaml and are maintained by
// hand alongside it.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"

	"regwatch-ai/backend/internal/dispatch"
	"regwatch-ai/backend/pkg/models"
)

// OrganizationRequest defines model for OrganizationRequest.
type OrganizationRequest struct {
	OrganizationId string `json:"organization_id"`
}

// AssessmentRequest defines model for AssessmentRequest.
type AssessmentRequest struct {
	OrganizationId *string `json:"organization_id,omitempty"`
	RegulationId   string  `json:"regulation_id"`
}

// TaskRequest defines model for TaskRequest.
type TaskRequest struct {
	OrganizationId *string `json:"organization_id,omitempty"`
	RegulationId   string  `json:"regulation_id"`
	Risk           *string `json:"risk,omitempty"`
}

// PipelineRunRequest defines model for PipelineRunRequest.
type PipelineRunRequest struct {
	DocumentId     *string `json:"document_id,omitempty"`
	Mode           string  `json:"mode"`
	OrganizationId *string `json:"organization_id,omitempty"`
	Risk           *string `json:"risk,omitempty"`
}

// RegulatorSuggestionResponse defines model for RegulatorSuggestionResponse.
type RegulatorSuggestionResponse struct {
	CompanyName         string   `json:"company_name"`
	GeneratedBy         string   `json:"generated_by"`
	OrganizationId      string   `json:"organization_id"`
	SuggestedRegulators []string `json:"suggested_regulators"`
}

// CircularMatchResponse defines model for CircularMatchResponse.
type CircularMatchResponse struct {
	Circulars              []models.CircularMatch `json:"circulars"`
	CompanyName            string                 `json:"company_name"`
	OrganizationId         string                 `json:"organization_id"`
	Regulators             []string               `json:"regulators"`
	RegulatorsSource       string                 `json:"regulators_source"`
	RejectedCirculars      []models.CircularMatch `json:"rejected_circulars"`
	TotalCandidates        int                    `json:"total_candidates"`
	TotalRelevantCirculars int                    `json:"total_relevant_circulars"`
}

// PreAssessmentResponse defines model for PreAssessmentResponse.
type PreAssessmentResponse struct {
	AssessmentDate  time.Time         `json:"assessment_date"`
	AssessmentId    string            `json:"assessment_id"`
	AssessmentScore string            `json:"assessment_score"`
	GeneratedBy     string            `json:"generated_by"`
	Questions       []models.Question `json:"questions"`
	RegulationId    string            `json:"regulation_id"`
	RegulationTitle string            `json:"regulation_title"`
	Saved           bool              `json:"saved"`
	TotalQuestions  int               `json:"total_questions"`
}

// TaskBreakdownResponse defines model for TaskBreakdownResponse.
type TaskBreakdownResponse struct {
	CircularTitle  string               `json:"circular_title"`
	CompanyName    string               `json:"company_name"`
	Deliveries     []dispatch.Outcome   `json:"deliveries"`
	Tasks          []models.TaskPayload `json:"tasks"`
	TasksDelivered bool                 `json:"tasks_delivered"`
	TotalTasks     int                  `json:"total_tasks"`
}

// ProblemDetails defines model for ProblemDetails (RFC 7807).
type ProblemDetails struct {
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
	Status   int    `json:"status"`
	Title    string `json:"title"`
	Type     string `json:"type"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (POST /regulators/suggest)
	SuggestRegulators(ctx echo.Context) error
	// (POST /regulators/suggest/{organization_id})
	SuggestRegulatorsForOrganization(ctx echo.Context, organizationId string) error
	// (POST /circulars/match)
	MatchCirculars(ctx echo.Context) error
	// (POST /assessment/generate)
	GenerateAssessment(ctx echo.Context) error
	// (POST /tasks/generate)
	GenerateTasks(ctx echo.Context) error
	// (POST /pipeline/run)
	RunPipeline(ctx echo.Context) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

// SuggestRegulators converts echo context to params.
func (w *ServerInterfaceWrapper) SuggestRegulators(ctx echo.Context) error {
	return w.Handler.SuggestRegulators(ctx)
}

// SuggestRegulatorsForOrganization converts echo context to params.
func (w *ServerInterfaceWrapper) SuggestRegulatorsForOrganization(ctx echo.Context) error {
	var err error
	// ------------- Path parameter "organization_id" -------------
	var organizationId string

	err = runtime.BindStyledParameterWithOptions("simple", "organization_id", ctx.Param("organization_id"), &organizationId, runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter organization_id: %s", err))
	}

	err = w.Handler.SuggestRegulatorsForOrganization(ctx, organizationId)
	return err
}

// MatchCirculars converts echo context to params.
func (w *ServerInterfaceWrapper) MatchCirculars(ctx echo.Context) error {
	return w.Handler.MatchCirculars(ctx)
}

// GenerateAssessment converts echo context to params.
func (w *ServerInterfaceWrapper) GenerateAssessment(ctx echo.Context) error {
	return w.Handler.GenerateAssessment(ctx)
}

// GenerateTasks converts echo context to params.
func (w *ServerInterfaceWrapper) GenerateTasks(ctx echo.Context) error {
	return w.Handler.GenerateTasks(ctx)
}

// RunPipeline converts echo context to params.
func (w *ServerInterfaceWrapper) RunPipeline(ctx echo.Context) error {
	return w.Handler.RunPipeline(ctx)
}

// EchoRouter is an interface satisfied by both *echo.Echo and *echo.Group.
type EchoRouter interface {
	CONNECT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	DELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	HEAD(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	OPTIONS(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PATCH(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	TRACE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the EchoRouter.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	RegisterHandlersWithBaseURL(router, si, "")
}

// RegisterHandlersWithBaseURL registers handlers, and prepends BaseURL to the
// paths, so that the paths can be served under a prefix.
func RegisterHandlersWithBaseURL(router EchoRouter, si ServerInterface, baseURL string) {
	wrapper := ServerInterfaceWrapper{
		Handler: si,
	}

	router.POST(baseURL+"/assessment/generate", wrapper.GenerateAssessment)
	router.POST(baseURL+"/circulars/match", wrapper.MatchCirculars)
	router.POST(baseURL+"/pipeline/run", wrapper.RunPipeline)
	router.POST(baseURL+"/regulators/suggest", wrapper.SuggestRegulators)
	router.POST(baseURL+"/regulators/suggest/:organization_id", wrapper.SuggestRegulatorsForOrganization)
	router.POST(baseURL+"/tasks/generate", wrapper.GenerateTasks)
}
