package models

import "time"

// DeliveryStatus is the state of a dispatch record.
type DeliveryStatus string

const (
	DeliveryInFlight  DeliveryStatus = "in-flight"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "delivery-failed"
	// DeliverySkipped marks artifacts whose mode has no downstream target
	// and artifacts already delivered by an earlier run.
	DeliverySkipped DeliveryStatus = "skipped"
)

// DispatchRecord is the bookkeeping of delivering one artifact.
type DispatchRecord struct {
	Key        string         `json:"key"`
	ArtifactID string         `json:"artifact_id"`
	Attempts   int            `json:"attempts"`
	Status     DeliveryStatus `json:"status"`
	LastError  string         `json:"last_error,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TaskPayload is the task-management webhook schema. One payload is sent per
// task.
type TaskPayload struct {
	Organization string        `json:"organization"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Status       string        `json:"status"`
	Risk         Risk          `json:"risk"`
	DueDate      string        `json:"dueDate"`
	Standards    []string      `json:"standards"`
	RegulationID string        `json:"regulationId"`
	Instructions []Instruction `json:"instructions"`
	GeneratedBy  string        `json:"generatedBy"`
}

// PreAssessment is a persisted question set awaiting answers.
type PreAssessment struct {
	ID              string     `json:"assessment_id"`
	OrganizationID  string     `json:"organization_id,omitempty"`
	RegulationID    string     `json:"regulation_id"`
	RegulationTitle string     `json:"regulation_title"`
	AssessmentDate  time.Time  `json:"assessment_date"`
	Questions       []Question `json:"questions"`
	AssessmentScore string     `json:"assessment_score"`
	GeneratedBy     Source     `json:"generated_by"`
}
