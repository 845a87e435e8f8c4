package pipeline

import (
	"strings"
	"time"

	"regwatch-ai/backend/internal/apperrors"
	"regwatch-ai/backend/internal/dispatch"
	"regwatch-ai/backend/pkg/models"
)

// Trigger is an inbound request to run the pipeline.
type Trigger struct {
	OrganizationID string      `json:"organization_id"`
	Mode           models.Mode `json:"mode"`
	// DocumentID names a single document; empty means fan out over the
	// organization's candidates.
	DocumentID string `json:"document_id,omitempty"`
	// Risk overrides the risk of generated tasks.
	Risk    string        `json:"risk,omitempty"`
	Timeout time.Duration `json:"-"`
}

// Validate rejects malformed triggers before any work is started.
func (t *Trigger) Validate() error {
	t.OrganizationID = strings.TrimSpace(t.OrganizationID)
	t.DocumentID = strings.TrimSpace(t.DocumentID)

	if !t.Mode.Valid() {
		return apperrors.Invalid("mode", "unsupported mode %q", t.Mode)
	}
	if t.Risk != "" {
		if _, ok := models.ParseRisk(t.Risk); !ok {
			return apperrors.Invalid("risk", "must be high, medium or low")
		}
		if t.Mode != models.ModeGenerateTasks {
			return apperrors.Invalid("risk", "only applies to %s", models.ModeGenerateTasks)
		}
	}
	if t.Timeout < 0 {
		return apperrors.Invalid("timeout", "must not be negative")
	}

	switch t.Mode {
	case models.ModeSuggestRegulators, models.ModeMatchCirculars:
		if t.OrganizationID == "" {
			return apperrors.Invalid("organization_id", "required for %s", t.Mode)
		}
		if t.DocumentID != "" {
			return apperrors.Invalid("document_id", "not accepted for %s", t.Mode)
		}
	default:
		if t.OrganizationID == "" && t.DocumentID == "" {
			return apperrors.Invalid("document_id", "organization_id or document_id is required")
		}
	}
	return nil
}

func (t Trigger) key() string {
	return strings.Join([]string{t.OrganizationID, t.DocumentID, string(t.Mode), strings.ToLower(t.Risk)}, "|")
}

// State is the stage a unit of work has reached.
type State string

const (
	StateFiltering   State = "filtering"
	StateVerifying   State = "verifying"
	StateFormatting  State = "formatting"
	StateDispatching State = "dispatching"
	StateDone        State = "done"
	// StateErrored is only reached when filtering fails.
	StateErrored State = "errored"
)

// UnitResult is the outcome of one candidate (or of the single unit of a
// regulator suggestion).
type UnitResult struct {
	DocumentID  string             `json:"document_id,omitempty"`
	Title       string             `json:"title,omitempty"`
	State       State              `json:"state"`
	Source      models.Source      `json:"source,omitempty"`
	OracleError string             `json:"oracle_error,omitempty"`
	Error       string             `json:"error,omitempty"`
	Artifacts   []*models.Artifact `json:"artifacts"`
	Deliveries  []dispatch.Outcome `json:"deliveries"`
}

// RunResult summarizes a run for the caller. Units follow candidate order.
type RunResult struct {
	RunID             string        `json:"run_id"`
	Mode              models.Mode   `json:"mode"`
	OrganizationID    string        `json:"organization_id,omitempty"`
	OrganizationName  string        `json:"organization_name,omitempty"`
	SourceTitle       string        `json:"source_title"`
	Regulators        []string      `json:"regulators,omitempty"`
	RegulatorsSource  string        `json:"regulators_source,omitempty"`
	TotalCandidates   int           `json:"total_candidates"`
	TotalArtifacts    int           `json:"total_artifacts"`
	OracleGenerated   int           `json:"ai_generated"`
	FallbackGenerated int           `json:"fallback_generated"`
	TotalRelevant     int           `json:"total_relevant"`
	DeliverySuccess   bool          `json:"delivery_success"`
	DeliveriesFailed  int           `json:"deliveries_failed"`
	Shared            bool          `json:"shared,omitempty"`
	Duration          time.Duration `json:"-"`
	Units             []UnitResult  `json:"units"`
}

// Artifacts returns every artifact of the run in unit order.
func (r *RunResult) Artifacts() []*models.Artifact {
	var all []*models.Artifact
	for _, u := range r.Units {
		all = append(all, u.Artifacts...)
	}
	return all
}

func (r *RunResult) aggregate() {
	r.TotalArtifacts, r.OracleGenerated, r.FallbackGenerated, r.TotalRelevant, r.DeliveriesFailed = 0, 0, 0, 0, 0
	for _, u := range r.Units {
		for _, a := range u.Artifacts {
			r.TotalArtifacts++
			if a.Source == models.SourceFallback {
				r.FallbackGenerated++
			} else {
				r.OracleGenerated++
			}
			if a.Match != nil && a.Match.Relevant {
				r.TotalRelevant++
			}
		}
		for _, d := range u.Deliveries {
			if !d.Succeeded() {
				r.DeliveriesFailed++
			}
		}
	}
	r.DeliverySuccess = r.DeliveriesFailed == 0
}
