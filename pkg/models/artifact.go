package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Mode selects one of the pipeline use cases, or an oracle task mode.
type Mode string

const (
	ModeSuggestRegulators Mode = "suggest-regulators"
	ModeMatchCirculars    Mode = "match-circulars"
	ModeGenerateQuestions Mode = "generate-questions"
	ModeGenerateTasks     Mode = "generate-tasks"

	// ModeVerifyRelevance is an oracle task mode used inside circular matching.
	ModeVerifyRelevance Mode = "verify-relevance"
)

// Valid reports whether m is a pipeline use case accepted from triggers.
func (m Mode) Valid() bool {
	switch m {
	case ModeSuggestRegulators, ModeMatchCirculars, ModeGenerateQuestions, ModeGenerateTasks:
		return true
	}
	return false
}

// Risk is the priority annotation carried by task artifacts.
type Risk string

const (
	RiskHigh   Risk = "high"
	RiskMedium Risk = "medium"
	RiskLow    Risk = "low"
)

// ParseRisk normalizes s into a Risk. ok is false for unknown values.
func ParseRisk(s string) (Risk, bool) {
	switch Risk(strings.ToLower(strings.TrimSpace(s))) {
	case RiskHigh:
		return RiskHigh, true
	case RiskMedium:
		return RiskMedium, true
	case RiskLow:
		return RiskLow, true
	}
	return "", false
}

// Source records who produced an artifact's content.
type Source string

const (
	SourceOracle   Source = "oracle"
	SourceFallback Source = "fallback"
)

// Question is one pre-assessment question.
type Question struct {
	ID     string `json:"question_id"`
	Text   string `json:"question_text"`
	Answer string `json:"answer"`
}

// Instruction is one step of a compliance task.
type Instruction struct {
	Step        string     `json:"step"`
	Description string     `json:"description"`
	IsCompleted bool       `json:"isCompleted"`
	CompletedAt *time.Time `json:"completedAt"`
}

// Task is a compliance task broken down into instructions.
type Task struct {
	Description  string        `json:"description"`
	Risk         Risk          `json:"risk"`
	Instructions []Instruction `json:"instructions"`
}

// CircularMatch is the verdict for one candidate circular.
type CircularMatch struct {
	DocumentID    string `json:"document_id"`
	Title         string `json:"title"`
	AuthorityCode string `json:"authority_code"`
	Relevant      bool   `json:"relevant"`
	Reason        string `json:"reason,omitempty"`
}

// Artifact is the final, schema-conformant output of one pipeline unit.
// It is immutable once dispatched; later runs produce new artifacts.
type Artifact struct {
	ID             string         `json:"id"`
	Mode           Mode           `json:"mode"`
	OrganizationID string         `json:"organization_id,omitempty"`
	DocumentID     string         `json:"document_id,omitempty"`
	Title          string         `json:"title,omitempty"`
	Source         Source         `json:"source"`
	Regulators     []string       `json:"regulators,omitempty"`
	Match          *CircularMatch `json:"match,omitempty"`
	Questions      []Question     `json:"questions,omitempty"`
	Task           *Task          `json:"task,omitempty"`
	Risk           Risk           `json:"risk,omitempty"`
	DueDate        *time.Time     `json:"due_date,omitempty"`
	Standards      []string       `json:"standards,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ContentHash is a digest of the generated content only, so that two runs
// producing the same content for the same unit share an idempotency key.
func (a *Artifact) ContentHash() string {
	content := struct {
		Regulators []string       `json:"regulators,omitempty"`
		Match      *CircularMatch `json:"match,omitempty"`
		Questions  []Question     `json:"questions,omitempty"`
		Task       *Task          `json:"task,omitempty"`
		Risk       Risk           `json:"risk,omitempty"`
	}{a.Regulators, a.Match, a.Questions, a.Task, a.Risk}

	// Marshalling plain structs and slices cannot fail.
	raw, _ := json.Marshal(content)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// IdempotencyKey identifies the logical artifact for the downstream system.
func (a *Artifact) IdempotencyKey() string {
	raw := strings.Join([]string{a.OrganizationID, a.DocumentID, string(a.Mode), a.ContentHash()}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
