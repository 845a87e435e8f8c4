package oracle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"regwatch-ai/backend/internal/apperrors"
	"regwatch-ai/backend/pkg/models"
)

// Response bounds.
const (
	MinQuestions    = 6
	MaxQuestions    = 7
	MinTasks        = 5
	MaxTasks        = 8
	MinInstructions = 3
	MaxInstructions = 5
)

// Pointer fields distinguish a missing key from a zero value.
type relevanceResponse struct {
	Relevant *bool   `json:"relevant"`
	Reason   *string `json:"reason"`
}

type regulatorsResponse struct {
	Regulators *[]string `json:"regulators"`
}

type questionsResponse struct {
	Questions *[]questionItem `json:"questions"`
}

type questionItem struct {
	ID   *string `json:"question_id"`
	Text *string `json:"question_text"`
}

type tasksResponse struct {
	Tasks *[]taskItem `json:"tasks"`
}

type taskItem struct {
	Description  *string            `json:"description"`
	Risk         *string            `json:"risk"`
	Instructions *[]instructionItem `json:"instructions"`
}

type instructionItem struct {
	Step        *string `json:"step"`
	Description *string `json:"description"`
}

func shapeError(format string, args ...any) error {
	return apperrors.Oracle(apperrors.OracleInvalidResponseShape, fmt.Errorf(format, args...))
}

// decodeStrict decodes exactly one JSON object into v, rejecting unknown
// fields and trailing data.
func decodeStrict(raw string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(raw))))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return shapeError("decode: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return shapeError("trailing data after response object")
	}
	return nil
}

func present(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

// Parse validates raw against the schema of mode. Every deviation is an
// InvalidResponseShape error; nothing is partially accepted.
func Parse(mode models.Mode, raw string) (Verdict, error) {
	switch mode {
	case models.ModeVerifyRelevance, models.ModeMatchCirculars:
		return parseRelevance(raw)
	case models.ModeSuggestRegulators:
		return parseRegulators(raw)
	case models.ModeGenerateQuestions:
		return parseQuestions(raw)
	case models.ModeGenerateTasks:
		return parseTasks(raw)
	}
	return Verdict{}, shapeError("no schema for mode %q", mode)
}

func parseRelevance(raw string) (Verdict, error) {
	var resp relevanceResponse
	if err := decodeStrict(raw, &resp); err != nil {
		return Verdict{}, err
	}
	if resp.Relevant == nil {
		return Verdict{}, shapeError("missing relevant")
	}
	if resp.Reason == nil {
		return Verdict{}, shapeError("missing reason")
	}
	return Verdict{Mode: models.ModeVerifyRelevance, Relevant: *resp.Relevant, Reason: strings.TrimSpace(*resp.Reason)}, nil
}

func parseRegulators(raw string) (Verdict, error) {
	var resp regulatorsResponse
	if err := decodeStrict(raw, &resp); err != nil {
		return Verdict{}, err
	}
	if resp.Regulators == nil {
		return Verdict{}, shapeError("missing regulators")
	}

	codes := make([]string, 0, len(*resp.Regulators))
	seen := make(map[string]bool)
	for _, code := range *resp.Regulators {
		if !models.IsKnownRegulator(code) {
			return Verdict{}, shapeError("unknown regulator %q", code)
		}
		if seen[code] {
			return Verdict{}, shapeError("duplicate regulator %q", code)
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return Verdict{Mode: models.ModeSuggestRegulators, Relevant: len(codes) > 0, Regulators: codes}, nil
}

func parseQuestions(raw string) (Verdict, error) {
	var resp questionsResponse
	if err := decodeStrict(raw, &resp); err != nil {
		return Verdict{}, err
	}
	if resp.Questions == nil {
		return Verdict{}, shapeError("missing questions")
	}
	items := *resp.Questions
	if len(items) < MinQuestions || len(items) > MaxQuestions {
		return Verdict{}, shapeError("got %d questions, want %d-%d", len(items), MinQuestions, MaxQuestions)
	}

	questions := make([]models.Question, 0, len(items))
	seen := make(map[string]bool)
	for i, q := range items {
		if !present(q.ID) || !present(q.Text) {
			return Verdict{}, shapeError("question %d: missing question_id or question_text", i)
		}
		id := strings.TrimSpace(*q.ID)
		if seen[id] {
			return Verdict{}, shapeError("duplicate question_id %q", id)
		}
		seen[id] = true
		questions = append(questions, models.Question{ID: id, Text: strings.TrimSpace(*q.Text)})
	}
	return Verdict{Mode: models.ModeGenerateQuestions, Relevant: true, Questions: questions}, nil
}

func parseTasks(raw string) (Verdict, error) {
	var resp tasksResponse
	if err := decodeStrict(raw, &resp); err != nil {
		return Verdict{}, err
	}
	if resp.Tasks == nil {
		return Verdict{}, shapeError("missing tasks")
	}
	items := *resp.Tasks
	if len(items) < MinTasks || len(items) > MaxTasks {
		return Verdict{}, shapeError("got %d tasks, want %d-%d", len(items), MinTasks, MaxTasks)
	}

	tasks := make([]models.Task, 0, len(items))
	for i, t := range items {
		if !present(t.Description) || t.Risk == nil || t.Instructions == nil {
			return Verdict{}, shapeError("task %d: missing description, risk or instructions", i)
		}
		risk, ok := models.ParseRisk(*t.Risk)
		if !ok {
			return Verdict{}, shapeError("task %d: invalid risk %q", i, *t.Risk)
		}
		steps := *t.Instructions
		if len(steps) < MinInstructions || len(steps) > MaxInstructions {
			return Verdict{}, shapeError("task %d: got %d instructions, want %d-%d", i, len(steps), MinInstructions, MaxInstructions)
		}

		instructions := make([]models.Instruction, 0, len(steps))
		for j, s := range steps {
			if !present(s.Step) || !present(s.Description) {
				return Verdict{}, shapeError("task %d instruction %d: missing step or description", i, j)
			}
			instructions = append(instructions, models.Instruction{
				Step:        strings.TrimSpace(*s.Step),
				Description: strings.TrimSpace(*s.Description),
			})
		}
		tasks = append(tasks, models.Task{
			Description:  strings.TrimSpace(*t.Description),
			Risk:         risk,
			Instructions: instructions,
		})
	}
	return Verdict{Mode: models.ModeGenerateTasks, Relevant: true, Tasks: tasks}, nil
}
