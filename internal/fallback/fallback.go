// Package fallback produces deterministic substitute content when the oracle
// fails. Nothing here performs I/O or returns an error.
package fallback

import (
	"fmt"
	"strings"

	"regwatch-ai/backend/internal/oracle"
	"regwatch-ai/backend/pkg/models"
)

// ReasonOracleUnavailable is the relevance reason attached to fallback matches.
const ReasonOracleUnavailable = "oracle unavailable; kept for manual review"

type rule struct {
	code  string
	terms []string
}

// regulatorRules mirrors the oracle instructions for regulator suggestion.
var regulatorRules = []rule{
	{"CBN", []string{"financ", "bank", "payment", "fintech", "wallet", "lending", "loan", "microfinance", "remittance", "money"}},
	{"NDPC", []string{"data", "privacy", "customer", "digital", "online", "app"}},
	{"NDIC", []string{"deposit", "savings", "bank", "microfinance"}},
	{"SEC", []string{"securit", "invest", "capital market", "asset management", "brokerage", "crypto"}},
	{"FCCPC", []string{"consumer", "retail", "lending", "loan", "e-commerce"}},
	{"EFCC", []string{"anti-money", "money laundering", "fraud"}},
	{"NAICOM", []string{"insur"}},
}

// Generate returns the fallback verdict for mode. It tolerates nil inputs.
func Generate(doc *models.Document, profile *models.OrganizationProfile, mode models.Mode) oracle.Verdict {
	switch mode {
	case models.ModeSuggestRegulators:
		return oracle.Verdict{Mode: mode, Regulators: Regulators(profile)}
	case models.ModeVerifyRelevance, models.ModeMatchCirculars:
		return oracle.Verdict{Mode: models.ModeVerifyRelevance, Relevant: true, Reason: ReasonOracleUnavailable}
	case models.ModeGenerateQuestions:
		return oracle.Verdict{Mode: mode, Relevant: true, Questions: Questions(title(doc))}
	case models.ModeGenerateTasks:
		return oracle.Verdict{Mode: mode, Relevant: true, Tasks: []models.Task{Task(title(doc))}}
	}
	return oracle.Verdict{Mode: mode}
}

func title(doc *models.Document) string {
	if doc == nil || strings.TrimSpace(doc.Title) == "" {
		return "this circular"
	}
	return doc.Title
}

// Regulators applies keyword rules to the profile text. Confirmed regulators
// on the profile are always kept. The result follows registry order.
func Regulators(profile *models.OrganizationProfile) []string {
	if profile == nil {
		return []string{}
	}

	selected := make(map[string]bool)
	for _, code := range profile.Regulators {
		selected[strings.ToUpper(strings.TrimSpace(code))] = true
	}

	text := strings.ToLower(strings.Join(append([]string{
		profile.Industry, profile.BusinessCategory, profile.BusinessSubCategory, profile.Description,
	}, profile.Services...), " "))
	for _, r := range regulatorRules {
		for _, term := range r.terms {
			if strings.Contains(text, term) {
				selected[r.code] = true
				break
			}
		}
	}

	codes := []string{}
	for _, r := range models.Regulators {
		if selected[r.Code] {
			codes = append(codes, r.Code)
		}
	}
	return codes
}

// Questions returns the generic six-question pre-assessment.
func Questions(title string) []models.Question {
	return []models.Question{
		{ID: "Q1", Text: fmt.Sprintf("Does your company comply with all requirements outlined in: %s?", title)},
		{ID: "Q2", Text: "Have you reviewed this circular and assessed its applicability to your operations?"},
		{ID: "Q3", Text: "Do you have documented policies and procedures to ensure compliance with this circular?"},
		{ID: "Q4", Text: "Have relevant staff been trained on the requirements of this circular?"},
		{ID: "Q5", Text: "Do you have a monitoring system to track ongoing compliance with this circular?"},
		{ID: "Q6", Text: "Are compliance records maintained and accessible for regulatory inspection?"},
	}
}

// Task returns the generic high-risk review task.
func Task(title string) models.Task {
	return models.Task{
		Description: fmt.Sprintf("Review and implement all requirements outlined in: %s", title),
		Risk:        models.RiskHigh,
		Instructions: []models.Instruction{
			{Step: "1", Description: "Conduct comprehensive review of circular requirements"},
			{Step: "2", Description: "Identify gaps in current compliance status"},
			{Step: "3", Description: "Develop implementation plan with timelines"},
			{Step: "4", Description: "Execute compliance activities and document progress"},
		},
	}
}
