package oracle

import (
	"fmt"
	"strings"

	"regwatch-ai/backend/internal/apperrors"
	"regwatch-ai/backend/pkg/models"
)

// Prompt is one chat exchange sent to the oracle.
type Prompt struct {
	System string
	User   string
}

const (
	systemCompliance = "You are a Nigerian regulatory compliance expert. Respond only with a single valid JSON object."
	systemQuestions  = "You are a financial regulatory compliance expert specializing in Central Bank of Nigeria (CBN) regulations. Generate compliance questions as a single valid JSON object."
)

// BuildPrompt renders the prompt for req. Document modes require a document;
// a missing profile is replaced by the generic placeholder profile.
func BuildPrompt(req Request, maxChars int) (Prompt, error) {
	profile := req.Profile
	if profile == nil {
		profile = models.GenericProfile()
	}

	switch req.Mode {
	case models.ModeSuggestRegulators:
		return Prompt{System: systemCompliance, User: regulatorsPrompt(profile)}, nil
	case models.ModeVerifyRelevance, models.ModeMatchCirculars:
		if req.Document == nil {
			return Prompt{}, apperrors.Invalid("document", "required for %s", req.Mode)
		}
		return Prompt{System: systemCompliance, User: relevancePrompt(profile, BuildPayload(req.Document, maxChars))}, nil
	case models.ModeGenerateQuestions:
		if req.Document == nil {
			return Prompt{}, apperrors.Invalid("document", "required for %s", req.Mode)
		}
		return Prompt{System: systemQuestions, User: questionsPrompt(BuildPayload(req.Document, maxChars))}, nil
	case models.ModeGenerateTasks:
		if req.Document == nil {
			return Prompt{}, apperrors.Invalid("document", "required for %s", req.Mode)
		}
		return Prompt{System: systemCompliance, User: tasksPrompt(profile, BuildPayload(req.Document, maxChars))}, nil
	}
	return Prompt{}, apperrors.Invalid("mode", "unsupported oracle mode %q", req.Mode)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func profileBlock(p *models.OrganizationProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- Name: %s\n", orNA(p.Name))
	fmt.Fprintf(&b, "- Industry: %s\n", orNA(p.Industry))
	fmt.Fprintf(&b, "- Business Category: %s\n", orNA(p.BusinessCategory))
	fmt.Fprintf(&b, "- Business Sub-Category: %s\n", orNA(p.BusinessSubCategory))
	fmt.Fprintf(&b, "- Services: %s\n", orNA(strings.Join(p.Services, ", ")))
	fmt.Fprintf(&b, "- Description: %s\n", orNA(p.Description))
	fmt.Fprintf(&b, "- Country: %s\n", orNA(p.Country))
	return b.String()
}

func regulatorsPrompt(p *models.OrganizationProfile) string {
	var regs strings.Builder
	for _, r := range models.Regulators {
		fmt.Fprintf(&regs, "- %s: %s\n", r.Code, r.Description)
	}

	return fmt.Sprintf(`Based on the company profile below, suggest which regulators are relevant.

Company Profile:
%s
Available Regulators:
%s
Instructions:
1. Analyze the company's industry, services, and business activities
2. Suggest ONLY the regulators that are directly relevant to this company
3. If the company operates in Nigeria and handles financial services, CBN is likely relevant
4. If they handle customer data, NDPC is relevant
5. If they take deposits, NDIC is relevant
6. If they deal with securities/investments, SEC is relevant
7. If they provide insurance, NAICOM is relevant

Return ONLY a JSON object of the form:
{"regulators": ["CBN", "NDPC"]}
Use only the codes listed above. Return an empty list if none apply.`, profileBlock(p), regs.String())
}

func relevancePrompt(p *models.OrganizationProfile, doc Payload) string {
	return fmt.Sprintf(`Decide whether this circular is DIRECTLY relevant to the company's operations.

Company Profile:
%s
Circular Title: %s

Summary: %s

Circular Text:
%s

Consider the company's industry, services, and business activities.

Return ONLY a JSON object of the form:
{"relevant": true, "reason": "one sentence explaining the decision"}`,
		profileBlock(p), doc.Title, orNA(doc.Summary), doc.Text)
}

func questionsPrompt(doc Payload) string {
	return fmt.Sprintf(`Create 6 clear, personalized compliance questions based on this regulatory circular.

Title: %s

Summary: %s

Circular Text:
%s

Instructions:
1. Base questions ONLY on explicit requirements in the circular
2. Use "you" and "your organization"; each question must be answerable with Yes/No
3. Cover, where the circular mentions them: reporting requirements, ratios to maintain,
   limits or thresholds, deadlines, documentation and governance requirements
4. No ambiguous language; focus on "what" and "when"

Examples of good questions:
- "Have you appointed a Chief Compliance Officer for your organization?"
- "Does your organization submit quarterly returns to CBN within 7 days after quarter-end?"
- "Is your Capital Adequacy Ratio maintained at or above 10%%?"

Return ONLY a JSON object of the form:
{"questions": [{"question_id": "Q1", "question_text": "..."}, {"question_id": "Q2", "question_text": "..."}]}
Generate 6 or 7 questions.`, doc.Title, orNA(doc.Summary), doc.Text)
}

func tasksPrompt(p *models.OrganizationProfile, doc Payload) string {
	return fmt.Sprintf(`Analyze this circular and generate 5-8 specific compliance tasks that the company must complete to achieve full compliance.

Circular Title: %s

Summary: %s

Circular Text:
%s

Company Profile:
%s
Instructions:
1. Each task addresses a major requirement from the circular
2. Assign each task a risk of "high", "medium", or "low" based on regulatory importance
3. Break each task into 3-5 concrete, step-by-step instructions
4. Include specific deadlines, thresholds, or requirements mentioned in the circular

Example task:
{"description": "Appoint a Chief Compliance Officer with at least 5 years of AML/CFT experience",
 "risk": "high",
 "instructions": [
  {"step": "1", "description": "Review internal candidates or initiate external recruitment for the CCO position"},
  {"step": "2", "description": "Obtain Board approval for the CCO appointment"},
  {"step": "3", "description": "Submit the CCO appointment notification to CBN within 7 days"}]}

Return ONLY a JSON object of the form:
{"tasks": [<task>, ...]}`, doc.Title, orNA(doc.Summary), doc.Text, profileBlock(p))
}
