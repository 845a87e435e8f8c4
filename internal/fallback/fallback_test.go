package fallback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regwatch-ai/backend/pkg/models"
)

func TestGenerate_Tasks(t *testing.T) {
	doc := &models.Document{ID: "d1", Title: "Guidelines on Open Banking"}

	v := Generate(doc, nil, models.ModeGenerateTasks)
	require.Len(t, v.Tasks, 1)
	task := v.Tasks[0]
	assert.Equal(t, "Review and implement all requirements outlined in: Guidelines on Open Banking", task.Description)
	assert.Equal(t, models.RiskHigh, task.Risk)
	require.Len(t, task.Instructions, 4)
	assert.Equal(t, "Identify gaps in current compliance status", task.Instructions[1].Description)

	assert.Equal(t, v, Generate(doc, nil, models.ModeGenerateTasks))
}

func TestGenerate_Questions(t *testing.T) {
	v := Generate(&models.Document{Title: "AML Circular"}, nil, models.ModeGenerateQuestions)
	require.Len(t, v.Questions, 6)
	assert.Equal(t, "Q1", v.Questions[0].ID)
	assert.Contains(t, v.Questions[0].Text, "AML Circular")
}

func TestGenerate_Relevance(t *testing.T) {
	v := Generate(nil, nil, models.ModeVerifyRelevance)
	assert.True(t, v.Relevant)
	assert.Equal(t, ReasonOracleUnavailable, v.Reason)
}

func TestGenerate_NilInputs(t *testing.T) {
	for _, mode := range []models.Mode{
		models.ModeSuggestRegulators, models.ModeMatchCirculars, models.ModeGenerateQuestions,
		models.ModeGenerateTasks, models.ModeVerifyRelevance, models.Mode("bogus"),
	} {
		assert.NotPanics(t, func() { Generate(nil, nil, mode) }, string(mode))
	}
	v := Generate(nil, nil, models.ModeGenerateTasks)
	assert.Contains(t, v.Tasks[0].Description, "this circular")
}

func TestRegulators(t *testing.T) {
	tests := []struct {
		name    string
		profile *models.OrganizationProfile
		want    []string
	}{
		{"nil", nil, []string{}},
		{"fintech wallet", &models.OrganizationProfile{Industry: "Fintech", Services: []string{"digital wallets"}}, []string{"CBN", "NDPC"}},
		{"insurer", &models.OrganizationProfile{Industry: "Insurance"}, []string{"NAICOM"}},
		{"confirmed kept", &models.OrganizationProfile{Industry: "Insurance", Regulators: []string{"efcc"}}, []string{"EFCC", "NAICOM"}},
		{"broker", &models.OrganizationProfile{BusinessCategory: "Capital Markets", Services: []string{"securities brokerage"}}, []string{"SEC"}},
		{"nothing", &models.OrganizationProfile{Industry: "Agriculture"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Regulators(tt.profile))
		})
	}
}
