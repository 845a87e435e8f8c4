package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regwatch-ai/backend/internal/apperrors"
	"regwatch-ai/backend/internal/config"
	"regwatch-ai/backend/pkg/models"
)

type completerFunc func(ctx context.Context, p Prompt) (string, error)

func (f completerFunc) Complete(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }

func testConfig() config.OracleConfig {
	return config.OracleConfig{
		Timeout:              time.Second,
		MaxTextChars:         DefaultMaxTextChars,
		MaxConcurrent:        2,
		MaxRetries:           2,
		RetryInitialInterval: time.Millisecond,
	}
}

func testDoc() *models.Document {
	return &models.Document{ID: "cbn-1", AuthorityCode: "CBN", Title: "Guidelines on Open Banking", Summary: "Open banking rules", FullText: "Banks shall ..."}
}

func questionsJSON(n int) string {
	items := make([]map[string]string, n)
	for i := range items {
		items[i] = map[string]string{"question_id": fmt.Sprintf("Q%d", i+1), "question_text": "Do you comply?"}
	}
	raw, _ := json.Marshal(map[string]any{"questions": items})
	return string(raw)
}

func tasksJSON(n, steps int, risk string) string {
	tasks := make([]map[string]any, n)
	for i := range tasks {
		instr := make([]map[string]string, steps)
		for j := range instr {
			instr[j] = map[string]string{"step": fmt.Sprint(j + 1), "description": "do it"}
		}
		tasks[i] = map[string]any{"description": fmt.Sprintf("task %d", i), "risk": risk, "instructions": instr}
	}
	raw, _ := json.Marshal(map[string]any{"tasks": tasks})
	return string(raw)
}

func TestBuildPayload_Truncates(t *testing.T) {
	doc := testDoc()
	doc.FullText = strings.Repeat("é", 20)

	p := BuildPayload(doc, 10)
	assert.True(t, p.Truncated)
	assert.Equal(t, strings.Repeat("é", 10)+"\n\n"+TruncationMarker, p.Text)

	p = BuildPayload(doc, 50)
	assert.False(t, p.Truncated)
	assert.Equal(t, doc.FullText, p.Text)

	assert.Equal(t, Payload{}, BuildPayload(nil, 10))
}

func TestPlainText(t *testing.T) {
	html := `<html><head><style>p{}</style></head><body><h1>Circular</h1><p>Banks   shall report.</p><script>x()</script><ul><li>One</li><li>Two</li></ul></body></html>`
	got := PlainText(html)

	assert.Contains(t, got, "Circular")
	assert.Contains(t, got, "Banks shall report.")
	assert.Contains(t, got, "One\nTwo")
	assert.NotContains(t, got, "x()")
	assert.NotContains(t, got, "<p>")

	assert.Equal(t, "a < b and c > d", PlainText("  a < b and c > d "))
}

func TestBuildPrompt(t *testing.T) {
	p, err := BuildPrompt(Request{Mode: models.ModeSuggestRegulators}, 100)
	require.NoError(t, err)
	assert.Contains(t, p.User, "Financial Institution")
	assert.Contains(t, p.User, "NAICOM")

	p, err = BuildPrompt(Request{Mode: models.ModeGenerateQuestions, Document: testDoc()}, 100)
	require.NoError(t, err)
	assert.Contains(t, p.User, "Guidelines on Open Banking")
	assert.Contains(t, p.User, "10%")

	_, err = BuildPrompt(Request{Mode: models.ModeGenerateTasks}, 100)
	_, ok := apperrors.AsValidation(err)
	assert.True(t, ok)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		mode  models.Mode
		raw   string
		valid bool
	}{
		{"relevance", models.ModeVerifyRelevance, `{"relevant": false, "reason": "insurance only"}`, true},
		{"relevance missing reason", models.ModeVerifyRelevance, `{"relevant": true}`, false},
		{"relevance wrong type", models.ModeVerifyRelevance, `{"relevant": "yes", "reason": ""}`, false},
		{"relevance unknown field", models.ModeVerifyRelevance, `{"relevant": true, "reason": "", "score": 1}`, false},
		{"relevance trailing data", models.ModeVerifyRelevance, `{"relevant": true, "reason": ""} {}`, false},
		{"relevance free text", models.ModeVerifyRelevance, `1, 3, 5`, false},
		{"regulators", models.ModeSuggestRegulators, `{"regulators": ["CBN", "NDPC"]}`, true},
		{"regulators empty", models.ModeSuggestRegulators, `{"regulators": []}`, true},
		{"regulators unknown", models.ModeSuggestRegulators, `{"regulators": ["CBN", "FED"]}`, false},
		{"regulators duplicate", models.ModeSuggestRegulators, `{"regulators": ["CBN", "CBN"]}`, false},
		{"regulators null", models.ModeSuggestRegulators, `{"regulators": null}`, false},
		{"six questions", models.ModeGenerateQuestions, questionsJSON(6), true},
		{"seven questions", models.ModeGenerateQuestions, questionsJSON(7), true},
		{"five questions", models.ModeGenerateQuestions, questionsJSON(5), false},
		{"eight questions", models.ModeGenerateQuestions, questionsJSON(8), false},
		{"bare array", models.ModeGenerateQuestions, `[{"question_id":"Q1","question_text":"x"}]`, false},
		{"five tasks", models.ModeGenerateTasks, tasksJSON(5, 3, "high"), true},
		{"eight tasks", models.ModeGenerateTasks, tasksJSON(8, 5, "Low"), true},
		{"four tasks", models.ModeGenerateTasks, tasksJSON(4, 3, "high"), false},
		{"nine tasks", models.ModeGenerateTasks, tasksJSON(9, 3, "high"), false},
		{"two instructions", models.ModeGenerateTasks, tasksJSON(5, 2, "high"), false},
		{"six instructions", models.ModeGenerateTasks, tasksJSON(5, 6, "high"), false},
		{"bad risk", models.ModeGenerateTasks, tasksJSON(5, 3, "critical"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.mode, tt.raw)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			kind, ok := apperrors.KindOf(err)
			require.True(t, ok, "expected oracle error, got %v", err)
			assert.Equal(t, apperrors.OracleInvalidResponseShape, kind)
		})
	}
}

func TestParse_Tasks(t *testing.T) {
	v, err := Parse(models.ModeGenerateTasks, tasksJSON(5, 3, "MEDIUM"))
	require.NoError(t, err)
	require.Len(t, v.Tasks, 5)
	assert.Equal(t, models.RiskMedium, v.Tasks[0].Risk)
	assert.Equal(t, "1", v.Tasks[0].Instructions[0].Step)
	assert.False(t, v.Tasks[0].Instructions[0].IsCompleted)
}

func TestCall_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	c := NewClient(completerFunc(func(ctx context.Context, p Prompt) (string, error) {
		if calls.Add(1) < 3 {
			return "", apperrors.Oracle(apperrors.OracleRateLimited, errors.New("429"))
		}
		return `{"regulators": ["CBN"]}`, nil
	}), testConfig(), nil, nil)

	v, err := c.Call(context.Background(), Request{Mode: models.ModeSuggestRegulators})
	require.NoError(t, err)
	assert.Equal(t, []string{"CBN"}, v.Regulators)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCall_RetriesAreBounded(t *testing.T) {
	var calls atomic.Int32
	c := NewClient(completerFunc(func(ctx context.Context, p Prompt) (string, error) {
		calls.Add(1)
		return "", apperrors.Oracle(apperrors.OracleTimeout, errors.New("slow"))
	}), testConfig(), nil, nil)

	_, err := c.Call(context.Background(), Request{Mode: models.ModeSuggestRegulators})
	kind, _ := apperrors.KindOf(err)
	assert.Equal(t, apperrors.OracleTimeout, kind)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCall_InvalidShapeIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := NewClient(completerFunc(func(ctx context.Context, p Prompt) (string, error) {
		calls.Add(1)
		return `{"questions": []}`, nil
	}), testConfig(), nil, nil)

	_, err := c.Call(context.Background(), Request{Mode: models.ModeGenerateQuestions, Document: testDoc()})
	kind, _ := apperrors.KindOf(err)
	assert.Equal(t, apperrors.OracleInvalidResponseShape, kind)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCall_PerCallTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 10 * time.Millisecond
	cfg.MaxRetries = 0
	c := NewClient(completerFunc(func(ctx context.Context, p Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), cfg, nil, nil)

	_, err := c.Call(context.Background(), Request{Mode: models.ModeSuggestRegulators})
	kind, _ := apperrors.KindOf(err)
	assert.Equal(t, apperrors.OracleTimeout, kind)
}

func TestCall_ConcurrencyCeiling(t *testing.T) {
	var inFlight, peak atomic.Int32
	c := NewClient(completerFunc(func(ctx context.Context, p Prompt) (string, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return `{"regulators": []}`, nil
	}), testConfig(), nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Call(context.Background(), Request{Mode: models.ModeSuggestRegulators})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestAzureCompleter(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/gpt/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-02-15-preview", r.URL.Query().Get("api-version"))
		assert.Equal(t, "secret", r.Header.Get("api-key"))

		var body chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "json_object", body.ResponseFormat["type"])
		assert.Len(t, body.Messages, 2)

		code := int(status.Load())
		w.WriteHeader(code)
		if code == http.StatusOK {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"regulators\":[\"SEC\"]}"}}]}`))
		}
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Endpoint = server.URL + "/"
	cfg.Deployment = "gpt"
	cfg.APIVersion = "2024-02-15-preview"
	cfg.APIKey = "secret"
	completer := NewAzureCompleter(cfg, server.Client())

	got, err := completer.Complete(context.Background(), Prompt{System: "s", User: "u"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"regulators":["SEC"]}`, got)

	for code, want := range map[int]apperrors.OracleKind{
		http.StatusTooManyRequests:     apperrors.OracleRateLimited,
		http.StatusGatewayTimeout:      apperrors.OracleTimeout,
		http.StatusInternalServerError: apperrors.OracleUnavailable,
		http.StatusUnauthorized:        apperrors.OracleUnavailable,
	} {
		status.Store(int32(code))
		_, err := completer.Complete(context.Background(), Prompt{})
		kind, ok := apperrors.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, want, kind, "status %d", code)
	}
}

func TestAzureCompleter_Unconfigured(t *testing.T) {
	_, err := NewAzureCompleter(config.OracleConfig{}, nil).Complete(context.Background(), Prompt{})
	kind, _ := apperrors.KindOf(err)
	assert.Equal(t, apperrors.OracleUnavailable, kind)
}
