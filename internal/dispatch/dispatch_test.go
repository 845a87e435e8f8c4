package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regwatch-ai/backend/internal/config"
	"regwatch-ai/backend/internal/repository"
	"regwatch-ai/backend/pkg/models"
)

func testConfig() config.DispatchConfig {
	return config.DispatchConfig{
		Timeout:              time.Second,
		MaxRetries:           3,
		RetryInitialInterval: time.Millisecond,
	}
}

func taskArtifact(desc string) *models.Artifact {
	due := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	return &models.Artifact{
		ID:             "a-" + desc,
		Mode:           models.ModeGenerateTasks,
		OrganizationID: "org-1",
		DocumentID:     "cbn-1",
		Title:          "Guidelines on Open Banking",
		Source:         models.SourceOracle,
		Task: &models.Task{
			Description: desc,
			Risk:        models.RiskMedium,
			Instructions: []models.Instruction{
				{Step: "1", Description: "first"},
				{Step: "2", Description: "second"},
				{Step: "3", Description: "third"},
			},
		},
		Risk:      models.RiskHigh,
		DueDate:   &due,
		Standards: []string{"ISO 27001"},
		CreatedAt: time.Now(),
	}
}

type webhook struct {
	server   *httptest.Server
	calls    atomic.Int32
	failures int32
	status   int
	mu       sync.Mutex
	bodies   []models.TaskPayload
	keys     []string
	secrets  []string
}

func newWebhook(t *testing.T, failures int32, failStatus int) *webhook {
	w := &webhook{failures: failures, status: failStatus}
	w.server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		n := w.calls.Add(1)
		if n <= w.failures {
			rw.WriteHeader(w.status)
			return
		}
		var p models.TaskPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		w.mu.Lock()
		w.bodies = append(w.bodies, p)
		w.keys = append(w.keys, r.Header.Get("Idempotency-Key"))
		w.secrets = append(w.secrets, r.Header.Get("X-Webhook-Secret"))
		w.mu.Unlock()
		rw.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(w.server.Close)
	return w
}

func newDispatcher(w *webhook) *Dispatcher {
	d := New(testConfig(), nil, nil, nil)
	d.Register(models.ModeGenerateTasks, NewWebhookSink(w.server.URL, "s3cret", w.server.Client()))
	return d
}

func TestDispatch_DeliversPayload(t *testing.T) {
	w := newWebhook(t, 0, 0)
	d := newDispatcher(w)
	a := taskArtifact("appoint a CCO")

	out := d.Dispatch(context.Background(), a)
	assert.Equal(t, models.DeliveryDelivered, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.True(t, out.Succeeded())

	require.Len(t, w.bodies, 1)
	p := w.bodies[0]
	assert.Equal(t, "org-1", p.Organization)
	assert.Equal(t, "Guidelines on Open Banking", p.Title)
	assert.Equal(t, "appoint a CCO", p.Description)
	assert.Equal(t, "pending", p.Status)
	assert.Equal(t, models.RiskHigh, p.Risk)
	assert.Equal(t, "2025-12-31T00:00:00Z", p.DueDate)
	assert.Equal(t, "cbn-1", p.RegulationID)
	assert.Equal(t, "ai", p.GeneratedBy)
	require.Len(t, p.Instructions, 3)
	assert.False(t, p.Instructions[0].IsCompleted)
	assert.Nil(t, p.Instructions[0].CompletedAt)
	assert.Equal(t, a.IdempotencyKey(), w.keys[0])
	assert.Equal(t, "s3cret", w.secrets[0])

	rec, ok := d.Ledger().Get(out.Key)
	require.True(t, ok)
	assert.Equal(t, models.DeliveryDelivered, rec.Status)
}

func TestDispatch_TransientFailuresThenSuccess(t *testing.T) {
	w := newWebhook(t, 2, http.StatusServiceUnavailable)
	d := newDispatcher(w)

	out := d.Dispatch(context.Background(), taskArtifact("x"))
	assert.Equal(t, models.DeliveryDelivered, out.Status)
	assert.Equal(t, 3, out.Attempts)
	assert.Empty(t, out.Error)
	assert.Len(t, w.bodies, 1)
}

func TestDispatch_RetriesAreBounded(t *testing.T) {
	w := newWebhook(t, 100, http.StatusBadGateway)
	d := newDispatcher(w)

	out := d.Dispatch(context.Background(), taskArtifact("x"))
	assert.Equal(t, models.DeliveryFailed, out.Status)
	assert.Equal(t, 4, out.Attempts)
	assert.Equal(t, int32(4), w.calls.Load())
	assert.False(t, out.Succeeded())
}

func TestDispatch_ClientErrorIsPermanent(t *testing.T) {
	w := newWebhook(t, 100, http.StatusUnprocessableEntity)
	d := newDispatcher(w)

	out := d.Dispatch(context.Background(), taskArtifact("x"))
	assert.Equal(t, models.DeliveryFailed, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.Contains(t, out.Error, "422")
}

func TestDispatch_FailedKeyCanBeRetried(t *testing.T) {
	w := newWebhook(t, 1, http.StatusBadRequest)
	d := newDispatcher(w)
	a := taskArtifact("x")

	assert.Equal(t, models.DeliveryFailed, d.Dispatch(context.Background(), a).Status)
	assert.Equal(t, models.DeliveryDelivered, d.Dispatch(context.Background(), a).Status)

	rec, _ := d.Ledger().Get(a.IdempotencyKey())
	assert.Equal(t, 2, rec.Attempts)
}

func TestDispatch_DuplicateIsSuppressed(t *testing.T) {
	w := newWebhook(t, 0, 0)
	d := newDispatcher(w)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 8)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Same content, different artifact ids: one logical artifact.
			a := taskArtifact("x")
			a.ID = a.ID + string(rune('a'+i))
			outcomes[i] = d.Dispatch(context.Background(), a)
		}(i)
	}
	wg.Wait()

	delivered, duplicates := 0, 0
	for _, o := range outcomes {
		if o.Status == models.DeliveryDelivered {
			delivered++
		}
		if o.Duplicate {
			duplicates++
		}
	}
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 7, duplicates)
	assert.Equal(t, int32(1), w.calls.Load())
}

func TestDispatch_DuplicateNamesDeliveredArtifact(t *testing.T) {
	w := newWebhook(t, 0, 0)
	d := newDispatcher(w)

	first := taskArtifact("x")
	out := d.Dispatch(context.Background(), first)
	require.Equal(t, models.DeliveryDelivered, out.Status)
	assert.True(t, out.Delivered())
	assert.Equal(t, first.ID, out.DeliveredArtifactID())

	second := taskArtifact("x")
	second.ID = "a-second"
	out = d.Dispatch(context.Background(), second)
	assert.True(t, out.Duplicate)
	assert.Equal(t, models.DeliverySkipped, out.Status)
	assert.Equal(t, "a-second", out.ArtifactID)
	assert.Equal(t, first.ID, out.ExistingArtifactID)
	assert.Equal(t, models.DeliveryDelivered, out.ExistingStatus)
	assert.True(t, out.Delivered())
	assert.Equal(t, first.ID, out.DeliveredArtifactID())
}

func TestDispatch_FailureIsolation(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var p models.TaskPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		if p.Description == "bad" {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		rw.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := New(testConfig(), nil, nil, nil)
	d.Register(models.ModeGenerateTasks, NewWebhookSink(server.URL, "", server.Client()))

	bad := d.Dispatch(context.Background(), taskArtifact("bad"))
	good := d.Dispatch(context.Background(), taskArtifact("good"))
	assert.Equal(t, models.DeliveryFailed, bad.Status)
	assert.Equal(t, models.DeliveryDelivered, good.Status)
}

func TestDispatch_AfterDeadline(t *testing.T) {
	w := newWebhook(t, 0, 0)
	d := newDispatcher(w)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	out := d.Dispatch(ctx, taskArtifact("late"))
	assert.Equal(t, models.DeliveryFailed, out.Status)
	assert.Equal(t, ErrRunDeadline.Error(), out.Error)
	assert.Equal(t, int32(0), w.calls.Load())
}

func TestDispatch_NoSinkIsSkipped(t *testing.T) {
	d := New(testConfig(), nil, nil, nil)
	out := d.Dispatch(context.Background(), &models.Artifact{ID: "r", Mode: models.ModeSuggestRegulators, Regulators: []string{"CBN"}})
	assert.Equal(t, models.DeliverySkipped, out.Status)
	assert.True(t, out.Succeeded())
	assert.Empty(t, d.Ledger().Records())
}

func TestAssessmentSink(t *testing.T) {
	store := repository.NewMemoryStore()
	d := New(testConfig(), nil, nil, nil)
	d.Register(models.ModeGenerateQuestions, NewAssessmentSink(store))

	a := &models.Artifact{
		ID:         "8f14e45f-ceea-4e3b-9b0a-4f0c1b2d3e4f",
		Mode:       models.ModeGenerateQuestions,
		DocumentID: "cbn-1",
		Title:      "AML Circular",
		Source:     models.SourceFallback,
		Questions:  []models.Question{{ID: "Q1", Text: "Have you?"}},
		CreatedAt:  time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	out := d.Dispatch(context.Background(), a)
	assert.Equal(t, models.DeliveryDelivered, out.Status)

	saved := store.Assessments()
	require.Len(t, saved, 1)
	assert.Equal(t, a.ID, saved[0].ID)
	assert.Equal(t, "AML Circular", saved[0].RegulationTitle)
	assert.Equal(t, models.SourceFallback, saved[0].GeneratedBy)
	assert.Empty(t, saved[0].AssessmentScore)
}

func TestAssessmentID(t *testing.T) {
	const id = "8f14e45f-ceea-4e3b-9b0a-4f0c1b2d3e4f"
	assert.Equal(t, id, AssessmentID(id))

	derived := AssessmentID("a-1")
	assert.NotEqual(t, "a-1", derived)
	assert.Equal(t, derived, AssessmentID("a-1"))
	assert.Equal(t, derived, PreAssessmentFor(&models.Artifact{ID: "a-1"}).ID)
}

func TestTaskPayloadFor_Fallback(t *testing.T) {
	a := taskArtifact("x")
	a.Source = models.SourceFallback
	a.Risk = ""
	a.Standards = nil

	p := TaskPayloadFor(a)
	assert.Equal(t, "fallback", p.GeneratedBy)
	assert.Equal(t, models.RiskMedium, p.Risk)
	assert.NotNil(t, p.Standards)
}

func TestLedger(t *testing.T) {
	l := NewLedger()

	_, ok := l.Claim("k", "a1")
	require.True(t, ok)
	prev, ok := l.Claim("k", "a2")
	assert.False(t, ok)
	assert.Equal(t, models.DeliveryInFlight, prev.Status)
	assert.Equal(t, "a1", prev.ArtifactID)

	l.Finish("k", models.DeliveryFailed, 2, "boom")
	rec, ok := l.Claim("k", "a3")
	assert.True(t, ok)
	assert.Equal(t, "a3", rec.ArtifactID)
	assert.Equal(t, 2, rec.Attempts)

	l.Finish("k", models.DeliveryDelivered, 1, "")
	_, ok = l.Claim("k", "a4")
	assert.False(t, ok)

	_, ok = l.Get("missing")
	assert.False(t, ok)
	assert.Len(t, l.Records(), 1)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLedger_Retention(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLedger(WithRetention(time.Hour))
	l.now = clock.now

	_, ok := l.Claim("done", "a1")
	require.True(t, ok)
	l.Finish("done", models.DeliveryDelivered, 1, "")
	_, ok = l.Claim("stuck", "b1")
	require.True(t, ok)

	clock.advance(30 * time.Minute)
	_, ok = l.Claim("done", "a2")
	assert.False(t, ok, "delivered key inside the window stays claimed")

	clock.advance(2 * time.Hour)
	_, ok = l.Claim("other", "c1")
	require.True(t, ok)

	_, ok = l.Get("done")
	assert.False(t, ok, "expired delivered key is dropped")
	rec, ok := l.Get("stuck")
	require.True(t, ok, "in-flight key is kept")
	assert.Equal(t, models.DeliveryInFlight, rec.Status)
	assert.Len(t, l.Records(), 2)

	rec, ok = l.Claim("done", "a3")
	assert.True(t, ok)
	assert.Equal(t, "a3", rec.ArtifactID)
}

func TestNewLedger_DefaultRetention(t *testing.T) {
	assert.Equal(t, DefaultRetention, NewLedger().retention)
	assert.Equal(t, DefaultRetention, NewLedger(WithRetention(0)).retention)
	assert.Equal(t, time.Minute, NewLedger(WithRetention(time.Minute)).retention)
}
