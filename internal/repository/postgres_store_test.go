package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"regwatch-ai/backend/pkg/models"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("regwatch"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresStore(pool)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Ping(ctx))

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	deadline := base.Add(60 * 24 * time.Hour)
	docs := []*models.Document{
		{ID: "cbn-pay", AuthorityCode: "CBN", Title: "Payments", Tags: []string{"payments"}, FullText: "text", ComplianceDeadline: &deadline, Standards: []string{"PCI DSS"}, IngestedAt: base.Add(3 * time.Hour)},
		{ID: "ndpc-dp", AuthorityCode: "NDPC", Title: "Data Protection", Tags: []string{"Data Protection"}, IngestedAt: base.Add(2 * time.Hour)},
		{ID: "naicom-ins", AuthorityCode: "NAICOM", Title: "Insurance", Tags: []string{"insurance"}, IngestedAt: base.Add(1 * time.Hour)},
	}
	for _, d := range docs {
		require.NoError(t, store.IngestDocument(ctx, d))
	}

	t.Run("ingest is write-once", func(t *testing.T) {
		err := store.IngestDocument(ctx, &models.Document{ID: "cbn-pay", AuthorityCode: "CBN", Title: "changed", IngestedAt: base})
		assert.ErrorIs(t, err, models.ErrDocumentExists)

		got, err := store.GetDocument(ctx, "cbn-pay")
		require.NoError(t, err)
		assert.Equal(t, "Payments", got.Title)
		assert.Equal(t, 1, got.Version)
		require.NotNil(t, got.ComplianceDeadline)
		assert.True(t, deadline.Equal(*got.ComplianceDeadline))
		assert.Equal(t, []string{"PCI DSS"}, got.Standards)
	})

	t.Run("query by authority and keyword", func(t *testing.T) {
		got, err := store.QueryDocuments(ctx, DocumentQuery{
			Authorities: []string{"cbn"},
			Keywords:    []string{"data-protection"},
		})
		require.NoError(t, err)

		ids := make([]string, len(got))
		for i, d := range got {
			ids[i] = d.ID
		}
		assert.Equal(t, []string{"cbn-pay", "ndpc-dp"}, ids)
	})

	t.Run("query matches memory store", func(t *testing.T) {
		mem := NewMemoryStore()
		for _, d := range docs {
			require.NoError(t, mem.IngestDocument(ctx, d))
		}
		q := DocumentQuery{Keywords: []string{"insurance", "digital payments"}}

		fromPG, err := store.QueryDocuments(ctx, q)
		require.NoError(t, err)
		fromMem, err := mem.QueryDocuments(ctx, q)
		require.NoError(t, err)

		require.Len(t, fromPG, len(fromMem))
		for i := range fromMem {
			assert.Equal(t, fromMem[i].ID, fromPG[i].ID)
		}
	})

	t.Run("padded tags match like the memory store", func(t *testing.T) {
		// Written directly so the padding reaches the table.
		_, err := pool.Exec(ctx, `INSERT INTO documents (id, authority_code, title, tags, ingested_at)
			VALUES ('sec-raw', 'SEC', 'Raw', ARRAY['wallets  ', ' kyc'], $1)`, base)
		require.NoError(t, err)
		ingested := &models.Document{ID: "sec-trimmed", AuthorityCode: "SEC", Title: "Trimmed",
			AffectedEntities: []string{" Wallets "}, IngestedAt: base.Add(-time.Hour)}
		require.NoError(t, store.IngestDocument(ctx, ingested))

		got, err := store.GetDocument(ctx, "sec-trimmed")
		require.NoError(t, err)
		assert.Equal(t, []string{"Wallets"}, got.AffectedEntities)

		q := DocumentQuery{Keywords: []string{"mobile-wallets", "kyc-onboarding"}}
		fromPG, err := store.QueryDocuments(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, []string{"sec-raw", "sec-trimmed"}, models.CandidateSet(fromPG).IDs())

		raw := models.DocumentSummary{ID: "sec-raw", Tags: []string{"wallets  ", " kyc"}}
		assert.True(t, Matches(raw, q))
	})

	t.Run("missing document", func(t *testing.T) {
		_, err := store.GetDocument(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("profiles", func(t *testing.T) {
		p := &models.OrganizationProfile{ID: "org-1", Name: "Acme Pay", Industry: "fintech", Services: []string{"digital wallets"}}
		require.NoError(t, store.SaveProfile(ctx, p))

		got, err := store.GetProfile(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, "Acme Pay", got.Name)
		assert.Equal(t, []string{"digital wallets"}, got.Services)
		assert.Empty(t, got.Regulators)

		_, err = store.GetProfile(ctx, "org-2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("seed corpus", func(t *testing.T) {
		c := loadTestCorpus(t)
		stats, err := c.Seed(ctx, store, base)
		require.NoError(t, err)
		assert.Equal(t, SeedStats{Profiles: 2, Documents: 3}, stats)

		stats, err = c.Seed(ctx, store, base)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Skipped)

		got, err := store.QueryDocuments(ctx, DocumentQuery{Authorities: []string{"NDPC"}})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "ndpc-gaid-2025", got[0].ID)
	})

	t.Run("assessments", func(t *testing.T) {
		err := store.SaveAssessment(ctx, &models.PreAssessment{
			ID:              uuid.New().String(),
			RegulationID:    "cbn-pay",
			RegulationTitle: "Payments",
			AssessmentDate:  base,
			Questions:       []models.Question{{ID: "Q1", Text: "Do you?"}},
			GeneratedBy:     models.SourceOracle,
		})
		assert.NoError(t, err)
	})
}
