package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"regwatch-ai/backend/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var summaryColumns = []string{
	"id", "authority_code", "title", "summary", "tags", "affected_entities", "ingested_at",
}

// trimmedTag strips the ASCII whitespace strings.TrimSpace removes, for rows
// written before tags were trimmed on ingest.
const trimmedTag = `btrim(t, E' \t\n\r\f\013')`

// normalizedTag mirrors normalize() in SQL.
const normalizedTag = "replace(replace(lower(" + trimmedTag + "), '_', '-'), ' ', '-')"

// PostgresStore is a PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables used by the store if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// QueryDocuments returns summaries matching q, newest first. The SQL
// predicate mirrors Matches so both stores select the same documents.
func (s *PostgresStore) QueryDocuments(ctx context.Context, q DocumentQuery) ([]models.DocumentSummary, error) {
	results := []models.DocumentSummary{}
	if q.Empty() {
		return results, nil
	}

	where := sq.Or{}
	if len(q.Authorities) > 0 {
		codes := make([]string, 0, len(q.Authorities))
		for _, c := range q.Authorities {
			codes = append(codes, strings.ToUpper(strings.TrimSpace(c)))
		}
		where = append(where, sq.Expr("upper(authority_code) = ANY(?)", codes))
	}
	if len(q.Keywords) > 0 {
		patterns := make([]string, 0, len(q.Keywords))
		keywords := make([]string, 0, len(q.Keywords))
		for _, kw := range q.Keywords {
			kw = normalize(kw)
			if kw == "" {
				continue
			}
			patterns = append(patterns, "%"+kw+"%")
			keywords = append(keywords, kw)
		}
		if len(patterns) > 0 {
			where = append(where, sq.Expr(
				"EXISTS (SELECT 1 FROM unnest(tags || affected_entities) AS t WHERE "+
					normalizedTag+" LIKE ANY(?) OR (length("+trimmedTag+") >= ? AND EXISTS ("+
					"SELECT 1 FROM unnest(?::text[]) AS k WHERE strpos(k, "+normalizedTag+") > 0)))",
				patterns, minReverseMatchLen, keywords,
			))
		}
	}

	query, args, err := psql.Select(summaryColumns...).
		From("documents").
		Where(where).
		OrderBy("ingested_at DESC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d models.DocumentSummary
		if err := rows.Scan(&d.ID, &d.AuthorityCode, &d.Title, &d.Summary, &d.Tags, &d.AffectedEntities, &d.IngestedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return results, nil
}

// GetDocument retrieves a document by its ID.
func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	query, args, err := psql.Select(
		"id", "version", "authority_code", "title", "summary", "tags", "affected_entities",
		"full_text", "compliance_deadline", "standards", "ingested_at",
	).From("documents").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var d models.Document
	err = s.db.QueryRow(ctx, query, args...).Scan(
		&d.ID, &d.Version, &d.AuthorityCode, &d.Title, &d.Summary, &d.Tags, &d.AffectedEntities,
		&d.FullText, &d.ComplianceDeadline, &d.Standards, &d.IngestedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &d, nil
}

// IngestDocument inserts a new document; an existing id is reported as
// models.ErrDocumentExists.
func (s *PostgresStore) IngestDocument(ctx context.Context, doc *models.Document) error {
	version := doc.Version
	if version == 0 {
		version = 1
	}
	query, args, err := psql.Insert("documents").
		Columns("id", "version", "authority_code", "title", "summary", "tags", "affected_entities",
			"full_text", "compliance_deadline", "standards", "ingested_at").
		Values(doc.ID, version, doc.AuthorityCode, doc.Title, doc.Summary, nonNil(trimTags(doc.Tags)), nonNil(trimTags(doc.AffectedEntities)),
			doc.FullText, doc.ComplianceDeadline, nonNil(doc.Standards), doc.IngestedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.ErrDocumentExists
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetProfile retrieves an organization profile by its ID.
func (s *PostgresStore) GetProfile(ctx context.Context, id string) (*models.OrganizationProfile, error) {
	var p models.OrganizationProfile
	err := s.db.QueryRow(ctx, `SELECT id, name, industry, business_category, business_sub_category,
		description, services, country, regulators FROM organization_profiles WHERE id = $1`, id).Scan(
		&p.ID, &p.Name, &p.Industry, &p.BusinessCategory, &p.BusinessSubCategory,
		&p.Description, &p.Services, &p.Country, &p.Regulators,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// SaveProfile upserts an organization profile.
func (s *PostgresStore) SaveProfile(ctx context.Context, p *models.OrganizationProfile) error {
	_, err := s.db.Exec(ctx, `INSERT INTO organization_profiles
		(id, name, industry, business_category, business_sub_category, description, services, country, regulators)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			industry = EXCLUDED.industry,
			business_category = EXCLUDED.business_category,
			business_sub_category = EXCLUDED.business_sub_category,
			description = EXCLUDED.description,
			services = EXCLUDED.services,
			country = EXCLUDED.country,
			regulators = EXCLUDED.regulators`,
		p.ID, p.Name, p.Industry, p.BusinessCategory, p.BusinessSubCategory, p.Description,
		nonNil(p.Services), p.Country, nonNil(p.Regulators),
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// SaveAssessment inserts a generated pre-assessment.
func (s *PostgresStore) SaveAssessment(ctx context.Context, a *models.PreAssessment) error {
	_, err := s.db.Exec(ctx, `INSERT INTO pre_assessments
		(id, organization_id, regulation_id, regulation_title, assessment_date, questions, assessment_score, generated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.OrganizationID, a.RegulationID, a.RegulationTitle, a.AssessmentDate, a.Questions,
		a.AssessmentScore, string(a.GeneratedBy),
	)
	if err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
