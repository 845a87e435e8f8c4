package repository

import (
	"context"
	"errors"

	"regwatch-ai/backend/pkg/models"
)

// ErrNotFound is returned when a document or profile id does not resolve.
var ErrNotFound = errors.New("not found")

// DocumentQuery is the structural predicate used to narrow the corpus.
// A document matches when its authority is one of Authorities, or when one of
// its tags or affected entities matches one of Keywords.
type DocumentQuery struct {
	Authorities []string
	Keywords    []string
}

// Empty reports whether the query has no predicate at all.
func (q DocumentQuery) Empty() bool {
	return len(q.Authorities) == 0 && len(q.Keywords) == 0
}

// DocumentStore is the read side of the regulatory corpus plus ingestion.
type DocumentStore interface {
	// QueryDocuments returns summaries matching q, newest first.
	QueryDocuments(ctx context.Context, q DocumentQuery) ([]models.DocumentSummary, error)
	// GetDocument returns the full document, including its text.
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// IngestDocument stores a new document. Existing ids are never overwritten.
	IngestDocument(ctx context.Context, doc *models.Document) error
}

// ProfileStore reads organization profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*models.OrganizationProfile, error)
	SaveProfile(ctx context.Context, profile *models.OrganizationProfile) error
}

// AssessmentStore persists generated pre-assessments.
type AssessmentStore interface {
	SaveAssessment(ctx context.Context, assessment *models.PreAssessment) error
}

// Store is the full persistence surface used by the server.
type Store interface {
	DocumentStore
	ProfileStore
	AssessmentStore
	Ping(ctx context.Context) error
}
