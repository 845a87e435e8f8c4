package repository

import (
	"context"
	"sort"
	"sync"

	"regwatch-ai/backend/pkg/models"
)

// MemoryStore is an in-process Store used for development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	documents   map[string]*models.Document
	profiles    map[string]*models.OrganizationProfile
	assessments []*models.PreAssessment
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]*models.Document),
		profiles:  make(map[string]*models.OrganizationProfile),
	}
}

// QueryDocuments returns summaries matching q, newest first.
func (s *MemoryStore) QueryDocuments(ctx context.Context, q DocumentQuery) ([]models.DocumentSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := []models.DocumentSummary{}
	if q.Empty() {
		return results, nil
	}
	for _, doc := range s.documents {
		summary := doc.Summarize()
		if Matches(summary, q) {
			results = append(results, summary)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if !results[i].IngestedAt.Equal(results[j].IngestedAt) {
			return results[i].IngestedAt.After(results[j].IngestedAt)
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

// GetDocument retrieves a document by its ID.
func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *doc
	return &clone, nil
}

// IngestDocument stores doc unless its id already exists.
func (s *MemoryStore) IngestDocument(ctx context.Context, doc *models.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[doc.ID]; ok {
		return models.ErrDocumentExists
	}
	clone := *doc
	if clone.Version == 0 {
		clone.Version = 1
	}
	clone.Tags = trimTags(doc.Tags)
	clone.AffectedEntities = trimTags(doc.AffectedEntities)
	s.documents[doc.ID] = &clone
	return nil
}

// GetProfile retrieves an organization profile by its ID.
func (s *MemoryStore) GetProfile(ctx context.Context, id string) (*models.OrganizationProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *p
	return &clone, nil
}

// SaveProfile inserts or replaces a profile.
func (s *MemoryStore) SaveProfile(ctx context.Context, profile *models.OrganizationProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *profile
	s.profiles[profile.ID] = &clone
	return nil
}

// SaveAssessment appends a pre-assessment.
func (s *MemoryStore) SaveAssessment(ctx context.Context, assessment *models.PreAssessment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *assessment
	s.assessments = append(s.assessments, &clone)
	return nil
}

// Assessments returns the stored pre-assessments in insertion order.
func (s *MemoryStore) Assessments() []*models.PreAssessment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*models.PreAssessment(nil), s.assessments...)
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
