// Package filter narrows the regulatory corpus to the candidate documents for
// an organization before any oracle call is made.
package filter

import (
	"context"
	"errors"
	"sort"
	"strings"

	"regwatch-ai/backend/internal/apperrors"
	"regwatch-ai/backend/internal/logging"
	"regwatch-ai/backend/internal/repository"
	"regwatch-ai/backend/pkg/models"
)

// Filter is the deterministic structural stage of the pipeline.
type Filter struct {
	store  repository.DocumentStore
	logger *logging.Logger
}

// New creates a Filter over store.
func New(store repository.DocumentStore, logger *logging.Logger) *Filter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Filter{store: store, logger: logger.With("component", "filter")}
}

// Query builds the store predicate for a profile and its regulators.
func Query(profile *models.OrganizationProfile, regulators []string) repository.DocumentQuery {
	authorities := make([]string, 0, len(regulators))
	seen := make(map[string]bool)
	for _, code := range regulators {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		authorities = append(authorities, code)
	}
	sort.Strings(authorities)

	return repository.DocumentQuery{
		Authorities: authorities,
		Keywords:    Keywords(profile),
	}
}

// Candidates returns every document whose authority is one of regulators or
// whose tags match the profile's keyword families. Each document appears once,
// newest first, with the id breaking timestamp ties.
//
// An empty result is a valid answer and is returned as an empty, non-nil set.
func (f *Filter) Candidates(ctx context.Context, profile *models.OrganizationProfile, regulators []string) (models.CandidateSet, error) {
	q := Query(profile, regulators)
	if q.Empty() {
		f.logger.Debug("profile yields no predicate")
		return models.CandidateSet{}, nil
	}

	summaries, err := f.store.QueryDocuments(ctx, q)
	if err != nil {
		return nil, apperrors.StoreUnavailable("query documents", err)
	}

	seen := make(map[string]bool, len(summaries))
	candidates := make(models.CandidateSet, 0, len(summaries))
	for _, doc := range summaries {
		if seen[doc.ID] || !repository.Matches(doc, q) {
			continue
		}
		seen[doc.ID] = true
		candidates = append(candidates, doc)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].IngestedAt.Equal(candidates[j].IngestedAt) {
			return candidates[i].IngestedAt.After(candidates[j].IngestedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	f.logger.Debug("candidates selected",
		"authorities", q.Authorities,
		"keywords", len(q.Keywords),
		"returned", len(summaries),
		"candidates", len(candidates),
	)
	return candidates, nil
}

// Single resolves a document named by a trigger. An unknown id is a
// validation failure; any other store error is fatal to the run.
func (f *Filter) Single(ctx context.Context, documentID string) (*models.Document, error) {
	doc, err := f.store.GetDocument(ctx, documentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("document_id", documentID)
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable("get document", err)
	}
	return doc, nil
}
