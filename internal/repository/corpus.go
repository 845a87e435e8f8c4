package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"regwatch-ai/backend/pkg/models"
)

// Corpus is a batch of documents and organization profiles read from a YAML
// seed file.
type Corpus struct {
	Profiles  []models.OrganizationProfile `yaml:"profiles"`
	Documents []models.Document            `yaml:"documents"`
}

// SeedStats counts what Seed wrote.
type SeedStats struct {
	Profiles  int
	Documents int
	Skipped   int
}

// LoadCorpus decodes a corpus and checks that every entry has an id.
func LoadCorpus(r io.Reader) (*Corpus, error) {
	var c Corpus
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode corpus: %w", err)
	}

	seen := make(map[string]bool, len(c.Documents))
	for i, d := range c.Documents {
		if d.ID == "" {
			return nil, fmt.Errorf("document %d: missing id", i)
		}
		if d.AuthorityCode == "" {
			return nil, fmt.Errorf("document %s: missing authority", d.ID)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("document %s: duplicate id", d.ID)
		}
		seen[d.ID] = true
	}
	for i, p := range c.Profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("profile %d: missing id", i)
		}
	}
	return &c, nil
}

// Seed writes the corpus into store. Profiles are upserted; documents that
// already exist are counted as skipped and left untouched. Documents without
// an ingestion time are stamped with now.
func (c *Corpus) Seed(ctx context.Context, store interface {
	DocumentStore
	ProfileStore
}, now time.Time) (SeedStats, error) {
	var stats SeedStats
	for i := range c.Profiles {
		if err := store.SaveProfile(ctx, &c.Profiles[i]); err != nil {
			return stats, fmt.Errorf("save profile %s: %w", c.Profiles[i].ID, err)
		}
		stats.Profiles++
	}
	for i := range c.Documents {
		doc := c.Documents[i]
		if doc.IngestedAt.IsZero() {
			doc.IngestedAt = now
		}
		err := store.IngestDocument(ctx, &doc)
		switch {
		case errors.Is(err, models.ErrDocumentExists):
			stats.Skipped++
		case err != nil:
			return stats, fmt.Errorf("ingest document %s: %w", doc.ID, err)
		default:
			stats.Documents++
		}
	}
	return stats, nil
}
