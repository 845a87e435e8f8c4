// Package models defines the domain models for the RegWatch matching service
package models

import (
	"errors"
	"time"
)

// ErrDocumentExists is returned when a document id is ingested twice.
// Documents are write-once; a revised circular is ingested under a new id.
var ErrDocumentExists = errors.New("document already ingested")

// Document is a regulatory circular as ingested into the corpus.
type Document struct {
	ID                 string     `json:"id" db:"id" yaml:"id"`
	Version            int        `json:"version" db:"version" yaml:"version"`
	AuthorityCode      string     `json:"authority_code" db:"authority_code" yaml:"authority"`
	Title              string     `json:"title" db:"title" yaml:"title"`
	Summary            string     `json:"summary" db:"summary" yaml:"summary"`
	Tags               []string   `json:"tags" db:"tags" yaml:"tags"`
	AffectedEntities   []string   `json:"affected_entities,omitempty" db:"affected_entities" yaml:"affected_entities"`
	FullText           string     `json:"-" db:"full_text" yaml:"full_text"`
	ComplianceDeadline *time.Time `json:"compliance_deadline,omitempty" db:"compliance_deadline" yaml:"compliance_deadline"`
	Standards          []string   `json:"standards,omitempty" db:"standards" yaml:"standards"`
	IngestedAt         time.Time  `json:"ingested_at" db:"ingested_at" yaml:"ingested_at"`
}

// DocumentSummary is the projection returned by corpus queries. It omits the
// full text, which is only loaded for the documents that reach the oracle.
type DocumentSummary struct {
	ID               string    `json:"id"`
	AuthorityCode    string    `json:"authority_code"`
	Title            string    `json:"title"`
	Summary          string    `json:"summary"`
	Tags             []string  `json:"tags"`
	AffectedEntities []string  `json:"affected_entities,omitempty"`
	IngestedAt       time.Time `json:"ingested_at"`
}

// Summarize returns the query projection of d.
func (d *Document) Summarize() DocumentSummary {
	return DocumentSummary{
		ID:               d.ID,
		AuthorityCode:    d.AuthorityCode,
		Title:            d.Title,
		Summary:          d.Summary,
		Tags:             d.Tags,
		AffectedEntities: d.AffectedEntities,
		IngestedAt:       d.IngestedAt,
	}
}

// CandidateSet is the ordered, de-duplicated output of the candidate filter.
type CandidateSet []DocumentSummary

// IDs returns the document identifiers in candidate order.
func (c CandidateSet) IDs() []string {
	ids := make([]string, len(c))
	for i, d := range c {
		ids[i] = d.ID
	}
	return ids
}
