package repository

import (
	"strings"

	"regwatch-ai/backend/pkg/models"
)

// minReverseMatchLen is the shortest tag that may match by being contained in
// a keyword. Shorter tags ("ai", "kyc") would match almost anything.
const minReverseMatchLen = 4

// Matches applies q to a document summary. Matching is case-insensitive; a
// tag matches a keyword when either contains the other.
func Matches(doc models.DocumentSummary, q DocumentQuery) bool {
	for _, code := range q.Authorities {
		if strings.EqualFold(strings.TrimSpace(code), strings.TrimSpace(doc.AuthorityCode)) {
			return true
		}
	}
	if len(q.Keywords) == 0 {
		return false
	}
	for _, field := range [][]string{doc.Tags, doc.AffectedEntities} {
		for _, raw := range field {
			tag := normalize(raw)
			if tag == "" {
				continue
			}
			for _, kw := range q.Keywords {
				kw = normalize(kw)
				if kw == "" {
					continue
				}
				if strings.Contains(tag, kw) {
					return true
				}
				if len(tag) >= minReverseMatchLen && strings.Contains(kw, tag) {
					return true
				}
			}
		}
	}
	return false
}

// normalize lower-cases s and folds separators so "Data Protection",
// "data-protection" and "data_protection" compare equal.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "-", " ", "-").Replace(s)
}

// trimTags trims surrounding whitespace from each value and drops the ones
// left empty. Tags and affected entities are stored this way.
func trimTags(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
