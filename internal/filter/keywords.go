package filter

import (
	"sort"
	"strings"
	"unicode"

	"regwatch-ai/backend/pkg/models"
)

// minKeywordLen drops short words ("and", "the", "for") from profile text.
const minKeywordLen = 4

// synonyms expands a profile word into the tag vocabulary used by the corpus.
// Keys are matched after lower-casing.
var synonyms = map[string][]string{
	"fintech":      {"payments", "digital-payments", "e-money", "mobile-money", "data-protection"},
	"wallet":       {"payments", "e-money"},
	"wallets":      {"payments", "e-money"},
	"payment":      {"payments"},
	"payments":     {"payments", "digital-payments"},
	"transfer":     {"payments"},
	"transfers":    {"payments"},
	"bank":         {"banking", "deposits", "aml"},
	"banking":      {"banking", "deposits", "aml"},
	"microfinance": {"microfinance", "banking", "deposits"},
	"deposit":      {"deposits", "deposit-insurance"},
	"deposits":     {"deposits", "deposit-insurance"},
	"lending":      {"lending", "credit", "consumer-protection"},
	"loan":         {"lending", "credit"},
	"loans":        {"lending", "credit"},
	"credit":       {"credit", "lending"},
	"remittance":   {"remittance", "foreign-exchange", "payments"},
	"remittances":  {"remittance", "foreign-exchange", "payments"},
	"investment":   {"investments", "capital-markets", "securities"},
	"investments":  {"investments", "capital-markets", "securities"},
	"securities":   {"securities", "capital-markets"},
	"crypto":       {"virtual-assets", "digital-assets", "securities"},
	"insurance":    {"insurance", "insurtech"},
	"insurtech":    {"insurance", "insurtech"},
	"data":         {"data-protection", "privacy"},
	"privacy":      {"data-protection", "privacy"},
	"consumer":     {"consumer-protection"},
	"consumers":    {"consumer-protection"},
}

// Keywords derives the keyword families of a profile: the industry, business
// category and sub-category, and each declared service, both as whole
// phrases and split into words, expanded through the synonym table.
// The result is de-duplicated and sorted.
func Keywords(profile *models.OrganizationProfile) []string {
	if profile == nil {
		return []string{}
	}

	phrases := []string{profile.Industry, profile.BusinessCategory, profile.BusinessSubCategory}
	phrases = append(phrases, profile.Services...)

	set := make(map[string]struct{})
	add := func(kw string) {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if len(kw) >= minKeywordLen {
			set[kw] = struct{}{}
		}
	}

	for _, phrase := range phrases {
		add(phrase)
		for _, word := range strings.FieldsFunc(phrase, isSeparator) {
			add(word)
			for _, syn := range synonyms[strings.ToLower(word)] {
				add(syn)
			}
		}
	}

	keywords := make([]string, 0, len(set))
	for kw := range set {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)
	return keywords
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
}
