package oracle

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"regwatch-ai/backend/pkg/models"
)

// DefaultMaxTextChars is the full-text budget of one oracle request.
const DefaultMaxTextChars = 15000

// TruncationMarker is appended to full text cut at the budget.
const TruncationMarker = "[Text truncated]"

var (
	htmlTag    = regexp.MustCompile(`(?i)<(p|div|br|table|li|h[1-6]|html|body|span)[\s/>]`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// Payload is the bounded text sent to the oracle for one document.
type Payload struct {
	Title     string
	Summary   string
	Text      string
	Truncated bool
}

// BuildPayload flattens the document's full text and truncates it to
// maxChars characters. A nil document yields an empty payload.
func BuildPayload(doc *models.Document, maxChars int) Payload {
	if doc == nil {
		return Payload{}
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxTextChars
	}

	text := PlainText(doc.FullText)
	p := Payload{Title: doc.Title, Summary: doc.Summary, Text: text}

	runes := []rune(text)
	if len(runes) > maxChars {
		p.Text = string(runes[:maxChars]) + "\n\n" + TruncationMarker
		p.Truncated = true
	}
	return p
}

// PlainText converts HTML circular text to plain text. Text that does not look
// like HTML is returned trimmed but otherwise unchanged.
func PlainText(raw string) string {
	if !htmlTag.MatchString(raw) {
		return strings.TrimSpace(raw)
	}

	dom, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	dom.Find("script, style, head").Remove()
	dom.Find("br, p, div, li, tr, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	lines := strings.Split(dom.Text(), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text := strings.Join(lines, "\n")
	return strings.TrimSpace(blankLines.ReplaceAllString(text, "\n\n"))
}
