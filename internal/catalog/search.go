// Package catalog answers free-text product lookups against the product
// catalog. Lookups degrade to an empty result instead of failing the caller.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"support-agent/internal/domain"
)

const (
	// MaxResults bounds every search.
	MaxResults    = 10
	minKeywordLen = 2
)

// Finder runs the keyword query against the catalog collaborator.
type Finder interface {
	FindByKeywords(ctx context.Context, keywords []string, limit int) ([]domain.CatalogEntry, error)
}

// Searcher turns user text into keywords and queries the Finder.
type Searcher struct {
	finder   Finder
	currency string
	logger   *slog.Logger
}

// NewSearcher creates a Searcher. currency is kept during keyword extraction
// so price mentions like "₹500" survive as a single token.
func NewSearcher(f Finder, currency string, logger *slog.Logger) (*Searcher, error) {
	if f == nil {
		return nil, errors.New("catalog: finder must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{finder: f, currency: currency, logger: logger}, nil
}

// Search returns at most MaxResults entries whose name contains any keyword
// of text, in the order the finder returned them. Finder failures are logged
// and reported as no results.
func (s *Searcher) Search(ctx context.Context, text string) []domain.CatalogEntry {
	keywords := ExtractKeywords(text, s.currency)
	if len(keywords) == 0 {
		return []domain.CatalogEntry{}
	}

	entries, err := s.finder.FindByKeywords(ctx, keywords, MaxResults)
	if err != nil {
		s.logger.ErrorContext(ctx, "catalog search failed", "err", err, "keywords", len(keywords))
		return []domain.CatalogEntry{}
	}
	if len(entries) > MaxResults {
		entries = entries[:MaxResults]
	}
	if entries == nil {
		entries = []domain.CatalogEntry{}
	}
	return entries
}

// ExtractKeywords lowercases text, blanks every rune outside
// [a-z0-9 $ , .], whitespace and the currency symbol, and returns the distinct
// tokens of at least two runes in first-seen order.
func ExtractKeywords(text, currency string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if keepRune(r) || (currency != "" && strings.ContainsRune(currency, r)) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte(' ')
	}

	var (
		keywords []string
		seen     = map[string]struct{}{}
	)
	for _, tok := range strings.Fields(b.String()) {
		if utf8.RuneCountInString(tok) < minKeywordLen {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
	}
	return keywords
}

func keepRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '$', r == ',', r == '.':
		return true
	default:
		return unicode.IsSpace(r)
	}
}
