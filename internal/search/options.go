package search

import (
	"sort"
	"strings"

	"github.com/katanaquant/ragkb/internal/store"
)

// Score adjustment constants for ranking optimization.
const (
	// BoilerplatePenalty reduces scores for chunks that look like front/back
	// matter rather than substantive content.
	BoilerplatePenalty = 0.5

	// ArchivalPathPenalty reduces scores for documents living under an
	// archive/draft/deprecated directory.
	ArchivalPathPenalty = 0.6

	// CanonicalPathBoost increases scores for documents outside any
	// archive/draft/deprecated directory.
	CanonicalPathBoost = 1.3

	// minContentWords is the shortest a non-code chunk can be before it's
	// treated as boilerplate (a page header, footer, or TOC line).
	minContentWords = 12
)

// FilterFunc checks if a search result matches filter criteria.
type FilterFunc func(result *SearchResult) bool

// ApplyFilters filters results based on search options.
// Filters use AND logic - results must match all specified criteria.
func ApplyFilters(results []*SearchResult, opts SearchOptions) []*SearchResult {
	if opts.Filter == "all" && opts.Language == "" && opts.SymbolType == "" && len(opts.Scopes) == 0 {
		return results
	}

	filters := buildFilters(opts)
	if len(filters) == 0 {
		return results
	}

	filtered := make([]*SearchResult, 0, len(results))
	for _, r := range results {
		if matchesAllFilters(r, filters) {
			filtered = append(filtered, r)
		}
	}

	return filtered
}

// buildFilters creates filter functions based on options.
func buildFilters(opts SearchOptions) []FilterFunc {
	var filters []FilterFunc

	// Content type filter
	if opts.Filter != "" && opts.Filter != "all" {
		filters = append(filters, contentTypeFilter(opts.Filter))
	}

	// Language filter
	if opts.Language != "" {
		filters = append(filters, languageFilter(opts.Language))
	}

	// Symbol type filter
	if opts.SymbolType != "" {
		filters = append(filters, symbolTypeFilter(opts.SymbolType))
	}

	// Scope filter
	if len(opts.Scopes) > 0 {
		filters = append(filters, scopeFilter(opts.Scopes))
	}

	return filters
}

// matchesAllFilters checks if a result passes all filters (AND logic).
func matchesAllFilters(result *SearchResult, filters []FilterFunc) bool {
	for _, f := range filters {
		if !f(result) {
			return false
		}
	}
	return true
}

// contentTypeFilter creates a filter for content type.
func contentTypeFilter(filter string) FilterFunc {
	return func(r *SearchResult) bool {
		if r.Chunk == nil {
			return false
		}

		switch filter {
		case "code":
			return r.Chunk.ContentType == store.ContentTypeCode
		case "docs":
			return r.Chunk.ContentType == store.ContentTypeMarkdown ||
				r.Chunk.ContentType == store.ContentTypeText
		default:
			return true
		}
	}
}

// languageFilter creates a filter for programming language.
func languageFilter(lang string) FilterFunc {
	return func(r *SearchResult) bool {
		if r.Chunk == nil {
			return false
		}
		return r.Chunk.Language == lang
	}
}

// symbolTypeFilter creates a filter for symbol type.
func symbolTypeFilter(symbolType string) FilterFunc {
	return func(r *SearchResult) bool {
		if r.Chunk == nil || len(r.Chunk.Symbols) == 0 {
			return false
		}

		targetType := store.SymbolType(symbolType)
		for _, s := range r.Chunk.Symbols {
			if s.Type == targetType {
				return true
			}
		}
		return false
	}
}

// ValidateOptions checks if search options are valid.
func ValidateOptions(opts SearchOptions) error {
	// Validate filter value
	switch opts.Filter {
	case "", "all", "code", "docs":
		// Valid
	default:
		// Accept unknown filters but treat as "all"
	}

	return nil
}

// NormalizeScope ensures consistent path format for matching.
// Strips leading and trailing slashes.
func NormalizeScope(scope string) string {
	return strings.Trim(scope, "/")
}

// scopeFilter creates a filter for path scope prefixes.
// Multiple scopes use OR logic - matches if path starts with ANY scope.
func scopeFilter(scopes []string) FilterFunc {
	// Pre-normalize all scopes once for performance
	// Add trailing slash to ensure directory boundary matching
	// e.g., "services/api" becomes "services/api/" to avoid matching "services/api-v2"
	normalized := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if n := NormalizeScope(s); n != "" {
			normalized = append(normalized, n+"/")
		}
	}

	// If no valid scopes after normalization, match everything
	if len(normalized) == 0 {
		return func(*SearchResult) bool { return true }
	}

	return func(r *SearchResult) bool {
		if r.Chunk == nil {
			return false
		}
		// Normalize file path and add trailing slash for consistent matching
		filePath := NormalizeScope(r.Chunk.FilePath) + "/"
		for _, scope := range normalized {
			if strings.HasPrefix(filePath, scope) {
				return true
			}
		}
		return false
	}
}

// boilerplateBasenames are file stems that are almost always front/back
// matter rather than content, whatever their extension.
var boilerplateBasenames = map[string]bool{
	"cover": true, "coverpage": true, "toc": true, "tableofcontents": true,
	"copyright": true, "license": true, "colophon": true,
	"acknowledgements": true, "acknowledgments": true,
}

// ApplyBoilerplatePenalty adjusts scores to deprioritize low-information
// chunks such as cover pages, tables of contents, and copyright notices.
// These turn up often in PDF/DOCX extraction and repeat a handful of terms
// densely enough to outrank substantive chunks for the same query.
func ApplyBoilerplatePenalty(results []*SearchResult) []*SearchResult {
	if len(results) == 0 {
		return results
	}

	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		if IsBoilerplateChunk(r.Chunk) {
			r.Score *= BoilerplatePenalty
		}
	}

	// Re-sort by adjusted score (descending)
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results
}

// IsBoilerplateChunk reports whether a chunk looks like front/back matter
// rather than substantive content: its file is named like a common
// boilerplate section, or the chunk is too short to carry meaning (a page
// header, footer, or table-of-contents line pulled out of a PDF/DOCX page).
func IsBoilerplateChunk(c *store.Chunk) bool {
	if c == nil {
		return false
	}
	if isBoilerplateBasename(c.FilePath) {
		return true
	}
	if c.ContentType != store.ContentTypeCode && len(strings.Fields(c.Content)) < minContentWords {
		return true
	}
	return false
}

func isBoilerplateBasename(filePath string) bool {
	base := filePath
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.LastIndex(base, "."); idx >= 0 {
		base = base[:idx]
	}
	return boilerplateBasenames[strings.ToLower(base)]
}

// archivalPathSegments names directory components that mark a document as
// superseded, draft, or otherwise not the current version.
var archivalPathSegments = map[string]bool{
	"archive": true, "archived": true, "deprecated": true, "draft": true,
	"drafts": true, "backup": true, "backups": true, "old": true, "superseded": true,
}

// ApplyArchivalPenalty adjusts scores based on file path to prioritize
// current documents over archived, deprecated, or draft copies.
//
// Knowledge bases accumulate superseded material over time (old policy
// revisions, draft specs, archived reports) that otherwise ranks alongside
// the current version purely on term overlap.
func ApplyArchivalPenalty(results []*SearchResult) []*SearchResult {
	if len(results) == 0 {
		return results
	}

	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		if IsArchivalPath(r.Chunk.FilePath) {
			r.Score *= ArchivalPathPenalty
		} else {
			r.Score *= CanonicalPathBoost
		}
	}

	// Re-sort by adjusted score (descending)
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results
}

// IsArchivalPath checks if a path lives under an archive/draft/deprecated directory.
func IsArchivalPath(filePath string) bool {
	parts := strings.Split(filePath, "/")
	if len(parts) <= 1 {
		return false
	}
	for _, seg := range parts[:len(parts)-1] {
		if archivalPathSegments[strings.ToLower(seg)] {
			return true
		}
	}
	return false
}
