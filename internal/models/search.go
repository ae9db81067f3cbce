package models

import "strings"

// Scope narrows free-text search to a single attribute
type Scope string

const (
	ScopeNone    Scope = ""
	ScopeAuthors Scope = "authors"
	ScopeSeries  Scope = "series"
	ScopeTags    Scope = "tags"
)

// ParseScope maps a caller-supplied scope name to a Scope.
// Unknown values fall back to ScopeNone.
func ParseScope(s string) Scope {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeAuthors:
		return ScopeAuthors
	case ScopeSeries:
		return ScopeSeries
	case ScopeTags:
		return ScopeTags
	default:
		return ScopeNone
	}
}

// SearchRequest describes a book search
type SearchRequest struct {
	Text    string
	Scope   Scope
	Page    int
	Limit   int      // <= 0 means unlimited
	Formats []string // OR across formats, case-insensitive

	// TagFilter is an extra include/exclude tag expression applied on top of
	// Text/Scope. Devices use it to restrict their feed.
	TagFilter string
}

// Offset returns the row offset for the requested page
func (r SearchRequest) Offset() int {
	if r.Limit <= 0 || r.Page <= 1 {
		return 0
	}
	return (r.Page - 1) * r.Limit
}

// Page is an optional pagination window for facet listings
type Page struct {
	Number int
	Limit  int // <= 0 means unlimited
}

// TagExpr is a parsed tag filter: every Include tag and none of the Exclude tags
type TagExpr struct {
	Include []string
	Exclude []string
}

// Empty reports whether the expression filters nothing
func (e TagExpr) Empty() bool {
	return len(e.Include) == 0 && len(e.Exclude) == 0
}

// ParseTagExpr parses a comma-separated tag list where a leading '-' excludes the tag.
// Tokens are lower-cased; empty tokens are ignored.
func ParseTagExpr(s string) TagExpr {
	var expr TagExpr
	for _, tok := range strings.Split(s, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		if strings.HasPrefix(tok, "-") {
			if name := strings.TrimSpace(tok[1:]); name != "" {
				expr.Exclude = append(expr.Exclude, name)
			}
			continue
		}
		expr.Include = append(expr.Include, tok)
	}
	return expr
}
