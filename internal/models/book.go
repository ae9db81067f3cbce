package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TagRead is the tag that marks a book as read
const TagRead = "read"

// Book is a read-only projection of a catalog book row with its aggregate columns
type Book struct {
	ID           int64           `json:"id"`
	Title        string          `json:"title"`
	Path         string          `json:"path"`
	HasCover     bool            `json:"has_cover"`
	PubDate      *time.Time      `json:"pubdate,omitempty"`
	LastModified time.Time       `json:"last_modified"`
	SeriesIndex  decimal.Decimal `json:"series_index"`

	// Aggregates over the link tables, delimiter-joined
	Authors string `json:"authors"`
	Series  string `json:"series,omitempty"`
	Tags    string `json:"tags,omitempty"`
	Formats string `json:"formats,omitempty"`

	ISBN     string  `json:"isbn,omitempty"`
	Comments string  `json:"comments,omitempty"`
	Rating   float64 `json:"rating"` // 0-5 stars
	Read     bool    `json:"read"`
}

// TagList splits the tag aggregate into individual tag names
func (b *Book) TagList() []string {
	return SplitAggregate(b.Tags, TagSeparator)
}

// FormatList splits the format aggregate into individual formats
func (b *Book) FormatList() []string {
	return SplitAggregate(b.Formats, FormatSeparator)
}

// Aggregate separators used by the catalog queries
const (
	AuthorSeparator = " & "
	TagSeparator    = ", "
	FormatSeparator = ","
)

// SplitAggregate tokenizes a delimiter-joined aggregate column
func SplitAggregate(value, sep string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BookFormat describes one stored file of a book
type BookFormat struct {
	Format string `json:"format"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SizeMB string `json:"size_mb"`
}

// Identifier is a typed external identifier (isbn, goodreads, amazon...)
type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// BookDetails bundles everything the edit page needs for one book
type BookDetails struct {
	Book        *Book        `json:"book"`
	Formats     []BookFormat `json:"formats"`
	Publisher   string       `json:"publisher,omitempty"`
	Languages   []string     `json:"languages,omitempty"`
	Identifiers []Identifier `json:"identifiers,omitempty"`
}

// Facet is a tag, series, author or publisher with its book count
type Facet struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}
