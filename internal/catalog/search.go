package catalog

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/justyntemme/calibrewebui/internal/models"
	"github.com/justyntemme/calibrewebui/internal/storage"
)

// Search returns one page of books matching req.
//
// Without a scope the text matches title or authors and results are ordered
// most-recently-modified first. The series scope orders by series index so a
// series reads in volume order. The tags scope treats the text as an
// include/exclude tag expression. Limit clamping is left to the caller.
func (c *Catalog) Search(ctx context.Context, req models.SearchRequest) ([]models.Book, error) {
	query, args := c.buildSearch(req).SQL()

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Unavailable("search books", err)
	}
	defer rows.Close()

	books := []models.Book{}
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, storage.Unavailable("scan book", err)
		}
		books = append(books, *book)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("iterate books", err)
	}

	c.logger.Debug("search",
		zap.String("text", req.Text),
		zap.String("scope", string(req.Scope)),
		zap.Int("page", req.Page),
		zap.Int("limit", req.Limit),
		zap.Int("results", len(books)),
	)
	return books, nil
}

func (c *Catalog) buildSearch(req models.SearchRequest) *selectQuery {
	b := c.schema.Books
	q := newSelect(c.expr.from, c.expr.columns...)
	text := strings.TrimSpace(req.Text)

	switch req.Scope {
	case models.ScopeAuthors:
		if text != "" {
			q.Where(fold(c.expr.authors)+" LIKE ? ESCAPE '\\'", likeContains(text))
		}
	case models.ScopeSeries:
		if text != "" {
			q.Where(fold(c.expr.series)+" LIKE ? ESCAPE '\\'", likeContains(text))
		}
	case models.ScopeTags:
		c.whereTags(q, models.ParseTagExpr(text))
	default:
		if text != "" {
			pattern := likeContains(text)
			q.Where("("+fold(b.Col("b", "title"))+" LIKE ? ESCAPE '\\' OR "+fold(c.expr.authors)+" LIKE ? ESCAPE '\\')",
				pattern, pattern)
		}
	}

	if req.TagFilter != "" {
		c.whereTags(q, models.ParseTagExpr(req.TagFilter))
	}

	if formats := normalizeFormats(req.Formats); len(formats) > 0 {
		args := make([]any, len(formats))
		for i, f := range formats {
			args[i] = f
		}
		q.Where(c.expr.hasFormat(len(formats)), args...)
	}

	// The id tie-break keeps pages disjoint when timestamps collide
	if req.Scope == models.ScopeSeries {
		q.OrderBy(b.Col("b", "series_index")+" ASC", b.Col("b", "id")+" ASC")
	} else {
		q.OrderBy(b.Col("b", "last_modified")+" DESC", b.Col("b", "id")+" DESC")
	}

	return q.Paginate(req.Limit, req.Offset())
}

// whereTags adds one EXISTS per included tag and one NOT EXISTS per excluded tag
func (c *Catalog) whereTags(q *selectQuery, expr models.TagExpr) {
	for _, tag := range expr.Include {
		q.Where(c.expr.hasTag, tag)
	}
	for _, tag := range expr.Exclude {
		q.Where("NOT "+c.expr.hasTag, tag)
	}
}

func normalizeFormats(formats []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, f := range formats {
		f = strings.ToUpper(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
