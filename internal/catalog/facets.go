package catalog

import (
	"context"

	"github.com/justyntemme/calibrewebui/internal/models"
	"github.com/justyntemme/calibrewebui/internal/storage"
)

// ListTags returns every tag with the number of books carrying it
func (c *Catalog) ListTags(ctx context.Context, page models.Page) ([]models.Facet, error) {
	return c.listFacet(ctx, c.schema.Tags, c.schema.BookTags, "tag", page)
}

// ListSeries returns every series with its book count
func (c *Catalog) ListSeries(ctx context.Context, page models.Page) ([]models.Facet, error) {
	return c.listFacet(ctx, c.schema.Series, c.schema.BookSeries, "series", page)
}

// ListAuthors returns every author with their book count
func (c *Catalog) ListAuthors(ctx context.Context, page models.Page) ([]models.Facet, error) {
	return c.listFacet(ctx, c.schema.Authors, c.schema.BookAuthors, "author", page)
}

// ListPublishers returns every publisher with its book count
func (c *Catalog) ListPublishers(ctx context.Context, page models.Page) ([]models.Facet, error) {
	return c.listFacet(ctx, c.schema.Publishers, c.schema.BookPubs, "publisher", page)
}

// listFacet counts links per entity in one grouped query. Entities without
// books are listed with a zero count.
func (c *Catalog) listFacet(ctx context.Context, entity, link *Table, linkColumn string, page models.Page) ([]models.Facet, error) {
	from := entity.Ref() + " e LEFT JOIN " + link.Ref() + " l ON " + link.Col("l", linkColumn) + " = " + entity.Col("e", "id")
	q := newSelect(from,
		entity.Col("e", "id"),
		entity.Col("e", "name"),
		"COUNT("+link.Col("l", "book")+")",
	).
		GroupBy(entity.Col("e", "id"), entity.Col("e", "name")).
		OrderBy(entity.Col("e", "name")+" COLLATE NOCASE", entity.Col("e", "id"))

	if page.Limit > 0 {
		number := page.Number
		if number < 1 {
			number = 1
		}
		q.Paginate(page.Limit, (number-1)*page.Limit)
	}

	query, args := q.SQL()
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Unavailable("list "+entity.Name, err)
	}
	defer rows.Close()

	facets := []models.Facet{}
	for rows.Next() {
		var f models.Facet
		if err := rows.Scan(&f.ID, &f.Name, &f.Count); err != nil {
			return nil, storage.Unavailable("scan "+entity.Name, err)
		}
		facets = append(facets, f)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("iterate "+entity.Name, err)
	}
	return facets, nil
}
