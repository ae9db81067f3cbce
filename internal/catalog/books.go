package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/justyntemme/calibrewebui/internal/models"
	"github.com/justyntemme/calibrewebui/internal/storage"
)

// scanBook scans a row produced by expressions.columns
func scanBook(scanner interface{ Scan(dest ...any) error }) (*models.Book, error) {
	var (
		book         models.Book
		hasCover     int
		pubdate      sql.NullString
		lastModified sql.NullString
		seriesIndex  decimal.NullDecimal
		authors      sql.NullString
		series       sql.NullString
		tags         sql.NullString
		formats      sql.NullString
		isbn         sql.NullString
		comments     sql.NullString
		rating       sql.NullInt64
		read         int
	)

	err := scanner.Scan(
		&book.ID,
		&book.Title,
		&book.Path,
		&hasCover,
		&pubdate,
		&lastModified,
		&seriesIndex,
		&authors,
		&series,
		&tags,
		&formats,
		&isbn,
		&comments,
		&rating,
		&read,
	)
	if err != nil {
		return nil, err
	}

	book.HasCover = hasCover != 0
	book.PubDate = parseCalibreTime(pubdate.String)
	if t := parseCalibreTime(lastModified.String); t != nil {
		book.LastModified = *t
	}
	if seriesIndex.Valid {
		book.SeriesIndex = seriesIndex.Decimal
	}
	book.Authors = authors.String
	book.Series = series.String
	book.Tags = tags.String
	book.Formats = formats.String
	book.ISBN = isbn.String
	book.Comments = comments.String
	book.Rating = float64(rating.Int64) / 2
	book.Read = read != 0

	return &book, nil
}

var calibreTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseCalibreTime parses calibre's timestamp text. Calibre stores an
// undefined date as year 101; that and unparsable values yield nil.
func parseCalibreTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range calibreTimeLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() <= 101 {
			return nil
		}
		t = t.UTC()
		return &t
	}
	return nil
}

// GetBook returns one book projection, or storage.ErrNotFound
func (c *Catalog) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	q := newSelect(c.expr.from, c.expr.columns...).
		Where(c.schema.Books.Col("b", "id")+" = ?", id)
	query, args := q.SQL()

	book, err := scanBook(c.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound.WithMessage("book %d", id)
	}
	if err != nil {
		return nil, storage.Unavailable("get book", err)
	}
	return book, nil
}

// MatchesTags reports whether a book satisfies a tag expression such as
// "fiction,-read". Tags are compared the same way Search compares them.
func (c *Catalog) MatchesTags(ctx context.Context, id int64, filter string) (bool, error) {
	if _, err := c.GetBook(ctx, id); err != nil {
		return false, err
	}
	expr := models.ParseTagExpr(filter)
	if expr.Empty() {
		return true, nil
	}

	q := newSelect(c.expr.from, "1").
		Where(c.schema.Books.Col("b", "id")+" = ?", id)
	c.whereTags(q, expr)
	query, args := q.SQL()

	var one int
	err := c.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storage.Unavailable("match book tags", err)
	}
	return true, nil
}

// GetBookFormats lists the files stored for a book
func (c *Catalog) GetBookFormats(ctx context.Context, id int64) ([]models.BookFormat, error) {
	d := c.schema.Data
	size := "0"
	if d.Has("uncompressed_size") {
		size = "COALESCE(" + d.Col("d", "uncompressed_size") + ", 0)"
	}
	q := newSelect(d.Ref()+" d", d.Col("d", "format"), d.Col("d", "name"), size).
		Where(d.Col("d", "book")+" = ?", id).
		OrderBy(d.Col("d", "format"))
	query, args := q.SQL()

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Unavailable("get book formats", err)
	}
	defer rows.Close()

	formats := []models.BookFormat{}
	for rows.Next() {
		var f models.BookFormat
		if err := rows.Scan(&f.Format, &f.Name, &f.Size); err != nil {
			return nil, storage.Unavailable("scan book format", err)
		}
		f.Format = strings.ToUpper(f.Format)
		f.SizeMB = fmt.Sprintf("%.2f", float64(f.Size)/(1024*1024))
		formats = append(formats, f)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("iterate book formats", err)
	}
	return formats, nil
}

// GetBookDetails returns the book with its formats, publisher, languages and identifiers
func (c *Catalog) GetBookDetails(ctx context.Context, id int64) (*models.BookDetails, error) {
	book, err := c.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}
	formats, err := c.GetBookFormats(ctx, id)
	if err != nil {
		return nil, err
	}

	details := &models.BookDetails{Book: book, Formats: formats}

	s := c.schema
	pub := newSelect(s.Publishers.Ref()+" p JOIN "+s.BookPubs.Ref()+" bp ON "+
		s.BookPubs.Col("bp", "publisher")+" = "+s.Publishers.Col("p", "id"),
		s.Publishers.Col("p", "name")).
		Where(s.BookPubs.Col("bp", "book")+" = ?", id).
		Paginate(1, 0)
	query, args := pub.SQL()
	var publisher sql.NullString
	err = c.db.QueryRowContext(ctx, query, args...).Scan(&publisher)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, storage.Unavailable("get publisher", err)
	}
	details.Publisher = publisher.String

	langs := newSelect(s.Languages.Ref()+" l JOIN "+s.BookLangs.Ref()+" bl ON "+
		s.BookLangs.Col("bl", "lang_code")+" = "+s.Languages.Col("l", "id"),
		s.Languages.Col("l", "lang_code")).
		Where(s.BookLangs.Col("bl", "book")+" = ?", id)
	if s.BookLangs.Has("item_order") {
		langs.OrderBy(s.BookLangs.Col("bl", "item_order"))
	}
	details.Languages, err = c.queryStrings(ctx, langs)
	if err != nil {
		return nil, err
	}

	ids := newSelect(s.Identifiers.Ref()+" i", s.Identifiers.Col("i", "type"), s.Identifiers.Col("i", "val")).
		Where(s.Identifiers.Col("i", "book")+" = ?", id).
		OrderBy(s.Identifiers.Col("i", "type"))
	query, args = ids.SQL()
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Unavailable("get identifiers", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ident models.Identifier
		if err := rows.Scan(&ident.Type, &ident.Value); err != nil {
			return nil, storage.Unavailable("scan identifier", err)
		}
		details.Identifiers = append(details.Identifiers, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("iterate identifiers", err)
	}

	return details, nil
}

// GetBookFile resolves a book format to its directory and file name on disk
func (c *Catalog) GetBookFile(ctx context.Context, id int64, format string) (string, string, error) {
	book, err := c.GetBook(ctx, id)
	if err != nil {
		return "", "", err
	}

	d := c.schema.Data
	q := newSelect(d.Ref()+" d", d.Col("d", "name"), d.Col("d", "format")).
		Where(d.Col("d", "book")+" = ?", id).
		Where("UPPER("+d.Col("d", "format")+") = ?", strings.ToUpper(format)).
		Paginate(1, 0)
	query, args := q.SQL()

	var name, stored string
	err = c.db.QueryRowContext(ctx, query, args...).Scan(&name, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", storage.ErrNotFound.WithMessage("book %d has no %s format", id, strings.ToUpper(format))
	}
	if err != nil {
		return "", "", storage.Unavailable("get book file", err)
	}

	dir := filepath.Join(c.libraryPath, filepath.FromSlash(book.Path))
	return dir, name + "." + strings.ToLower(stored), nil
}

// GetCoverPath returns the path of a book's cover.jpg, or storage.ErrNotFound
func (c *Catalog) GetCoverPath(ctx context.Context, id int64) (string, error) {
	book, err := c.GetBook(ctx, id)
	if err != nil {
		return "", err
	}
	path := filepath.Join(c.libraryPath, filepath.FromSlash(book.Path), "cover.jpg")
	if !book.HasCover {
		if _, statErr := os.Stat(path); statErr != nil {
			return "", storage.ErrNotFound.WithMessage("book %d has no cover", id)
		}
	}
	return path, nil
}

func (c *Catalog) queryStrings(ctx context.Context, q *selectQuery) ([]string, error) {
	query, args := q.SQL()
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Unavailable("query", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, storage.Unavailable("scan", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("iterate", err)
	}
	return out, nil
}
