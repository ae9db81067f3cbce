package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/justyntemme/calibrewebui/internal/models"
	"github.com/justyntemme/calibrewebui/internal/storage"
)

// MetadataDBName is calibre's catalog database inside a library directory
const MetadataDBName = "metadata.db"

// driverName is go-sqlite3 with a Unicode-aware ulower() registered on every
// connection. SQLite's LOWER() and LIKE fold ASCII only, so "Émile" and
// "émile" would otherwise never compare equal.
const driverName = "sqlite3_catalog"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("ulower", strings.ToLower, true)
		},
	})
}

// fold lower-cases a text expression with the same folding Go applies to
// user input. NULL aggregates fold to the empty string.
func fold(expr string) string {
	return "ulower(COALESCE(" + expr + ", ''))"
}

// Catalog is the read/query layer over a calibre library.
// It never writes metadata.db; mutations go through calibredb.
type Catalog struct {
	db          *sql.DB
	schema      *Schema
	libraryPath string
	logger      *zap.Logger
	expr        expressions
}

// Open opens the library's metadata.db read-only and binds its schema.
// It fails with ErrIncompatibleCatalog when required tables are missing.
func Open(ctx context.Context, libraryPath string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dbPath := filepath.Join(libraryPath, MetadataDBName)
	if _, err := os.Stat(dbPath); err != nil {
		return nil, storage.Unavailable("stat catalog", err)
	}

	dsn := storage.SQLiteDSN(dbPath, "mode=ro&_busy_timeout=5000")
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, storage.Unavailable("open catalog", err)
	}
	db.SetMaxOpenConns(4)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storage.Unavailable("ping catalog", err)
	}

	schema, err := Introspect(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("introspect %s: %w", dbPath, err)
	}

	logger.Info("catalog opened",
		zap.String("path", dbPath),
		zap.Int("book_columns", len(schema.Books.Columns())),
	)

	return &Catalog{
		db:          db,
		schema:      schema,
		libraryPath: libraryPath,
		logger:      logger,
		expr:        buildExpressions(schema),
	}, nil
}

// Schema returns the bound table handles
func (c *Catalog) Schema() *Schema {
	return c.schema
}

// LibraryPath returns the calibre library directory
func (c *Catalog) LibraryPath() string {
	return c.libraryPath
}

// Close closes the catalog connection
func (c *Catalog) Close() error {
	return c.db.Close()
}

// expressions are SQL fragments derived once from the schema handles.
// The same fragment feeds both the projection and the filters, so what a
// filter matches is exactly what the caller sees.
type expressions struct {
	from      string
	columns   []string
	authors   string
	series    string
	tags      string
	hasTag    string // one placeholder: lower-case tag name
	hasFormat func(n int) string
}

func buildExpressions(s *Schema) expressions {
	b := s.Books
	bookID := b.Col("b", "id")

	authors := fmt.Sprintf(
		"(SELECT GROUP_CONCAT(%s, ' & ') FROM %s a JOIN %s ba ON %s = %s WHERE %s = %s)",
		s.Authors.Col("a", "name"), s.Authors.Ref(), s.BookAuthors.Ref(),
		s.BookAuthors.Col("ba", "author"), s.Authors.Col("a", "id"),
		s.BookAuthors.Col("ba", "book"), bookID,
	)
	series := fmt.Sprintf(
		"(SELECT GROUP_CONCAT(%s, ', ') FROM %s s JOIN %s bs ON %s = %s WHERE %s = %s)",
		s.Series.Col("s", "name"), s.Series.Ref(), s.BookSeries.Ref(),
		s.BookSeries.Col("bs", "series"), s.Series.Col("s", "id"),
		s.BookSeries.Col("bs", "book"), bookID,
	)
	tags := fmt.Sprintf(
		"(SELECT GROUP_CONCAT(%s, ', ') FROM %s t JOIN %s bt ON %s = %s WHERE %s = %s)",
		s.Tags.Col("t", "name"), s.Tags.Ref(), s.BookTags.Ref(),
		s.BookTags.Col("bt", "tag"), s.Tags.Col("t", "id"),
		s.BookTags.Col("bt", "book"), bookID,
	)
	tagExists := func(operand string) string {
		return fmt.Sprintf(
			"EXISTS (SELECT 1 FROM %s t JOIN %s bt ON %s = %s WHERE %s = %s AND %s = %s)",
			s.Tags.Ref(), s.BookTags.Ref(),
			s.BookTags.Col("bt", "tag"), s.Tags.Col("t", "id"),
			s.BookTags.Col("bt", "book"), bookID, fold(s.Tags.Col("t", "name")), operand,
		)
	}
	formats := fmt.Sprintf(
		"(SELECT GROUP_CONCAT(%s, ',') FROM %s d WHERE %s = %s)",
		s.Data.Col("d", "format"), s.Data.Ref(), s.Data.Col("d", "book"), bookID,
	)
	isbn := fmt.Sprintf(
		"(SELECT %s FROM %s i WHERE %s = %s AND LOWER(%s) = 'isbn' LIMIT 1)",
		s.Identifiers.Col("i", "val"), s.Identifiers.Ref(),
		s.Identifiers.Col("i", "book"), bookID, s.Identifiers.Col("i", "type"),
	)
	comments := fmt.Sprintf(
		"(SELECT %s FROM %s c WHERE %s = %s LIMIT 1)",
		s.Comments.Col("c", "text"), s.Comments.Ref(), s.Comments.Col("c", "book"), bookID,
	)
	rating := fmt.Sprintf(
		"(SELECT %s FROM %s r JOIN %s br ON %s = %s WHERE %s = %s LIMIT 1)",
		s.Ratings.Col("r", "rating"), s.Ratings.Ref(), s.BookRatings.Ref(),
		s.BookRatings.Col("br", "rating"), s.Ratings.Col("r", "id"),
		s.BookRatings.Col("br", "book"), bookID,
	)

	hasCover := "0"
	if b.Has("has_cover") {
		hasCover = "COALESCE(" + b.Col("b", "has_cover") + ", 0)"
	}

	return expressions{
		from: b.Ref() + " b",
		columns: []string{
			bookID,
			b.Col("b", "title"),
			b.Col("b", "path"),
			hasCover,
			"CAST(" + b.Col("b", "pubdate") + " AS TEXT)",
			"CAST(" + b.Col("b", "last_modified") + " AS TEXT)",
			b.Col("b", "series_index"),
			authors,
			series,
			tags,
			formats,
			isbn,
			comments,
			rating,
			tagExists("'" + models.TagRead + "'"),
		},
		authors: authors,
		series:  series,
		tags:    tags,
		hasTag:  tagExists("?"),
		hasFormat: func(n int) string {
			return fmt.Sprintf(
				"EXISTS (SELECT 1 FROM %s d WHERE %s = %s AND UPPER(%s) IN (%s))",
				s.Data.Ref(), s.Data.Col("d", "book"), bookID, s.Data.Col("d", "format"), placeholders(n),
			)
		},
	}
}
