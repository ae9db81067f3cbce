package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrIncompatibleCatalog is returned when metadata.db lacks a table or column
// the query layer depends on. The server cannot run against such a catalog.
var ErrIncompatibleCatalog = errors.New("incompatible calibre catalog")

// Table is a handle on one catalog table discovered at startup
type Table struct {
	Name    string
	columns map[string]string // lower-case name -> actual name
}

// Has reports whether the table has the column
func (t *Table) Has(column string) bool {
	_, ok := t.columns[strings.ToLower(column)]
	return ok
}

// Ref returns the quoted table name for use in FROM/JOIN clauses
func (t *Table) Ref() string {
	return quoteIdent(t.Name)
}

// Col returns alias.column quoted, using the column's actual spelling.
// Callers only ask for columns verified by the schema requirements.
func (t *Table) Col(alias, column string) string {
	name, ok := t.columns[strings.ToLower(column)]
	if !ok {
		name = column
	}
	return alias + "." + quoteIdent(name)
}

// Columns returns the discovered column names, sorted
func (t *Table) Columns() []string {
	out := make([]string, 0, len(t.columns))
	for _, c := range t.columns {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Schema holds a handle for every catalog table the query layer touches
type Schema struct {
	Books       *Table
	Authors     *Table
	BookAuthors *Table
	Series      *Table
	BookSeries  *Table
	Tags        *Table
	BookTags    *Table
	Publishers  *Table
	BookPubs    *Table
	Languages   *Table
	BookLangs   *Table
	Ratings     *Table
	BookRatings *Table
	Identifiers *Table
	Comments    *Table
	Data        *Table
}

type requirement struct {
	table   string
	columns []string
	dest    func(*Schema) **Table
}

var requirements = []requirement{
	{"books", []string{"id", "title", "path", "pubdate", "series_index", "last_modified"}, func(s *Schema) **Table { return &s.Books }},
	{"authors", []string{"id", "name"}, func(s *Schema) **Table { return &s.Authors }},
	{"books_authors_link", []string{"book", "author"}, func(s *Schema) **Table { return &s.BookAuthors }},
	{"series", []string{"id", "name"}, func(s *Schema) **Table { return &s.Series }},
	{"books_series_link", []string{"book", "series"}, func(s *Schema) **Table { return &s.BookSeries }},
	{"tags", []string{"id", "name"}, func(s *Schema) **Table { return &s.Tags }},
	{"books_tags_link", []string{"book", "tag"}, func(s *Schema) **Table { return &s.BookTags }},
	{"publishers", []string{"id", "name"}, func(s *Schema) **Table { return &s.Publishers }},
	{"books_publishers_link", []string{"book", "publisher"}, func(s *Schema) **Table { return &s.BookPubs }},
	{"languages", []string{"id", "lang_code"}, func(s *Schema) **Table { return &s.Languages }},
	{"books_languages_link", []string{"book", "lang_code"}, func(s *Schema) **Table { return &s.BookLangs }},
	{"ratings", []string{"id", "rating"}, func(s *Schema) **Table { return &s.Ratings }},
	{"books_ratings_link", []string{"book", "rating"}, func(s *Schema) **Table { return &s.BookRatings }},
	{"identifiers", []string{"book", "type", "val"}, func(s *Schema) **Table { return &s.Identifiers }},
	{"comments", []string{"book", "text"}, func(s *Schema) **Table { return &s.Comments }},
	{"data", []string{"book", "format", "name"}, func(s *Schema) **Table { return &s.Data }},
}

// Introspect reads table and column names from the catalog once and
// binds them to a Schema. Any missing requirement is reported together.
func Introspect(ctx context.Context, db *sql.DB) (*Schema, error) {
	tables, err := listTables(ctx, db)
	if err != nil {
		return nil, err
	}

	s := &Schema{}
	var missing []string
	for _, req := range requirements {
		actual, ok := tables[req.table]
		if !ok {
			missing = append(missing, req.table)
			continue
		}
		t, err := describeTable(ctx, db, actual)
		if err != nil {
			return nil, err
		}
		for _, col := range req.columns {
			if !t.Has(col) {
				missing = append(missing, req.table+"."+col)
			}
		}
		*req.dest(s) = t
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrIncompatibleCatalog, strings.Join(missing, ", "))
	}
	return s, nil
}

// listTables maps lower-case table names to their stored spelling
func listTables(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type IN ('table', 'view')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := make(map[string]string)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables[strings.ToLower(name)] = name
	}
	return tables, rows.Err()
}

func describeTable(ctx context.Context, db *sql.DB, name string) (*Table, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(name)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	t := &Table{Name: name, columns: make(map[string]string)}
	for rows.Next() {
		var (
			cid     int
			col     string
			typ     sql.NullString
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &col, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		t.columns[strings.ToLower(col)] = col
	}
	return t, rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
