package catalog

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/justyntemme/calibrewebui/internal/models"
)

// calibreSchema mirrors the tables of a calibre metadata.db that the query layer reads
const calibreSchema = `
CREATE TABLE books (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL DEFAULT 'Unknown',
	sort TEXT,
	timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	pubdate TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	series_index REAL NOT NULL DEFAULT 1.0,
	author_sort TEXT,
	isbn TEXT DEFAULT '',
	lccn TEXT DEFAULT '',
	path TEXT NOT NULL DEFAULT '',
	flags INTEGER NOT NULL DEFAULT 1,
	uuid TEXT,
	has_cover BOOL DEFAULT 0,
	last_modified TIMESTAMP NOT NULL DEFAULT '2000-01-01 00:00:00+00:00'
);
CREATE TABLE authors (id INTEGER PRIMARY KEY, name TEXT NOT NULL COLLATE NOCASE, sort TEXT, link TEXT NOT NULL DEFAULT '', UNIQUE(name));
CREATE TABLE books_authors_link (id INTEGER PRIMARY KEY, book INTEGER NOT NULL, author INTEGER NOT NULL, UNIQUE(book, author));
CREATE TABLE series (id INTEGER PRIMARY KEY, name TEXT NOT NULL COLLATE NOCASE, sort TEXT, link TEXT NOT NULL DEFAULT '', UNIQUE(name));
CREATE TABLE books_series_link (id INTEGER PRIMARY KEY, book INTEGER NOT NULL, series INTEGER NOT NULL, UNIQUE(book));
CREATE TABLE tags (id INTEGER PRIMARY KEY, name TEXT NOT NULL COLLATE NOCASE, link TEXT NOT NULL DEFAULT '', UNIQUE(name));
CREATE TABLE books_tags_link (id INTEGER PRIMARY KEY, book INTEGER NOT NULL, tag INTEGER NOT NULL, UNIQUE(book, tag));
CREATE TABLE publishers (id INTEGER PRIMARY KEY, name TEXT NOT NULL COLLATE NOCASE, sort TEXT, link TEXT NOT NULL DEFAULT '', UNIQUE(name));
CREATE TABLE books_publishers_link (id INTEGER PRIMARY KEY, book INTEGER NOT NULL, publisher INTEGER NOT NULL, UNIQUE(book));
CREATE TABLE languages (id INTEGER PRIMARY KEY, lang_code TEXT NOT NULL COLLATE NOCASE, link TEXT NOT NULL DEFAULT '', UNIQUE(lang_code));
CREATE TABLE books_languages_link (id INTEGER PRIMARY KEY, book INTEGER NOT NULL, lang_code INTEGER NOT NULL, item_order INTEGER NOT NULL DEFAULT 0, UNIQUE(book, lang_code));
CREATE TABLE ratings (id INTEGER PRIMARY KEY, rating INTEGER CHECK(rating > -1 AND rating < 11), link TEXT NOT NULL DEFAULT '', UNIQUE (rating));
CREATE TABLE books_ratings_link (id INTEGER PRIMARY KEY, book INTEGER NOT NULL, rating INTEGER NOT NULL, UNIQUE(book, rating));
CREATE TABLE identifiers (id INTEGER PRIMARY KEY, book INTEGER NOT NULL, type TEXT NOT NULL DEFAULT 'isbn' COLLATE NOCASE, val TEXT NOT NULL COLLATE NOCASE, UNIQUE(book, type));
CREATE TABLE comments (id INTEGER PRIMARY KEY, book INTEGER NOT NULL, text TEXT NOT NULL COLLATE NOCASE, UNIQUE(book));
CREATE TABLE data (id INTEGER PRIMARY KEY, book INTEGER NOT NULL, format TEXT NOT NULL COLLATE NOCASE, uncompressed_size INTEGER NOT NULL, name TEXT NOT NULL, UNIQUE(book, format));
`

// fixtureData describes a small library. Ids are stable so tests can refer to them.
//
//	1 Dune               Frank Herbert                 Dune #1  sci-fi, read     EPUB, MOBI  2020
//	2 Dune Messiah       Frank Herbert                 Dune #2  sci-fi, unread   EPUB        2021
//	3 Children of Dune   Frank Herbert                 Dune #3  sci-fi           PDF         2019
//	4 Good Omens         Terry Pratchett, Neil Gaiman           fantasy, humor, read  EPUB   2022
//	5 The Hobbit         J.R.R. Tolkien                         fantasy          MOBI        2018
//	6 100% Pure_Test     Anon                                                    TXT         2017
const fixtureData = `
INSERT INTO books (id, title, path, has_cover, pubdate, series_index, last_modified) VALUES
	(1, 'Dune', 'Frank Herbert/Dune (1)', 1, '1965-08-01 00:00:00+00:00', 1.0, '2020-01-01 10:00:00+00:00'),
	(2, 'Dune Messiah', 'Frank Herbert/Dune Messiah (2)', 0, '1969-10-15 00:00:00+00:00', 2.0, '2021-01-01 10:00:00+00:00'),
	(3, 'Children of Dune', 'Frank Herbert/Children of Dune (3)', 0, '1976-04-01 00:00:00+00:00', 3.0, '2019-01-01 10:00:00+00:00'),
	(4, 'Good Omens', 'Terry Pratchett/Good Omens (4)', 0, '1990-05-01 00:00:00+00:00', 1.0, '2022-01-01 10:00:00.123456+00:00'),
	(5, 'The Hobbit', 'J.R.R. Tolkien/The Hobbit (5)', 0, '0101-01-01 00:00:00+00:00', 1.0, '2018-01-01 10:00:00+00:00'),
	(6, '100% Pure_Test', 'Anon/100% Pure_Test (6)', 0, NULL, 1.0, '2017-01-01 10:00:00+00:00');

INSERT INTO authors (id, name, sort) VALUES
	(1, 'Frank Herbert', 'Herbert, Frank'),
	(2, 'Terry Pratchett', 'Pratchett, Terry'),
	(3, 'Neil Gaiman', 'Gaiman, Neil'),
	(4, 'J.R.R. Tolkien', 'Tolkien, J.R.R.'),
	(5, 'Anon', 'Anon');
INSERT INTO books_authors_link (book, author) VALUES (1, 1), (2, 1), (3, 1), (4, 2), (4, 3), (5, 4), (6, 5);

INSERT INTO series (id, name) VALUES (1, 'Dune');
INSERT INTO books_series_link (book, series) VALUES (2, 1), (1, 1), (3, 1);

INSERT INTO tags (id, name) VALUES (1, 'sci-fi'), (2, 'read'), (3, 'unread'), (4, 'fantasy'), (5, 'humor'), (6, 'orphan');
INSERT INTO books_tags_link (book, tag) VALUES (1, 1), (1, 2), (2, 1), (2, 3), (3, 1), (4, 4), (4, 5), (4, 2), (5, 4);

INSERT INTO publishers (id, name) VALUES (1, 'Allen & Unwin');
INSERT INTO books_publishers_link (book, publisher) VALUES (5, 1);

INSERT INTO languages (id, lang_code) VALUES (1, 'eng'), (2, 'fra');
INSERT INTO books_languages_link (book, lang_code, item_order) VALUES (5, 2, 1), (5, 1, 0);

INSERT INTO ratings (id, rating) VALUES (1, 8);
INSERT INTO books_ratings_link (book, rating) VALUES (5, 1);

INSERT INTO identifiers (book, type, val) VALUES (5, 'isbn', '9780261102217'), (5, 'goodreads', '5907');
INSERT INTO comments (book, text) VALUES (5, 'In a hole in the ground there lived a hobbit.');

INSERT INTO data (book, format, uncompressed_size, name) VALUES
	(1, 'EPUB', 1048576, 'Dune - Frank Herbert'),
	(1, 'MOBI', 2097152, 'Dune - Frank Herbert'),
	(2, 'EPUB', 524288, 'Dune Messiah - Frank Herbert'),
	(3, 'PDF', 3145728, 'Children of Dune - Frank Herbert'),
	(4, 'EPUB', 400000, 'Good Omens - Terry Pratchett'),
	(5, 'MOBI', 300000, 'The Hobbit - J.R.R. Tolkien'),
	(6, 'TXT', 1000, '100% Pure_Test - Anon');
`

// writeLibrary creates a library directory whose metadata.db runs the given statements
func writeLibrary(t *testing.T, statements ...string) string {
	t.Helper()
	dir := t.TempDir()

	db, err := sql.Open("sqlite3", filepath.Join(dir, MetadataDBName))
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range statements {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return dir
}

func setupTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	dir := writeLibrary(t, calibreSchema, fixtureData)

	c, err := Open(context.Background(), dir, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func bookIDs(books []models.Book) []int64 {
	ids := make([]int64, len(books))
	for i, b := range books {
		ids[i] = b.ID
	}
	return ids
}
