package calibredb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/justyntemme/calibrewebui/internal/models"
	"github.com/justyntemme/calibrewebui/internal/storage"
)

const testLibrary = "/library"

type fakeBook struct {
	title   string
	formats map[string]bool
}

// fakeCalibre simulates calibredb, ebook-convert and fetch-ebook-metadata
// over an in-memory library. It serves as both Runner and BookLookup.
type fakeCalibre struct {
	mu     sync.Mutex
	books  map[int64]*fakeBook
	nextID int64
	calls  [][]string

	fail        map[string]bool // subcommand or binary name -> exit 1
	opf         string
	convertHook func()
}

func newFakeCalibre() *fakeCalibre {
	return &fakeCalibre{
		books:  make(map[int64]*fakeBook),
		nextID: 100,
		fail:   make(map[string]bool),
		opf:    "<?xml version='1.0'?><package/>",
	}
}

func (f *fakeCalibre) addBook(id int64, title string, formats ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := &fakeBook{title: title, formats: make(map[string]bool)}
	for _, format := range formats {
		b.formats[format] = true
	}
	f.books[id] = b
}

func (f *fakeCalibre) Run(_ context.Context, name string, args ...string) Result {
	if name == "ebook-convert" && f.convertHook != nil {
		f.convertHook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))

	switch name {
	case "ebook-convert":
		if f.fail[name] {
			return Result{Status: 1}
		}
		if err := os.WriteFile(args[1], []byte("converted"), 0644); err != nil {
			return Result{Status: 1}
		}
		return Result{Status: StatusOK}
	case "fetch-ebook-metadata":
		if f.fail[name] {
			return Result{Status: 1}
		}
		return Result{Status: StatusOK, Stdout: f.opf}
	case "calibredb":
	default:
		return Result{Status: StatusNotStarted, Err: fmt.Errorf("%s not found", name)}
	}

	if len(args) == 1 && args[0] == "--version" {
		return Result{Status: StatusOK, Stdout: "calibredb (calibre 7.6.0)\n"}
	}
	command := args[0]
	if f.fail[command] {
		return Result{Status: 1}
	}
	rest := args[3:]

	switch command {
	case "add":
		path := rest[len(rest)-1]
		f.nextID++
		f.books[f.nextID] = &fakeBook{
			title:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			formats: map[string]bool{formatOf(path): true},
		}
		return Result{Status: StatusOK, Stdout: fmt.Sprintf("Added book ids: %d\n", f.nextID)}
	case "add_format":
		b, ok := f.books[parseID(rest[0])]
		if !ok {
			return Result{Status: 1}
		}
		b.formats[formatOf(rest[1])] = true
	case "remove_format":
		b, ok := f.books[parseID(rest[0])]
		if !ok {
			return Result{Status: 1}
		}
		delete(b.formats, rest[1])
	case "remove":
		delete(f.books, parseID(rest[len(rest)-1]))
	case "set_metadata", "embed_metadata":
	default:
		return Result{Status: 1}
	}
	return Result{Status: StatusOK}
}

func (f *fakeCalibre) GetBook(_ context.Context, id int64) (*models.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[id]
	if !ok {
		return nil, storage.ErrNotFound.WithMessage("book %d", id)
	}
	return &models.Book{ID: id, Title: b.title, Authors: "Frank Herbert", Formats: strings.Join(sortedFormats(b), ",")}, nil
}

func (f *fakeCalibre) GetBookFormats(_ context.Context, id int64) ([]models.BookFormat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[id]
	if !ok {
		return []models.BookFormat{}, nil
	}
	formats := []models.BookFormat{}
	for _, format := range sortedFormats(b) {
		formats = append(formats, models.BookFormat{Format: format, Name: b.title})
	}
	return formats, nil
}

func (f *fakeCalibre) GetBookFile(_ context.Context, id int64, format string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[id]
	if !ok || !b.formats[strings.ToUpper(format)] {
		return "", "", storage.ErrNotFound.WithMessage("book %d format %s", id, format)
	}
	return filepath.Join(testLibrary, b.title), b.title + "." + strings.ToLower(format), nil
}

func (f *fakeCalibre) commands() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}

func (f *fakeCalibre) has(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.books[id]
	return ok
}

func sortedFormats(b *fakeBook) []string {
	out := make([]string, 0, len(b.formats))
	for format := range b.formats {
		out = append(out, format)
	}
	sort.Strings(out)
	return out
}

func formatOf(path string) string {
	return strings.ToUpper(strings.TrimPrefix(filepath.Ext(path), "."))
}

func parseID(s string) int64 {
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}

func setupTestGateway(t *testing.T) (*Gateway, *fakeCalibre) {
	t.Helper()
	fake := newFakeCalibre()
	scratch, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	g := NewGateway(Config{LibraryPath: testLibrary, PreferredFormat: "MOBI"}, fake, fake, scratch, zap.NewNop())
	return g, fake
}
