package api_test

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/justyntemme/calibrewebui/internal/api"
	"github.com/justyntemme/calibrewebui/internal/auth"
	"github.com/justyntemme/calibrewebui/internal/calibredb"
	"github.com/justyntemme/calibrewebui/internal/ledger"
	"github.com/justyntemme/calibrewebui/internal/models"
	"github.com/justyntemme/calibrewebui/internal/storage"
)

// fakeCatalog serves books from memory. Each format is backed by a real
// file so downloads can be streamed.
type fakeCatalog struct {
	mu         sync.Mutex
	dir        string
	books      map[int64]*models.Book
	files      map[int64]map[string]string
	lastSearch models.SearchRequest
	lastPage   models.Page
}

func newFakeCatalog(t *testing.T) *fakeCatalog {
	return &fakeCatalog{
		dir:   t.TempDir(),
		books: make(map[int64]*models.Book),
		files: make(map[int64]map[string]string),
	}
}

func (f *fakeCatalog) addBook(t *testing.T, id int64, title string, formats ...string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	bookDir := filepath.Join(f.dir, title)
	require.NoError(t, os.MkdirAll(bookDir, 0755))
	f.files[id] = make(map[string]string)
	for _, format := range formats {
		path := filepath.Join(bookDir, title+"."+strings.ToLower(format))
		require.NoError(t, os.WriteFile(path, []byte(title+" as "+format), 0644))
		f.files[id][format] = path
	}
	f.books[id] = &models.Book{
		ID:      id,
		Title:   title,
		Path:    title,
		Authors: "Frank Herbert",
		Formats: strings.Join(formats, models.FormatSeparator),
	}
}

func (f *fakeCatalog) setTags(id int64, tags ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[id].Tags = strings.Join(tags, models.TagSeparator)
}

func (f *fakeCatalog) removeBook(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.books, id)
	delete(f.files, id)
}

func (f *fakeCatalog) removeFormat(id int64, format string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files[id], format)
	return len(f.files[id])
}

func (f *fakeCatalog) Search(_ context.Context, req models.SearchRequest) ([]models.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSearch = req

	ids := make([]int64, 0, len(f.books))
	for id := range f.books {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	books := []models.Book{}
	for _, id := range ids {
		books = append(books, *f.books[id])
	}
	return books, nil
}

func (f *fakeCatalog) GetBook(_ context.Context, id int64) (*models.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	book, ok := f.books[id]
	if !ok {
		return nil, storage.ErrNotFound.WithMessage("book %d", id)
	}
	copied := *book
	return &copied, nil
}

func (f *fakeCatalog) MatchesTags(ctx context.Context, id int64, filter string) (bool, error) {
	book, err := f.GetBook(ctx, id)
	if err != nil {
		return false, err
	}
	has := make(map[string]bool)
	for _, tag := range book.TagList() {
		has[strings.ToLower(tag)] = true
	}
	expr := models.ParseTagExpr(filter)
	for _, tag := range expr.Include {
		if !has[tag] {
			return false, nil
		}
	}
	for _, tag := range expr.Exclude {
		if has[tag] {
			return false, nil
		}
	}
	return true, nil
}

func (f *fakeCatalog) GetBookDetails(ctx context.Context, id int64) (*models.BookDetails, error) {
	book, err := f.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}
	formats, _ := f.GetBookFormats(ctx, id)
	return &models.BookDetails{Book: book, Formats: formats}, nil
}

func (f *fakeCatalog) GetBookFormats(_ context.Context, id int64) ([]models.BookFormat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	formats := []models.BookFormat{}
	for format := range f.files[id] {
		formats = append(formats, models.BookFormat{Format: format, Name: f.books[id].Title})
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i].Format < formats[j].Format })
	return formats, nil
}

func (f *fakeCatalog) GetBookFile(_ context.Context, id int64, format string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.books[id]; !ok {
		return "", "", storage.ErrNotFound.WithMessage("book %d", id)
	}
	path, ok := f.files[id][format]
	if !ok {
		return "", "", storage.ErrNotFound.WithMessage("book %d has no %s format", id, format)
	}
	return filepath.Dir(path), filepath.Base(path), nil
}

func (f *fakeCatalog) GetCoverPath(_ context.Context, id int64) (string, error) {
	return "", storage.ErrNotFound.WithMessage("book %d has no cover", id)
}

func (f *fakeCatalog) facets(page models.Page) []models.Facet {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPage = page
	return []models.Facet{{ID: 1, Name: "sci-fi", Count: 3}, {ID: 2, Name: "fantasy", Count: 2}}
}

func (f *fakeCatalog) ListTags(_ context.Context, page models.Page) ([]models.Facet, error) {
	return f.facets(page), nil
}

func (f *fakeCatalog) ListSeries(_ context.Context, page models.Page) ([]models.Facet, error) {
	return f.facets(page), nil
}

func (f *fakeCatalog) ListAuthors(_ context.Context, page models.Page) ([]models.Facet, error) {
	return f.facets(page), nil
}

func (f *fakeCatalog) ListPublishers(_ context.Context, page models.Page) ([]models.Facet, error) {
	return f.facets(page), nil
}

// fakeGateway records calibre operations and applies them to the fake catalog
type fakeGateway struct {
	mu      sync.Mutex
	catalog *fakeCatalog
	status  calibredb.Status
	nextID  int64
	fetchOK bool
	calls   []string
	saved   map[string]string
	added   []string
}

func (g *fakeGateway) record(call string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call)
}

func (g *fakeGateway) called(prefix string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (g *fakeGateway) AddBook(_ context.Context, filePath string) (calibredb.Status, int64) {
	g.record("add")
	content, _ := os.ReadFile(filePath)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.added = append(g.added, string(content))
	if !g.status.OK() {
		return g.status, -1
	}
	g.nextID++
	return g.status, g.nextID
}

func (g *fakeGateway) AddFormat(_ context.Context, _ int64, filePath string) calibredb.Status {
	g.record("add_format " + filepath.Base(filePath))
	return g.status
}

func (g *fakeGateway) RemoveFormat(_ context.Context, bookID int64, format string) calibredb.Status {
	g.record("remove_format " + format)
	if !g.status.OK() {
		return g.status
	}
	if g.catalog.removeFormat(bookID, format) == 0 {
		g.catalog.removeBook(bookID)
	}
	return g.status
}

func (g *fakeGateway) RemoveBook(_ context.Context, bookID int64) calibredb.Status {
	g.record("remove")
	if g.status.OK() {
		g.catalog.removeBook(bookID)
	}
	return g.status
}

func (g *fakeGateway) SaveMetadata(_ context.Context, _ int64, fields map[string]string) (calibredb.Status, bool) {
	if len(fields) == 0 {
		return calibredb.StatusOK, false
	}
	g.record("set_metadata")
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saved = fields
	return g.status, true
}

func (g *fakeGateway) FetchMetadata(_ context.Context, _ int64) bool {
	g.record("fetch")
	return g.fetchOK
}

func (g *fakeGateway) Version(context.Context) string {
	return "7.6.0"
}

// fakeConverter records submissions on the real ledger without converting
type fakeConverter struct {
	jobs *ledger.Ledger
	err  error
}

func (c *fakeConverter) Submit(ctx context.Context, bookID int64, from, to string) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	return c.jobs.Push(ctx, "Convert book from "+from+" to "+to)
}

type testServer struct {
	router    *gin.Engine
	catalog   *fakeCatalog
	gateway   *fakeGateway
	converter *fakeConverter
	jobs      *ledger.Ledger
	devices   *storage.Database
	files     *storage.FileStorage
}

const (
	testUser     = "admin"
	testPassword = "correct horse"
)

func setupTestServer(t *testing.T, withAuth bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	catalog := newFakeCatalog(t)
	jobs, err := ledger.Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { jobs.Close() })

	devices, err := storage.NewDatabase(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { devices.Close() })

	files, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	authenticator := auth.NewAuthenticator("", "", "", time.Hour)
	if withAuth {
		hash, err := auth.HashPassword(testPassword)
		require.NoError(t, err)
		authenticator = auth.NewAuthenticator(testUser, hash, "test-secret", time.Hour)
	}

	s := &testServer{
		catalog:   catalog,
		gateway:   &fakeGateway{catalog: catalog, nextID: 100, fetchOK: true},
		converter: &fakeConverter{jobs: jobs},
		jobs:      jobs,
		devices:   devices,
		files:     files,
	}

	h := api.NewHandler(api.Dependencies{
		Catalog:   catalog,
		Gateway:   s.gateway,
		Converter: s.converter,
		Jobs:      jobs,
		Devices:   devices,
		Files:     files,
		Auth:      authenticator,
	}, api.Options{
		PageSize:        30,
		MinPageSize:     12,
		MaxPageSize:     120,
		UploadFormats:   []string{"EPUB", "PDF", "TXT"},
		ConvertFormats:  []string{"EPUB", "MOBI", "PDF"},
		PreferredFormat: "MOBI",
		MaxUploadSize:   1 << 20,
	}, zap.NewNop())

	s.router = gin.New()
	h.Register(s.router)
	return s
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) request(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	return s.do(req)
}

type upload struct {
	name    string
	content string
}

func uploadRequest(t *testing.T, target string, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := writer.CreateFormFile("file", f.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}
