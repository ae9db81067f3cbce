package calibredb

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/justyntemme/calibrewebui/internal/models"
	"github.com/justyntemme/calibrewebui/internal/storage"
)

// BookLookup is the part of the catalog the gateway reads back after mutating
type BookLookup interface {
	GetBook(ctx context.Context, id int64) (*models.Book, error)
	GetBookFormats(ctx context.Context, id int64) ([]models.BookFormat, error)
	GetBookFile(ctx context.Context, id int64, format string) (string, string, error)
}

// Config names the external binaries and the library they operate on
type Config struct {
	LibraryPath        string
	CalibredbBin       string
	ConvertBin         string
	FetchMetadataBin   string
	PreferredFormat    string
	FetchRatePerMinute int
}

// Gateway performs every catalog mutation through calibredb subprocesses.
// The catalog database is never written directly.
type Gateway struct {
	cfg     Config
	runner  Runner
	books   BookLookup
	scratch *storage.FileStorage
	limiter *rate.Limiter
	logger  *zap.Logger

	versionOnce sync.Once
	version     string
}

// NewGateway creates a gateway. books is consulted for cascades and conversions.
func NewGateway(cfg Config, runner Runner, books BookLookup, scratch *storage.FileStorage, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CalibredbBin == "" {
		cfg.CalibredbBin = "calibredb"
	}
	if cfg.ConvertBin == "" {
		cfg.ConvertBin = "ebook-convert"
	}
	if cfg.FetchMetadataBin == "" {
		cfg.FetchMetadataBin = "fetch-ebook-metadata"
	}

	limit := rate.Inf
	if cfg.FetchRatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.FetchRatePerMinute))
	}

	return &Gateway{
		cfg:     cfg,
		runner:  runner,
		books:   books,
		scratch: scratch,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// calibredb runs one calibredb subcommand against the library
func (g *Gateway) calibredb(ctx context.Context, command string, args ...string) Result {
	full := append([]string{command, "--library-path", g.cfg.LibraryPath}, args...)
	return g.runner.Run(ctx, g.cfg.CalibredbBin, full...)
}

var addedBookIDs = regexp.MustCompile(`Added book ids:\s*(\d+)`)

// AddBook adds a file as a new book. The returned id is -1 when calibredb
// did not report one, even if the exit status is zero.
func (g *Gateway) AddBook(ctx context.Context, filePath string) (Status, int64) {
	res := g.calibredb(ctx, "add", "-d", filePath)
	id := int64(-1)
	if m := addedBookIDs.FindStringSubmatch(res.Stdout); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			id = n
		}
	}
	g.logger.Info("add book", zap.String("file", filePath), zap.Int("status", int(res.Status)), zap.Int64("book_id", id))
	return res.Status, id
}

// AddFormat attaches a file to an existing book
func (g *Gateway) AddFormat(ctx context.Context, bookID int64, filePath string) Status {
	res := g.calibredb(ctx, "add_format", strconv.FormatInt(bookID, 10), filePath)
	g.logger.Info("add format", zap.Int64("book_id", bookID), zap.String("file", filePath), zap.Int("status", int(res.Status)))
	return res.Status
}

// RemoveFormat deletes one format. A book left without formats is removed too.
func (g *Gateway) RemoveFormat(ctx context.Context, bookID int64, format string) Status {
	format = strings.ToUpper(format)
	res := g.calibredb(ctx, "remove_format", strconv.FormatInt(bookID, 10), format)
	g.logger.Info("remove format", zap.Int64("book_id", bookID), zap.String("format", format), zap.Int("status", int(res.Status)))
	if !res.Status.OK() {
		return res.Status
	}

	remaining, err := g.books.GetBookFormats(ctx, bookID)
	if err != nil {
		g.logger.Warn("could not check remaining formats", zap.Int64("book_id", bookID), zap.Error(err))
		return res.Status
	}
	if len(remaining) == 0 {
		return g.RemoveBook(ctx, bookID)
	}
	return res.Status
}

// RemoveBook permanently deletes a book and its files
func (g *Gateway) RemoveBook(ctx context.Context, bookID int64) Status {
	res := g.calibredb(ctx, "remove", "--permanent", strconv.FormatInt(bookID, 10))
	g.logger.Info("remove book", zap.Int64("book_id", bookID), zap.Int("status", int(res.Status)))
	return res.Status
}

var versionPattern = regexp.MustCompile(`calibre ([0-9][0-9.]*)`)

// Version returns calibre's version. It is queried once per process;
// a failed query is remembered as "unknown".
func (g *Gateway) Version(ctx context.Context) string {
	g.versionOnce.Do(func() {
		res := g.runner.Run(ctx, g.cfg.CalibredbBin, "--version")
		switch {
		case !res.Status.OK():
			g.version = "unknown"
		case versionPattern.MatchString(res.Stdout):
			g.version = versionPattern.FindStringSubmatch(res.Stdout)[1]
		default:
			g.version = strings.TrimSpace(res.Stdout)
		}
	})
	return g.version
}
