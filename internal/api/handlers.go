package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/justyntemme/calibrewebui/internal/auth"
	"github.com/justyntemme/calibrewebui/internal/calibredb"
	"github.com/justyntemme/calibrewebui/internal/models"
	"github.com/justyntemme/calibrewebui/internal/storage"
)

// Catalog is the read side of the calibre library
type Catalog interface {
	Search(ctx context.Context, req models.SearchRequest) ([]models.Book, error)
	GetBook(ctx context.Context, id int64) (*models.Book, error)
	GetBookDetails(ctx context.Context, id int64) (*models.BookDetails, error)
	MatchesTags(ctx context.Context, id int64, filter string) (bool, error)
	GetBookFormats(ctx context.Context, id int64) ([]models.BookFormat, error)
	GetBookFile(ctx context.Context, id int64, format string) (string, string, error)
	GetCoverPath(ctx context.Context, id int64) (string, error)
	ListTags(ctx context.Context, page models.Page) ([]models.Facet, error)
	ListSeries(ctx context.Context, page models.Page) ([]models.Facet, error)
	ListAuthors(ctx context.Context, page models.Page) ([]models.Facet, error)
	ListPublishers(ctx context.Context, page models.Page) ([]models.Facet, error)
}

// Gateway runs calibre's own tools against the library
type Gateway interface {
	AddBook(ctx context.Context, filePath string) (calibredb.Status, int64)
	AddFormat(ctx context.Context, bookID int64, filePath string) calibredb.Status
	RemoveFormat(ctx context.Context, bookID int64, format string) calibredb.Status
	RemoveBook(ctx context.Context, bookID int64) calibredb.Status
	SaveMetadata(ctx context.Context, bookID int64, fields map[string]string) (calibredb.Status, bool)
	FetchMetadata(ctx context.Context, bookID int64) bool
	Version(ctx context.Context) string
}

// Converter queues background format conversions
type Converter interface {
	Submit(ctx context.Context, bookID int64, from, to string) (int64, error)
}

// Jobs is the job ledger as seen by the task pages
type Jobs interface {
	List(ctx context.Context) ([]models.Job, error)
	CountByStatus(ctx context.Context) (map[models.JobStatus]int, error)
	Clear(ctx context.Context) error
}

// Devices stores registered readers
type Devices interface {
	CreateDevice(device *models.Device) error
	UpdateDevice(device *models.Device) error
	GetDevice(uid string) (*models.Device, error)
	ListDevices() ([]models.Device, error)
	DeleteDevice(uid string) error
}

// Options carries the request limits and format lists handlers enforce
type Options struct {
	PageSize       int
	MinPageSize    int
	MaxPageSize    int
	UploadFormats  []string
	ConvertFormats []string
	// PreferredFormat is suggested as the conversion target on the edit page
	PreferredFormat string
	MaxUploadSize   int64
}

// Handler contains all HTTP handlers
type Handler struct {
	catalog   Catalog
	gateway   Gateway
	converter Converter
	jobs      Jobs
	devices   Devices
	files     *storage.FileStorage
	auth      *auth.Authenticator
	opts      Options
	logger    *zap.Logger
}

// Dependencies groups the collaborators a Handler needs
type Dependencies struct {
	Catalog   Catalog
	Gateway   Gateway
	Converter Converter
	Jobs      Jobs
	Devices   Devices
	Files     *storage.FileStorage
	Auth      *auth.Authenticator
}

const defaultMaxUploadSize = 200 << 20

// NewHandler creates a new handler instance
func NewHandler(deps Dependencies, opts Options, logger *zap.Logger) *Handler {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = defaultMaxUploadSize
	}
	if opts.MinPageSize <= 0 {
		opts.MinPageSize = 1
	}
	if opts.MaxPageSize < opts.MinPageSize {
		opts.MaxPageSize = opts.MinPageSize
	}
	if opts.PageSize <= 0 {
		opts.PageSize = opts.MinPageSize
	}
	return &Handler{
		catalog:   deps.Catalog,
		gateway:   deps.Gateway,
		converter: deps.Converter,
		jobs:      deps.Jobs,
		devices:   deps.Devices,
		files:     deps.Files,
		auth:      deps.Auth,
		opts:      opts,
		logger:    logger,
	}
}

// HealthCheck returns server health status
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// APIInfo describes the server and the calibre install behind it
func (h *Handler) APIInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":             "calibrewebui",
		"calibre_version":  h.gateway.Version(c.Request.Context()),
		"upload_formats":   h.opts.UploadFormats,
		"convert_formats":  h.opts.ConvertFormats,
		"preferred_format": h.opts.PreferredFormat,
		"auth":             h.auth.Enabled(),
		"page_size":        h.opts.PageSize,
	})
}

// respondError writes err with the status its domain error carries
func (h *Handler) respondError(c *gin.Context, err error) {
	status := storage.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// calibreFailed reports a calibre tool that exited non-zero
func calibreFailed(c *gin.Context, message string, status calibredb.Status) {
	c.JSON(http.StatusBadGateway, gin.H{"error": message, "exit_status": int(status)})
}

// bookID parses the :id path parameter
func bookID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid book id"})
		return 0, false
	}
	return id, true
}

// pageParams reads page and limit, clamping limit to the configured bounds
func (h *Handler) pageParams(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit == 0 {
		limit = h.opts.PageSize
	}
	return page, h.clampLimit(limit)
}

func (h *Handler) clampLimit(limit int) int {
	if limit < h.opts.MinPageSize {
		return h.opts.MinPageSize
	}
	if limit > h.opts.MaxPageSize {
		return h.opts.MaxPageSize
	}
	return limit
}
