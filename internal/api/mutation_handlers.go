package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/justyntemme/calibrewebui/internal/calibredb"
	"github.com/justyntemme/calibrewebui/internal/formats"
	"github.com/justyntemme/calibrewebui/internal/storage"
)

// uploadField is the multipart field carrying book files
const uploadField = "file"

// uploadResult reports what happened to one uploaded file
type uploadResult struct {
	Filename string        `json:"filename"`
	Format   string        `json:"format,omitempty"`
	BookID   int64         `json:"book_id,omitempty"`
	Info     *formats.Info `json:"info,omitempty"`
	Message  string        `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`

	code int
}

// ingestFunc hands a validated upload to calibre
type ingestFunc func(path string) (calibredb.Status, int64)

// UploadBook adds every uploaded file as a new book
func (h *Handler) UploadBook(c *gin.Context) {
	ctx := c.Request.Context()
	h.handleUploads(c, http.StatusCreated, func(path string) (calibredb.Status, int64) {
		return h.gateway.AddBook(ctx, path)
	})
}

// AddFormat attaches every uploaded file to an existing book
func (h *Handler) AddFormat(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.catalog.GetBook(ctx, id); err != nil {
		h.respondError(c, err)
		return
	}
	h.handleUploads(c, http.StatusOK, func(path string) (calibredb.Status, int64) {
		return h.gateway.AddFormat(ctx, id, path), id
	})
}

func (h *Handler) handleUploads(c *gin.Context, successCode int, ingest ingestFunc) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadSize)
	form, err := c.MultipartForm()
	if tooLarge := new(http.MaxBytesError); errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("Upload exceeds the %d MB limit", tooLarge.Limit>>20),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please select a file to upload"})
		return
	}
	headers := form.File[uploadField]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please select a file to upload"})
		return
	}

	results := make([]uploadResult, 0, len(headers))
	failure := 0
	for _, header := range headers {
		res := h.ingestUpload(header, ingest)
		if res.code != 0 && failure == 0 {
			failure = res.code
		}
		results = append(results, res)
	}

	status := successCode
	if failure != 0 && len(headers) == 1 {
		status = failure
	} else if failure != 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{"results": results})
}

// ingestUpload checks one file against the allowed formats, stores it in
// scratch space, validates its structure and hands it to calibre. The
// scratch copy is always removed.
func (h *Handler) ingestUpload(header *multipart.FileHeader, ingest ingestFunc) uploadResult {
	res := uploadResult{Filename: header.Filename}
	fail := func(code int, msg string) uploadResult {
		res.code = code
		res.Error = msg
		return res
	}

	format, ok := formats.Allowed(header.Filename, h.opts.UploadFormats)
	res.Format = format
	if !ok {
		return fail(http.StatusBadRequest, fmt.Sprintf("Could not add %s to library: format not allowed", header.Filename))
	}
	if header.Size > h.opts.MaxUploadSize {
		return fail(http.StatusRequestEntityTooLarge, fmt.Sprintf("%s is too large", header.Filename))
	}

	file, err := header.Open()
	if err != nil {
		return fail(http.StatusBadRequest, fmt.Sprintf("Could not read %s", header.Filename))
	}
	defer file.Close()

	path, err := h.files.SaveUpload(header.Filename, file)
	if err != nil {
		h.logger.Error("save upload", zap.String("filename", header.Filename), zap.Error(err))
		return fail(http.StatusInternalServerError, fmt.Sprintf("Could not save %s", header.Filename))
	}
	defer h.files.RemoveUpload(path)

	info, err := formats.Validate(path)
	if err != nil {
		return fail(storage.HTTPStatus(err), fmt.Sprintf("Could not add %s to library: %v", header.Filename, err))
	}
	res.Info = info

	status, id := ingest(path)
	if !status.OK() {
		return fail(http.StatusBadGateway, fmt.Sprintf("Could not add %s to library", header.Filename))
	}
	if id > 0 {
		res.BookID = id
	}
	res.Message = fmt.Sprintf("%s uploaded and added to library", header.Filename)
	return res
}

// DeleteBook permanently removes a book
func (h *Handler) DeleteBook(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.catalog.GetBook(ctx, id); err != nil {
		h.respondError(c, err)
		return
	}

	if status := h.gateway.RemoveBook(ctx, id); !status.OK() {
		calibreFailed(c, fmt.Sprintf("Could not delete book #%d", id), status)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Book #%d deleted successfully!", id)})
}

// DeleteFormat removes one format; the book goes too when it was the last one
func (h *Handler) DeleteFormat(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	format := strings.ToUpper(c.Param("format"))
	ctx := c.Request.Context()
	if _, _, err := h.catalog.GetBookFile(ctx, id, format); err != nil {
		h.respondError(c, err)
		return
	}

	if status := h.gateway.RemoveFormat(ctx, id, format); !status.OK() {
		calibreFailed(c, fmt.Sprintf("Could not delete %s", format), status)
		return
	}

	_, err := h.catalog.GetBook(ctx, id)
	c.JSON(http.StatusOK, gin.H{
		"message":      fmt.Sprintf("%s deleted!", format),
		"book_deleted": storage.HTTPStatus(err) == http.StatusNotFound,
	})
}

// UpdateMetadata writes the submitted fields that differ from the catalog.
// The body is a JSON object of calibre field names to values.
func (h *Handler) UpdateMetadata(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}

	var submitted map[string]string
	if err := c.ShouldBindJSON(&submitted); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx := c.Request.Context()
	details, err := h.catalog.GetBookDetails(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	diff := calibredb.DiffMetadata(calibredb.CurrentMetadata(details), submitted)
	status, changed := h.gateway.SaveMetadata(ctx, id, diff)
	if !changed {
		c.JSON(http.StatusOK, gin.H{"changed": false, "message": "Nothing changed"})
		return
	}
	if !status.OK() {
		calibreFailed(c, fmt.Sprintf("Could not update metadata of book #%d", id), status)
		return
	}

	fields := make([]string, 0, len(diff))
	for name := range diff {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	c.JSON(http.StatusOK, gin.H{"changed": true, "fields": fields, "message": "Metadata updated"})
}

// FetchMetadata downloads metadata from online sources and applies it to the book
func (h *Handler) FetchMetadata(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.catalog.GetBook(ctx, id); err != nil {
		h.respondError(c, err)
		return
	}

	if !h.gateway.FetchMetadata(ctx, id) {
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Could not fetch metadata for book #%d", id)})
		return
	}

	details, err := h.catalog.GetBookDetails(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Metadata fetched", "book": details})
}

type convertRequest struct {
	From string `json:"format_from" form:"format_from" binding:"required"`
	To   string `json:"format_to" form:"format_to" binding:"required"`
}

// ConvertBook queues a background conversion and returns its job id
func (h *Handler) ConvertBook(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}

	var req convertRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format_from and format_to are required"})
		return
	}
	from, to := strings.ToUpper(req.From), strings.ToUpper(req.To)
	if !contains(h.opts.ConvertFormats, to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Cannot convert to %s", to)})
		return
	}

	jobID, err := h.converter.Submit(c.Request.Context(), id, from, to)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  jobID,
		"message": fmt.Sprintf("Conversion started for book id %d from %s to %s", id, from, to),
	})
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
