package api

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/justyntemme/calibrewebui/internal/models"
)

// ListBooks searches the library. Query params: search, scope, tags, formats, page, limit.
func (h *Handler) ListBooks(c *gin.Context) {
	page, limit := h.pageParams(c)

	req := models.SearchRequest{
		Text:      strings.ToLower(strings.TrimSpace(c.Query("search"))),
		Scope:     models.ParseScope(c.Query("scope")),
		Page:      page,
		Limit:     limit,
		TagFilter: c.Query("tags"),
	}
	if formats := c.Query("formats"); formats != "" {
		req.Formats = strings.Split(formats, ",")
	}

	books, err := h.catalog.Search(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"books": books,
		"page":  page,
		"limit": limit,
		"count": len(books),
	})
}

// GetBook returns a book with its formats, publisher, languages and identifiers
func (h *Handler) GetBook(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}

	details, err := h.catalog.GetBookDetails(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"book":             details,
		"convert_formats":  h.opts.ConvertFormats,
		"preferred_format": h.opts.PreferredFormat,
	})
}

// GetBookFormats lists the files stored for a book
func (h *Handler) GetBookFormats(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}

	formats, err := h.catalog.GetBookFormats(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, formats)
}

// GetBookFile streams one format of a book as an attachment
func (h *Handler) GetBookFile(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	h.serveBookFile(c, id, c.Param("format"))
}

func (h *Handler) serveBookFile(c *gin.Context, id int64, format string) {
	dir, name, err := h.catalog.GetBookFile(c.Request.Context(), id, strings.ToUpper(format))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.FileAttachment(filepath.Join(dir, name), name)
}

// GetBookCover serves a book's cover image
func (h *Handler) GetBookCover(c *gin.Context) {
	id, ok := bookID(c)
	if !ok {
		return
	}
	h.serveCover(c, id)
}

func (h *Handler) serveCover(c *gin.Context, id int64) {
	path, err := h.catalog.GetCoverPath(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=3600")
	c.File(path)
}

type facetLister func(ctx context.Context, page models.Page) ([]models.Facet, error)

// listFacet serves a facet listing. Without a limit param every entry is returned.
func (h *Handler) listFacet(list facetLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		var page models.Page
		if c.Query("limit") != "" {
			page.Number, page.Limit = h.pageParams(c)
		}

		facets, err := list(c.Request.Context(), page)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, facets)
	}
}

// ListTags lists tags with their book counts
func (h *Handler) ListTags(c *gin.Context) { h.listFacet(h.catalog.ListTags)(c) }

// ListSeries lists series with their book counts
func (h *Handler) ListSeries(c *gin.Context) { h.listFacet(h.catalog.ListSeries)(c) }

// ListAuthors lists authors with their book counts
func (h *Handler) ListAuthors(c *gin.Context) { h.listFacet(h.catalog.ListAuthors)(c) }

// ListPublishers lists publishers with their book counts
func (h *Handler) ListPublishers(c *gin.Context) { h.listFacet(h.catalog.ListPublishers)(c) }
