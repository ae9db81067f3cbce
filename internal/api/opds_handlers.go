package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/justyntemme/calibrewebui/internal/models"
	"github.com/justyntemme/calibrewebui/internal/opds"
	"github.com/justyntemme/calibrewebui/internal/storage"
)

// getBaseURL constructs the base URL from the request
func getBaseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

// device loads the device named by :uid or writes an error
func (h *Handler) device(c *gin.Context) (*models.Device, bool) {
	device, err := h.devices.GetDevice(c.Param("uid"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return device, true
}

// DeviceFeed serves the acquisition feed of a device: the books matching its
// tag filter that exist in one of its formats. "q" searches within it.
func (h *Handler) DeviceFeed(c *gin.Context) {
	device, ok := h.device(c)
	if !ok {
		return
	}
	page, limit := h.pageParams(c)
	query := strings.TrimSpace(c.Query("q"))

	books, err := h.catalog.Search(c.Request.Context(), models.SearchRequest{
		Text:      strings.ToLower(query),
		Page:      page,
		Limit:     limit,
		Formats:   device.FormatList(),
		TagFilter: device.BookTagsFilters,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	feed := opds.DeviceFeed{
		Device:  device,
		BaseURL: getBaseURL(c),
		Query:   query,
		Page:    page,
		Limit:   limit,
	}.Build(books)

	xml, err := feed.ToXML()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate feed"})
		return
	}
	c.Data(http.StatusOK, opds.OPDSFeedType, xml)
}

// DeviceSearchDescription serves the OpenSearch document for a device feed
func (h *Handler) DeviceSearchDescription(c *gin.Context) {
	device, ok := h.device(c)
	if !ok {
		return
	}
	feedURL := getBaseURL(c) + "/opds/" + device.UID
	c.Data(http.StatusOK, opds.OPDSSearchType, []byte(opds.OpenSearchDescription(feedURL)))
}

// DeviceBookFile downloads a book for a device. Devices with a format list
// only get those formats.
func (h *Handler) DeviceBookFile(c *gin.Context) {
	device, ok := h.device(c)
	if !ok {
		return
	}
	id, ok := bookID(c)
	if !ok {
		return
	}

	format := strings.ToUpper(c.Param("format"))
	if allowed := device.FormatList(); len(allowed) > 0 && !contains(allowed, format) {
		h.respondError(c, storage.ErrNotFound.WithMessage("device %s does not take %s", device.UID, format))
		return
	}
	if !h.sharedWith(c, device, id) {
		return
	}
	h.serveBookFile(c, id, format)
}

// sharedWith reports whether the device's tag filter lets it see the book.
// Books outside the filter answer 404 like books that do not exist.
func (h *Handler) sharedWith(c *gin.Context, device *models.Device, id int64) bool {
	ok, err := h.catalog.MatchesTags(c.Request.Context(), id, device.BookTagsFilters)
	if err != nil {
		h.respondError(c, err)
		return false
	}
	if !ok {
		h.respondError(c, storage.ErrNotFound.WithMessage("book %d is not shared with device %s", id, device.UID))
		return false
	}
	return true
}

// DeviceBookCover serves a cover to a device
func (h *Handler) DeviceBookCover(c *gin.Context) {
	device, ok := h.device(c)
	if !ok {
		return
	}
	id, ok := bookID(c)
	if !ok || !h.sharedWith(c, device, id) {
		return
	}
	h.serveCover(c, id)
}
