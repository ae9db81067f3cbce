package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/justyntemme/calibrewebui/internal/models"
)

type deviceRequest struct {
	Name            string `json:"name" binding:"required,max=128"`
	Formats         string `json:"formats"`
	BookTagsFilters string `json:"book_tags_filters"`
}

// ListDevices returns every registered device
func (h *Handler) ListDevices(c *gin.Context) {
	devices, err := h.devices.ListDevices()
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, devices)
}

// GetDevice returns one device by uid
func (h *Handler) GetDevice(c *gin.Context) {
	device, err := h.devices.GetDevice(c.Param("uid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// CreateDevice registers a device and assigns it a uid
func (h *Handler) CreateDevice(c *gin.Context) {
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Device name is required"})
		return
	}

	device := &models.Device{
		Name:            strings.TrimSpace(req.Name),
		Formats:         req.Formats,
		BookTagsFilters: req.BookTagsFilters,
	}
	if err := h.devices.CreateDevice(device); err != nil {
		h.respondError(c, err)
		return
	}

	created, err := h.devices.GetDevice(device.UID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// UpdateDevice replaces a device's name, formats and tag filter
func (h *Handler) UpdateDevice(c *gin.Context) {
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Device name is required"})
		return
	}

	uid := c.Param("uid")
	device := &models.Device{
		UID:             uid,
		Name:            strings.TrimSpace(req.Name),
		Formats:         req.Formats,
		BookTagsFilters: req.BookTagsFilters,
	}
	if err := h.devices.UpdateDevice(device); err != nil {
		h.respondError(c, err)
		return
	}

	updated, err := h.devices.GetDevice(uid)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// DeleteDevice unregisters a device
func (h *Handler) DeleteDevice(c *gin.Context) {
	if err := h.devices.DeleteDevice(c.Param("uid")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Device deleted"})
}
