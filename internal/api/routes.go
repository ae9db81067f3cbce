package api

import (
	"github.com/gin-gonic/gin"
)

// Register mounts every route on r. Mutations, the task ledger controls and
// device management require the operator when auth is configured.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.HealthCheck)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("", h.APIInfo)

		authGroup := apiGroup.Group("/auth")
		{
			authGroup.POST("/login", h.Login)
			authGroup.POST("/refresh", h.RefreshToken)
		}

		// Library browsing
		apiGroup.GET("/books", h.ListBooks)
		apiGroup.GET("/books/:id", h.GetBook)
		apiGroup.GET("/books/:id/formats", h.GetBookFormats)
		apiGroup.GET("/books/:id/file/:format", h.GetBookFile)
		apiGroup.GET("/books/:id/cover", h.GetBookCover)
		apiGroup.GET("/tags", h.ListTags)
		apiGroup.GET("/series", h.ListSeries)
		apiGroup.GET("/authors", h.ListAuthors)
		apiGroup.GET("/publishers", h.ListPublishers)

		// Job ledger
		apiGroup.GET("/tasks", h.ListTasks)
		apiGroup.GET("/tasks/count", h.CountTasks)

		operator := apiGroup.Group("")
		operator.Use(h.auth.RequireOperator())
		{
			operator.POST("/books", h.UploadBook)
			operator.DELETE("/books/:id", h.DeleteBook)
			operator.POST("/books/:id/formats", h.AddFormat)
			operator.DELETE("/books/:id/formats/:format", h.DeleteFormat)
			operator.PUT("/books/:id/metadata", h.UpdateMetadata)
			operator.POST("/books/:id/metadata/fetch", h.FetchMetadata)
			operator.POST("/books/:id/convert", h.ConvertBook)

			operator.DELETE("/tasks", h.ClearTasks)

			operator.GET("/devices", h.ListDevices)
			operator.POST("/devices", h.CreateDevice)
			operator.GET("/devices/:uid", h.GetDevice)
			operator.PUT("/devices/:uid", h.UpdateDevice)
			operator.DELETE("/devices/:uid", h.DeleteDevice)
		}
	}

	// Devices authenticate by their uid
	opdsGroup := r.Group("/opds/:uid")
	{
		opdsGroup.GET("", h.DeviceFeed)
		opdsGroup.GET("/search.xml", h.DeviceSearchDescription)
		opdsGroup.GET("/books/:id/cover", h.DeviceBookCover)
		opdsGroup.GET("/books/:id/:format", h.DeviceBookFile)
	}
}
