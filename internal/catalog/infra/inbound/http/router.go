package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterBookRoutes registra las rutas del catálogo en el router de Gin.
func RegisterBookRoutes(r *gin.Engine, handler *BookHandler) {
	books := r.Group("/books")
	{
		books.POST("", handler.CreateBook)
		books.GET("", handler.ListBooks)
		books.GET("/count", handler.CountBooks)
		books.POST("/search", handler.SearchBooks)
		books.POST("/search/by-category", handler.BooksByCategory)
		books.POST("/search/by-language", handler.BooksByLanguage)
		books.POST("/search/by-uploader", handler.BooksByUploader)
		books.POST("/batch", handler.ProcessBatch)
		books.GET("/:id", handler.GetBook)
		books.GET("/:id/exists", handler.BookExists)
		books.PUT("/:id", handler.UpdateBook)
		books.DELETE("/:id", handler.DeleteBook)
		books.PATCH("/:id/status", handler.ChangeStatus)
		books.POST("/:id/downloads", handler.IncrementDownloads)
		books.PUT("/:id/rating", handler.UpdateRating)
	}
}

// RegisterOpsRoutes registra /health y, si hay handler, /metrics.
func RegisterOpsRoutes(r *gin.Engine, health *HealthHandler, metrics http.Handler) {
	r.GET("/health", health.Check)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
}
