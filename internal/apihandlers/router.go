package apihandlers

import (
	"github.com/gin-gonic/gin"
)

// NewRouter registers every HTTP route. Logger and recovery middleware come from gin.Default.
func NewRouter(h *APIHandler) *gin.Engine {
	router := gin.Default()

	router.POST("/generate_taxonomy_embeddings", h.GenerateTaxonomyHandler)
	router.GET("/task_status/:task_id", h.TaskStatusHandler)
	router.GET("/tasks", h.ListTasksHandler)
	router.POST("/classify", h.ClassifyHandler)
	router.GET("/health", h.HealthHandler)

	return router
}
